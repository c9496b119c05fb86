package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/limiter"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/remote/memstore"
	"github.com/openchapel/events/internal/repository"
)

func newAuthFixture(t *testing.T) (*Service, *repository.UserRepo) {
	t.Helper()
	users := repository.NewUserRepo(memstore.New())
	lim := limiter.NewMemory(15*time.Minute, 3, 15*time.Minute)
	svc := New(users, []byte("test-sign-key"), time.Hour, lim, zap.NewNop())
	return svc, users
}

func TestRegisterLoginIdentify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	u, code, err := svc.Register(ctx, "a@chapel.org", "pass123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.UID == "" || u.Role != model.RoleUser || len(code) != 6 {
		t.Fatalf("unexpected registration result: %+v code=%q", u, code)
	}

	token, got, err := svc.Login(ctx, "a@chapel.org", "pass123", code, "1.2.3.4")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.UID != u.UID || token == "" {
		t.Fatalf("login returned wrong user/token: %+v", got)
	}

	id, err := svc.Identify(ctx, token)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if id.UID != u.UID || id.Admin() {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	if _, _, err := svc.Register(ctx, "a@chapel.org", "pass123"); err != nil {
		t.Fatal(err)
	}
	_, _, err := svc.Register(ctx, "a@chapel.org", "other")
	if !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	_, code, err := svc.Register(ctx, "a@chapel.org", "pass123")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = svc.Login(ctx, "a@chapel.org", "wrong", code, "1.2.3.4")
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestLogin_WrongCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	if _, _, err := svc.Register(ctx, "a@chapel.org", "pass123"); err != nil {
		t.Fatal(err)
	}
	_, _, err := svc.Login(ctx, "a@chapel.org", "pass123", "000000", "1.2.3.4")
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
}

func TestLogin_MarksCodeVerified(t *testing.T) {
	ctx := context.Background()
	svc, users := newAuthFixture(t)

	u, code, err := svc.Register(ctx, "a@chapel.org", "pass123")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.Login(ctx, "a@chapel.org", "pass123", code, "1.2.3.4"); err != nil {
		t.Fatal(err)
	}

	vc, err := users.Verification(ctx, u.UID)
	if err != nil {
		t.Fatal(err)
	}
	if !vc.Verified {
		t.Fatal("verification record not marked verified after first login")
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	_, code, err := svc.Register(ctx, "a@chapel.org", "pass123")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, _, err := svc.Login(ctx, "a@chapel.org", "wrong", code, "1.2.3.4"); !errors.Is(err, errs.ErrUnauthorized) {
			t.Fatalf("attempt %d: want ErrUnauthorized, got %v", i+1, err)
		}
	}
	// Even the correct password is rejected while locked out.
	_, _, err = svc.Login(ctx, "a@chapel.org", "pass123", code, "1.2.3.4")
	if !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
}

func TestIdentify_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	_, code, err := svc.Register(ctx, "a@chapel.org", "pass123")
	if err != nil {
		t.Fatal(err)
	}

	past := time.Now().Add(-2 * time.Hour)
	svc.SetClock(func() time.Time { return past })
	token, _, err := svc.Login(ctx, "a@chapel.org", "pass123", code, "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	svc.SetClock(time.Now)

	_, err = svc.Identify(ctx, token)
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for expired token, got %v", err)
	}
}

func TestIdentify_Tampered(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthFixture(t)

	if _, err := svc.Identify(ctx, "not-a-token"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	other := New(repository.NewUserRepo(memstore.New()), []byte("other-key"), time.Hour, limiter.NewMemory(time.Minute, 3, time.Minute), zap.NewNop())
	tok, err := issueToken([]byte("other-key"), "uid-1", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Identify(ctx, tok); err != nil {
		t.Fatalf("sanity: %v", err)
	}
	if _, err := svc.Identify(ctx, tok); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("foreign-key token accepted: %v", err)
	}
}

func TestPassHashRoundTrip(t *testing.T) {
	salt, err := randBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	h := HashPassword([]byte("secret"), salt)
	if !VerifyPassword([]byte("secret"), salt, h) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword([]byte("other"), salt, h) {
		t.Fatal("wrong password accepted")
	}
}
