package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/openchapel/events/internal/errs"
	"github.com/openchapel/events/internal/limiter"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/repository"
)

// Service handles registration, login, and token verification.
type Service struct {
	users    *repository.UserRepo
	signKey  []byte
	tokenTTL time.Duration
	lim      limiter.Limiter
	log      *zap.Logger
	now      func() time.Time
}

// New constructs the auth service. lim may not be nil; use limiter.NewMemory
// when no database-backed limiter is available.
func New(users *repository.UserRepo, signKey []byte, tokenTTL time.Duration, lim limiter.Limiter, log *zap.Logger) *Service {
	return &Service{
		users:    users,
		signKey:  signKey,
		tokenTTL: tokenTTL,
		lim:      lim,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the service's time source. Tests only.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register creates an account with role "user" and stores a six-digit
// verification code under verificationCodes/<uid>. Delivering the code to
// the member (email) is an external collaborator's job.
func (s *Service) Register(ctx context.Context, email, password string) (model.User, string, error) {
	if email == "" || password == "" {
		return model.User{}, "", errors.New("empty email/password")
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return model.User{}, "", err
	}
	salt, err := randBytes(16)
	if err != nil {
		return model.User{}, "", err
	}

	u := model.User{
		UID:       uid.String(),
		Email:     email,
		Role:      model.RoleUser,
		PwdHash:   HashPassword([]byte(password), salt),
		SaltAuth:  salt,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return model.User{}, "", err
	}

	code, err := verificationCode()
	if err != nil {
		return model.User{}, "", err
	}
	vc := model.VerificationCode{
		Code:      code,
		Email:     email,
		Verified:  false,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.SetVerification(ctx, u.UID, vc); err != nil {
		return model.User{}, "", err
	}

	s.log.Info("registered user", zap.String("uid", u.UID))
	return u, code, nil
}

// Login authenticates by email+password+verification code and returns a
// bearer token. Failed attempts count against the (email, ip) pair.
func (s *Service) Login(ctx context.Context, email, password, code, ip string) (string, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, retryAfter, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return "", model.User{}, err
	}
	if !allowed {
		return "", model.User{}, fmt.Errorf("%w: retry in %s", errs.ErrRateLimited, retryAfter)
	}

	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, errs.ErrNotFound) {
		_, _, _ = s.lim.Failure(ctx, email, ipHash)
		return "", model.User{}, errs.ErrUnauthorized
	}
	if err != nil {
		return "", model.User{}, err
	}

	if !VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		_, _, _ = s.lim.Failure(ctx, email, ipHash)
		return "", model.User{}, errs.ErrUnauthorized
	}

	vc, err := s.users.Verification(ctx, u.UID)
	if errors.Is(err, errs.ErrNotFound) {
		return "", model.User{}, fmt.Errorf("%w: verification code not found", errs.ErrUnauthorized)
	}
	if err != nil {
		return "", model.User{}, err
	}
	if vc.Code != code {
		_, _, _ = s.lim.Failure(ctx, email, ipHash)
		return "", model.User{}, fmt.Errorf("%w: invalid verification code", errs.ErrUnauthorized)
	}
	if !vc.Verified {
		vc.Verified = true
		if err := s.users.SetVerification(ctx, u.UID, vc); err != nil {
			s.log.Warn("login: could not mark code verified", zap.String("uid", u.UID), zap.Error(err))
		}
	}

	if err := s.lim.Success(ctx, email, ipHash); err != nil {
		s.log.Warn("login: limiter reset failed", zap.Error(err))
	}

	token, err := issueToken(s.signKey, u.UID, s.tokenTTL, s.now())
	if err != nil {
		return "", model.User{}, err
	}
	return token, u, nil
}

// Identify validates a bearer token and resolves the caller's current role
// from the store, defaulting to "user" like the original site.
func (s *Service) Identify(ctx context.Context, token string) (model.Identity, error) {
	uid, err := parseToken(s.signKey, token)
	if err != nil {
		return model.Identity{}, err
	}
	role, err := s.users.Role(ctx, uid)
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{UID: uid, Role: role}, nil
}

// verificationCode produces a six-digit numeric code.
func verificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
