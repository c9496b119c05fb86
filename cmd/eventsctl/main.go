// Command eventsctl is a CLI client for the church events service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/openchapel/events/internal/model"
)

// ---- token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "openchapel")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "openchapel")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.Create(tokenPath())
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// ---- API plumbing ----

func call(method, base, path, token string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func mustToken() string {
	tok, err := loadToken()
	if err != nil {
		fail(err)
	}
	return tok
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: eventsctl [-server URL] <command> [args]

commands:
  register <email> <password>         create an account, prints the verification code
  login <email> <password> <code>     obtain and store a bearer token
  events                              list the published events
  add -title T [-date YYYY-MM-DD] [-time HH:MM] [-desc D] [-image URL] [-type regular|special]
  update <id> [same flags as add]
  delete <id>
  saved                               list events saved by the logged-in user
  save <id>                           save an event
  unsave <id>                         remove a saved event
  promote -dsn DSN <uid>              grant admin directly in the database`)
	os.Exit(2)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	switch args[0] {
	case "register":
		if len(args) != 3 {
			usage()
		}
		var out struct {
			User             json.RawMessage `json:"user"`
			VerificationCode string          `json:"verificationCode"`
		}
		err := call(http.MethodPost, *server, "/api/auth/register",
			"", map[string]string{"email": args[1], "password": args[2]}, &out)
		if err != nil {
			fail(err)
		}
		fmt.Println("verification code:", out.VerificationCode)

	case "login":
		if len(args) != 4 {
			usage()
		}
		var out struct {
			Token string `json:"token"`
		}
		err := call(http.MethodPost, *server, "/api/auth/login", "",
			map[string]string{"email": args[1], "password": args[2], "code": args[3]}, &out)
		if err != nil {
			fail(err)
		}
		if err := saveToken(out.Token, time.Now().Add(23*time.Hour)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "events":
		var events []model.Event
		if err := call(http.MethodGet, *server, "/api/events", "", nil, &events); err != nil {
			fail(err)
		}
		printJSON(events)

	case "add", "update":
		fs := flag.NewFlagSet(args[0], flag.ExitOnError)
		title := fs.String("title", "", "event title")
		date := fs.String("date", "", "date (YYYY-MM-DD)")
		timeOfDay := fs.String("time", "", "time (HH:MM)")
		desc := fs.String("desc", "", "description")
		image := fs.String("image", "", "image URL")
		typ := fs.String("type", "regular", "regular or special")

		rest := args[1:]
		var id string
		if args[0] == "update" {
			if len(rest) == 0 {
				usage()
			}
			id, rest = rest[0], rest[1:]
		}
		_ = fs.Parse(rest)

		ev := model.Event{
			Title:       *title,
			Date:        *date,
			Time:        *timeOfDay,
			Description: *desc,
			ImageURL:    *image,
			Type:        model.EventType(*typ),
		}
		if args[0] == "add" {
			var out struct {
				ID string `json:"id"`
			}
			if err := call(http.MethodPost, *server, "/api/events", mustToken(), ev, &out); err != nil {
				fail(err)
			}
			fmt.Println(out.ID)
		} else {
			if err := call(http.MethodPut, *server, "/api/events/"+id, mustToken(), ev, nil); err != nil {
				fail(err)
			}
			fmt.Println("ok")
		}

	case "delete":
		if len(args) != 2 {
			usage()
		}
		if err := call(http.MethodDelete, *server, "/api/events/"+args[1], mustToken(), nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "saved":
		var events []model.Event
		if err := call(http.MethodGet, *server, "/api/me/events", mustToken(), nil, &events); err != nil {
			fail(err)
		}
		printJSON(events)

	case "save":
		if len(args) != 2 {
			usage()
		}
		if err := call(http.MethodPut, *server, "/api/me/events/"+args[1], mustToken(), nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "unsave":
		if len(args) != 2 {
			usage()
		}
		if err := call(http.MethodDelete, *server, "/api/me/events/"+args[1], mustToken(), nil, nil); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "promote":
		fs := flag.NewFlagSet("promote", flag.ExitOnError)
		dsn := fs.String("dsn", "", "PostgreSQL DSN")
		_ = fs.Parse(args[1:])
		if *dsn == "" || fs.NArg() != 1 {
			usage()
		}
		if err := promote(context.Background(), *dsn, fs.Arg(0)); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// promote flips the stored role to admin. There is no API for this on
// purpose: the first admin has to come from outside the permission model.
func promote(ctx context.Context, dsn, uid string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	tag, err := conn.Exec(ctx,
		`UPDATE kv SET value = jsonb_set(value, '{role}', '"admin"'), updated_at = now() WHERE path = 'users/' || $1`,
		uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no such user %s", uid)
	}
	return nil
}
