// Command migrate applies the embedded schema migrations and can
// bootstrap a first account.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/repository"
)

type output struct {
	Applied []string `json:"applied"`
	UserID  string   `json:"user_id,omitempty"`
	Email   string   `json:"email,omitempty"`
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
		email       = flag.String("user-email", "", "Create an account with this email after migrating")
		password    = flag.String("user-password", os.Getenv("BOOTSTRAP_PASSWORD"), "Password for -user-email")
		format      = flag.String("format", "plain", "Output format: plain or json")
		timeout     = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *databaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	repo, err := repository.New(ctx, *databaseURL,
		repository.WithMaxConns(2),
		repository.WithApplicationName("coinpulse-migrate"),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer repo.Close()

	applied, err := repo.Migrate(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}

	out := output{Applied: applied}
	if out.Applied == nil {
		out.Applied = []string{}
	}

	if *email != "" {
		user, err := ensureUser(ctx, repo, *email, *password)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		out.UserID = user.ID
		out.Email = user.Email
	}

	switch strings.ToLower(*format) {
	case "plain":
		if len(out.Applied) == 0 {
			fmt.Println("schema up to date")
		}
		for _, version := range out.Applied {
			fmt.Println("applied", version)
		}
		if out.UserID != "" {
			fmt.Println("user", out.UserID, out.Email)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	default:
		fmt.Fprintln(os.Stderr, "invalid format; use plain or json")
		os.Exit(1)
	}
}

// ensureUser returns the account for email, creating it when missing.
func ensureUser(ctx context.Context, repo *repository.Repository, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := repo.GetUserByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if password == "" {
		return nil, errors.New("-user-password (or BOOTSTRAP_PASSWORD) is required to create a user")
	}

	hash, err := auth.NewPasswordHasher(auth.DefaultArgon2Params).Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
