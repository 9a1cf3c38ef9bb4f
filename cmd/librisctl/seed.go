package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/argon2"
)

const (
	demoEmail    = "demo@gmail.com"
	demoPassword = "Passw0rd!"
	demoName     = "Demo Reader"
)

var demoUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var defaultArgon2 = argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// hashPassword produces the PHC string the auth service verifies.
func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.Memory, params.Iterations, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func newSeedCmd() *cobra.Command {
	var skipUser bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo catalog and demo reader (dev/test only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			if !app.IsDev() {
				return fmt.Errorf("refusing to seed: env must be dev or test (got %q)", app.Env)
			}

			ctx := cmd.Context()
			pool, err := connectDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			out := cmd.OutOrStdout()
			books, err := seedBooks(ctx, pool)
			if err != nil {
				return fmt.Errorf("seed books: %w", err)
			}
			fmt.Fprintf(out, "books: %d inserted, %d already present\n", books, len(demoCatalog)-books)

			if skipUser {
				return nil
			}
			created, err := seedDemoUser(ctx, pool)
			if err != nil {
				return fmt.Errorf("seed demo user: %w", err)
			}
			if created {
				fmt.Fprintf(out, "demo user: %s / %s\n", demoEmail, demoPassword)
			} else {
				fmt.Fprintf(out, "demo user %s already present\n", demoEmail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipUser, "skip-user", false, "seed only the catalog")
	return cmd
}

func seedBooks(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	inserted := 0
	for _, b := range demoCatalog {
		tag, err := pool.Exec(ctx, `
			INSERT INTO books (id, title, author, genre, total_copies, available_copies)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (id) DO NOTHING
		`, bookID(b), b.Title, b.Author, b.Genre, b.Copies)
		if err != nil {
			return inserted, fmt.Errorf("%s: %w", b.Title, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func seedDemoUser(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	hash, err := hashPassword(demoPassword, defaultArgon2)
	if err != nil {
		return false, err
	}
	return insertUser(ctx, pool, demoUserID, demoName, demoEmail, hash)
}

func insertUser(ctx context.Context, pool *pgxpool.Pool, id uuid.UUID, name, email, hash string) (bool, error) {
	tag, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email, password_hash, is_verified, is_active)
		VALUES ($1, $2, $3, $4, TRUE, TRUE)
		ON CONFLICT (email) DO NOTHING
	`, id, name, email, hash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
