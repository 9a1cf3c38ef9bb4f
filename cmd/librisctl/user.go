package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const minPasswordLength = 8

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage reader accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var name, email string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a verified reader account; the password is read from the terminal or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if _, err := mail.ParseAddress(email); err != nil {
				return fmt.Errorf("invalid email %q", email)
			}
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("name is required")
			}

			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if utf8.RuneCountInString(password) < minPasswordLength {
				return fmt.Errorf("password must be at least %d characters", minPasswordLength)
			}
			hash, err := hashPassword(password, defaultArgon2)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := connectDB(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			created, err := insertUser(ctx, pool, uuid.New(), name, email, hash)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			if !created {
				return fmt.Errorf("user %s already exists", email)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// readPassword masks input on a terminal and otherwise takes the first line
// of in, so the command also works in scripts.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
