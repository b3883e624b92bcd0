package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"smis/internal/auth"
)

func (c *cli) loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the REST backend and save the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.app.REST == nil {
				return errors.New("no REST backend configured; set API_BASE_URL")
			}
			if c.offline {
				return errors.New("cannot log in while offline")
			}
			if password == "" {
				p, err := c.readPassword()
				if err != nil {
					return err
				}
				password = p
			}
			tokens, err := c.app.REST.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			s := auth.Session{
				Email:        email,
				UserID:       tokens.UserID,
				AccessToken:  tokens.AccessToken,
				RefreshToken: tokens.RefreshToken,
				LoginAt:      time.Now(),
			}
			if err := auth.SaveSession(c.cfg.SessionPath, s); err != nil {
				return err
			}
			c.app.SetSession(&s)
			fmt.Fprintln(c.errOut, "logged in as", email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "password; prompted for when omitted")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// readPassword prompts without echo on a terminal and reads one line otherwise.
func (c *cli) readPassword() (string, error) {
	if f, ok := c.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(c.errOut, "Password: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.errOut)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password")
	}
	return line, nil
}

func (c *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.ClearSession(c.cfg.SessionPath); err != nil {
				return err
			}
			c.app.SetSession(nil)
			fmt.Fprintln(c.errOut, "logged out")
			return nil
		},
	}
}
