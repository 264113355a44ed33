package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/dbguest/internal/auth"
)

// Login exchanges credentials for a token and saves it as the session.
func (c *command) Login(api APIFlags) error {
	if api.Username == "" {
		return fmt.Errorf("--user is required")
	}
	base, err := c.baseURL(api, nil)
	if err != nil {
		return err
	}
	api.APIUrl = base
	cl, err := c.apiClient(api)
	if err != nil {
		return err
	}
	res, err := cl.Login(context.Background(), api.Username, api.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	session := &Session{
		Token:     res.Token.Value,
		TokenType: res.Token.Type,
		ExpiresAt: res.Token.ExpiresAt,
		Username:  res.Subject,
		Roles:     res.Roles,
		ServerURL: base,
	}
	if err := c.sessions.SaveSession(session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "Logged in as %s (expires %s)\n", session.Username, session.ExpiresAt.Format("2006-01-02 15:04:05"))
	return nil
}

func (c *command) Logout() error {
	if err := c.sessions.ClearSession(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Logged out")
	return nil
}

// HashPassword prints the bcrypt hash used for secret_hash in [server.auth].
// The secret is read from stdin when not passed as an argument.
func (c *command) HashPassword(args []string, in io.Reader) error {
	var secret string
	if len(args) > 0 {
		secret = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	hash, err := auth.HashPassword(secret)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, hash)
	return nil
}
