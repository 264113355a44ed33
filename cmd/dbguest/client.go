package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/loykin/dbguest/internal/config"
	"github.com/loykin/dbguest/pkg/client"
)

// baseURL picks the agent URL: the --api-url flag, then the session, then
// the [server] section of --config, then the client default.
func (c *command) baseURL(f APIFlags, session *Session) (string, error) {
	if f.APIUrl != "" {
		return f.APIUrl, nil
	}
	if session != nil && session.ServerURL != "" {
		return session.ServerURL, nil
	}
	if c.global.ConfigPath != "" {
		cfg, err := config.Load(c.global.ConfigPath)
		if err != nil {
			return "", err
		}
		return serverURL(cfg.Server), nil
	}
	return client.DefaultConfig().BaseURL, nil
}

// serverURL derives the URL a local client should use to reach s.
func serverURL(s config.ServerConfig) string {
	scheme := "http"
	if s.TLS.Enabled {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(s.Listen)
	if err != nil {
		host, port = "127.0.0.1", s.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(host, port), strings.TrimRight(s.BasePath, "/"))
}

// apiClient builds a client for f. Explicit credentials take precedence
// over a saved session token.
func (c *command) apiClient(f APIFlags) (*client.Client, error) {
	session, err := c.sessions.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	base, err := c.baseURL(f, session)
	if err != nil {
		return nil, err
	}

	cfg := client.DefaultConfig()
	cfg.BaseURL = base
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	if f.Insecure || f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert, SkipVerify: f.Insecure}
	}
	switch {
	case f.Username != "":
		cfg.Username, cfg.Password = f.Username, f.Password
	case session != nil:
		cfg.Token = session.Token
	}
	return client.New(cfg)
}
