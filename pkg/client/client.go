package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Client talks to the dbguest agent API.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds status and query calls.
	Timeout time.Duration
	// OperationTimeout bounds prepare, start, stop and restart, which wait
	// for the datastore to settle.
	OperationTimeout time.Duration
	Logger           *slog.Logger
	TLS              *TLSClientConfig

	// Credentials: a bearer token wins over basic auth, which wins over a
	// client id/secret pair.
	Token        string
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// TLSClientConfig holds TLS settings for the client.
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ServerName string
	SkipVerify bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://127.0.0.1:8778/api",
		Timeout:          10 * time.Second,
		OperationTimeout: 30 * time.Minute,
	}
}

func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = def.OperationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		tlsCfg, err := setupClientTLS(*cfg.TLS)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}
	return &Client{cfg: cfg, logger: cfg.Logger, client: &http.Client{Transport: transport}}, nil
}

func setupClientTLS(c TLSClientConfig) (*tls.Config, error) {
	// #nosec G402 skip verification is an explicit opt-in
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.SkipVerify,
	}
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to parse CA certificate %s", c.CACert)
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// IsReachable checks whether the agent answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	err := c.do(ctx, c.cfg.Timeout, http.MethodGet, "/health", nil, nil, nil)
	if err != nil {
		c.logger.Debug("Agent unreachable", "error", err)
	}
	return err == nil
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, c.cfg.Timeout, http.MethodGet, "/status", nil, nil, &st)
	return st, err
}

// UpdateStatus asks the agent to probe now and returns the new status.
func (c *Client) UpdateStatus(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, c.cfg.Timeout, http.MethodPost, "/status/update", nil, nil, &st)
	return st, err
}

func (c *Client) Prepare(ctx context.Context, req PrepareRequest) (Status, error) {
	var st Status
	err := c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/prepare", nil, req, &st)
	return st, err
}

func (c *Client) Start(ctx context.Context, persist bool) (Status, error) {
	var st Status
	q := url.Values{"persist": {strconv.FormatBool(persist)}}
	err := c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/start", q, nil, &st)
	return st, err
}

func (c *Client) Stop(ctx context.Context, opts StopOptions) (Status, error) {
	var st Status
	q := url.Values{
		"persist":                {strconv.FormatBool(opts.Persist)},
		"do_not_start_on_reboot": {strconv.FormatBool(opts.DoNotStartOnReboot)},
	}
	err := c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/stop", q, nil, &st)
	return st, err
}

func (c *Client) Restart(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/restart", nil, nil, &st)
	return st, err
}

func (c *Client) History(ctx context.Context, limit int) ([]Event, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	var events []Event
	err := c.do(ctx, c.cfg.Timeout, http.MethodGet, "/history", q, nil, &events)
	return events, err
}

// Filesystem reports usage of the filesystem holding path; an empty path
// means the datastore mount point.
func (c *Client) Filesystem(ctx context.Context, path string) (FilesystemStats, error) {
	var q url.Values
	if path != "" {
		q = url.Values{"path": {path}}
	}
	var fs FilesystemStats
	err := c.do(ctx, c.cfg.Timeout, http.MethodGet, "/fs", q, nil, &fs)
	return fs, err
}

func (c *Client) MountVolume(ctx context.Context, req VolumeRequest) error {
	return c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/volume/mount", nil, req, nil)
}

func (c *Client) UnmountVolume(ctx context.Context, req VolumeRequest) error {
	return c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/volume/unmount", nil, req, nil)
}

func (c *Client) ResizeFS(ctx context.Context, req VolumeRequest) error {
	return c.do(ctx, c.cfg.OperationTimeout, http.MethodPost, "/volume/resize", nil, req, nil)
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var res LoginResult
	body := map[string]string{"method": "basic", "username": username, "password": password}
	err := c.do(ctx, c.cfg.Timeout, http.MethodPost, "/login", nil, body, &res)
	if err == nil && res.Token == nil {
		err = fmt.Errorf("login response carried no token")
	}
	return res, err
}

func (c *Client) authorize(req *http.Request) {
	switch {
	case c.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	case c.cfg.Username != "":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	case c.cfg.ClientID != "":
		req.Header.Set("X-Client-Id", c.cfg.ClientID)
		req.Header.Set("X-Client-Secret", c.cfg.ClientSecret)
	}
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Kind = er.Kind
		apiErr.Message = er.Error
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "error", apiErr.Message)
	return apiErr
}
