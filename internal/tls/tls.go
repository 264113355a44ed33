package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config selects the certificate used by the agent API.
// Explicit CertFile/KeyFile take priority over Dir.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`
	AutoGenerate bool     `mapstructure:"auto_generate"`
	MinVersion   string   `mapstructure:"min_version"`
	MaxVersion   string   `mapstructure:"max_version"`
	CommonName   string   `mapstructure:"common_name"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("tls: enabled but neither cert_file nor dir is set")
	}
	for _, v := range []string{c.MinVersion, c.MaxVersion} {
		if _, _, err := parseVersion(v); err != nil {
			return err
		}
	}
	return nil
}

func parseVersion(ver string) (uint16, bool, error) {
	switch strings.ToLower(ver) {
	case "", "default":
		return tls.VersionTLS13, false, nil
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true, nil
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true, nil
	}
	return 0, false, fmt.Errorf("tls: unsupported version %q", ver)
}

func versions(c Config) (min uint16, max uint16) {
	min, max = tls.VersionTLS13, tls.VersionTLS13
	if v, ok, _ := parseVersion(c.MinVersion); ok {
		min = v
	}
	if v, ok, _ := parseVersion(c.MaxVersion); ok {
		max = v
	}
	return
}

// Setup returns the server TLS config, or nil when TLS is disabled.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	certPath, keyPath := c.CertFile, c.KeyFile
	if certPath == "" {
		certPath = filepath.Join(c.Dir, tlsCrt)
		keyPath = filepath.Join(c.Dir, tlsKey)
		if c.AutoGenerate && !exists(certPath, keyPath) {
			if err := generate(c); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	}
	if !exists(certPath, keyPath) {
		return nil, fmt.Errorf("tls: certificate %s or key %s not found", certPath, keyPath)
	}
	minVer, maxVer := versions(c)
	// #nosec G402 minimum version is configurable down to 1.2
	return &tls.Config{
		GetCertificate: loader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// loader re-reads the key pair on each handshake so rotated files are
// picked up without a restart.
func loader(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func orDefault[T any](v []T, def []T) []T {
	if len(v) == 0 {
		return def
	}
	return v
}

func generate(c Config) error {
	if err := os.MkdirAll(c.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	cn := c.CommonName
	if cn == "" {
		cn = "localhost"
	}
	days := c.ValidDays
	if days <= 0 {
		days = 365
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   cn,
		Organization: "dbguest",
		DNSNames:     orDefault(c.DNSNames, []string{"localhost"}),
		IPAddresses:  orDefault(c.IPAddresses, []string{"127.0.0.1"}),
		NotAfter:     time.Now().AddDate(0, 0, days),
		CertPath:     filepath.Join(c.Dir, tlsCrt),
		KeyPath:      filepath.Join(c.Dir, tlsKey),
		CACertPath:   filepath.Join(c.Dir, tlsCaCrt),
	})
}
