package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "dbguest"

// Config enables API authentication. When Enabled is false every request
// is allowed.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Users     []Principal   `mapstructure:"users"`
	Clients   []Principal   `mapstructure:"clients"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Users)+len(c.Clients) == 0 {
		return errors.New("auth: enabled without users or clients")
	}
	_, err := NewStore(c.Users, c.Clients)
	return err
}

type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Service checks credentials against a Store and issues HS256 tokens.
type Service struct {
	store    *Store
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	store, err := NewStore(cfg.Users, cfg.Clients)
	if err != nil {
		return nil, err
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		// tokens do not survive a restart without a configured secret
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{store: store, secret: secret, tokenTTL: ttl, now: time.Now}, nil
}

// HashPassword returns the bcrypt hash stored in configuration.
func HashPassword(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("password cannot be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// Authenticate validates req. Password and client-secret logins are issued
// a fresh token; a JWT login only validates the presented token.
func (s *Service) Authenticate(req LoginRequest) (*Result, error) {
	switch req.Method {
	case MethodBasic:
		return s.checkSecret(s.store.User, req.Username, req.Password)
	case MethodClientSecret:
		return s.checkSecret(s.store.Client, req.ClientID, req.ClientSecret)
	case MethodJWT:
		return s.verify(req.Token)
	}
	return nil, fmt.Errorf("unsupported auth method: %q", req.Method)
}

func (s *Service) checkSecret(lookup func(string) (Principal, bool), name, secret string) (*Result, error) {
	if name == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	p, ok := lookup(name)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.SecretHash), []byte(secret)); err != nil {
		return nil, ErrInvalidCredentials
	}
	tok, err := s.issue(p)
	if err != nil {
		return nil, err
	}
	return &Result{Subject: p.Name, Roles: p.Roles, Token: tok}, nil
}

func (s *Service) issue(p Principal) (*Token, error) {
	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	claims := &Claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   p.Name,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{Type: "Bearer", Value: signed, ExpiresAt: expiresAt}, nil
}

func (s *Service) verify(raw string) (*Result, error) {
	if raw == "" {
		return nil, ErrInvalidCredentials
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	return &Result{Subject: claims.Subject, Roles: claims.Roles}, nil
}
