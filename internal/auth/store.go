package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownRole        = errors.New("unknown role")
)

// Principal is a user or API client allowed to call the agent. Secrets are
// stored as bcrypt hashes only.
type Principal struct {
	Name       string   `mapstructure:"name"`
	SecretHash string   `mapstructure:"secret_hash"`
	Roles      []string `mapstructure:"roles"`
}

// Store resolves principals by name. The agent has no user database: the
// set is fixed at startup from configuration.
type Store struct {
	users   map[string]Principal
	clients map[string]Principal
}

func NewStore(users, clients []Principal) (*Store, error) {
	s := &Store{users: map[string]Principal{}, clients: map[string]Principal{}}
	for _, set := range []struct {
		kind string
		in   []Principal
		out  map[string]Principal
	}{{"user", users, s.users}, {"client", clients, s.clients}} {
		for _, p := range set.in {
			if p.Name == "" || p.SecretHash == "" {
				return nil, fmt.Errorf("%s entry needs name and secret_hash", set.kind)
			}
			if _, dup := set.out[p.Name]; dup {
				return nil, fmt.Errorf("duplicate %s %q", set.kind, p.Name)
			}
			for _, r := range p.Roles {
				if _, ok := rolePermissions[r]; !ok {
					return nil, fmt.Errorf("%s %q: %w %q", set.kind, p.Name, ErrUnknownRole, r)
				}
			}
			set.out[p.Name] = p
		}
	}
	return s, nil
}

func (s *Store) User(name string) (Principal, bool) {
	p, ok := s.users[name]
	return p, ok
}

func (s *Store) Client(id string) (Principal, bool) {
	p, ok := s.clients[id]
	return p, ok
}

func (s *Store) Len() int { return len(s.users) + len(s.clients) }
