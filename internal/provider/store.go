package provider

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrNoProviders is returned when the store holds no usable provider.
var ErrNoProviders = errors.New("no providers configured")

// Config describes one AI provider endpoint.
type Config struct {
	Name                string  `toml:"name"`
	Endpoint            string  `toml:"endpoint"`
	APIKey              string  `toml:"api_key"`
	Model               string  `toml:"model"`
	MaxTokens           int     `toml:"max_tokens"`
	Temperature         float64 `toml:"temperature"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	Priority            int     `toml:"priority"`
	ExcludeFromFailover bool    `toml:"exclude_from_failover"`
	RateLimitRPS        float64 `toml:"rate_limit_rps"`
}

// Timeout returns the hard per-call deadline.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// storeFile is the on-disk TOML shape.
type storeFile struct {
	Providers []Config `toml:"providers"`
}

// Store holds provider configurations in failover priority order.
type Store struct {
	mu      sync.RWMutex
	byName  map[string]Config
	ordered []Config
}

// NewStore builds a store from configs, sorted by ascending priority with
// name as a stable tiebreak.
func NewStore(configs []Config) (*Store, error) {
	s := &Store{byName: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if c.Name == "" {
			return nil, errors.New("provider config missing name")
		}
		if c.Endpoint == "" {
			return nil, fmt.Errorf("provider %q missing endpoint", c.Name)
		}
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", c.Name)
		}
		s.byName[c.Name] = c
		s.ordered = append(s.ordered, c)
	}
	sort.SliceStable(s.ordered, func(i, j int) bool {
		if s.ordered[i].Priority != s.ordered[j].Priority {
			return s.ordered[i].Priority < s.ordered[j].Priority
		}
		return s.ordered[i].Name < s.ordered[j].Name
	})
	return s, nil
}

// LoadStore reads provider configuration from a TOML file.
func LoadStore(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}
	var f storeFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse provider config: %w", err)
	}
	return NewStore(f.Providers)
}

// Get returns the configuration for a named provider.
func (s *Store) Get(name string) (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byName[name]
	return c, ok
}

// Default returns the highest-priority provider.
func (s *Store) Default() (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ordered) == 0 {
		return Config{}, ErrNoProviders
	}
	return s.ordered[0], nil
}

// List returns all providers in priority order.
func (s *Store) List() []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Config, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// FailoverCandidates returns providers eligible to take over from the named
// one, in priority order. The active provider and any provider flagged
// ExcludeFromFailover are skipped.
func (s *Store) FailoverCandidates(active string) []Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Config
	for _, c := range s.ordered {
		if c.Name == active || c.ExcludeFromFailover {
			continue
		}
		out = append(out, c)
	}
	return out
}
