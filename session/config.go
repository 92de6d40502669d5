//
// Copyright (c) 2026 Markku Rossi
//
// All rights reserved.
//

package session

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Configuration defaults.
const (
	DefaultModulus      = "2^61-1"
	DefaultBase         = 10
	DefaultPrecision    = 4
	DefaultStatSecurity = 16
	DefaultTimeout      = 30 * time.Second
	DefaultTriples      = TriplesDealer
)

// Triple generation modes.
const (
	TriplesDealer = "dealer"
	TriplesOT     = "ot"
)

var (
	// ErrInvalidConfig is returned for invalid session configuration.
	ErrInvalidConfig = xerrors.New("session: invalid configuration")
)

// PartyConfig defines one party of the session.
type PartyConfig struct {
	ID   string `yaml:"id"`
	Addr string `yaml:"addr,omitempty"`
}

// Config defines the session parameters every party must agree on.
type Config struct {
	Modulus      string        `yaml:"modulus"`
	Base         int           `yaml:"base"`
	Precision    int           `yaml:"precision_fraction"`
	StatSecurity int           `yaml:"stat_security"`
	Timeout      time.Duration `yaml:"timeout"`
	Triples      string        `yaml:"triples"`
	Dealer       string        `yaml:"dealer,omitempty"`
	Broker       string        `yaml:"broker,omitempty"`
	Parties      []PartyConfig `yaml:"parties"`
}

// DefaultConfig returns the default configuration for the parties.
func DefaultConfig(ids ...string) *Config {
	cfg := &Config{
		Modulus:      DefaultModulus,
		Base:         DefaultBase,
		Precision:    DefaultPrecision,
		StatSecurity: DefaultStatSecurity,
		Timeout:      DefaultTimeout,
		Triples:      DefaultTriples,
	}
	for _, id := range ids {
		cfg.Parties = append(cfg.Parties, PartyConfig{
			ID: id,
		})
	}
	return cfg
}

// LoadConfig loads the configuration from the YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, xerrors.Errorf("session: %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig parses the YAML configuration data. Unset fields get
// their default values.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration into YAML.
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Validate checks the configuration.
func (cfg *Config) Validate() error {
	if _, err := ParseModulus(cfg.Modulus); err != nil {
		return err
	}
	if cfg.Base < 2 {
		return xerrors.Errorf("base %d: %w", cfg.Base, ErrInvalidConfig)
	}
	if cfg.Precision < 0 {
		return xerrors.Errorf("precision_fraction %d: %w", cfg.Precision,
			ErrInvalidConfig)
	}
	if cfg.StatSecurity < 0 {
		return xerrors.Errorf("stat_security %d: %w", cfg.StatSecurity,
			ErrInvalidConfig)
	}
	if cfg.Timeout <= 0 {
		return xerrors.Errorf("timeout %v: %w", cfg.Timeout,
			ErrInvalidConfig)
	}
	switch cfg.Triples {
	case TriplesDealer, TriplesOT:
	default:
		return xerrors.Errorf("triples %q: %w", cfg.Triples,
			ErrInvalidConfig)
	}
	if len(cfg.Parties) < 2 {
		return xerrors.Errorf("%d parties: %w", len(cfg.Parties),
			ErrInvalidConfig)
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Parties {
		if len(p.ID) == 0 || seen[p.ID] {
			return xerrors.Errorf("party ID %q: %w", p.ID, ErrInvalidConfig)
		}
		seen[p.ID] = true
	}
	if len(cfg.Dealer) > 0 && !seen[cfg.Dealer] {
		return xerrors.Errorf("dealer %q: %w", cfg.Dealer, ErrInvalidConfig)
	}
	return nil
}

// PartyIDs returns the ordered party IDs.
func (cfg *Config) PartyIDs() []string {
	result := make([]string, len(cfg.Parties))
	for i, p := range cfg.Parties {
		result[i] = p.ID
	}
	return result
}

// Addrs returns the party addresses by party ID.
func (cfg *Config) Addrs() map[string]string {
	result := make(map[string]string)
	for _, p := range cfg.Parties {
		if len(p.Addr) > 0 {
			result[p.ID] = p.Addr
		}
	}
	return result
}

// ParseModulus parses the modulus value. The value can be a decimal
// or 0x prefixed hexadecimal number, or have the form 2^k or 2^k-c.
func ParseModulus(val string) (*big.Int, error) {
	val = strings.ReplaceAll(strings.TrimSpace(val), " ", "")
	if len(val) == 0 {
		return nil, xerrors.Errorf("empty modulus: %w", ErrInvalidConfig)
	}
	if strings.HasPrefix(val, "2^") {
		return parsePow2(val)
	}
	q, ok := new(big.Int).SetString(val, 0)
	if !ok {
		return nil, xerrors.Errorf("modulus %q: %w", val, ErrInvalidConfig)
	}
	return q, nil
}

func parsePow2(val string) (*big.Int, error) {
	expr := val[2:]
	var sub int64
	idx := strings.IndexAny(expr, "-+")
	if idx >= 0 {
		c, err := strconv.ParseInt(expr[idx:], 10, 64)
		if err != nil {
			return nil, xerrors.Errorf("modulus %q: %w", val,
				ErrInvalidConfig)
		}
		sub = -c
		expr = expr[:idx]
	}
	k, err := strconv.Atoi(expr)
	if err != nil || k <= 0 || k > 4096 {
		return nil, xerrors.Errorf("modulus %q: %w", val, ErrInvalidConfig)
	}
	q := new(big.Int).Lsh(big.NewInt(1), uint(k))
	q.Sub(q, big.NewInt(sub))
	return q, nil
}

// FormatModulus formats the modulus in the shortest form accepted by
// ParseModulus.
func FormatModulus(q *big.Int) string {
	k := q.BitLen()
	pow := new(big.Int).Lsh(big.NewInt(1), uint(k))
	diff := new(big.Int).Sub(pow, q)
	if diff.IsInt64() && diff.Int64() < 1<<16 {
		return fmt.Sprintf("2^%d-%d", k, diff.Int64())
	}
	return q.String()
}
