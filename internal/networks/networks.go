package networks

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Network maps a currency label to the chain id bound to sessions on it.
type Network struct {
	Currency string `yaml:"currency" json:"currency"`
	ChainID  int64  `yaml:"chain_id" json:"chain_id"`
}

var ErrUnknownNetwork = errors.New("unknown network")

// Table is read-only after construction.
type Table struct {
	items []Network
}

// Default returns the built-in table.
func Default() *Table {
	return &Table{items: []Network{{Currency: "ethereum", ChainID: 1}}}
}

// New validates and copies items into a table.
func New(items []Network) (*Table, error) {
	if len(items) == 0 {
		return nil, errors.New("network table is empty")
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]Network, 0, len(items))
	for _, n := range items {
		n.Currency = strings.ToLower(strings.TrimSpace(n.Currency))
		if n.Currency == "" {
			return nil, errors.New("network currency is required")
		}
		if n.ChainID <= 0 {
			return nil, fmt.Errorf("network %q: chain_id must be positive", n.Currency)
		}
		if _, dup := seen[n.Currency]; dup {
			return nil, fmt.Errorf("network %q listed twice", n.Currency)
		}
		seen[n.Currency] = struct{}{}
		out = append(out, n)
	}
	return &Table{items: out}, nil
}

type fileLayout struct {
	Networks []Network `yaml:"networks"`
}

// LoadFile reads a YAML table, or returns Default when path is empty.
func LoadFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}
	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("parse networks file: %w", err)
	}
	return New(layout.Networks)
}

// Lookup finds a network by currency label.
func (t *Table) Lookup(currency string) (Network, error) {
	key := strings.ToLower(strings.TrimSpace(currency))
	for _, n := range t.items {
		if n.Currency == key {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, currency)
}

// All returns a copy of the table in declaration order.
func (t *Table) All() []Network {
	out := make([]Network, len(t.items))
	copy(out, t.items)
	return out
}
