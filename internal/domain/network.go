package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const DefaultBaseDecimals = 18

var ErrEmptyPool = errors.New("network has no endpoints")

// Endpoint is one configured RPC connection target.
type Endpoint struct {
	Name     string
	URL      string
	Weight   int
	Priority int
}

// EffectiveWeight treats an unset weight as 1.
func (e Endpoint) EffectiveWeight() int {
	if e.Weight <= 0 {
		return 1
	}
	return e.Weight
}

// Network describes a chain and the pool of endpoints that serve it.
// A Network is configured once and then only read.
type Network struct {
	ChainID      uint64
	Name         string
	BaseSymbol   string
	BaseDecimals uint
	Endpoints    []Endpoint
	SelectedNode string
	Quorum       int
}

func (n Network) Validate() error {
	if len(n.Endpoints) == 0 {
		return ErrEmptyPool
	}
	seen := make(map[string]struct{}, len(n.Endpoints))
	for _, ep := range n.Endpoints {
		if strings.TrimSpace(ep.URL) == "" {
			return fmt.Errorf("endpoint %q has no url", ep.Name)
		}
		if _, ok := seen[ep.Name]; ok {
			return fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}
	}
	if n.Quorum > n.TotalWeight() {
		return fmt.Errorf("quorum %d exceeds total endpoint weight %d", n.Quorum, n.TotalWeight())
	}
	return nil
}

// Ranked returns a copy of the pool ordered by priority, then by weight
// descending. Endpoints that tie keep their configured order.
func (n Network) Ranked() []Endpoint {
	ranked := make([]Endpoint, len(n.Endpoints))
	copy(ranked, n.Endpoints)
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].Priority != ranked[b].Priority {
			return ranked[a].Priority < ranked[b].Priority
		}
		return ranked[a].EffectiveWeight() > ranked[b].EffectiveWeight()
	})
	return ranked
}

// Selected returns the endpoint used in single-endpoint mode.
func (n Network) Selected() (Endpoint, error) {
	if len(n.Endpoints) == 0 {
		return Endpoint{}, ErrEmptyPool
	}
	if n.SelectedNode != "" {
		for _, ep := range n.Endpoints {
			if ep.Name == n.SelectedNode {
				return ep, nil
			}
		}
		return Endpoint{}, fmt.Errorf("selected node %q is not in the pool", n.SelectedNode)
	}
	return n.Ranked()[0], nil
}

func (n Network) TotalWeight() int {
	total := 0
	for _, ep := range n.Endpoints {
		total += ep.EffectiveWeight()
	}
	return total
}

// QuorumWeight is the agreeing weight an aggregated read needs.
func (n Network) QuorumWeight() int {
	if n.Quorum > 0 {
		return n.Quorum
	}
	return (n.TotalWeight() + 1) / 2
}

func (n Network) Decimals() uint {
	if n.BaseDecimals == 0 {
		return DefaultBaseDecimals
	}
	return n.BaseDecimals
}
