package sor

import (
	"context"
	"strings"
)

// CheckPairAllowed reports whether pairID is in the current tradeable
// universe returned by provider. An empty pair id or an empty universe
// always blocks; a provider error is treated as a block with reason
// "universe" rather than propagated, since the Universe guard must never
// crash the submit path on a collaborator outage.
func CheckPairAllowed(ctx context.Context, provider UniverseProvider, pairID string) (bool, string) {
	normalized := strings.ToUpper(strings.TrimSpace(pairID))
	if normalized == "" {
		return false, "universe"
	}
	if provider == nil {
		return false, "universe"
	}
	universe, err := provider.AllowedPairs(ctx)
	if err != nil || len(universe) == 0 {
		return false, "universe"
	}
	if universe[normalized] {
		return true, ""
	}
	return false, "universe"
}

// StaticUniverseProvider is a fixed-set UniverseProvider, useful for tests
// and for configurations that load the pair list once at startup rather
// than from a live collaborator.
type StaticUniverseProvider struct {
	pairs map[string]bool
}

// NewStaticUniverseProvider builds a provider from the given pair list.
func NewStaticUniverseProvider(pairs []string) *StaticUniverseProvider {
	set := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		set[strings.ToUpper(strings.TrimSpace(p))] = true
	}
	return &StaticUniverseProvider{pairs: set}
}

// AllowedPairs implements UniverseProvider.
func (s *StaticUniverseProvider) AllowedPairs(ctx context.Context) (map[string]bool, error) {
	return s.pairs, nil
}
