package billing

import (
	"fmt"
	"sort"
	"strings"
)

// TierMapping maps provider price or product ids to tiers.
// It is built once at startup and never mutated afterwards.
type TierMapping struct {
	tiers    map[string]Tier
	original map[string]string // normalized id -> id as configured
}

// NewTierMapping builds a mapping from price/product id to tier name,
// e.g. map[string]string{"price_butler_monthly": "butler"}.
// Keys are matched case-insensitively.
func NewTierMapping(raw map[string]string) (TierMapping, error) {
	tiers := make(map[string]Tier, len(raw))
	original := make(map[string]string, len(raw))
	for id, name := range raw {
		key := normalizeID(id)
		if key == "" {
			return TierMapping{}, fmt.Errorf("tier mapping: empty price id for tier %q", name)
		}
		tier, err := ParseTier(name)
		if err != nil {
			return TierMapping{}, fmt.Errorf("tier mapping for %q: %w", id, err)
		}
		tiers[key] = tier
		original[key] = strings.TrimSpace(id)
	}
	return TierMapping{tiers: tiers, original: original}, nil
}

// MustTierMapping is like NewTierMapping but panics on error.
func MustTierMapping(raw map[string]string) TierMapping {
	m, err := NewTierMapping(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the tier for a price or product id.
// Unmapped and empty ids resolve to TierGuest.
func (m TierMapping) Lookup(id string) Tier {
	if tier, ok := m.tiers[normalizeID(id)]; ok {
		return tier
	}
	return TierGuest
}

// PriceFor returns a price id mapped to tier, or "" if none.
// When several ids map to the same tier the lexically smallest one wins so
// the result is stable across restarts.
func (m TierMapping) PriceFor(tier Tier) string {
	var ids []string
	for id, t := range m.tiers {
		if t == tier {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return m.original[ids[0]]
}

// Len returns the number of mapped ids.
func (m TierMapping) Len() int {
	return len(m.tiers)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
