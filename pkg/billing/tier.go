package billing

import (
	"fmt"
	"strings"
)

// Tier is an ordered access level. Higher values unlock more features.
type Tier int

const (
	// TierGuest is the default tier and the fallback for anything unknown.
	TierGuest Tier = iota
	TierAssistant
	TierButler
	TierRuler
)

var tierNames = map[Tier]string{
	TierGuest:     "guest",
	TierAssistant: "assistant",
	TierButler:    "butler",
	TierRuler:     "ruler",
}

// String returns the lower-case tier name.
func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Valid reports whether t is one of the declared tiers.
func (t Tier) Valid() bool {
	_, ok := tierNames[t]
	return ok
}

// AtLeast reports whether t grants at least the access of min.
func (t Tier) AtLeast(min Tier) bool {
	return t >= min
}

// MarshalText implements encoding.TextMarshaler
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTier parses a tier name (case-insensitive).
func ParseTier(name string) (Tier, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for tier, tierName := range tierNames {
		if tierName == key {
			return tier, nil
		}
	}
	return TierGuest, fmt.Errorf("%w: %q", ErrUnknownTier, name)
}

// MaxTier returns the higher of two tiers.
func MaxTier(a, b Tier) Tier {
	if a > b {
		return a
	}
	return b
}
