package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// ErrInvalidAPIKey is returned when no configured key matches.
var ErrInvalidAPIKey = errors.New("auth: invalid api key")

// Principal is an authenticated caller.
type Principal struct {
	Name string
	Role model.Role
}

type keyEntry struct {
	principal Principal
	hash      string
}

// KeyRing holds the configured API key hashes.
type KeyRing struct {
	entries []keyEntry
}

// ParseKeyRing parses "name:role:hash" entries separated by commas. Blank
// entries are ignored. An empty spec yields an empty ring.
func ParseKeyRing(spec string) (*KeyRing, error) {
	ring := &KeyRing{}
	seen := make(map[string]bool)
	for i, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("auth: api key entry %d: want name:role:hash", i+1)
		}
		role, err := model.ParseRole(parts[1])
		if err != nil {
			return nil, fmt.Errorf("auth: api key %q: %w", parts[0], err)
		}
		if _, _, err := decodeHash(parts[2]); err != nil {
			return nil, fmt.Errorf("api key %q: %w", parts[0], err)
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("auth: duplicate api key name %q", parts[0])
		}
		seen[parts[0]] = true
		ring.entries = append(ring.entries, keyEntry{
			principal: Principal{Name: parts[0], Role: role},
			hash:      parts[2],
		})
	}
	return ring, nil
}

// Len returns the number of configured keys. Zero means auth is disabled.
func (r *KeyRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// Authenticate returns the principal whose hash matches apiKey.
func (r *KeyRing) Authenticate(apiKey string) (Principal, error) {
	if apiKey == "" || r.Len() == 0 {
		DummyVerify()
		return Principal{}, ErrInvalidAPIKey
	}
	for _, e := range r.entries {
		ok, err := VerifyAPIKey(apiKey, e.hash)
		if err == nil && ok {
			return e.principal, nil
		}
	}
	return Principal{}, ErrInvalidAPIKey
}
