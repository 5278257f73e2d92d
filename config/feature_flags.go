package config

import (
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles with gradual rollout by user id.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	userOverrides map[int64]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`

	// Rollout percentage (0-100)
	// Users are assigned based on hash of their ID
	RolloutPercent int `json:"rollout_percent"`
}

// Predefined feature flag names.
const (
	// FeatureTipsSearch enables "/tip <query>" fuzzy category search.
	FeatureTipsSearch = "tips.search"

	// FeatureEventsRedisFanout republishes domain events to Redis Pub/Sub.
	// Has no effect while Redis is disabled.
	FeatureEventsRedisFanout = "events.redis_fanout"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns the defaults without reading the environment.
func NewFeatureFlags() *FeatureFlags {
	return &FeatureFlags{
		features: map[string]*Feature{
			FeatureTipsSearch: {
				Name:           FeatureTipsSearch,
				Description:    "Fuzzy search of tip categories via /tip <query>",
				Enabled:        true,
				RolloutPercent: 100,
			},
			FeatureEventsRedisFanout: {
				Name:           FeatureEventsRedisFanout,
				Description:    "Publish domain events to Redis Pub/Sub",
				Enabled:        true,
				RolloutPercent: 100,
			},
		},
		userOverrides: make(map[int64]map[string]bool),
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_TIPS_SEARCH=false
// Example: FEATURE_TIPS_SEARCH=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "tips.search" -> "FEATURE_TIPS_SEARCH"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given user. A zero userID
// asks about the process as a whole (e.g. event fan-out) and only a full
// rollout counts as enabled.
func (ff *FeatureFlags) IsEnabled(featureName string, userID int64) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != 0 {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if feature.RolloutPercent >= 100 {
		return true
	}
	if userID == 0 {
		return false
	}
	return isInRollout(userID, featureName, feature.RolloutPercent)
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func isInRollout(userID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	return int(h.Sum32()%100) < percent
}

// ForUser returns a predicate bound to one feature, e.g. for handler.Config.
func (ff *FeatureFlags) ForUser(featureName string) func(userID int64) bool {
	return func(userID int64) bool {
		return ff.IsEnabled(featureName, userID)
	}
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// All returns copies of all features sorted by name (for /stats).
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
