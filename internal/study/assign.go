package study

import (
	"encoding/json"
	"fmt"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/sampling"
)

// ParseConfig decodes a JSON study definition. It does not validate it;
// Setup does.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode study config: %w", err)
	}
	return cfg, nil
}

// AssignVariation is the deterministic assignment: the fraction of
// hash(activeExperimentName + clientID) picks a weighted bucket. It also
// returns the fraction.
func AssignVariation(cfg *Config, clientID string) (sampling.Variation, float64, error) {
	fraction := sampling.HashFraction(cfg.ActiveExperimentName+clientID, sampling.DefaultHashDigits)
	chosen := sampling.ChooseWeighted(cfg.WeightedVariations, fraction)
	if chosen == nil {
		return sampling.Variation{}, fraction, fmt.Errorf("%w (fraction %f)", ErrNoVariation, fraction)
	}
	return *chosen, fraction, nil
}

// InEnrollment reports whether a first-run install of clientID passes the
// enrollment percentage. Studies without one enroll everyone.
func InEnrollment(cfg *Config, clientID string) bool {
	if cfg.EnrollmentPercent == nil {
		return true
	}
	return sampling.InRollout(clientID, cfg.ActiveExperimentName, *cfg.EnrollmentPercent)
}
