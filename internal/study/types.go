package study

import (
	"context"
	"math"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/sampling"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/telemetry"
)

// StudyType selects which data permission gates enrollment.
type StudyType string

const (
	TypeShield  StudyType = "shield"
	TypePioneer StudyType = "pioneer"
)

// Built-in endings. They are always valid, with or without an entry in
// Config.Endings.
const (
	EndingIneligible  = "ineligible"
	EndingExpired     = "expired"
	EndingUserDisable = "user-disable"
)

// Ending categories for custom endings.
const (
	CategoryPositive = "ended-positive"
	CategoryNeutral  = "ended-neutral"
	CategoryNegative = "ended-negative"
)

// Lifecycle study_state values that are not ending buckets.
const (
	PingEnter     = "enter"
	PingInstalled = "installed"
	PingActive    = "active"
	PingExit      = "exit"
)

// NoExpiry is the TimeUntilExpire of a study without expire.days.
const NoExpiry int64 = math.MaxInt64

const msPerDay = 86_400_000

// Config is the study definition passed to Setup. It is immutable afterwards.
type Config struct {
	ActiveExperimentName string               `json:"activeExperimentName" yaml:"activeExperimentName"`
	StudyType            StudyType            `json:"studyType" yaml:"studyType"`
	WeightedVariations   []sampling.Variation `json:"weightedVariations" yaml:"weightedVariations"`
	Endings              map[string]Ending    `json:"endings" yaml:"endings"`
	Telemetry            TelemetryConfig      `json:"telemetry" yaml:"telemetry"`
	Expire               *ExpireConfig        `json:"expire,omitempty" yaml:"expire,omitempty"`
	Testing              TestingConfig        `json:"testing" yaml:"testing"`
	AllowEnroll          bool                 `json:"allowEnroll" yaml:"allowEnroll"`

	// EnrollmentPercent, when set, admits only that share of first-run
	// installs (murmur3 bucket of clientID:studyName).
	EnrollmentPercent *int `json:"enrollmentPercent,omitempty" yaml:"enrollmentPercent,omitempty"`
}

// Ending configures one way the study can end.
type Ending struct {
	BaseURLs  []string `json:"baseUrls,omitempty" yaml:"baseUrls,omitempty"`
	ExactURLs []string `json:"exactUrls,omitempty" yaml:"exactUrls,omitempty"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	Fullname  string   `json:"fullname,omitempty" yaml:"fullname,omitempty"`
}

type TelemetryConfig struct {
	Send              bool `json:"send" yaml:"send"`
	RemoveTestingFlag bool `json:"removeTestingFlag" yaml:"removeTestingFlag"`
}

type ExpireConfig struct {
	Days int `json:"days" yaml:"days"`
}

// TestingConfig holds overrides for QA. A nil pointer means "not set";
// FirstRunTimestamp may legitimately be 0.
type TestingConfig struct {
	VariationName     *string `json:"variationName,omitempty" yaml:"variationName,omitempty"`
	FirstRunTimestamp *int64  `json:"firstRunTimestamp,omitempty" yaml:"firstRunTimestamp,omitempty"`
	Expired           *bool   `json:"expired,omitempty" yaml:"expired,omitempty"`
}

// Info is what Setup and StudyInfo report.
type Info struct {
	ActiveExperimentName string             `json:"activeExperimentName"`
	StudyType            StudyType          `json:"studyType"`
	IsFirstRun           bool               `json:"isFirstRun"`
	FirstRunTimestamp    int64              `json:"firstRunTimestamp"`
	Variation            sampling.Variation `json:"variation"`
	ShieldID             string             `json:"shieldId"`

	// TimeUntilExpire is in milliseconds; NoExpiry when the study never expires.
	TimeUntilExpire int64 `json:"timeUntilExpire"`
}

// EndingResult is produced once per study by EndStudy.
type EndingResult struct {
	EndingName      string            `json:"endingName"`
	ShouldUninstall bool              `json:"shouldUninstall"`
	URLs            []string          `json:"urls"`
	QueryArgs       map[string]string `json:"queryArgs"`
}

// Internals is a debug snapshot of the engine state.
type Internals struct {
	State             string               `json:"state"`
	Variation         *sampling.Variation  `json:"variation"`
	StudyConfig       *Config              `json:"studyConfig"`
	IsFirstRun        bool                 `json:"isFirstRun"`
	IsSetup           bool                 `json:"isSetup"`
	IsEnding          bool                 `json:"isEnding"`
	IsEnded           bool                 `json:"isEnded"`
	FirstRunTimestamp *int64               `json:"firstRunTimestamp"`
	EndingRequested   string               `json:"endingRequested,omitempty"`
	EndingReturned    *EndingResult        `json:"endingReturned,omitempty"`
	SeenTelemetry     []telemetry.SentPing `json:"seenTelemetry"`
}

// Permissions are the host's data-sharing permissions.
type Permissions struct {
	Shield  bool `json:"shield"`
	Pioneer bool `json:"pioneer"`
}

// Allows reports the permission for a study type.
func (p Permissions) Allows(t StudyType) bool {
	if t == TypePioneer {
		return p.Pioneer
	}
	return p.Shield
}

// PermissionsProvider reads the host's current data permissions.
type PermissionsProvider interface {
	DataPermissions(ctx context.Context) (Permissions, error)
}

// ExperimentTracker is the host facility that lists active experiments.
type ExperimentTracker interface {
	SetActive(ctx context.Context, name, branch string) error
	SetInactive(ctx context.Context, name string) error
}

// Hooks are study-specific customizations. Every field is optional. Errors
// and panics are isolated: they are reported as fatal error pings and the
// lifecycle continues.
type Hooks struct {
	// DecideVariation picks the variation name. An error or an unknown name
	// falls back to deterministic hashing.
	DecideVariation func(ctx context.Context, variations []sampling.Variation) (string, error)

	OnInstalled  func(ctx context.Context, info Info) error
	OnIneligible func(ctx context.Context, info Info) error
	OnExpired    func(ctx context.Context, info Info) error
	OnCleanup    func(ctx context.Context, result EndingResult) error
}

// Listeners receive engine events. OnReady fires at most once per setup and
// OnEndStudy at most once per study.
type Listeners struct {
	OnReady                 func(Info)
	OnEndStudy              func(EndingResult)
	OnDataPermissionsChange func(Permissions)
}

// variationByName returns the configured variation called name.
func (c *Config) variationByName(name string) (sampling.Variation, bool) {
	for _, v := range c.WeightedVariations {
		if v.Name == name {
			return v, true
		}
	}
	return sampling.Variation{}, false
}

// resolveEnding returns the ending config and its canonical bucket. ok is
// false when name is neither configured nor built in.
func (c *Config) resolveEnding(name string) (ending Ending, bucket string, ok bool) {
	ending, configured := c.Endings[name]

	switch name {
	case EndingIneligible, EndingExpired, EndingUserDisable:
		return ending, name, true
	}
	if !configured {
		return Ending{}, "", false
	}
	if ending.Category != "" {
		return ending, ending.Category, true
	}
	return ending, CategoryNeutral, true
}

// timeUntilExpire returns milliseconds left at nowMs.
func (c *Config) timeUntilExpire(firstRunMs, nowMs int64) int64 {
	if c.Expire == nil {
		return NoExpiry
	}
	days := int64(c.Expire.Days)
	if days > (NoExpiry-max(firstRunMs, 0))/msPerDay {
		return NoExpiry
	}
	return firstRunMs + days*msPerDay - nowMs
}
