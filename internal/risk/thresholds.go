package risk

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Band is one severity level of a threshold rule. Bands are evaluated in
// order and the first match wins.
type Band struct {
	Limit  float64 `yaml:"limit"`
	Score  int     `yaml:"score"`
	Status Status  `yaml:"status"`
	Bot    bool    `yaml:"bot,omitempty"`
	Reason string  `yaml:"reason"`

	// RequirePositive makes the band ignore zero and negative samples, which
	// mean "not observed" for interval and duration signals.
	RequirePositive bool `yaml:"require_positive,omitempty"`
}

// RhythmBand is a keystroke-variance band conditioned on typing speed.
// MinWPM of zero disables the speed condition.
type RhythmBand struct {
	Band   `yaml:",inline"`
	MinWPM float64 `yaml:"min_wpm,omitempty"`
}

// Range flags values outside [Min, Max].
type Range struct {
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
	Score  int     `yaml:"score"`
	Status Status  `yaml:"status"`
	Bot    bool    `yaml:"bot,omitempty"`
}

// Thresholds is the complete, empirically tuned rule configuration. The
// engine copies it on construction so later mutation has no effect.
type Thresholds struct {
	BlockScore int `yaml:"block_score"`

	TypingWPM      Range `yaml:"typing_wpm"`
	WordsPerSecond Range `yaml:"words_per_second"`

	KeystrokeInterval  []Band       `yaml:"keystroke_interval"`  // below
	KeystrokeVariance  []RhythmBand `yaml:"keystroke_variance"`  // below
	MouseSpeed         []Band       `yaml:"mouse_speed"`         // above
	ClickInterval      []Band       `yaml:"click_interval"`      // below
	ScrollSpeed        []Band       `yaml:"scroll_speed"`        // above
	InteractionDensity []Band       `yaml:"interaction_density"` // above
	LowEngagement      Band         `yaml:"low_engagement"`      // below, after density bands
	TabSwitches        []Band       `yaml:"tab_switches"`        // above
	OrientationEvents  []Band       `yaml:"orientation_events"`  // above
	FieldFocus         []Band       `yaml:"field_focus"`         // below
	TimeAway           []Band       `yaml:"time_away"`           // above
	ScrollEvents       []Band       `yaml:"scroll_events"`       // above
	DoubleTapRate      []Band       `yaml:"double_tap_rate"`     // above
	Backspaces         []Band       `yaml:"backspaces"`          // above

	MerchantRisk map[string]int `yaml:"merchant_risk"`

	TamperingScore int `yaml:"tampering_score"`
}

// DefaultThresholds returns the production rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		BlockScore: 80,

		TypingWPM:      Range{Min: 20, Max: 300, Score: 80, Status: StatusCritical, Bot: true},
		WordsPerSecond: Range{Min: 0.33, Max: 5, Score: 25, Status: StatusCritical},

		KeystrokeInterval: []Band{
			{Limit: 30, Score: 50, Status: StatusCritical, Bot: true, RequirePositive: true, Reason: "Impossible keystroke intervals (<30ms)"},
			{Limit: 60, Score: 30, Status: StatusCritical, RequirePositive: true, Reason: "Very fast intervals (30-60ms)"},
			{Limit: 100, Score: 10, Status: StatusWarning, Reason: "Fast intervals (60-100ms)"},
		},
		KeystrokeVariance: []RhythmBand{
			{Band: Band{Limit: 5, Score: 45, Status: StatusCritical, Bot: true, RequirePositive: true, Reason: "Perfect mechanical consistency"}, MinWPM: 50},
			{Band: Band{Limit: 15, Score: 25, Status: StatusCritical, Bot: true, RequirePositive: true, Reason: "Highly consistent timing"}, MinWPM: 40},
			{Band: Band{Limit: 30, Score: 5, Status: StatusWarning, Reason: "Consistent typing pattern"}},
		},
		MouseSpeed: []Band{
			{Limit: 8000, Score: 40, Status: StatusCritical, Bot: true, Reason: "Impossible mouse speed (>8000 px/ms)"},
			{Limit: 5000, Score: 25, Status: StatusCritical, Reason: "Extremely fast mouse (>5000 px/ms)"},
			{Limit: 3000, Score: 15, Status: StatusWarning, Reason: "Very fast mouse (3000-5000 px/ms)"},
			{Limit: 1500, Score: 5, Status: StatusWarning, Reason: "Fast mouse movement"},
		},
		ClickInterval: []Band{
			{Limit: 50, Score: 30, Status: StatusCritical, RequirePositive: true, Reason: "Automated clicking (<50ms intervals)"},
			{Limit: 100, Score: 15, Status: StatusWarning, RequirePositive: true, Reason: "Very fast clicking (50-100ms)"},
			{Limit: 200, Score: 5, Status: StatusWarning, RequirePositive: true, Reason: "Fast clicking (100-200ms)"},
		},
		ScrollSpeed: []Band{
			{Limit: 2000, Score: 25, Status: StatusCritical, Reason: "Extremely fast scrolling (>2000 units/ms)"},
			{Limit: 1000, Score: 15, Status: StatusWarning, Reason: "Very fast scrolling (1000-2000 units/ms)"},
			{Limit: 500, Score: 5, Status: StatusWarning, Reason: "Fast scrolling (500-1000 units/ms)"},
		},
		InteractionDensity: []Band{
			{Limit: 20, Score: 30, Status: StatusCritical, Reason: "Extremely high interaction density (>20/sec)"},
			{Limit: 10, Score: 15, Status: StatusWarning, Reason: "High interaction density (10-20/sec)"},
			{Limit: 5, Score: 5, Status: StatusWarning, Reason: "Moderate interaction density"},
		},
		LowEngagement: Band{Limit: 0.5, Score: 10, Status: StatusWarning, Reason: "Very low engagement"},
		TabSwitches: []Band{
			{Limit: 15, Score: 25, Status: StatusCritical, Reason: "Excessive tab switching (>15)"},
			{Limit: 10, Score: 15, Status: StatusWarning, Reason: "Frequent tab switching (10-15)"},
			{Limit: 5, Score: 5, Status: StatusWarning, Reason: "Some tab switching"},
		},
		OrientationEvents: []Band{
			{Limit: 20, Score: 20, Status: StatusWarning, Reason: "Frequent device orientation changes"},
			{Limit: 10, Score: 10, Status: StatusWarning, Reason: "Some orientation changes"},
		},
		FieldFocus: []Band{
			{Limit: 2, Score: 15, Status: StatusWarning, RequirePositive: true, Reason: "Very brief field focus (<2 sec)"},
			{Limit: 5, Score: 5, Status: StatusWarning, RequirePositive: true, Reason: "Short field focus (2-5 sec)"},
		},
		TimeAway: []Band{
			{Limit: 300, Score: 20, Status: StatusWarning, Reason: "Long time away from tab (>5 min)"},
			{Limit: 120, Score: 10, Status: StatusWarning, Reason: "Extended time away (2-5 min)"},
			{Limit: 30, Score: 5, Status: StatusWarning, Reason: "Some time away (30 sec-2 min)"},
		},
		ScrollEvents: []Band{
			{Limit: 100, Score: 15, Status: StatusWarning, Reason: "Excessive scrolling (>100 events)"},
			{Limit: 50, Score: 8, Status: StatusWarning, Reason: "Heavy scrolling (50-100 events)"},
			{Limit: 20, Score: 3, Status: StatusWarning, Reason: "Moderate scrolling"},
		},
		DoubleTapRate: []Band{
			{Limit: 20, Score: 20, Status: StatusCritical, Reason: "High double-tap rate (>20)"},
			{Limit: 10, Score: 10, Status: StatusWarning, Reason: "Moderate double-tap rate (10-20)"},
			{Limit: 5, Score: 5, Status: StatusWarning, Reason: "Some double-taps"},
		},
		Backspaces: []Band{
			{Limit: 10, Score: 15, Status: StatusWarning, Reason: "High correction rate (>10 backspaces)"},
			{Limit: 5, Score: 8, Status: StatusWarning, Reason: "Moderate corrections (5-10)"},
			{Limit: 2, Score: 3, Status: StatusWarning, Reason: "Some corrections"},
		},

		MerchantRisk: map[string]int{
			"cryptocurrency": 40,
			"jewelry":        30,
			"gambling":       35,
			"electronics":    20,
			"travel":         15,
		},

		TamperingScore: 40,
	}
}

// LoadThresholds reads a YAML file and overlays it on the defaults. Keys
// absent from the file keep their default value; a band list present in the
// file replaces the default list entirely.
func LoadThresholds(path string) (Thresholds, error) {
	th := DefaultThresholds()
	if path == "" {
		return th, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds: %w", err)
	}
	if err := yaml.Unmarshal(data, &th); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds: %w", err)
	}
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

// Validate checks that scores are non-negative, statuses are known and that
// band limits are ordered from most to least severe. The ordering is what
// makes each rule monotonic in its input.
func (t Thresholds) Validate() error {
	if t.BlockScore <= MinScore || t.BlockScore > MaxScore {
		return fmt.Errorf("block_score must be in (%d, %d], got %d", MinScore, MaxScore, t.BlockScore)
	}
	if err := validateRange("typing_wpm", t.TypingWPM); err != nil {
		return err
	}
	if err := validateRange("words_per_second", t.WordsPerSecond); err != nil {
		return err
	}

	variance := make([]Band, len(t.KeystrokeVariance))
	for i, b := range t.KeystrokeVariance {
		variance[i] = b.Band
	}

	checks := []struct {
		name  string
		bands []Band
		above bool
	}{
		{"keystroke_interval", t.KeystrokeInterval, false},
		{"keystroke_variance", variance, false},
		{"mouse_speed", t.MouseSpeed, true},
		{"click_interval", t.ClickInterval, false},
		{"scroll_speed", t.ScrollSpeed, true},
		{"interaction_density", t.InteractionDensity, true},
		{"low_engagement", []Band{t.LowEngagement}, false},
		{"tab_switches", t.TabSwitches, true},
		{"orientation_events", t.OrientationEvents, true},
		{"field_focus", t.FieldFocus, false},
		{"time_away", t.TimeAway, true},
		{"scroll_events", t.ScrollEvents, true},
		{"double_tap_rate", t.DoubleTapRate, true},
		{"backspaces", t.Backspaces, true},
	}
	for _, c := range checks {
		if err := validateBands(c.name, c.bands, c.above); err != nil {
			return err
		}
	}

	for merchant, score := range t.MerchantRisk {
		if score < 0 {
			return fmt.Errorf("merchant_risk[%s]: score must be non-negative", merchant)
		}
	}
	if t.TamperingScore < 0 {
		return fmt.Errorf("tampering_score must be non-negative")
	}
	return nil
}

func validateRange(name string, r Range) error {
	if r.Min > r.Max {
		return fmt.Errorf("%s: min %.2f exceeds max %.2f", name, r.Min, r.Max)
	}
	if r.Score < 0 {
		return fmt.Errorf("%s: score must be non-negative", name)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%s: unknown status %q", name, r.Status)
	}
	return nil
}

func validateBands(name string, bands []Band, above bool) error {
	for i, b := range bands {
		if b.Score < 0 {
			return fmt.Errorf("%s[%d]: score must be non-negative", name, i)
		}
		if !b.Status.Valid() {
			return fmt.Errorf("%s[%d]: unknown status %q", name, i, b.Status)
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if above && b.Limit > prev.Limit {
			return fmt.Errorf("%s[%d]: limits must be descending", name, i)
		}
		if !above && b.Limit < prev.Limit {
			return fmt.Errorf("%s[%d]: limits must be ascending", name, i)
		}
		if b.Score > prev.Score {
			return fmt.Errorf("%s[%d]: scores must not increase for milder bands", name, i)
		}
	}
	return nil
}

func (t Thresholds) clone() Thresholds {
	c := t
	c.KeystrokeInterval = slices.Clone(t.KeystrokeInterval)
	c.KeystrokeVariance = slices.Clone(t.KeystrokeVariance)
	c.MouseSpeed = slices.Clone(t.MouseSpeed)
	c.ClickInterval = slices.Clone(t.ClickInterval)
	c.ScrollSpeed = slices.Clone(t.ScrollSpeed)
	c.InteractionDensity = slices.Clone(t.InteractionDensity)
	c.TabSwitches = slices.Clone(t.TabSwitches)
	c.OrientationEvents = slices.Clone(t.OrientationEvents)
	c.FieldFocus = slices.Clone(t.FieldFocus)
	c.TimeAway = slices.Clone(t.TimeAway)
	c.ScrollEvents = slices.Clone(t.ScrollEvents)
	c.DoubleTapRate = slices.Clone(t.DoubleTapRate)
	c.Backspaces = slices.Clone(t.Backspaces)
	c.MerchantRisk = maps.Clone(t.MerchantRisk)
	return c
}
