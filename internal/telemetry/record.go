// Package telemetry defines the behavioral-biometric snapshot submitted with a
// transaction attempt.
//
// Clients send whatever signals they managed to collect. Every field is
// optional: absent or malformed values fall back to the defaults below rather
// than failing the request, so a partially instrumented page still gets a
// verdict.
package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
)

// Defaults applied to string fields that were not supplied.
const (
	DefaultMerchantType  = "retail"
	DefaultDeviceType    = "desktop"
	UnknownTransactionID = "unknown"
)

// ErrNotObject is returned when the payload is not a JSON object.
var ErrNotObject = errors.New("telemetry: payload must be a JSON object")

// Record is one telemetry snapshot. It is treated as immutable once decoded.
type Record struct {
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	MerchantType  string  `json:"merchantType"`
	DeviceType    string  `json:"deviceType"`

	// Typing
	TypingWPM         float64 `json:"typingWPM"`
	TypingWPS         float64 `json:"typingWPS"`
	TypingCPS         float64 `json:"typingCPS"`
	KeystrokeInterval float64 `json:"keystrokeInterval"`
	KeystrokeVariance float64 `json:"keystrokeVariance"`
	BackspaceCount    float64 `json:"backspaceCount"`

	// Pointer and touch
	MouseSpeed    float64 `json:"mouseSpeed"`
	ClickDelay    float64 `json:"clickDelay"`
	ClickInterval float64 `json:"clickInterval"`
	DoubleTapRate float64 `json:"doubleTapRate"`

	// Scrolling
	ScrollSpeed            float64 `json:"scrollSpeed"`
	ScrollDistance         float64 `json:"scrollDistance"`
	ScrollDirectionChanges float64 `json:"scrollDirectionChanges"`
	ScrollEventCount       float64 `json:"scrollEventCount"`

	// Attention and session
	FieldFocusTimeSec       float64 `json:"fieldFocusTimeSec"`
	TabSwitches             float64 `json:"tabSwitches"`
	InteractionDensity      float64 `json:"interactionDensity"`
	TotalDwellTime          float64 `json:"totalDwellTime"`
	TimeAwayFromTab         float64 `json:"timeAwayFromTab"`
	DeviceOrientationEvents float64 `json:"deviceOrientationEvents"`
	ScreenWidth             float64 `json:"screenWidth"`
	ScreenHeight            float64 `json:"screenHeight"`

	// Environment integrity
	IsWebDriver    bool    `json:"isWebDriver"`
	IsDebuggerOpen bool    `json:"isDebuggerOpen"`
	PluginsLength  float64 `json:"pluginsLength"`
}

// New returns a record populated with the documented defaults.
func New() Record {
	return Record{
		MerchantType: DefaultMerchantType,
		DeviceType:   DefaultDeviceType,
	}
}

// ID returns the transaction identifier used as the log key.
func (r Record) ID() string {
	if r.TransactionID == "" {
		return UnknownTransactionID
	}
	return r.TransactionID
}

// Parse decodes a JSON object into a Record. Only a body that is not a JSON
// object is an error; individual fields of the wrong type keep their default.
func Parse(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return New(), err
	}
	return r, nil
}

// UnmarshalJSON implements lenient field-by-field decoding.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrNotObject
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	rec := New()
	for name, dst := range rec.numberFields() {
		decodeNumber(raw[name], dst)
	}
	decodeString(raw["transactionId"], &rec.TransactionID)
	decodeString(raw["merchantType"], &rec.MerchantType)
	decodeString(raw["deviceType"], &rec.DeviceType)
	decodeBool(raw["isWebDriver"], &rec.IsWebDriver)
	decodeBool(raw["isDebuggerOpen"], &rec.IsDebuggerOpen)

	if rec.MerchantType == "" {
		rec.MerchantType = DefaultMerchantType
	}
	if rec.DeviceType == "" {
		rec.DeviceType = DefaultDeviceType
	}

	*r = rec
	return nil
}

// NumericFields lists the JSON names of the numeric signals, sorted.
func NumericFields() []string {
	var r Record
	fields := r.numberFields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Record) numberFields() map[string]*float64 {
	return map[string]*float64{
		"amount":                  &r.Amount,
		"typingWPM":               &r.TypingWPM,
		"typingWPS":               &r.TypingWPS,
		"typingCPS":               &r.TypingCPS,
		"keystrokeInterval":       &r.KeystrokeInterval,
		"keystrokeVariance":       &r.KeystrokeVariance,
		"backspaceCount":          &r.BackspaceCount,
		"mouseSpeed":              &r.MouseSpeed,
		"clickDelay":              &r.ClickDelay,
		"clickInterval":           &r.ClickInterval,
		"doubleTapRate":           &r.DoubleTapRate,
		"scrollSpeed":             &r.ScrollSpeed,
		"scrollDistance":          &r.ScrollDistance,
		"scrollDirectionChanges":  &r.ScrollDirectionChanges,
		"scrollEventCount":        &r.ScrollEventCount,
		"fieldFocusTimeSec":       &r.FieldFocusTimeSec,
		"tabSwitches":             &r.TabSwitches,
		"interactionDensity":      &r.InteractionDensity,
		"totalDwellTime":          &r.TotalDwellTime,
		"timeAwayFromTab":         &r.TimeAwayFromTab,
		"deviceOrientationEvents": &r.DeviceOrientationEvents,
		"screenWidth":             &r.ScreenWidth,
		"screenHeight":            &r.ScreenHeight,
		"pluginsLength":           &r.PluginsLength,
	}
}

func decodeNumber(raw json.RawMessage, dst *float64) {
	if len(raw) == 0 {
		return
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

func decodeString(raw json.RawMessage, dst *string) {
	if len(raw) == 0 {
		return
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

func decodeBool(raw json.RawMessage, dst *bool) {
	if len(raw) == 0 {
		return
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}
