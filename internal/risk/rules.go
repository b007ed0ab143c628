package risk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rohann-max/FINSHIELD/internal/telemetry"
)

// Factor identifiers, in evaluation order.
const (
	FactorTypingSpeed        = "wpm"
	FactorWordsPerSecond     = "wps"
	FactorKeystrokeInterval  = "interval"
	FactorRhythmVariance     = "variance"
	FactorMouseSpeed         = "mouse"
	FactorClickTiming        = "click"
	FactorScrollSpeed        = "scroll"
	FactorInteractionDensity = "density"
	FactorTabActivity        = "tabs"
	FactorDeviceStability    = "orient"
	FactorFieldFocus         = "focus"
	FactorTimeAway           = "away"
	FactorScrollActivity     = "scroll_count"
	FactorDoubleTap          = "double_tap"
	FactorCorrectionRate     = "backspace"
	FactorMerchantRisk       = "merchant"
	FactorEnvironment        = "environment"
)

// outcome is what a rule reports before it is stamped into a Factor.
type outcome struct {
	value  string
	status Status
	reason string
	score  int
	bot    bool
}

// rule is one independent, pure predicate over a telemetry record.
type rule struct {
	id   string
	name string
	eval func(t *Thresholds, r *telemetry.Record) outcome
}

// rules is the fixed evaluation order. Order is part of the response
// contract: dashboards render factors positionally.
var rules = []rule{
	{FactorTypingSpeed, "Typing Speed", typingSpeedRule},
	{FactorWordsPerSecond, "Words Per Second", wordsPerSecondRule},
	{FactorKeystrokeInterval, "Keystroke Timing", keystrokeIntervalRule},
	{FactorRhythmVariance, "Rhythmic Variance", rhythmVarianceRule},
	{FactorMouseSpeed, "Mouse Speed", mouseSpeedRule},
	{FactorClickTiming, "Click Timing", clickTimingRule},
	{FactorScrollSpeed, "Scroll Speed", scrollSpeedRule},
	{FactorInteractionDensity, "Interaction Density", interactionDensityRule},
	{FactorTabActivity, "Tab Activity", tabActivityRule},
	{FactorDeviceStability, "Device Stability", deviceStabilityRule},
	{FactorFieldFocus, "Field Focus Time", fieldFocusRule},
	{FactorTimeAway, "Time Away", timeAwayRule},
	{FactorScrollActivity, "Scroll Activity", scrollActivityRule},
	{FactorDoubleTap, "Double Tap Rate", doubleTapRule},
	{FactorCorrectionRate, "Correction Rate", correctionRateRule},
	{FactorMerchantRisk, "Merchant Risk", merchantRiskRule},
	{FactorEnvironment, "Environmental Integrity", environmentRule},
}

// FactorIDs returns the factor identifiers in evaluation order.
func FactorIDs() []string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.id
	}
	return ids
}

func typingSpeedRule(t *Thresholds, r *telemetry.Record) outcome {
	wpm := r.TypingWPM
	o := outcome{value: num(wpm) + " WPM"}
	if outside(wpm, t.TypingWPM) {
		o.status, o.score, o.bot = t.TypingWPM.Status, t.TypingWPM.Score, t.TypingWPM.Bot
		o.reason = fmt.Sprintf("Impossible typing speed (%s WPM)", num(wpm))
		return o
	}
	o.status, o.reason = StatusNormal, "Normal typing speed"
	return o
}

// wordsPerSecondRule always derives WPS from WPM; the client-supplied
// typingWPS is informational only.
func wordsPerSecondRule(t *Thresholds, r *telemetry.Record) outcome {
	wps := r.TypingWPM / 60
	o := outcome{value: fmt.Sprintf("%.1f WPS", wps)}
	if outside(wps, t.WordsPerSecond) {
		o.status, o.score, o.bot = t.WordsPerSecond.Status, t.WordsPerSecond.Score, t.WordsPerSecond.Bot
		o.reason = fmt.Sprintf("Impossible WPS (%.1f)", wps)
		return o
	}
	o.status, o.reason = StatusNormal, "Normal WPS"
	return o
}

func keystrokeIntervalRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(below(r.KeystrokeInterval, t.KeystrokeInterval), num(r.KeystrokeInterval)+"ms", "Normal human intervals")
}

func rhythmVarianceRule(t *Thresholds, r *telemetry.Record) outcome {
	v, wpm := r.KeystrokeVariance, r.TypingWPM
	value := num(v) + "ms"
	for _, b := range t.KeystrokeVariance {
		if b.MinWPM != 0 && wpm <= b.MinWPM {
			continue
		}
		if matchBelow(v, b.Band) {
			return fromBand(b.Band, value)
		}
	}
	return outcome{value: value, status: StatusNormal, reason: "Natural human variance"}
}

func mouseSpeedRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.MouseSpeed, t.MouseSpeed), num(r.MouseSpeed)+" px/ms", "Normal mouse speed")
}

func clickTimingRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(below(r.ClickInterval, t.ClickInterval), num(r.ClickInterval)+"ms", "Normal clicking pattern")
}

func scrollSpeedRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.ScrollSpeed, t.ScrollSpeed), num(r.ScrollSpeed)+" units/ms", "Normal scrolling")
}

func interactionDensityRule(t *Thresholds, r *telemetry.Record) outcome {
	d := r.InteractionDensity
	value := fmt.Sprintf("%.1f events/sec", d)
	if b := above(d, t.InteractionDensity); b != nil {
		return fromBand(*b, value)
	}
	if matchBelow(d, t.LowEngagement) {
		return fromBand(t.LowEngagement, value)
	}
	return outcome{value: value, status: StatusNormal, reason: "Normal interaction level"}
}

func tabActivityRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.TabSwitches, t.TabSwitches), num(r.TabSwitches)+" switches", "Normal tab usage")
}

func deviceStabilityRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.DeviceOrientationEvents, t.OrientationEvents), num(r.DeviceOrientationEvents)+" events", "Stable device position")
}

func fieldFocusRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(below(r.FieldFocusTimeSec, t.FieldFocus), num(r.FieldFocusTimeSec)+" sec", "Normal field engagement")
}

func timeAwayRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.TimeAwayFromTab, t.TimeAway), num(r.TimeAwayFromTab)+" sec", "Active session")
}

func scrollActivityRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.ScrollEventCount, t.ScrollEvents), num(r.ScrollEventCount)+" events", "Normal scrolling activity")
}

func doubleTapRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.DoubleTapRate, t.DoubleTapRate), num(r.DoubleTapRate), "Normal tapping")
}

func correctionRateRule(t *Thresholds, r *telemetry.Record) outcome {
	return banded(above(r.BackspaceCount, t.Backspaces), num(r.BackspaceCount)+" backspaces", "Few corrections")
}

func merchantRiskRule(t *Thresholds, r *telemetry.Record) outcome {
	o := outcome{value: strings.ToUpper(r.MerchantType)}
	if score := t.MerchantRisk[r.MerchantType]; score > 0 {
		o.status, o.score = StatusWarning, score
		o.reason = fmt.Sprintf("High-risk merchant category (+%d risk)", score)
		return o
	}
	o.status, o.reason = StatusNormal, "Low-risk merchant"
	return o
}

// environmentRule adds a flat penalty when any tampering signal is present;
// multiple signals do not stack.
func environmentRule(t *Thresholds, r *telemetry.Record) outcome {
	o := outcome{value: fmt.Sprintf("WebDriver:%t, Debugger:%t, Plugins:%s", r.IsWebDriver, r.IsDebuggerOpen, num(r.PluginsLength))}

	var indicators []string
	if r.IsWebDriver {
		indicators = append(indicators, "WebDriver detected")
	}
	if r.IsDebuggerOpen {
		indicators = append(indicators, "Debugger open")
	}
	if r.PluginsLength == 0 {
		indicators = append(indicators, "No plugins")
	}

	if len(indicators) > 0 {
		o.status, o.score, o.bot = StatusCritical, t.TamperingScore, true
		o.reason = "Browser tampering detected: " + strings.Join(indicators, ", ")
		return o
	}
	o.status, o.reason = StatusNormal, "Clean browser environment"
	return o
}

// Band helpers

func outside(v float64, r Range) bool {
	return v < r.Min || v > r.Max
}

func above(v float64, bands []Band) *Band {
	for i := range bands {
		if v > bands[i].Limit {
			return &bands[i]
		}
	}
	return nil
}

func below(v float64, bands []Band) *Band {
	for i := range bands {
		if matchBelow(v, bands[i]) {
			return &bands[i]
		}
	}
	return nil
}

func matchBelow(v float64, b Band) bool {
	if b.RequirePositive && v <= 0 {
		return false
	}
	return v < b.Limit
}

func banded(b *Band, value, normalReason string) outcome {
	if b == nil {
		return outcome{value: value, status: StatusNormal, reason: normalReason}
	}
	return fromBand(*b, value)
}

func fromBand(b Band, value string) outcome {
	return outcome{value: value, status: b.Status, reason: b.Reason, score: b.Score, bot: b.Bot}
}

// num renders a number without a trailing ".0" for whole values.
func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
