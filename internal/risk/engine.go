package risk

import (
	"github.com/rohann-max/FINSHIELD/internal/telemetry"
)

// Engine scores telemetry records against an immutable threshold set.
type Engine struct {
	thresholds Thresholds
}

// NewEngine creates an engine with the default production thresholds.
func NewEngine() *Engine {
	return &Engine{thresholds: DefaultThresholds()}
}

// NewEngineWithThresholds creates an engine with a custom threshold set.
// The thresholds are copied; the caller may reuse its value.
func NewEngineWithThresholds(t Thresholds) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Engine{thresholds: t.clone()}, nil
}

// Thresholds returns a copy of the engine's configuration.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds.clone()
}

// Evaluate scores a record. It never fails: missing signals are already
// defaulted by the telemetry package and every rule is total.
func (e *Engine) Evaluate(rec telemetry.Record) *Assessment {
	factors := make([]Factor, 0, len(rules))
	total := 0
	isBot := false

	for _, r := range rules {
		o := r.eval(&e.thresholds, &rec)
		if o.score < 0 {
			o.score = 0
		}
		total += o.score
		if o.bot {
			isBot = true
		}
		factors = append(factors, Factor{
			ID:     r.id,
			Name:   r.name,
			Value:  o.value,
			Status: o.status,
			Reason: o.reason,
			Score:  o.score,
		})
	}

	score := clamp(total)
	decision := DecisionApproved
	if score >= e.thresholds.BlockScore {
		decision = DecisionBlocked
	}

	return &Assessment{
		RiskScore: score,
		Decision:  decision,
		IsBot:     isBot,
		Factors:   factors,
	}
}

func clamp(score int) int {
	if score > MaxScore {
		return MaxScore
	}
	if score < MinScore {
		return MinScore
	}
	return score
}
