// Package risk implements the behavioral risk-scoring engine.
//
// Every transaction's telemetry is evaluated against a fixed, ordered list of
// independent rules (typing cadence, pointer dynamics, scrolling, attention,
// merchant category, environment integrity). Each rule emits exactly one
// Factor and a non-negative score contribution. Contributions are summed and
// clamped to [0, 100]; scores at or above the block threshold are BLOCKED.
//
// The engine is pure: no I/O, no shared mutable state, safe for concurrent use.
package risk

// Status is the severity of a single factor.
type Status string

const (
	StatusNormal   Status = "normal"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// Decision is the binary gate derived from the risk score.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionBlocked  Decision = "BLOCKED"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Factor is one rule's evaluation.
type Factor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Value  string `json:"value"`
	Status Status `json:"status"`
	Reason string `json:"reason"`
	Score  int    `json:"score"`
}

// Assessment is the engine's output for one telemetry record.
type Assessment struct {
	RiskScore int      `json:"riskScore"`
	Decision  Decision `json:"decision"`
	IsBot     bool     `json:"isBot"`
	Factors   []Factor `json:"factors"`
}

// Blocked reports whether the transaction was blocked.
func (a *Assessment) Blocked() bool {
	return a.Decision == DecisionBlocked
}

// FactorsWithStatus returns the factors with the given status, in rule order.
func (a *Assessment) FactorsWithStatus(s Status) []Factor {
	var out []Factor
	for _, f := range a.Factors {
		if f.Status == s {
			out = append(out, f)
		}
	}
	return out
}

// CountByStatus returns how many factors have the given status.
func (a *Assessment) CountByStatus(s Status) int {
	n := 0
	for _, f := range a.Factors {
		if f.Status == s {
			n++
		}
	}
	return n
}
