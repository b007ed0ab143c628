// Package verdict turns a risk assessment into a human-readable verdict.
//
// The label is always derived from the score and decision. The description
// comes from an optional narrative service (see Summarizer) and falls back to
// a deterministic template built from the assessment's factors.
package verdict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rohann-max/FINSHIELD/internal/risk"
)

// Verdict labels.
const (
	LabelAuthorized      = "Authorized Human"
	LabelSuspicious      = "Suspicious Activity"
	LabelFraudulent      = "Fraudulent Pattern"
	LabelPatternAnalysis = "Pattern Analysis"
)

// Score cut-offs for labelling.
const (
	FraudulentScore = 80
	SuspiciousScore = 40
)

// Description sources, reported in metrics and on the Verdict.
const (
	SourceService  = "service"
	SourceTemplate = "template"
	SourceFallback = "fallback"
)

// ErrUnavailable is returned by a Summarizer that cannot produce a description.
var ErrUnavailable = errors.New("verdict: narrative service unavailable")

// Verdict is the narrative classification layered on an assessment.
type Verdict struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Source      string `json:"-"`
}

// Reason is the single-line form stored in the audit log.
func (v Verdict) Reason() string {
	return v.Label + ": " + v.Description
}

// Summarizer produces a short forensic description of an assessment.
// Implementations must honour ctx cancellation.
type Summarizer interface {
	Summarize(ctx context.Context, a *risk.Assessment) (string, error)
}

// LabelFor returns the label for an assessment. It depends only on the score
// and decision, never on where the description came from.
func LabelFor(a *risk.Assessment) string {
	switch {
	case a.RiskScore >= FraudulentScore || a.Blocked():
		return LabelFraudulent
	case a.RiskScore >= SuspiciousScore:
		return LabelSuspicious
	default:
		return LabelAuthorized
	}
}

// Template builds the deterministic verdict for an assessment.
func Template(a *risk.Assessment) Verdict {
	label := LabelFor(a)
	return Verdict{Label: label, Description: describe(a, label), Source: SourceTemplate}
}

func describe(a *risk.Assessment, label string) string {
	score := a.RiskScore
	switch label {
	case LabelFraudulent:
		if names := factorNames(a.FactorsWithStatus(risk.StatusCritical), 3); names != "" {
			return fmt.Sprintf("Multiple automation signatures detected: %s. Risk score: %d%%.", names, score)
		}
		return fmt.Sprintf("High-risk behavioral patterns identified. Risk score: %d%%. Rule-based analysis suggests automated activity.", score)
	case LabelSuspicious:
		if names := factorNames(a.FactorsWithStatus(risk.StatusWarning), 2); names != "" {
			return fmt.Sprintf("Concerning behavioral indicators: %s. Risk score: %d%%. Manual review recommended.", names, score)
		}
		return fmt.Sprintf("Elevated risk without specific warning indicators. Risk score: %d%%. No notable patterns detected; manual review recommended.", score)
	default:
		if names := factorNames(a.FactorsWithStatus(risk.StatusNormal), 2); names != "" {
			return fmt.Sprintf("Natural human behavioral patterns observed: %s. Risk score: %d%%.", names, score)
		}
		return fmt.Sprintf("Behavioral analysis completed. Risk score: %d%%. No suspicious patterns detected.", score)
	}
}

// fallback is used when narration itself broke down. It never inspects
// anything beyond factor counts.
func fallback(a *risk.Assessment) Verdict {
	critical := a.CountByStatus(risk.StatusCritical)
	warning := a.CountByStatus(risk.StatusWarning)

	if a.Blocked() || a.RiskScore >= FraudulentScore {
		return Verdict{
			Label:       LabelFraudulent,
			Description: fmt.Sprintf("Analysis failed but %d critical and %d warning factors suggest fraud. Risk: %d%%.", critical, warning, a.RiskScore),
			Source:      SourceFallback,
		}
	}
	return Verdict{
		Label:       LabelPatternAnalysis,
		Description: fmt.Sprintf("AI analysis unavailable. %d critical, %d warning factors. Risk: %d%%. Manual review needed.", critical, warning, a.RiskScore),
		Source:      SourceFallback,
	}
}

func factorNames(factors []risk.Factor, limit int) string {
	if len(factors) > limit {
		factors = factors[:limit]
	}
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}
