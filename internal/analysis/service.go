// Package analysis runs the per-request pipeline: evaluate the telemetry,
// narrate the verdict, append the audit log entry and publish the result to
// live subscribers. Only evaluation is mandatory; narration, persistence and
// publishing degrade without affecting the score or decision.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rohann-max/FINSHIELD/internal/history"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/metrics"
	"github.com/rohann-max/FINSHIELD/internal/realtime"
	"github.com/rohann-max/FINSHIELD/internal/retry"
	"github.com/rohann-max/FINSHIELD/internal/risk"
	"github.com/rohann-max/FINSHIELD/internal/telemetry"
	"github.com/rohann-max/FINSHIELD/internal/traces"
	"github.com/rohann-max/FINSHIELD/internal/verdict"
)

// persistTimeout bounds the audit log write. It runs detached from the
// request context so a client disconnect does not lose the entry.
const persistTimeout = 5 * time.Second

// Narrator produces a verdict for an assessment and never fails.
type Narrator interface {
	Narrate(ctx context.Context, a *risk.Assessment) verdict.Verdict
}

// Publisher receives completed analyses.
type Publisher interface {
	PublishAnalysis(a *realtime.Analysis)
}

// Result is the response body of POST /api/analyze.
type Result struct {
	TransactionID string        `json:"transactionId"`
	Decision      risk.Decision `json:"decision"`
	RiskScore     int           `json:"riskScore"`
	Factors       []risk.Factor `json:"factors"`
	IsBot         bool          `json:"isBot"`
	AIVerdict     string        `json:"aiVerdict"`
	AIDescription string        `json:"aiDescription"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Service wires the engine, narrator, store and publisher together.
type Service struct {
	engine   *risk.Engine
	narrator Narrator
	store    history.Store
	events   Publisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an analysis service. The store may be nil, in which
// case nothing is persisted.
func NewService(engine *risk.Engine, narrator Narrator, store history.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:   engine,
		narrator: narrator,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents adds a publisher for live analysis events.
func (s *Service) WithEvents(p Publisher) *Service {
	s.events = p
	return s
}

// Analyze scores a record and returns the complete result. It does not fail.
func (s *Service) Analyze(ctx context.Context, rec telemetry.Record) *Result {
	txnID := rec.ID()
	ctx = logging.WithTransactionID(ctx, txnID)
	ctx, span := traces.StartSpan(ctx, "analysis.Analyze",
		traces.TransactionID(txnID),
		traces.Merchant(rec.MerchantType),
	)
	defer span.End()

	assessment := s.engine.Evaluate(rec)
	span.SetAttributes(
		traces.RiskScore(assessment.RiskScore),
		traces.Decision(string(assessment.Decision)),
		traces.IsBot(assessment.IsBot),
	)
	observe(assessment)

	v := s.narrator.Narrate(ctx, assessment)
	now := s.now()

	result := &Result{
		TransactionID: txnID,
		Decision:      assessment.Decision,
		RiskScore:     assessment.RiskScore,
		Factors:       assessment.Factors,
		IsBot:         assessment.IsBot,
		AIVerdict:     v.Label,
		AIDescription: v.Description,
		Timestamp:     now,
	}

	s.persist(ctx, &history.Entry{
		ID:        txnID,
		Timestamp: now,
		Amount:    rec.Amount,
		Merchant:  rec.MerchantType,
		RiskScore: assessment.RiskScore,
		Decision:  string(assessment.Decision),
		Reason:    v.Reason(),
	})

	if s.events != nil {
		s.events.PublishAnalysis(&realtime.Analysis{
			TransactionID: txnID,
			Decision:      string(assessment.Decision),
			RiskScore:     assessment.RiskScore,
			IsBot:         assessment.IsBot,
			AIVerdict:     v.Label,
			Amount:        rec.Amount,
			Merchant:      rec.MerchantType,
		})
	}

	s.log(ctx).Info("transaction analyzed",
		"decision", assessment.Decision,
		"risk_score", assessment.RiskScore,
		"is_bot", assessment.IsBot,
		"verdict", v.Label,
		"verdict_source", v.Source,
	)
	return result
}

// History returns the most recent audit log entries, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*history.Entry, error) {
	if s.store == nil {
		return []*history.Entry{}, nil
	}
	return s.store.Recent(ctx, limit)
}

// persist appends the entry; failures are logged and counted, never returned.
func (s *Service) persist(ctx context.Context, e *history.Entry) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	ctx, span := traces.StartSpan(ctx, "history.Insert", traces.TransactionID(e.ID))
	defer span.End()

	var inserted bool
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			s.log(ctx).Warn("audit log write failed, retrying", "attempt", attempt, "error", err)
		},
	}
	err := policy.Do(ctx, func() error {
		var err error
		inserted, err = s.store.Insert(ctx, e)
		if errors.Is(err, history.ErrInvalidEntry) {
			return retry.Permanent(err)
		}
		return err
	})

	switch {
	case err != nil:
		traces.RecordError(span, err)
		metrics.HistoryWritesTotal.WithLabelValues("error").Inc()
		s.log(ctx).Error("failed to write audit log entry", "error", err)
	case !inserted:
		metrics.HistoryWritesTotal.WithLabelValues("duplicate").Inc()
		s.log(ctx).Debug("duplicate transaction id, audit log entry kept")
	default:
		metrics.HistoryWritesTotal.WithLabelValues("inserted").Inc()
	}
}

func observe(a *risk.Assessment) {
	metrics.AnalysesTotal.WithLabelValues(string(a.Decision)).Inc()
	metrics.RiskScore.Observe(float64(a.RiskScore))
	if a.IsBot {
		metrics.BotDetectionsTotal.Inc()
	}
	for _, f := range a.Factors {
		if f.Status != risk.StatusNormal {
			metrics.FactorTriggersTotal.WithLabelValues(f.ID, string(f.Status)).Inc()
		}
	}
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	l := s.logger
	if reqID := logging.RequestID(ctx); reqID != "" {
		l = l.With("request_id", reqID)
	}
	if txnID := logging.TransactionID(ctx); txnID != "" {
		l = l.With("transaction_id", txnID)
	}
	return l
}
