package verdict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rohann-max/FINSHIELD/internal/circuitbreaker"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/metrics"
	"github.com/rohann-max/FINSHIELD/internal/retry"
	"github.com/rohann-max/FINSHIELD/internal/risk"
	"github.com/rohann-max/FINSHIELD/internal/traces"
)

// DefaultTimeout bounds one narration when WithTimeout is not given.
const DefaultTimeout = 8 * time.Second

// Narrator produces verdicts. It is safe for concurrent use.
type Narrator struct {
	summarizer Summarizer
	timeout    time.Duration
	breaker    *circuitbreaker.Breaker
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Narrator.
type Option func(*Narrator)

// WithSummarizer enables the narrative service. A nil summarizer keeps the
// narrator on the template path.
func WithSummarizer(s Summarizer) Option {
	return func(n *Narrator) { n.summarizer = s }
}

// WithTimeout bounds the total time spent on the narrative service per call.
func WithTimeout(d time.Duration) Option {
	return func(n *Narrator) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(n *Narrator) { n.breaker = b }
}

// WithRetry sets how many times a failing summarizer is attempted.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(n *Narrator) {
		n.attempts = attempts
		n.retryDelay = baseDelay
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(n *Narrator) { n.logger = l }
}

// NewNarrator creates a narrator. Without WithSummarizer every verdict comes
// from the template.
func NewNarrator(opts ...Option) *Narrator {
	n := &Narrator{
		timeout:    DefaultTimeout,
		attempts:   2,
		retryDelay: 200 * time.Millisecond,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "narrative_service",
			FailureThreshold: 5,
			OpenDuration:     30 * time.Second,
		}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ServiceEnabled reports whether a narrative service is configured.
func (n *Narrator) ServiceEnabled() bool {
	return n.summarizer != nil
}

// BreakerState reports the narrative service circuit state.
func (n *Narrator) BreakerState() circuitbreaker.State {
	return n.breaker.State()
}

// Narrate returns a verdict for the assessment. It never fails: service
// errors fall back to the template and a panic anywhere in narration yields
// the count-based fallback verdict.
func (n *Narrator) Narrate(ctx context.Context, a *risk.Assessment) (v Verdict) {
	if a == nil {
		a = &risk.Assessment{}
	}
	ctx, span := traces.StartSpan(ctx, "verdict.Narrate")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			n.log(ctx).Error("narration panicked", "panic", r)
			v = fallback(a)
		}
		span.SetAttributes(traces.VerdictSource(v.Source))
		metrics.NarrationsTotal.WithLabelValues(v.Source).Inc()
	}()

	if n.summarizer != nil {
		desc, err := n.summarize(ctx, a)
		if err == nil {
			return Verdict{Label: LabelFor(a), Description: desc, Source: SourceService}
		}
		n.log(ctx).Warn("narrative service failed, using template", "error", err)
	}
	return Template(a)
}

func (n *Narrator) summarize(ctx context.Context, a *risk.Assessment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.NarrationDuration.Observe(time.Since(start).Seconds()) }()

	var desc string
	err := n.breaker.Execute(countsAgainstService(ctx), func() error {
		return retry.Do(ctx, n.attempts, n.retryDelay, func() error {
			d, err := n.summarizer.Summarize(ctx, a)
			if err != nil {
				if errors.Is(err, ErrUnavailable) {
					return retry.Permanent(err)
				}
				return err
			}
			d = strings.TrimSpace(d)
			if d == "" {
				return fmt.Errorf("empty description")
			}
			desc = d
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return desc, nil
}

// countsAgainstService ignores failures caused by the caller going away.
func countsAgainstService(ctx context.Context) func(error) bool {
	return func(err error) bool {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false
		}
		return true
	}
}

func (n *Narrator) log(ctx context.Context) *slog.Logger {
	if n.logger != nil && logging.FromContext(ctx) == slog.Default() {
		return n.logger
	}
	return logging.L(ctx)
}
