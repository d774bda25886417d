package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
)

const (
	growthScript = "() => document.body.scrollHeight"
	scrollScript = "y => window.scrollTo(0, y)"
)

// ScrollStabilizer scrolls a page in fixed steps until its height stops
// growing between two consecutive reads, forcing lazy content to render.
type ScrollStabilizer struct {
	Step        int
	StepDelay   time.Duration
	SettleDelay time.Duration
	MaxRounds   int

	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *Metrics
}

type StabilizeResult struct {
	Rounds    int
	Converged bool
	Height    float64
}

func NewScrollStabilizer(step int, stepDelay, settleDelay time.Duration, maxRounds int, logger *slog.Logger, metrics *Metrics) *ScrollStabilizer {
	if step < 1 {
		step = 300
	}
	if maxRounds < 1 {
		maxRounds = 25
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ScrollStabilizer{
		Step:        step,
		StepDelay:   stepDelay,
		SettleDelay: settleDelay,
		MaxRounds:   maxRounds,
		sleep:       sleepContext,
		logger:      logger.With("component", "scroll_stabilizer"),
		metrics:     metrics,
	}
}

// Stabilize runs scroll rounds until the height read after a round equals
// the one read before it, or MaxRounds is reached. Reaching the cap is not an
// error: the result has Converged false and extraction may go ahead.
func (s *ScrollStabilizer) Stabilize(ctx context.Context, page browser.Page) (StabilizeResult, error) {
	var res StabilizeResult

	before, err := s.height(page)
	if err != nil {
		return res, err
	}
	res.Height = before

	for res.Rounds < s.MaxRounds {
		res.Rounds++

		for y := 0; float64(y) < before; y += s.Step {
			if _, err := page.Evaluate(scrollScript, y); err != nil {
				return res, fmt.Errorf("scroll to %d: %w", y, err)
			}
			if err := s.sleep(ctx, s.StepDelay); err != nil {
				return res, err
			}
		}

		if err := s.sleep(ctx, s.SettleDelay); err != nil {
			return res, err
		}

		after, err := s.height(page)
		if err != nil {
			return res, err
		}
		res.Height = after

		if after == before {
			res.Converged = true
			s.metrics.ObserveScrollRounds(res.Rounds)
			s.logger.Debug("page height settled", "rounds", res.Rounds, "height", after)
			return res, nil
		}
		before = after
	}

	s.metrics.ObserveScrollRounds(res.Rounds)
	s.logger.Warn("page height still growing, extracting what rendered", "rounds", res.Rounds, "height", res.Height)
	return res, nil
}

func (s *ScrollStabilizer) height(page browser.Page) (float64, error) {
	v, err := page.Evaluate(growthScript)
	if err != nil {
		return 0, fmt.Errorf("read page height: %w", err)
	}

	switch h := v.(type) {
	case float64:
		return h, nil
	case int:
		return float64(h), nil
	case int64:
		return float64(h), nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidGrowthSignal, v)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
