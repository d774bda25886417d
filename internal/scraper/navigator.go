package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
)

type NavigationStatus int

const (
	Advanced NavigationStatus = iota
	NoFurtherPage
	NavigationError
)

func (s NavigationStatus) String() string {
	switch s {
	case Advanced:
		return "advanced"
	case NoFurtherPage:
		return "no_further_page"
	case NavigationError:
		return "navigation_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const (
	StrategyPageNumber = "page_number"
	StrategyNextButton = "next_button"
)

type NavigationOutcome struct {
	Status   NavigationStatus
	Strategy string
	// PossiblyBroken is set when the next control could not be looked up for
	// a reason other than absence, which usually means the layout changed.
	PossiblyBroken bool
}

// PageNavigator moves a result page forward, first through the numbered
// control for the target page, then through the generic "next" control.
type PageNavigator struct {
	selectors config.Selectors
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *Metrics
}

func NewPageNavigator(selectors config.Selectors, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *PageNavigator {
	if logger == nil {
		logger = slog.Default()
	}

	return &PageNavigator{
		selectors: selectors,
		timeout:   timeout,
		logger:    logger.With("component", "page_navigator"),
		metrics:   metrics,
	}
}

// Advance tries to render result page target (1-based). Both strategies
// count as successful only when the card marker shows up within the
// navigation timeout.
func (n *PageNavigator) Advance(ctx context.Context, page browser.Page, target int) NavigationOutcome {
	out := n.advance(ctx, page, target)
	n.metrics.IncNavigation(out)
	return out
}

func (n *PageNavigator) advance(ctx context.Context, page browser.Page, target int) NavigationOutcome {
	if ctx.Err() != nil {
		return NavigationOutcome{Status: NavigationError}
	}

	numbered := fmt.Sprintf(n.selectors.PageNumber, target)
	if n.activate(page, numbered) == nil {
		n.logger.Debug("advanced", "target", target, "strategy", StrategyPageNumber)
		return NavigationOutcome{Status: Advanced, Strategy: StrategyPageNumber}
	}

	if ctx.Err() != nil {
		return NavigationOutcome{Status: NavigationError}
	}

	err := n.activate(page, n.selectors.Next)
	if err == nil {
		n.logger.Debug("advanced", "target", target, "strategy", StrategyNextButton)
		return NavigationOutcome{Status: Advanced, Strategy: StrategyNextButton}
	}

	out := NavigationOutcome{Status: NoFurtherPage}
	var lookup *lookupError
	if errors.As(err, &lookup) && !errors.Is(err, browser.ErrNotFound) {
		out.PossiblyBroken = true
		n.logger.Warn("next control lookup failed, layout may have changed", "selector", n.selectors.Next, "error", err)
	}
	return out
}

var (
	errClickFailed = errors.New("control click failed")
	errNoMarker    = errors.New("card marker did not appear")
)

type lookupError struct {
	selector string
	err      error
}

func (e *lookupError) Error() string { return fmt.Sprintf("lookup %s: %v", e.selector, e.err) }
func (e *lookupError) Unwrap() error { return e.err }

// activate clicks the control matched by selector and waits for the cards.
func (n *PageNavigator) activate(page browser.Page, selector string) error {
	control, err := page.FindOne(selector)
	if err != nil {
		n.logger.Debug("control unavailable", "selector", selector, "error", err)
		return &lookupError{selector: selector, err: err}
	}

	if err := control.Click(); err != nil {
		n.logger.Debug("control click failed", "selector", selector, "error", err)
		return fmt.Errorf("%w: %s: %v", errClickFailed, selector, err)
	}

	if !page.WaitForMarker(n.selectors.Card, n.timeout) {
		n.logger.Debug("cards did not render after click", "selector", selector, "timeout", n.timeout)
		return fmt.Errorf("%w after %s", errNoMarker, selector)
	}
	return nil
}
