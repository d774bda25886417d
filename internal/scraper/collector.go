package scraper

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/ratelimit"
)

type State string

const (
	StateStarting    State = "Starting"
	StatePageLoaded  State = "PageLoaded"
	StateStabilizing State = "Stabilizing"
	StateExtracting  State = "Extracting"
	StateAdvancing   State = "Advancing"
	StateStopped     State = "Stopped"
)

type StopReason string

const (
	StopBrowserUnavailable StopReason = "browser_unavailable"
	StopInitialLoadTimeout StopReason = "initial_load_timeout"
	StopMarkerLost         StopReason = "marker_lost"
	StopNoItems            StopReason = "no_items"
	StopPageCeiling        StopReason = "page_ceiling"
	StopNoFurtherPage      StopReason = "no_further_page"
	StopNavigationError    StopReason = "navigation_error"
	StopCanceled           StopReason = "canceled"
)

// Fatal reports whether the session ended before any result page was read.
func (r StopReason) Fatal() bool {
	return r == StopBrowserUnavailable || r == StopInitialLoadTimeout
}

// Session is the outcome of one search. Records keep discovery order: page
// order, then card order within a page.
type Session struct {
	ID            string                 `json:"id"`
	Query         string                 `json:"query"`
	MaxPages      int                    `json:"max_pages"`
	Records       []models.ProductRecord `json:"records"`
	PagesVisited  int                    `json:"pages_visited"`
	Skipped       int                    `json:"skipped"`
	Stop          StopReason             `json:"stop_reason"`
	LayoutSuspect bool                   `json:"layout_suspect"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
}

type Options struct {
	BaseURL           string
	SearchPath        string
	Selectors         config.Selectors
	MarkerTimeout     time.Duration
	NavigationTimeout time.Duration
	ConsentTimeout    time.Duration
	PageDelay         time.Duration
	ScrollStep        int
	ScrollStepDelay   time.Duration
	SettleDelay       time.Duration
	MaxScrollRounds   int
}

func DefaultOptions() Options {
	return Options{
		BaseURL:           "https://www.daraz.com.bd",
		SearchPath:        "/catalog/?q=",
		Selectors:         config.DefaultSelectors(),
		MarkerTimeout:     10 * time.Second,
		NavigationTimeout: 10 * time.Second,
		ConsentTimeout:    3 * time.Second,
		PageDelay:         2 * time.Second,
		ScrollStep:        300,
		ScrollStepDelay:   100 * time.Millisecond,
		SettleDelay:       2 * time.Second,
		MaxScrollRounds:   25,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.Site.BaseURL,
		SearchPath:        cfg.Site.SearchPath,
		Selectors:         cfg.Site.Selectors,
		MarkerTimeout:     cfg.Scraper.MarkerTimeout,
		NavigationTimeout: cfg.Scraper.NavigationTimeout,
		ConsentTimeout:    cfg.Scraper.ConsentTimeout,
		PageDelay:         cfg.Scraper.PageDelay,
		ScrollStep:        cfg.Scraper.ScrollStep,
		ScrollStepDelay:   cfg.Scraper.ScrollStepDelay,
		SettleDelay:       cfg.Scraper.SettleDelay,
		MaxScrollRounds:   cfg.Scraper.MaxScrollRounds,
	}
}

// Collector drives a search across result pages: load, stabilize, extract,
// advance, until a stop condition is met.
type Collector struct {
	opener     browser.Opener
	opts       Options
	extractor  *FieldExtractor
	stabilizer *ScrollStabilizer
	navigator  *PageNavigator
	pacer      ratelimit.RateLimiter
	metrics    *Metrics
	logger     *slog.Logger
}

func NewCollector(opener browser.Opener, opts Options, logger *slog.Logger, metrics *Metrics) (*Collector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	extractor, err := NewFieldExtractor(opts.Selectors, opts.BaseURL, logger)
	if err != nil {
		return nil, err
	}

	return &Collector{
		opener:     opener,
		opts:       opts,
		extractor:  extractor,
		stabilizer: NewScrollStabilizer(opts.ScrollStep, opts.ScrollStepDelay, opts.SettleDelay, opts.MaxScrollRounds, logger, metrics),
		navigator:  NewPageNavigator(opts.Selectors, opts.NavigationTimeout, logger, metrics),
		pacer:      ratelimit.NewFixedDelay(opts.PageDelay),
		metrics:    metrics,
		logger:     logger.With("component", "collector"),
	}, nil
}

// SearchURL is the first result page for query.
func (c *Collector) SearchURL(query string) string {
	site := config.SiteConfig{BaseURL: c.opts.BaseURL, SearchPath: c.opts.SearchPath}
	return site.SearchURL(query)
}

// Search collects at most maxPages result pages for query. It never fails:
// every fault ends the session with a stop reason and whatever records were
// gathered so far. maxPages below 1 is treated as 1.
func (c *Collector) Search(ctx context.Context, query string, maxPages int) *Session {
	if maxPages < 1 {
		maxPages = 1
	}

	session := &Session{
		ID:        uuid.NewString(),
		Query:     query,
		MaxPages:  maxPages,
		Records:   []models.ProductRecord{},
		StartedAt: time.Now(),
	}
	log := c.logger.With("session", session.ID, "query", query)

	session.Stop = c.run(ctx, session, log)
	session.FinishedAt = time.Now()

	c.enter(log, StateStopped, "reason", session.Stop)
	c.metrics.ObserveSearch(session.Stop, session.FinishedAt.Sub(session.StartedAt))
	log.Info("search finished",
		"records", len(session.Records),
		"pages", session.PagesVisited,
		"skipped", session.Skipped,
		"stop_reason", session.Stop,
		"layout_suspect", session.LayoutSuspect)

	return session
}

func (c *Collector) run(ctx context.Context, session *Session, log *slog.Logger) StopReason {
	c.enter(log, StateStarting)

	if ctx.Err() != nil {
		return StopCanceled
	}

	page, err := c.opener.NewPage()
	if err != nil {
		log.Error("browser unavailable", "error", err)
		return StopBrowserUnavailable
	}
	defer func() {
		if err := page.Close(); err != nil {
			log.Warn("failed to close page", "error", err)
		}
	}()

	target := c.SearchURL(session.Query)
	if err := page.Goto(target); err != nil {
		log.Error("first result page did not load", "url", target, "error", err)
		return StopInitialLoadTimeout
	}
	if !page.WaitForMarker(c.opts.Selectors.Card, c.opts.MarkerTimeout) {
		log.Error("no result cards on first page, layout may have changed or nothing matched",
			"url", target, "timeout", c.opts.MarkerTimeout)
		return StopInitialLoadTimeout
	}

	c.dismissConsent(page, log)

	current := 1
	for {
		if ctx.Err() != nil {
			return StopCanceled
		}

		c.enter(log, StatePageLoaded, "page", current)
		session.PagesVisited = current

		c.enter(log, StateStabilizing, "page", current)
		if _, err := c.stabilizer.Stabilize(ctx, page); err != nil {
			if ctx.Err() != nil {
				return StopCanceled
			}
			log.Warn("scroll stabilization failed, extracting what rendered", "page", current, "error", err)
		}

		c.enter(log, StateExtracting, "page", current)
		if !page.WaitForMarker(c.opts.Selectors.Card, c.opts.MarkerTimeout) {
			log.Warn("result cards disappeared", "page", current)
			return StopMarkerLost
		}

		items, err := page.FindAll(c.opts.Selectors.Card)
		if err != nil {
			log.Warn("failed to enumerate result cards", "page", current, "error", err)
			return StopNoItems
		}
		if len(items) == 0 {
			log.Info("no result cards on page", "page", current)
			return StopNoItems
		}

		cycle := newPageCycle(current)
		records, skipped := c.extractor.ExtractAll(cycle.wrap(items))
		cycle.release()

		session.Records = append(session.Records, records...)
		session.Skipped += skipped
		c.metrics.IncPages()
		c.metrics.AddItems(len(records), skipped)
		log.Info("page extracted", "page", current, "cards", len(items), "records", len(records), "skipped", skipped)

		if current >= session.MaxPages {
			return StopPageCeiling
		}

		c.enter(log, StateAdvancing, "page", current, "target", current+1)
		out := c.navigator.Advance(ctx, page, current+1)
		if out.PossiblyBroken {
			session.LayoutSuspect = true
		}

		switch out.Status {
		case Advanced:
			current++
			if err := c.pacer.Wait(ctx); err != nil {
				return StopCanceled
			}
		case NoFurtherPage:
			return StopNoFurtherPage
		default:
			if ctx.Err() != nil {
				return StopCanceled
			}
			return StopNavigationError
		}
	}
}

// dismissConsent clicks the cookie banner when one shows up. Its absence is
// the normal case.
func (c *Collector) dismissConsent(page browser.Page, log *slog.Logger) {
	selector := c.opts.Selectors.Consent
	if strings.TrimSpace(selector) == "" {
		return
	}

	if !page.WaitForMarker(selector, c.opts.ConsentTimeout) {
		log.Debug("no consent banner", "selector", selector)
		return
	}

	control, err := page.FindOne(selector)
	if err != nil {
		log.Debug("consent banner vanished", "selector", selector, "error", err)
		return
	}
	if err := control.Click(); err != nil {
		log.Debug("failed to dismiss consent banner", "error", err)
		return
	}
	log.Debug("consent banner dismissed")
}

func (c *Collector) enter(log *slog.Logger, state State, args ...any) {
	log.Debug("entering state", append([]any{"state", string(state)}, args...)...)
}
