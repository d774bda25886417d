package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrNotFound is returned by FindOne when the selector matches nothing.
// Callers treat it as "absent", every other error as a fault.
var ErrNotFound = errors.New("element not found")

// Handle is a reference to one rendered element. It is only valid while the
// page that produced it has not navigated away.
type Handle interface {
	Text() (string, error)
	Attribute(name string) (string, error)
	FindOne(selector string) (Handle, error)
	Click() error
}

// Page is the rendering collaborator the scraper drives.
type Page interface {
	Goto(url string) error
	WaitForMarker(selector string, timeout time.Duration) bool
	FindAll(selector string) ([]Handle, error)
	FindOne(selector string) (Handle, error)
	Evaluate(script string, args ...any) (any, error)
	GoBack() error
	Close() error
}

// Opener hands out fresh pages.
type Opener interface {
	NewPage() (Page, error)
}

type pwPage struct {
	page       playwright.Page
	timeout    time.Duration
	maxRetries int
	logger     *slog.Logger
}

func (p *pwPage) Goto(url string) error {
	retries := p.maxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			p.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			time.Sleep(time.Duration(i+1) * time.Second)
		}

		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(p.timeout.Milliseconds())),
		})
		if err == nil {
			return nil
		}

		lastErr = err
		p.logger.Error("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", retries, lastErr)
}

func (p *pwPage) WaitForMarker(selector string, timeout time.Duration) bool {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		p.logger.Debug("marker not present", "selector", selector, "error", err)
		return false
	}
	return true
}

func (p *pwPage) FindAll(selector string) ([]Handle, error) {
	elements, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}

	handles := make([]Handle, 0, len(elements))
	for _, el := range elements {
		handles = append(handles, &pwHandle{el: el})
	}
	return handles, nil
}

func (p *pwPage) FindOne(selector string) (Handle, error) {
	el, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if el == nil {
		return nil, ErrNotFound
	}
	return &pwHandle{el: el}, nil
}

func (p *pwPage) Evaluate(script string, args ...any) (any, error) {
	return p.page.Evaluate(script, args...)
}

func (p *pwPage) GoBack() error {
	_, err := p.page.GoBack()
	return err
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

type pwHandle struct {
	el playwright.ElementHandle
}

func (h *pwHandle) Text() (string, error) {
	return h.el.InnerText()
}

func (h *pwHandle) Attribute(name string) (string, error) {
	return h.el.GetAttribute(name)
}

func (h *pwHandle) FindOne(selector string) (Handle, error) {
	el, err := h.el.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if el == nil {
		return nil, ErrNotFound
	}
	return &pwHandle{el: el}, nil
}

func (h *pwHandle) Click() error {
	if err := h.el.ScrollIntoViewIfNeeded(); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	return h.el.Click()
}
