package scraper

import (
	"github.com/maltedev/listing-scraper/internal/browser"
)

// pageCycle owns the item handles of one rendered page. After release every
// handle it gave out, and every handle derived from one, fails with
// ErrStaleHandle instead of reaching the browser.
type pageCycle struct {
	page     int
	released bool
}

func newPageCycle(page int) *pageCycle {
	return &pageCycle{page: page}
}

func (c *pageCycle) wrap(items []browser.Handle) []browser.Handle {
	wrapped := make([]browser.Handle, len(items))
	for i, item := range items {
		wrapped[i] = &cycleHandle{cycle: c, inner: item}
	}
	return wrapped
}

func (c *pageCycle) release() {
	c.released = true
}

type cycleHandle struct {
	cycle *pageCycle
	inner browser.Handle
}

func (h *cycleHandle) Text() (string, error) {
	if h.cycle.released {
		return "", ErrStaleHandle
	}
	return h.inner.Text()
}

func (h *cycleHandle) Attribute(name string) (string, error) {
	if h.cycle.released {
		return "", ErrStaleHandle
	}
	return h.inner.Attribute(name)
}

func (h *cycleHandle) FindOne(selector string) (browser.Handle, error) {
	if h.cycle.released {
		return nil, ErrStaleHandle
	}
	child, err := h.inner.FindOne(selector)
	if err != nil {
		return nil, err
	}
	return &cycleHandle{cycle: h.cycle, inner: child}, nil
}

func (h *cycleHandle) Click() error {
	if h.cycle.released {
		return ErrStaleHandle
	}
	return h.inner.Click()
}
