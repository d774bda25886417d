// Package browsertest provides an in-memory rendering collaborator for tests:
// a paginated catalog of cards with numbered and "next" controls, a
// scripted growth signal and hooks for injecting lookup faults.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
)

// Element is a fake rendered element.
type Element struct {
	Content  string
	Attrs    map[string]string
	Children map[string]*Element
	Faults   map[string]error
	TextErr  error
	Panic    bool

	onClick func() error
}

// El returns an element with the given visible text.
func El(text string) *Element {
	return &Element{Content: text}
}

// Link returns an anchor element.
func Link(href string) *Element {
	return &Element{Attrs: map[string]string{"href": href}}
}

// With attaches child under selector and returns e.
func (e *Element) With(selector string, child *Element) *Element {
	if e.Children == nil {
		e.Children = make(map[string]*Element)
	}
	e.Children[selector] = child
	return e
}

// Fail makes lookups of selector return err.
func (e *Element) Fail(selector string, err error) *Element {
	if e.Faults == nil {
		e.Faults = make(map[string]error)
	}
	e.Faults[selector] = err
	return e
}

func (e *Element) Text() (string, error) {
	if e.Panic {
		panic("element detached from document")
	}
	if e.TextErr != nil {
		return "", e.TextErr
	}
	return e.Content, nil
}

func (e *Element) Attribute(name string) (string, error) {
	return e.Attrs[name], nil
}

func (e *Element) FindOne(selector string) (browser.Handle, error) {
	if err, ok := e.Faults[selector]; ok {
		return nil, err
	}
	child, ok := e.Children[selector]
	if !ok {
		return nil, browser.ErrNotFound
	}
	return child, nil
}

func (e *Element) Click() error {
	if e.onClick == nil {
		return nil
	}
	return e.onClick()
}

// Catalog is a fake paginated search result listing. It implements both
// browser.Opener and browser.Page; NewPage hands out the catalog itself,
// reset to an unloaded state.
type Catalog struct {
	Marker           string
	PageNumberFormat string
	NextSelector     string
	ConsentSelector  string

	Pages    [][]*Element
	Heights  []float64
	HeightFn func(read int) float64

	OpenErr    error
	GotoErr    error
	FindFaults map[string]error
	// MarkerAfterClick controls whether the card marker shows up after a
	// pagination click. Defaults to true when nil.
	MarkerAfterClick *bool

	mu        sync.Mutex
	current   int
	reads     int
	loaded    bool
	stalled   bool
	consented bool
	visits    []string
	clicks    []string
	scrolls   []float64
	opens     int
	closes    int
}

// NewCatalog builds a catalog with the given pages of cards.
func NewCatalog(marker string, pages ...[]*Element) *Catalog {
	return &Catalog{
		Marker:  marker,
		Pages:   pages,
		current: -1,
	}
}

var errClosed = errors.New("page closed")

func (c *Catalog) NewPage() (browser.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.opens++
	c.current = -1
	c.loaded = false
	c.stalled = false
	c.reads = 0
	return c, nil
}

func (c *Catalog) Goto(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.visits = append(c.visits, url)
	if c.GotoErr != nil {
		return c.GotoErr
	}
	c.current = 0
	c.reads = 0
	c.loaded = true
	c.stalled = false
	return nil
}

func (c *Catalog) WaitForMarker(selector string, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return false
	}
	if c.ConsentSelector != "" && selector == c.ConsentSelector {
		return !c.consented
	}
	if c.stalled || selector != c.Marker {
		return false
	}
	return c.current < len(c.Pages) && len(c.Pages[c.current]) > 0
}

func (c *Catalog) FindAll(selector string) ([]browser.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.FindFaults[selector]; ok {
		return nil, err
	}
	if !c.loaded || selector != c.Marker || c.current >= len(c.Pages) {
		return nil, nil
	}

	cards := c.Pages[c.current]
	handles := make([]browser.Handle, 0, len(cards))
	for _, card := range cards {
		handles = append(handles, card)
	}
	return handles, nil
}

func (c *Catalog) FindOne(selector string) (browser.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err, ok := c.FindFaults[selector]; ok {
		return nil, err
	}
	if !c.loaded {
		return nil, browser.ErrNotFound
	}

	if c.ConsentSelector != "" && selector == c.ConsentSelector && !c.consented {
		return &Element{onClick: func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.clicks = append(c.clicks, selector)
			c.consented = true
			return nil
		}}, nil
	}

	if c.NextSelector != "" && selector == c.NextSelector && c.current+1 < len(c.Pages) {
		return c.control(selector, c.current+1), nil
	}

	if c.PageNumberFormat != "" {
		for n := 1; n <= len(c.Pages); n++ {
			if selector == fmt.Sprintf(c.PageNumberFormat, n) && n-1 != c.current {
				return c.control(selector, n-1), nil
			}
		}
	}

	return nil, browser.ErrNotFound
}

// control must be called with c.mu held.
func (c *Catalog) control(selector string, target int) *Element {
	return &Element{onClick: func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.clicks = append(c.clicks, selector)
		c.current = target
		c.reads = 0
		c.stalled = c.MarkerAfterClick != nil && !*c.MarkerAfterClick
		return nil
	}}
}

func (c *Catalog) Evaluate(script string, args ...any) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return nil, errClosed
	}

	switch {
	case strings.Contains(script, "scrollHeight"):
		return c.height(), nil
	case strings.Contains(script, "scrollTo"):
		if len(args) > 0 {
			if y, ok := args[0].(float64); ok {
				c.scrolls = append(c.scrolls, y)
			} else if y, ok := args[0].(int); ok {
				c.scrolls = append(c.scrolls, float64(y))
			}
		}
		return nil, nil
	}
	return nil, nil
}

// height must be called with c.mu held.
func (c *Catalog) height() float64 {
	read := c.reads
	c.reads++

	if c.HeightFn != nil {
		return c.HeightFn(read)
	}
	if len(c.Heights) == 0 {
		return 1000
	}
	if read >= len(c.Heights) {
		read = len(c.Heights) - 1
	}
	return c.Heights[read]
}

func (c *Catalog) GoBack() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current > 0 {
		c.current--
	}
	return nil
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes++
	c.loaded = false
	return nil
}

// Clicks returns the selectors of every activated control, in order.
func (c *Catalog) Clicks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.clicks...)
}

// Visits returns every URL passed to Goto.
func (c *Catalog) Visits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.visits...)
}

// Scrolls returns every scroll offset requested through Evaluate.
func (c *Catalog) Scrolls() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.scrolls...)
}

// Consented reports whether the consent control was clicked.
func (c *Catalog) Consented() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consented
}

// Closes returns how many times the page was closed.
func (c *Catalog) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Current returns the zero-based index of the rendered result page.
func (c *Catalog) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
