package scraper

import (
	"fmt"
	"time"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/browser/browsertest"
	"github.com/maltedev/listing-scraper/internal/config"
)

var sel = config.DefaultSelectors()

func testOptions() Options {
	opts := DefaultOptions()
	opts.MarkerTimeout = 10 * time.Millisecond
	opts.NavigationTimeout = 10 * time.Millisecond
	opts.ConsentTimeout = 10 * time.Millisecond
	opts.PageDelay = 0
	opts.ScrollStepDelay = 0
	opts.SettleDelay = 0
	return opts
}

func card(name, price string) *browsertest.Element {
	slug := fmt.Sprintf("/products/%s.html", name)
	return (&browsertest.Element{}).
		With(sel.Name, browsertest.El(name)).
		With(sel.Link, browsertest.Link(slug)).
		With(sel.Price, browsertest.El(price)).
		With(sel.Sold, browsertest.El("12 sold")).
		With(sel.Rating, browsertest.El("4.5")).
		With(sel.Reviews, browsertest.El("(3)")).
		With(sel.Discount, browsertest.El("-10%"))
}

func cards(prefix string, n int) []*browsertest.Element {
	out := make([]*browsertest.Element, n)
	for i := range out {
		out[i] = card(fmt.Sprintf("%s-%d", prefix, i+1), fmt.Sprintf("৳%d", (i+1)*100))
	}
	return out
}

func catalog(pages ...[]*browsertest.Element) *browsertest.Catalog {
	cat := browsertest.NewCatalog(sel.Card, pages...)
	cat.PageNumberFormat = sel.PageNumber
	cat.NextSelector = sel.Next
	return cat
}

func asHandles(items []*browsertest.Element) []browser.Handle {
	out := make([]browser.Handle, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
