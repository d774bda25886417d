package parser

import (
	"errors"
	"fmt"
	"io"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/listing-scraper/internal/browser"
)

// ErrStatic is returned when a snapshot handle is asked to interact.
var ErrStatic = errors.New("snapshot elements cannot be clicked")

// Snapshot is a saved result page parsed with goquery. Its handles satisfy
// browser.Handle so cards can be extracted without a live browser.
type Snapshot struct {
	doc *goquery.Document
}

func NewSnapshot(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Snapshot{doc: doc}, nil
}

// FindAll returns a handle per element matching selector, in document order.
func (s *Snapshot) FindAll(selector string) ([]browser.Handle, error) {
	var handles []browser.Handle
	s.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		handles = append(handles, &selection{sel: sel})
	})
	return handles, nil
}

type selection struct {
	sel *goquery.Selection
}

func (h *selection) Text() (string, error) {
	return CleanText(h.sel.Text()), nil
}

func (h *selection) Attribute(name string) (string, error) {
	v, _ := h.sel.Attr(name)
	return v, nil
}

func (h *selection) FindOne(selector string) (browser.Handle, error) {
	found := h.sel.Find(selector).First()
	if found.Length() == 0 {
		return nil, browser.ErrNotFound
	}
	return &selection{sel: found}, nil
}

func (h *selection) Click() error {
	return ErrStatic
}
