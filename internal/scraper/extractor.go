package scraper

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/config"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/parser"
)

// FieldExtractor turns one result card into a ProductRecord.
type FieldExtractor struct {
	selectors config.Selectors
	baseURL   *url.URL
	logger    *slog.Logger
}

func NewFieldExtractor(selectors config.Selectors, baseURL string, logger *slog.Logger) (*FieldExtractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FieldExtractor{
		selectors: selectors,
		baseURL:   base,
		logger:    logger.With("component", "field_extractor"),
	}, nil
}

// Extract reads every field of item. A missing sub-element becomes its
// sentinel. Any other fault, including a panic raised by the handle, drops
// the item: Extract logs it and returns nil.
func (e *FieldExtractor) Extract(item browser.Handle) (record *models.ProductRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("item skipped", "error", fmt.Sprint(r), "panic", true)
			record = nil
		}
	}()

	record, err := e.extract(item)
	if err != nil {
		e.logger.Warn("item skipped", "error", err)
		return nil
	}
	return record
}

// ExtractAll extracts items in order and reports how many were dropped.
func (e *FieldExtractor) ExtractAll(items []browser.Handle) ([]models.ProductRecord, int) {
	records := make([]models.ProductRecord, 0, len(items))
	skipped := 0

	for _, item := range items {
		rec := e.Extract(item)
		if rec == nil {
			skipped++
			continue
		}
		if missing := rec.Missing(); len(missing) > 0 {
			e.logger.Debug("record incomplete", "name", rec.Name, "missing", missing)
		}
		records = append(records, *rec)
	}

	return records, skipped
}

func (e *FieldExtractor) extract(item browser.Handle) (*models.ProductRecord, error) {
	name, err := e.text(item, e.selectors.Name, models.NotAvailable)
	if err != nil {
		return nil, err
	}

	link, err := e.link(item)
	if err != nil {
		return nil, err
	}

	price, err := e.text(item, e.selectors.Price, models.NotAvailable)
	if err != nil {
		return nil, err
	}

	sold, err := e.text(item, e.selectors.Sold, models.NoSales)
	if err != nil {
		return nil, err
	}

	rating, err := e.text(item, e.selectors.Rating, models.NoRatings)
	if err != nil {
		return nil, err
	}

	reviews, err := e.text(item, e.selectors.Reviews, models.NoReviews)
	if err != nil {
		return nil, err
	}

	discount, err := e.text(item, e.selectors.Discount, models.NoDiscount)
	if err != nil {
		return nil, err
	}

	return &models.ProductRecord{
		Name:     name,
		URL:      link,
		Price:    models.Price{Raw: price, Numeric: parser.NumericPrice(price)},
		Sold:     models.Count{Raw: sold, Value: parser.ParseCount(sold, models.NoSales)},
		Rating:   rating,
		Reviews:  models.Count{Raw: reviews, Value: parser.ParseCount(reviews, models.NoReviews)},
		Discount: discount,
	}, nil
}

func (e *FieldExtractor) text(item browser.Handle, selector, sentinel string) (string, error) {
	if selector == "" {
		return sentinel, nil
	}

	el, err := item.FindOne(selector)
	if errors.Is(err, browser.ErrNotFound) {
		return sentinel, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", selector, err)
	}

	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

func (e *FieldExtractor) link(item browser.Handle) (string, error) {
	el, err := item.FindOne(e.selectors.Link)
	if errors.Is(err, browser.ErrNotFound) {
		return models.NotAvailable, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", e.selectors.Link, err)
	}

	href, err := el.Attribute("href")
	if err != nil {
		return "", fmt.Errorf("read href: %w", err)
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return models.NotAvailable, nil
	}

	return e.resolve(href), nil
}

// resolve makes href absolute against the site base URL. Unparsable links
// are kept as written.
func (e *FieldExtractor) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return e.baseURL.ResolveReference(ref).String()
}
