package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Selectors locate the parts of a result page. Every selector is CSS.
// PageNumber is a format string taking the 1-based page number.
type Selectors struct {
	Card       string `json:"card"`
	Name       string `json:"name"`
	Link       string `json:"link"`
	Price      string `json:"price"`
	Sold       string `json:"sold"`
	Rating     string `json:"rating"`
	Reviews    string `json:"reviews"`
	Discount   string `json:"discount"`
	PageNumber string `json:"page_number"`
	Next       string `json:"next"`
	Consent    string `json:"consent"`
}

// DefaultSelectors match the Daraz search result grid.
func DefaultSelectors() Selectors {
	return Selectors{
		Card:       "div.box--ujueT",
		Name:       "div.title--wFj93",
		Link:       "a",
		Price:      "div.price--NVB62",
		Sold:       "div.sold--yGzjT",
		Rating:     "div.rating--ZI3Ol",
		Reviews:    "div.rating__review--ygkUy",
		Discount:   "div.discount--HADrE",
		PageNumber: "li[title='Page %d']",
		Next:       "button[aria-label='Next Page']",
		Consent:    "button.cookie-btn",
	}
}

// LoadSelectors returns the defaults with any non-empty value from the JSON5
// file at path laid over them. An empty path yields the defaults.
func LoadSelectors(path string) (Selectors, error) {
	out := DefaultSelectors()
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read selectors file: %w", err)
	}

	var override Selectors
	if err := json5.Unmarshal(data, &override); err != nil {
		return out, fmt.Errorf("parse selectors file %s: %w", path, err)
	}

	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return out, fmt.Errorf("merge selectors: %w", err)
	}

	slog.Info("merging selectors with overrides", "file", path)
	return out, nil
}

func (s Selectors) Validate() error {
	required := map[string]string{
		"card":        s.Card,
		"name":        s.Name,
		"link":        s.Link,
		"price":       s.Price,
		"page_number": s.PageNumber,
		"next":        s.Next,
	}
	for name, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("selector %s must not be empty", name)
		}
	}

	if strings.Count(s.PageNumber, "%d") != 1 {
		return fmt.Errorf("selector page_number must contain exactly one %%d, got %q", s.PageNumber)
	}

	return nil
}
