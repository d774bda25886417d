package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/maltedev/listing-scraper/internal/export"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/stats"
)

type outputs struct {
	csv   string
	jsonl string
	chart string
}

// write exports records to every requested file and prints the summary
// table. An empty result still produces a header-only CSV.
func (o outputs) write(w io.Writer, query string, records []models.ProductRecord) error {
	if o.csv != "" {
		if err := export.CSV(records, o.csv); err != nil {
			return fmt.Errorf("failed to save %s: %w", o.csv, err)
		}
		fmt.Fprintf(w, "Saved %d products to %s\n", len(records), o.csv)
	}

	if o.jsonl != "" {
		if err := export.JSONL(records, o.jsonl); err != nil {
			return fmt.Errorf("failed to save %s: %w", o.jsonl, err)
		}
		fmt.Fprintf(w, "Saved %d products to %s\n", len(records), o.jsonl)
	}

	if o.chart != "" {
		if err := export.PriceChart(query, records, o.chart); err != nil {
			return fmt.Errorf("failed to save %s: %w", o.chart, err)
		}
		fmt.Fprintf(w, "Saved price chart to %s\n", o.chart)
	}

	summary, err := stats.Summarize(records)
	if errors.Is(err, stats.ErrNoRecords) {
		fmt.Fprintln(w, "No products found.")
		return nil
	}
	if err != nil {
		return err
	}

	stats.Render(w, summary)
	return nil
}
