package stats

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/maltedev/listing-scraper/internal/models"
)

var ErrNoRecords = errors.New("no records to summarize")

// Stats summarizes a record set. Price figures cover PricedProducts records,
// the ones whose numeric price parses; all three are 0 when none do.
type Stats struct {
	TotalProducts        int     `json:"total_products"`
	PricedProducts       int     `json:"priced_products"`
	AvgPrice             float64 `json:"avg_price"`
	MinPrice             float64 `json:"min_price"`
	MaxPrice             float64 `json:"max_price"`
	TotalSold            int     `json:"total_sold"`
	TotalReviews         int     `json:"total_reviews"`
	AvgReviewsPerProduct float64 `json:"avg_reviews_per_product"`
}

func Summarize(records []models.ProductRecord) (*Stats, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	s := &Stats{
		TotalProducts: len(records),
		MinPrice:      math.Inf(1),
		MaxPrice:      math.Inf(-1),
	}

	var priceSum float64
	for _, r := range records {
		s.TotalSold += r.Sold.Value
		s.TotalReviews += r.Reviews.Value

		price, ok := r.Price.Float()
		if !ok || math.IsNaN(price) || math.IsInf(price, 0) {
			continue
		}
		s.PricedProducts++
		priceSum += price
		s.MinPrice = math.Min(s.MinPrice, price)
		s.MaxPrice = math.Max(s.MaxPrice, price)
	}

	if s.PricedProducts > 0 {
		s.AvgPrice = priceSum / float64(s.PricedProducts)
	} else {
		s.MinPrice, s.MaxPrice = 0, 0
	}
	s.AvgReviewsPerProduct = float64(s.TotalReviews) / float64(s.TotalProducts)

	return s, nil
}

// Render prints s as a table.
func Render(w io.Writer, s *Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Product Statistics")
	t.AppendHeader(table.Row{"Metric", "Value"})

	t.AppendRows([]table.Row{
		{"Total products", s.TotalProducts},
		{"Priced products", s.PricedProducts},
		{"Average price", fmt.Sprintf("%.2f", s.AvgPrice)},
		{"Price range", fmt.Sprintf("%.2f - %.2f", s.MinPrice, s.MaxPrice)},
		{"Total sold", s.TotalSold},
		{"Total reviews", s.TotalReviews},
		{"Average reviews per product", fmt.Sprintf("%.1f", s.AvgReviewsPerProduct)},
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
