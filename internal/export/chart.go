package export

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/maltedev/listing-scraper/internal/models"
)

const priceBuckets = 10

// Bucket is one bar of the price distribution, covering [Low, High).
type Bucket struct {
	Low   float64
	High  float64
	Count int
}

// PriceBuckets splits the parsable prices into equal-width buckets. The
// highest price falls into the last bucket.
func PriceBuckets(records []models.ProductRecord, n int) []Bucket {
	var prices []float64
	low, high := math.Inf(1), math.Inf(-1)
	for _, r := range records {
		p, ok := r.Price.Float()
		if !ok {
			continue
		}
		prices = append(prices, p)
		low = math.Min(low, p)
		high = math.Max(high, p)
	}

	if len(prices) == 0 || n < 1 {
		return nil
	}
	if low == high {
		return []Bucket{{Low: low, High: high, Count: len(prices)}}
	}

	width := (high - low) / float64(n)
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Low = low + float64(i)*width
		buckets[i].High = low + float64(i+1)*width
	}
	for _, p := range prices {
		i := int((p - low) / width)
		if i >= n {
			i = n - 1
		}
		buckets[i].Count++
	}
	return buckets
}

// RenderPriceChart writes an HTML bar chart of the price distribution.
func RenderPriceChart(w io.Writer, query string, records []models.ProductRecord) error {
	buckets := PriceBuckets(records, priceBuckets)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Price Distribution",
			Subtitle: fmt.Sprintf("%q, %d listings", query, len(records)),
		}),
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros}),
	)

	var labels []string
	var counts []opts.BarData
	for _, b := range buckets {
		labels = append(labels, fmt.Sprintf("%.0f-%.0f", b.Low, b.High))
		counts = append(counts, opts.BarData{Value: b.Count})
	}
	bar.SetXAxis(labels).AddSeries("Listings", counts)

	return bar.Render(w)
}

func PriceChart(query string, records []models.ProductRecord, path string) error {
	return writeFile(path, func(w io.Writer) error {
		return RenderPriceChart(w, query, records)
	})
}
