package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/listing-scraper/internal/models"
)

func sampleRecords() []models.ProductRecord {
	return []models.ProductRecord{
		{
			Name:     "Wireless Headphones, Black",
			URL:      "https://www.daraz.com.bd/products/i1.html",
			Price:    models.Price{Raw: "৳1,250", Numeric: "1250"},
			Sold:     models.Count{Raw: "120 sold", Value: 120},
			Rating:   "4.5",
			Reviews:  models.Count{Raw: "(15)", Value: 15},
			Discount: "-20%",
		},
		{
			Name:     "USB Cable",
			URL:      models.NotAvailable,
			Price:    models.Price{Raw: models.NotAvailable, Numeric: "0"},
			Sold:     models.Count{Raw: models.NoSales},
			Rating:   models.NoRatings,
			Reviews:  models.Count{Raw: models.NoReviews},
			Discount: models.NoDiscount,
		},
	}
}

func TestCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "headphones.csv")
	require.NoError(t, CSV(sampleRecords(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, utf8BOM))

	rows, err := csv.NewReader(bytes.NewReader(data[len(utf8BOM):])).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, models.Columns, rows[0])
	assert.Equal(t, "Wireless Headphones, Black", rows[1][0])
	assert.Equal(t, "৳1,250", rows[1][2])
	assert.Equal(t, "120", rows[1][5])
	assert.Equal(t, models.NoDiscount, rows[2][9])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCSVEmptyWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, string(utf8BOM)+strings.Join(models.Columns, ",")+"\n", buf.String())
}

type failingWriter struct{ after int }

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("disk full")
	}
	f.after--
	return len(p), nil
}

func TestWriteCSVSurfacesFaults(t *testing.T) {
	assert.Error(t, WriteCSV(&failingWriter{after: 0}, sampleRecords()))
	assert.Error(t, WriteCSV(&failingWriter{after: 1}, sampleRecords()))
}

func TestCSVUnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := CSV(sampleRecords(), filepath.Join(blocker, "out.csv"))
	assert.Error(t, err)
}

func TestCSVKeepsPreviousFileOnRenameFailure(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.csv")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o644))

	assert.Error(t, CSV(sampleRecords(), target))

	_, err := os.Stat(target + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, JSONL(sampleRecords(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec models.ProductRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, sampleRecords()[1], rec)
}

func TestPriceBuckets(t *testing.T) {
	records := []models.ProductRecord{
		{Price: models.Price{Numeric: "100"}},
		{Price: models.Price{Numeric: "150"}},
		{Price: models.Price{Numeric: "300"}},
		{Price: models.Price{Numeric: ""}},
	}

	buckets := PriceBuckets(records, 2)
	require.Len(t, buckets, 2)
	assert.Equal(t, Bucket{Low: 100, High: 200, Count: 2}, buckets[0])
	assert.Equal(t, Bucket{Low: 200, High: 300, Count: 1}, buckets[1])

	assert.Nil(t, PriceBuckets(nil, 10))

	single := []models.ProductRecord{{Price: models.Price{Numeric: "5"}}, {Price: models.Price{Numeric: "5.0"}}}
	assert.Equal(t, []Bucket{{Low: 5, High: 5, Count: 2}}, PriceBuckets(single, 3))
}

func TestPriceChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.html")
	require.NoError(t, PriceChart("headphones", sampleRecords(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Price Distribution")
	assert.Contains(t, string(data), "westeros")
}
