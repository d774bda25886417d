package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/maltedev/listing-scraper/internal/models"
)

// utf8BOM lets spreadsheet tools detect the encoding of non-ASCII prices.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes a byte-order mark, the header row and one row per record.
func WriteCSV(w io.Writer, records []models.ProductRecord) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write csv bom: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(models.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for i, r := range records {
		if err := writer.Write(r.Row()); err != nil {
			return fmt.Errorf("write csv record %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// CSV exports records to path. The file is replaced only once every row was
// written; on any fault the previous content is left untouched.
func CSV(records []models.ProductRecord, path string) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteCSV(w, records)
	})
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, records []models.ProductRecord) error {
	encoder := json.NewEncoder(w)
	for i, r := range records {
		if err := encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record %d: %w", i, err)
		}
	}
	return nil
}

func JSONL(records []models.ProductRecord, path string) error {
	return writeFile(path, func(w io.Writer) error {
		return WriteJSONL(w, records)
	})
}

// writeFile runs fill against a buffered temp file next to path and renames
// it into place.
func writeFile(path string, fill func(w io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	buffer := bufio.NewWriter(f)
	if err := fill(buffer); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}

	if err := buffer.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
