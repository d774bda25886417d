package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/listing-scraper/internal/parser"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

var parseOut outputs

func init() {
	flags := parseCmd.Flags()
	flags.StringVarP(&parseOut.csv, "output", "o", "", "CSV file to write.")
	flags.StringVar(&parseOut.jsonl, "jsonl", "", "Also write records as JSON lines to this file.")
	flags.StringVar(&parseOut.chart, "chart", "", "Also write an HTML price distribution chart to this file.")
	rootCmd.AddCommand(parseCmd)
}

var parseCmd = &cobra.Command{
	Use:   "parse <snapshot.html> [--output file.csv]",
	Short: "Extracts product cards from a saved result page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		snapshot, err := parser.NewSnapshot(f)
		if err != nil {
			return err
		}

		items, err := snapshot.FindAll(cfg.Site.Selectors.Card)
		if err != nil {
			return err
		}

		extractor, err := scraper.NewFieldExtractor(cfg.Site.Selectors, cfg.Site.BaseURL, log)
		if err != nil {
			return err
		}
		records, skipped := extractor.ExtractAll(items)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Found %d cards in %s, %d extracted, %d skipped\n", len(items), path, len(records), skipped)

		label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		return parseOut.write(out, label, records)
	},
}
