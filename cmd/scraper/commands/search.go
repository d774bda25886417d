package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maltedev/listing-scraper/internal/app"
	"github.com/maltedev/listing-scraper/internal/browser"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

var (
	searchPages    int
	searchHeadless bool
	searchOut      outputs
	searchPersist  bool
	searchPublish  bool
)

func init() {
	flags := searchCmd.Flags()
	flags.IntVarP(&searchPages, "pages", "p", 0, "Maximum result pages to visit (default SCRAPER_DEFAULT_MAX_PAGES).")
	flags.BoolVar(&searchHeadless, "headless", true, "Run the browser without a window.")
	flags.StringVarP(&searchOut.csv, "output", "o", "daraz_products.csv", "CSV file to write.")
	flags.StringVar(&searchOut.jsonl, "jsonl", "", "Also write records as JSON lines to this file.")
	flags.StringVar(&searchOut.chart, "chart", "", "Also write an HTML price distribution chart to this file.")
	flags.BoolVar(&searchPersist, "persist", false, "Store the run and its records in Postgres.")
	flags.BoolVar(&searchPublish, "publish", false, "Publish a SEARCH_COMPLETED event to the Redis stream.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query> [--pages N] [--output file.csv]",
	Short: "Searches the site and exports every product card found.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		query := strings.Join(args, " ")

		pages := searchPages
		if pages <= 0 {
			pages = cfg.Scraper.DefaultMaxPages
		}

		sinks, err := app.OpenSinks(ctx, cfg, searchPersist, searchPublish, log)
		if err != nil {
			return err
		}
		defer sinks.Close()

		opts := app.BrowserOptions(cfg)
		if cmd.Flags().Changed("headless") {
			opts.Headless = searchHeadless
		}
		b, err := browser.New(opts)
		if err != nil {
			return err
		}
		defer b.Close()

		collector, err := scraper.NewCollector(b, scraper.OptionsFromConfig(cfg), log, nil)
		if err != nil {
			return err
		}

		log.Info("searching", "query", query, "max_pages", pages)
		session := collector.Search(ctx, query, pages)

		if err := sinks.Record(ctx, session); err != nil {
			log.Error("failed to record search", "error", err)
		}
		if sinks.Relay != nil {
			if _, err := sinks.Relay.Drain(ctx); err != nil {
				log.Error("failed to deliver events", "error", err)
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scraped %d pages, stopped: %s\n", session.PagesVisited, session.Stop)
		if session.LayoutSuspect {
			fmt.Fprintln(out, "Warning: pagination controls looked broken, the site layout may have changed.")
		}
		if err := searchOut.write(out, query, session.Records); err != nil {
			return err
		}

		if session.Stop.Fatal() {
			return fmt.Errorf("search stopped: %s", session.Stop)
		}
		return nil
	},
}
