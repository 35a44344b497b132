package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/disaster-live-feed/internal/config"
	"github.com/mr1hm/disaster-live-feed/internal/logging"
	"github.com/mr1hm/disaster-live-feed/internal/models"
	"github.com/mr1hm/disaster-live-feed/internal/repository"
)

// openStore is swapped out in tests.
var openStore = func() (repository.ReportStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Setup(cfg.Logging.Level)
	return repository.Open(cfg.Store)
}

type insertFlags struct {
	id           string
	disasterType string
	severity     string
	location     string
	text         string
	confidence   float64
	lat          float64
	lon          float64
}

func insertCmd() *cobra.Command {
	var f insertFlags

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one report",
		Long: `Insert a single report.

Examples:
  # High severity flood, notifies
  report-seed insert --type Flood --severity High --location Assam

  # Earthquake with no severity, broadcast as Low
  report-seed insert --type Earthquake --location Nepal --lat 28.2 --lon 84.7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := f.report(time.Now().UTC())
			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				r.Latitude, r.Longitude = nil, nil
			}
			return withStore(cmd.Context(), func(ctx context.Context, store repository.ReportStore) error {
				if err := store.Insert(ctx, r); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), r)
			})
		},
	}

	cmd.Flags().StringVar(&f.id, "id", "", "Report id (generated when empty)")
	cmd.Flags().StringVarP(&f.disasterType, "type", "t", "", "Disaster type, e.g. Flood (required)")
	cmd.Flags().StringVarP(&f.severity, "severity", "s", "", "Low, Medium or High")
	cmd.Flags().StringVarP(&f.location, "location", "l", "", "Free text location")
	cmd.Flags().StringVar(&f.text, "text", "", "Original report text")
	cmd.Flags().Float64Var(&f.confidence, "confidence", 1, "Classifier confidence")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "Longitude")
	cmd.MarkFlagRequired("type")

	return cmd
}

func (f insertFlags) report(now time.Time) *models.Report {
	lat, lon := f.lat, f.lon
	return &models.Report{
		ID:           f.id,
		Text:         f.text,
		DisasterType: f.disasterType,
		Severity:     f.severity,
		LocationText: f.location,
		Latitude:     &lat,
		Longitude:    &lon,
		Confidence:   f.confidence,
		Timestamp:    now,
	}
}

// demoReports cycles through every severity so both the broadcast and the
// notification path get traffic.
var demoReports = []insertFlags{
	{disasterType: "Flood", severity: "High", location: "Assam", text: "River breached its banks near Guwahati", lat: 26.14, lon: 91.74},
	{disasterType: "Earthquake", location: "Kathmandu", text: "Strong shaking felt across the valley", lat: 27.71, lon: 85.32},
	{disasterType: "Wildfire", severity: "Medium", location: "Oregon", text: "Smoke visible from the highway", lat: 44.0, lon: -120.5},
	{disasterType: "Cyclone", severity: "High", location: "Odisha", text: "Landfall expected within hours", lat: 20.95, lon: 85.1},
	{disasterType: "Storm", severity: "Low", text: "Heavy wind and rain tonight"},
}

func demoCmd() *cobra.Command {
	var (
		count    int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Insert a stream of sample reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store repository.ReportStore) error {
				return runDemo(ctx, store, cmd.OutOrStdout(), count, interval)
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", len(demoReports), "Number of reports to insert")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Pause between inserts")

	return cmd
}

func runDemo(ctx context.Context, store repository.ReportStore, out io.Writer, count int, interval time.Duration) error {
	for i := 0; i < count; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		f := demoReports[i%len(demoReports)]
		r := f.report(time.Now().UTC())
		if f.lat == 0 && f.lon == 0 {
			r.Latitude, r.Longitude = nil, nil
		}
		if err := store.Insert(ctx, r); err != nil {
			return err
		}
		fmt.Fprintf(out, "inserted %s %s (%s)\n", r.ID, r.DisasterType, severityOrDefault(r.Severity))
	}
	return nil
}

func severityOrDefault(s string) string {
	if s == "" {
		return "no severity"
	}
	return s
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the most recent reports as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store repository.ReportStore) error {
				reports, err := store.ListRecent(ctx, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), reports)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", repository.DefaultListLimit, "Number of reports")

	return cmd
}

func withStore(ctx context.Context, fn func(context.Context, repository.ReportStore) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
