package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/isstrack/internal/oem"
	"github.com/star/isstrack/internal/tracker"
	"github.com/star/isstrack/internal/transform"
	"github.com/star/isstrack/internal/vectors"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Fetch the ephemeris once and print a summary with the current position",
	RunE:  runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	model, err := transform.ParseModel(cfg.Transform.Model)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Refresh.FetchTimeout)
	defer cancel()

	provider := oem.NewProvider(oem.NewFetcher(cfg.Source.URL, cfg.Source.Timeout, cfg.Source.MaxBodyBytes, logger), logger)
	payload, err := provider.FetchVectors(ctx)
	if err != nil {
		return err
	}
	store := vectors.NewStore()
	if _, _, err := store.Replace(payload); err != nil {
		return err
	}

	svc := tracker.New(store, newGeocoder(cfg, logger), model, logger)
	sum, err := svc.Summary()
	if err != nil {
		return err
	}
	now, err := svc.Now(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Summary   tracker.Summary   `json:"summary"`
		Now       tracker.NowResult `json:"now"`
		Generated time.Time         `json:"generated_at"`
	}{sum, now, time.Now().UTC()})
}
