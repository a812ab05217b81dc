package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"rider-map/internal/ridermap/app"
	"rider-map/internal/ridermap/geo"
)

var snapshotOpts struct {
	search string
	zoom   int
	width  float64
	height float64
	lat    string
	lng    string
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch the rider locations once and print the rendered map view as JSON",
	Args:  cobra.NoArgs,
	RunE:  runSnapshot,
}

func init() {
	f := snapshotCmd.Flags()
	f.StringVar(&snapshotOpts.search, "search", "", "rider name filter")
	f.IntVar(&snapshotOpts.zoom, "zoom", -1, "zoom used for clustering (-1 follows the viewport)")
	f.Float64Var(&snapshotOpts.width, "width", 0, "map container width in pixels")
	f.Float64Var(&snapshotOpts.height, "height", 0, "map container height in pixels")
	f.StringVar(&snapshotOpts.lat, "lat", "", "device latitude")
	f.StringVar(&snapshotOpts.lng, "lng", "", "device longitude")
}

func runSnapshot(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	comps, err := buildComponents(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer comps.Close()

	device, err := app.ParseLatLng(snapshotOpts.lat, snapshotOpts.lng)
	if err != nil {
		return err
	}

	req := app.RenderRequest{
		Search: snapshotOpts.search,
		Size:   geo.Size{Width: snapshotOpts.width, Height: snapshotOpts.height},
		Device: device,
	}
	if snapshotOpts.zoom >= 0 {
		z := min(snapshotOpts.zoom, geo.MaxZoom)
		req.Zoom = &z
	}

	fetcher := app.NewFetcher(comps.snapshots, cfg.Backend.RequestTimeout, log)
	svc := app.NewMapService(log, fetcher, nil, nil, sessionOptions(cfg))
	view, err := svc.Render(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to render map: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
