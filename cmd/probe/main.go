// Command probe drives a map session against a running API: it syncs one or
// more viewports through /v1/pois/diff, applies category and route filters
// locally and prints the records a client would draw.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bikebuddy/server/internal/adapters/apiclient"
	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/session"
	"github.com/bikebuddy/server/internal/core/usecases"
	"github.com/bikebuddy/server/internal/pkg/config"
	"github.com/bikebuddy/server/internal/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "Sync viewports against the API and print the filtered records",
	Example: `  probe --box 37.70,-122.52,37.81,-122.36 --categories cafe,toilet
  probe --box 37.70,-122.52,37.81,-122.36 --box 37.75,-122.47,37.86,-122.31 --gpx ride.gpx`,
	RunE: runProbe,
}

func init() {
	rootCmd.Flags().String("api", "http://localhost:8080", "API base URL")
	rootCmd.Flags().StringArray("box", nil, "viewport south,west,north,east; repeat to pan")
	rootCmd.Flags().String("categories", "toilet,drinking_water,cafe", "active categories, comma-separated")
	rootCmd.Flags().String("gpx", "", "GPX file; when set only records near the route are printed")
	rootCmd.Flags().Float64("tolerance", 0, "route adjacency tolerance in meters (default from config)")
	rootCmd.Flags().Duration("timeout", 10*time.Second, "per-request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runProbe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("bikebuddy-probe")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Log.Level, "text")

	apiURL, _ := cmd.Flags().GetString("api")
	boxes, _ := cmd.Flags().GetStringArray("box")
	categoriesStr, _ := cmd.Flags().GetString("categories")
	gpxPath, _ := cmd.Flags().GetString("gpx")
	tolerance, _ := cmd.Flags().GetFloat64("tolerance")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if len(boxes) == 0 {
		return fmt.Errorf("at least one --box is required")
	}
	categories, err := domain.ParseCategories(categoriesStr)
	if err != nil {
		return err
	}
	if tolerance <= 0 {
		tolerance = cfg.Sync.Tolerance
	}

	s := session.New(apiclient.New(apiURL, timeout),
		session.WithCategories(categories...),
		session.WithTolerance(tolerance),
	)

	if gpxPath != "" {
		route, err := loadRoute(gpxPath)
		if err != nil {
			return err
		}
		if err := s.LoadRoute(route); err != nil {
			return err
		}
		s.ToggleAdjacency()
		slog.Info("route loaded", "name", route.Name, "points", len(route.Points), "tolerance", s.Tolerance())
	}

	for _, raw := range boxes {
		box, err := parseBox(raw)
		if err != nil {
			return err
		}
		if err := s.SyncRegion(ctx, box); err != nil {
			return fmt.Errorf("sync %s: %w", box, err)
		}
		slog.Info("synced viewport",
			"box", box.String(),
			"known", s.Engine().Store().Len(),
			"visible", len(s.FilteredRecords()),
		)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(s.Snapshot())
}

func loadRoute(path string) (*domain.Route, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gpx: %w", err)
	}
	defer f.Close()
	// Parsing never touches the repository.
	return usecases.NewRouteService(nil, 0).ParseGPX(f)
}

func parseBox(s string) (domain.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("box %q: want south,west,north,east", s)
	}
	var edges [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("box %q: %w", s, err)
		}
		edges[i] = v
	}
	box := domain.BoundingBox{South: edges[0], West: edges[1], North: edges[2], East: edges[3]}
	return box, box.Validate()
}
