package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
	"github.com/bikebuddy/server/internal/pkg/config"
	"github.com/bikebuddy/server/internal/pkg/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "seeder",
	Short: "Load cycling points of interest from OpenStreetMap",
	Long:  "Fetches toilets, drinking water and cafes from the Overpass API band by band and upserts them into the POI store.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load("bikebuddy-seeder")
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("region", "", "seeding region as south,west,north,east (default California)")
	rootCmd.PersistentFlags().String("categories", "", "categories to seed, comma-separated (default all)")
	rootCmd.PersistentFlags().Int("slices", 0, "latitude bands to split the region into (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// seedArgs reads the shared region, categories and slices flags.
func seedArgs(cmd *cobra.Command) (domain.BoundingBox, []domain.Category, int, error) {
	regionStr, _ := cmd.Flags().GetString("region")
	categoriesStr, _ := cmd.Flags().GetString("categories")
	slices, _ := cmd.Flags().GetInt("slices")

	region, err := parseRegion(regionStr)
	if err != nil {
		return domain.BoundingBox{}, nil, 0, err
	}
	categories, err := domain.ParseCategories(categoriesStr)
	if err != nil {
		return domain.BoundingBox{}, nil, 0, err
	}
	if slices <= 0 {
		slices = cfg.Seed.Slices
	}
	return region, categories, slices, nil
}

func parseRegion(s string) (domain.BoundingBox, error) {
	if strings.TrimSpace(s) == "" {
		return usecases.CaliforniaBBox, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return domain.BoundingBox{}, fmt.Errorf("region %q: want south,west,north,east", s)
	}
	var edges [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("region %q: %w", s, err)
		}
		edges[i] = v
	}
	box := domain.BoundingBox{South: edges[0], West: edges[1], North: edges[2], East: edges[3]}
	if err := box.Validate(); err != nil {
		return domain.BoundingBox{}, err
	}
	return box, nil
}
