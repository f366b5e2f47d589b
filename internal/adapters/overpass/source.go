// Package overpass fetches cycling points of interest from OpenStreetMap
// through the Overpass API.
package overpass

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/serjvanilla/go-overpass"
	"golang.org/x/time/rate"

	"github.com/bikebuddy/server/internal/core/domain"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

var amenityByCategory = map[domain.Category]string{
	domain.CategoryToilet:        "toilets",
	domain.CategoryDrinkingWater: "drinking_water",
	domain.CategoryCafe:          "cafe",
}

// Source implements ports.POISource against an Overpass endpoint.
type Source struct {
	client  overpass.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewSource creates a Source. Requests are spaced at least interval apart,
// which public Overpass instances require.
func NewSource(endpoint string, timeout, interval time.Duration) *Source {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	httpClient := &http.Client{Timeout: timeout}
	return newSource(overpass.NewWithSettings(endpoint, 1, httpClient), timeout, interval)
}

func newSource(client overpass.Client, timeout, interval time.Duration) *Source {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Source{client: client, limiter: rate.NewLimiter(limit, 1), timeout: timeout}
}

// FetchPOIs returns the nodes and ways tagged with the category's amenity
// inside box. Ways are placed at the centroid of their nodes.
func (s *Source) FetchPOIs(ctx context.Context, category domain.Category, box domain.BoundingBox) ([]domain.POI, error) {
	amenity, ok := amenityByCategory[category]
	if !ok {
		return nil, fmt.Errorf("no overpass mapping for category %q", category)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := s.query(ctx, buildQuery(amenity, box, s.timeout))
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}
	return toPOIs(result, category, amenity), nil
}

func (s *Source) query(ctx context.Context, q string) (overpass.Result, error) {
	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := s.client.Query(q)
		done <- outcome{r, err}
	}()

	select {
	case <-ctx.Done():
		return overpass.Result{}, ctx.Err()
	case o := <-done:
		return o.result, o.err
	}
}

func buildQuery(amenity string, box domain.BoundingBox, timeout time.Duration) string {
	secs := int(timeout.Seconds())
	if secs <= 0 {
		secs = 25
	}
	bbox := fmt.Sprintf("%f,%f,%f,%f", box.South, box.West, box.North, box.East)
	return fmt.Sprintf(`
		[out:json][timeout:%d];
		(
			node["amenity"="%s"](%s);
			way["amenity"="%s"](%s);
		);
		out body;
		>;
		out skel qt;
	`, secs, amenity, bbox, amenity, bbox)
}

func toPOIs(result overpass.Result, category domain.Category, amenity string) []domain.POI {
	var pois []domain.POI

	// Way member nodes come back untagged through the recurse step; only
	// nodes carrying the amenity tag are records.
	for _, node := range result.Nodes {
		if node == nil || node.Tags["amenity"] != amenity {
			continue
		}
		pois = append(pois, newPOI("node", node.ID, node.Tags, category, node.Lat, node.Lon))
	}

	for _, way := range result.Ways {
		if way == nil || way.Tags["amenity"] != amenity {
			continue
		}
		var lat, lon float64
		count := 0
		for _, node := range way.Nodes {
			if node == nil {
				continue
			}
			lat += node.Lat
			lon += node.Lon
			count++
		}
		if count == 0 {
			continue
		}
		pois = append(pois, newPOI("way", way.ID, way.Tags, category, lat/float64(count), lon/float64(count)))
	}

	return pois
}

func newPOI(kind string, id int64, tags map[string]string, category domain.Category, lat, lon float64) domain.POI {
	name := tags["name"]
	if name == "" {
		name = string(category)
	}
	return domain.POI{
		SourceID: kind + "/" + strconv.FormatInt(id, 10),
		Source:   domain.SourceOSM,
		Category: category,
		Name:     name,
		Location: domain.GeoPoint{Lat: lat, Lon: lon},
		Tags:     tags,
	}
}
