package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies a point of interest.
type Category string

const (
	CategoryToilet        Category = "toilet"
	CategoryDrinkingWater Category = "drinking_water"
	CategoryCafe          Category = "cafe"
)

// Categories is the known category set, in display order.
var Categories = []Category{CategoryToilet, CategoryDrinkingWater, CategoryCafe}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.TrimSpace(strings.ToLower(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ParseCategories parses a comma-separated category list. Empty input yields nil.
func ParseCategories(raw string) ([]Category, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []Category
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := ParseCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Source identifies the upstream provider of a record.
type Source string

const (
	SourceOSM  Source = "osm"
	SourceYelp Source = "yelp"
)

// POI is a cycling-relevant point of interest (toilet, water, cafe).
type POI struct {
	ID        string            `json:"id,omitempty"`
	SourceID  string            `json:"source_id"`
	Category  Category          `json:"category"`
	Source    Source            `json:"source"`
	Name      string            `json:"name"`
	Location  GeoPoint          `json:"location"`
	Tags      map[string]string `json:"tags,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Key returns the record identity: the persisted ID, falling back to
// the source identifier for records that have not been stored yet.
func (p POI) Key() string {
	if p.ID != "" {
		return p.ID
	}
	if p.SourceID == "" {
		return ""
	}
	return string(p.Source) + ":" + p.SourceID
}

// Validate checks identity, category and coordinates.
func (p POI) Validate() error {
	if p.Key() == "" {
		return fmt.Errorf("poi has no identity")
	}
	if p.Category == "" {
		return fmt.Errorf("poi %s has no category", p.Key())
	}
	if !p.Location.Valid() {
		return fmt.Errorf("poi %s has invalid coordinates (%f, %f)", p.Key(), p.Location.Lat, p.Location.Lon)
	}
	return nil
}

// Route is a user-supplied polyline used for adjacency filtering.
type Route struct {
	ID     string     `json:"id"`
	Name   string     `json:"name,omitempty"`
	Points []GeoPoint `json:"points"`
}

// CategoryCount is the number of stored records per category.
type CategoryCount struct {
	Category Category `json:"category"`
	Count    int      `json:"count"`
}
