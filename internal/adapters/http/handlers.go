package http

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/bikebuddy/server/internal/adapters/postgres"
	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/usecases"
)

// parseBox reads <prefix>south, <prefix>west, <prefix>north and <prefix>east.
// ok is false when none of them is set.
func parseBox(c *fiber.Ctx, prefix string) (box domain.BoundingBox, ok bool, err error) {
	names := [4]string{prefix + "south", prefix + "west", prefix + "north", prefix + "east"}
	dst := [4]*float64{&box.South, &box.West, &box.North, &box.East}

	set := 0
	for _, n := range names {
		if c.Query(n) != "" {
			set++
		}
	}
	if set == 0 {
		return box, false, nil
	}
	if set != len(names) {
		return box, false, fmt.Errorf("%ssouth, %swest, %snorth and %seast must be given together", prefix, prefix, prefix, prefix)
	}
	for i, n := range names {
		v, err := strconv.ParseFloat(c.Query(n), 64)
		if err != nil {
			return box, false, fmt.Errorf("%s must be a number", n)
		}
		*dst[i] = v
	}
	if err := box.Validate(); err != nil {
		return box, false, err
	}
	return box, true, nil
}

// requireBox is parseBox for endpoints where the box is mandatory.
func requireBox(c *fiber.Ctx) (domain.BoundingBox, error) {
	box, ok, err := parseBox(c, "")
	if err != nil {
		return box, err
	}
	if !ok {
		return box, errors.New("south, west, north and east are required")
	}
	return box, nil
}

// ListPOIsHandler returns the records inside a bounding box.
func ListPOIsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := requireBox(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		categories, err := domain.ParseCategories(c.Query("types"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		pois, err := deps.POIs.ListInBounds(c.UserContext(), box, categories, c.QueryInt("limit", 0))
		if err != nil {
			return errInternal(c, err)
		}
		return c.JSON(pois)
	}
}

// RegionDiffHandler returns the records that entered and left the visible
// area when the map moved from the prev_* box to the current one.
func RegionDiffHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := requireBox(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		prev, hasPrev, err := parseBox(c, "prev_")
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		req := domain.RegionDiffRequest{Box: box}
		if hasPrev {
			req.Previous = &prev
		}

		diff, err := deps.Regions.Diff(c.UserContext(), req)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidBoundingBox) {
				return errBadRequest(c, err.Error())
			}
			return errInternal(c, err)
		}
		c.Set("Cache-Control", "public, max-age=30")
		return c.JSON(diff)
	}
}

// NearbyPOIsHandler returns records within a radius of a point.
func NearbyPOIsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Query("lat") == "" || c.Query("lon") == "" {
			return errBadRequest(c, "lat and lon are required")
		}
		lat := c.QueryFloat("lat", 0)
		lon := c.QueryFloat("lon", 0)
		radius := c.QueryFloat("radius", 500)
		limit := c.QueryInt("limit", 50)

		if !(domain.GeoPoint{Lat: lat, Lon: lon}).Valid() {
			return errBadRequest(c, "lat/lon out of range")
		}
		if radius <= 0 || radius > 10000 {
			return errBadRequest(c, "radius must be between 1 and 10000 meters")
		}
		categories, err := domain.ParseCategories(c.Query("types"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		pois, err := deps.POIs.FindNearby(c.UserContext(), lat, lon, radius, categories, limit)
		if err != nil {
			return errInternal(c, err)
		}
		c.Set("Cache-Control", "public, max-age=300")
		return c.JSON(pois)
	}
}

// GeoJSONHandler returns the records inside a box as a FeatureCollection.
func GeoJSONHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		box, err := requireBox(c)
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		categories, err := domain.ParseCategories(c.Query("types"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		pois, err := deps.POIs.ListInBounds(c.UserContext(), box, categories, c.QueryInt("limit", 0))
		if err != nil {
			return errInternal(c, err)
		}

		data, err := featureCollection(pois).MarshalJSON()
		if err != nil {
			return errInternal(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return c.Send(data)
	}
}

func featureCollection(pois []domain.POI) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range pois {
		f := geojson.NewFeature(orb.Point{p.Location.Lon, p.Location.Lat})
		f.ID = p.Key()
		f.Properties["name"] = p.Name
		f.Properties["category"] = string(p.Category)
		f.Properties["source"] = string(p.Source)
		f.Properties["source_id"] = p.SourceID
		fc.Append(f)
	}
	return fc
}

// GetPOIHandler returns a single record by ID.
func GetPOIHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return errBadRequest(c, "poi id is required")
		}
		poi, err := deps.POIs.GetByID(c.UserContext(), id)
		if errors.Is(err, postgres.ErrNotFound) {
			return errNotFound(c, "poi not found")
		}
		if err != nil {
			return errInternal(c, err)
		}
		return c.JSON(poi)
	}
}

// CategoriesHandler returns every known category with its record count.
func CategoriesHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		counts, err := deps.POIs.CategoryCounts(c.UserContext())
		if err != nil {
			return errInternal(c, err)
		}
		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(counts)
	}
}

type routeSummary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	Points   int                `json:"points"`
	Polyline string             `json:"polyline"`
	Bounds   domain.BoundingBox `json:"bounds"`
}

// AdjacentRouteHandler accepts a route as a GPX body or as JSON
// {"polyline": "...", "name": "..."} and returns the records near it.
func AdjacentRouteHandler(deps *Dependencies) fiber.Handler {
	type polylineBody struct {
		Polyline string `json:"polyline"`
		Name     string `json:"name"`
	}

	return func(c *fiber.Ctx) error {
		categories, err := domain.ParseCategories(c.Query("types"))
		if err != nil {
			return errBadRequest(c, err.Error())
		}
		tolerance := c.QueryFloat("tolerance", deps.Session.Tolerance)
		if tolerance <= 0 {
			tolerance = usecases.DefaultAdjacencyTolerance
		}
		if tolerance > 5000 {
			return errBadRequest(c, "tolerance must be at most 5000 meters")
		}

		var route *domain.Route
		if c.Is("json") {
			var body polylineBody
			if err := c.BodyParser(&body); err != nil {
				return errBadRequest(c, "invalid request body")
			}
			route, err = deps.Routes.DecodePolyline(body.Polyline, body.Name)
		} else {
			route, err = deps.Routes.ParseGPX(bytes.NewReader(c.Body()))
		}
		if errors.Is(err, usecases.ErrEmptyRoute) {
			return errUnprocessable(c, err.Error())
		}
		if err != nil {
			return errBadRequest(c, err.Error())
		}

		pois, err := deps.Routes.POIsAlongRoute(c.UserContext(), route, categories, tolerance)
		if err != nil {
			return errInternal(c, err)
		}

		bounds, _ := route.Extent()
		return c.JSON(fiber.Map{
			"route": routeSummary{
				ID:       route.ID,
				Name:     route.Name,
				Points:   len(route.Points),
				Polyline: deps.Routes.EncodePolyline(route),
				Bounds:   bounds,
			},
			"tolerance": tolerance,
			"pois":      pois,
		})
	}
}
