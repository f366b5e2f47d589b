package http

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/bikebuddy/server/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	poiType := graphql.NewObject(graphql.ObjectConfig{
		Name: "POI",
		Fields: graphql.Fields{
			"id":        &graphql.Field{Type: graphql.String},
			"source_id": &graphql.Field{Type: graphql.String},
			"source":    &graphql.Field{Type: graphql.String},
			"category":  &graphql.Field{Type: graphql.String},
			"name":      &graphql.Field{Type: graphql.String},
			"location":  &graphql.Field{Type: geoPointType},
		},
	})

	regionDiffType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RegionDiff",
		Fields: graphql.Fields{
			"added":   &graphql.Field{Type: graphql.NewList(poiType)},
			"removed": &graphql.Field{Type: graphql.NewList(poiType)},
		},
	})

	categoryCountType := graphql.NewObject(graphql.ObjectConfig{
		Name: "CategoryCount",
		Fields: graphql.Fields{
			"category": &graphql.Field{Type: graphql.String},
			"count":    &graphql.Field{Type: graphql.Int},
		},
	})

	boxArgs := func(prefix string, required bool) graphql.FieldConfigArgument {
		t := graphql.Input(graphql.Float)
		if required {
			t = graphql.NewNonNull(graphql.Float)
		}
		return graphql.FieldConfigArgument{
			prefix + "south": &graphql.ArgumentConfig{Type: t},
			prefix + "west":  &graphql.ArgumentConfig{Type: t},
			prefix + "north": &graphql.ArgumentConfig{Type: t},
			prefix + "east":  &graphql.ArgumentConfig{Type: t},
		}
	}
	typesArg := &graphql.ArgumentConfig{Type: graphql.NewList(graphql.String)}

	poisArgs := boxArgs("", true)
	poisArgs["types"] = typesArg
	poisArgs["limit"] = &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 500}

	diffArgs := boxArgs("", true)
	for k, v := range boxArgs("prev_", false) {
		diffArgs[k] = v
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"pois": &graphql.Field{
				Type:        graphql.NewList(poiType),
				Description: "Points of interest inside a bounding box",
				Args:        poisArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					box, _, err := boxFromArgs(p.Args, "")
					if err != nil {
						return nil, err
					}
					categories, err := categoriesFromArgs(p.Args)
					if err != nil {
						return nil, err
					}
					pois, err := deps.POIs.ListInBounds(p.Context, box, categories, p.Args["limit"].(int))
					if err != nil {
						return nil, err
					}
					return poiMaps(pois), nil
				},
			},
			"poi": &graphql.Field{
				Type:        poiType,
				Description: "Get a point of interest by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					poi, err := deps.POIs.GetByID(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return poiMap(*poi), nil
				},
			},
			"regionDiff": &graphql.Field{
				Type:        regionDiffType,
				Description: "Records that entered and left the view between two boxes",
				Args:        diffArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					box, _, err := boxFromArgs(p.Args, "")
					if err != nil {
						return nil, err
					}
					req := domain.RegionDiffRequest{Box: box}
					prev, ok, err := boxFromArgs(p.Args, "prev_")
					if err != nil {
						return nil, err
					}
					if ok {
						req.Previous = &prev
					}
					diff, err := deps.Regions.Diff(p.Context, req)
					if err != nil {
						return nil, err
					}
					return map[string]interface{}{
						"added":   poiMaps(diff.Added),
						"removed": poiMaps(diff.Removed),
					}, nil
				},
			},
			"nearby": &graphql.Field{
				Type:        graphql.NewList(poiType),
				Description: "Points of interest near a location, closest first",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 500.0},
					"types":  typesArg,
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 50},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					categories, err := categoriesFromArgs(p.Args)
					if err != nil {
						return nil, err
					}
					pois, err := deps.POIs.FindNearby(p.Context,
						p.Args["lat"].(float64), p.Args["lon"].(float64),
						p.Args["radius"].(float64), categories, p.Args["limit"].(int))
					if err != nil {
						return nil, err
					}
					return poiMaps(pois), nil
				},
			},
			"categories": &graphql.Field{
				Type:        graphql.NewList(categoryCountType),
				Description: "Known categories with their record counts",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					counts, err := deps.POIs.CategoryCounts(p.Context)
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, len(counts))
					for i, c := range counts {
						out[i] = map[string]interface{}{"category": string(c.Category), "count": c.Count}
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// boxFromArgs reads a box from <prefix>south/west/north/east. ok is false
// when none of the edges is set.
func boxFromArgs(args map[string]interface{}, prefix string) (box domain.BoundingBox, ok bool, err error) {
	names := [4]string{prefix + "south", prefix + "west", prefix + "north", prefix + "east"}
	dst := [4]*float64{&box.South, &box.West, &box.North, &box.East}

	set := 0
	for i, n := range names {
		if v, present := args[n].(float64); present {
			*dst[i] = v
			set++
		}
	}
	switch set {
	case 0:
		return box, false, nil
	case len(names):
	default:
		return box, false, fmt.Errorf("%ssouth, %swest, %snorth and %seast must be given together", prefix, prefix, prefix, prefix)
	}
	if err := box.Validate(); err != nil {
		return box, false, err
	}
	return box, true, nil
}

func categoriesFromArgs(args map[string]interface{}) ([]domain.Category, error) {
	raw, _ := args["types"].([]interface{})
	out := make([]domain.Category, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			return nil, errors.New("types must be strings")
		}
		c, err := domain.ParseCategory(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func poiMap(p domain.POI) map[string]interface{} {
	return map[string]interface{}{
		"id":        p.Key(),
		"source_id": p.SourceID,
		"source":    string(p.Source),
		"category":  string(p.Category),
		"name":      p.Name,
		"location":  map[string]interface{}{"lat": p.Location.Lat, "lon": p.Location.Lon},
	}
}

func poiMaps(pois []domain.POI) []map[string]interface{} {
	out := make([]map[string]interface{}, len(pois))
	for i, p := range pois {
		out[i] = poiMap(p)
	}
	return out
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Query == "" {
			return errBadRequest(c, "query is required")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
