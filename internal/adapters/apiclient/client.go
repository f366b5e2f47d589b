// Package apiclient talks to a running API over HTTP so a session can sync
// against a remote server instead of an in-process RegionService.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/bikebuddy/server/internal/core/domain"
	"github.com/bikebuddy/server/internal/core/session"
)

// StatusError is a non-200 answer carrying the API error envelope.
type StatusError struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Client implements ports.RegionQuerier against GET /v1/pois/diff.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

// New creates a client for the API at baseURL, e.g. http://localhost:8080.
func New(baseURL string, timeout time.Duration) *Client {
	return newClient(baseURL, &fasthttp.Client{
		Name:                "bikebuddy-probe",
		MaxConnsPerHost:     4,
		ReadTimeout:         timeout,
		WriteTimeout:        timeout,
		MaxIdleConnDuration: 30 * time.Second,
	}, timeout)
}

func newClient(baseURL string, hc *fasthttp.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc, timeout: timeout}
}

// Diff asks the server which records changed between req.Previous and req.Box.
func (c *Client) Diff(ctx context.Context, req domain.RegionDiffRequest) (*domain.RegionDiff, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	addBox(args, "", req.Box)
	if req.Previous != nil {
		addBox(args, "prev_", *req.Previous)
	}

	var wire struct {
		Added   *[]domain.POI `json:"added"`
		Removed *[]domain.POI `json:"removed"`
	}
	if err := c.getJSON(ctx, "/v1/pois/diff?"+args.String(), &wire); err != nil {
		return nil, err
	}
	// The server always sends both arrays; a body without them would
	// otherwise be merged as an empty delta.
	if wire.Added == nil || wire.Removed == nil {
		return nil, fmt.Errorf("%w: diff body must carry both added and removed", session.ErrMalformedResponse)
	}
	return &domain.RegionDiff{Added: *wire.Added, Removed: *wire.Removed}, nil
}

// Categories returns the server's category counts.
func (c *Client) Categories(ctx context.Context) ([]domain.CategoryCount, error) {
	var counts []domain.CategoryCount
	if err := c.getJSON(ctx, "/v1/categories", &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}

	body := resp.Body()
	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		apiErr := &StatusError{}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Status == 0 {
			apiErr = &StatusError{Status: status}
		}
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w: %w", path, session.ErrMalformedResponse, err)
	}
	return nil
}

func addBox(args *fasthttp.Args, prefix string, b domain.BoundingBox) {
	args.Add(prefix+"south", strconv.FormatFloat(b.South, 'f', -1, 64))
	args.Add(prefix+"west", strconv.FormatFloat(b.West, 'f', -1, 64))
	args.Add(prefix+"north", strconv.FormatFloat(b.North, 'f', -1, 64))
	args.Add(prefix+"east", strconv.FormatFloat(b.East, 'f', -1, 64))
}
