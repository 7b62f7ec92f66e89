// Package routing talks to the routing backend that computes travel times
// and route details.
package routing

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/metrics"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/telemetry"
	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	endpointTravelTimes = "travel_times"
	endpointDetails     = "details"
	endpointAgencies    = "agencies"
)

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	ReplyCacheSize int
}

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type TravelTimesRequest struct {
	Latitude            float64         `json:"latitude"`
	Longitude           float64         `json:"longitude"`
	Agencies            []string        `json:"agencies"`
	Modes               []string        `json:"modes"`
	StartTime           uint64          `json:"startTime"`
	MaxSearchTime       float64         `json:"maxSearchTime"`
	TransferPenaltySecs *uint64         `json:"transferPenaltySecs,omitempty"`
	PreviousRequestID   json.RawMessage `json:"previousRequestId,omitempty"`
}

type TravelTimes struct {
	RequestID json.RawMessage
	Times     colormapper.RawTravelTimes
}

type travelTimesReply struct {
	RequestID json.RawMessage    `json:"request_id"`
	EdgeTimes map[string]float64 `json:"edge_times"`
}

type detailsRequest struct {
	RequestID json.RawMessage `json:"request_id"`
	LatLng    LatLng          `json:"latlng"`
}

type Details struct {
	Details []json.RawMessage `json:"details"`
	Path    *geojson.Feature  `json:"path"`
}

type Agency struct {
	PublicName string `json:"public_name"`
	Path       string `json:"path"`
	ShortCode  string `json:"short_code"`
	City       string `json:"city"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	replies    gcache.Cache
	logger     logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	size := cfg.ReplyCacheSize
	if size <= 0 {
		size = 15
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		replies: gcache.New(size).LRU().Build(),
		logger:  l,
	}
}

// TravelTimes asks the backend for the travel time to every reachable node.
// Replies are memoized by rounded origin and query parameters. The backend
// frees the state of PreviousRequestID, so a memoized reply is served only
// when it is the one being replaced, and replies holding a freed id are
// dropped.
func (c *Client) TravelTimes(ctx context.Context, req TravelTimesRequest) (*TravelTimes, error) {
	key := replyKey(req)
	if v, err := c.replies.Get(key); err == nil {
		tt := v.(*TravelTimes)
		if len(req.PreviousRequestID) == 0 || bytes.Equal(tt.RequestID, req.PreviousRequestID) {
			c.logger.Debug("travel times served from reply cache", "key", key)
			return tt, nil
		}
	}
	c.forget(req.PreviousRequestID)

	var reply json.RawMessage
	if err := c.post(ctx, endpointTravelTimes, "/hello/", req, &reply); err != nil {
		return nil, err
	}

	// the backend answers with a bare JSON string when no city matches
	var reason string
	if json.Unmarshal(reply, &reason) == nil {
		if strings.EqualFold(reason, ErrNoCity.Error()) {
			return nil, ErrNoCity
		}
		return nil, &StatusError{Status: http.StatusOK, Body: reason}
	}

	var r travelTimesReply
	if err := json.Unmarshal(reply, &r); err != nil {
		return nil, fmt.Errorf("failed to decode travel times: %w", err)
	}

	times := make(colormapper.RawTravelTimes, len(r.EdgeTimes))
	for k, v := range r.EdgeTimes {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			c.logger.Warn("skipping travel time with bad node id", "id", k)
			continue
		}
		times[colormapper.NodeID(id)] = v
	}

	tt := &TravelTimes{
		RequestID: r.RequestID,
		Times:     times,
	}
	if err := c.replies.Set(key, tt); err != nil {
		c.logger.Warn("failed to memoize travel times", "error", err)
	}

	c.logger.Info("fetched travel times", "nodes", len(times))

	return tt, nil
}

// forget drops memoized replies whose request id the backend is about to free.
func (c *Client) forget(requestID json.RawMessage) {
	if len(requestID) == 0 {
		return
	}
	for k, v := range c.replies.GetALL(false) {
		if bytes.Equal(v.(*TravelTimes).RequestID, requestID) {
			c.replies.Remove(k)
		}
	}
}

// Details fetches the route from the origin of requestID to at.
func (c *Client) Details(ctx context.Context, requestID json.RawMessage, at LatLng) (*Details, error) {
	var d Details
	err := c.post(ctx, endpointDetails, "/details/", detailsRequest{RequestID: requestID, LatLng: at}, &d)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) Agencies(ctx context.Context) ([]Agency, error) {
	var agencies []Agency
	if err := c.do(ctx, endpointAgencies, http.MethodGet, "/agencies", nil, &agencies); err != nil {
		return nil, err
	}
	return agencies, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, endpoint, http.MethodPost, path, data, out)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, body []byte, out any) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "routing."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.BackendLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			metrics.BackendErrors.WithLabelValues(endpoint, errorKind(err)).Inc()
		}
	}()

	url := c.baseURL + path
	span.SetAttributes(attribute.String("http.url", url))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("routing request", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to reach routing backend: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("failed to read routing reply: %w", err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode routing reply: %w", err)
	}

	return nil
}

func errorKind(err error) string {
	switch {
	case IsCancellation(err):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsExpected(err):
		return "expected"
	}
	var se *StatusError
	if errors.As(err, &se) {
		return "status"
	}
	return "transport"
}

func roundForKey(v float64) uint64 {
	return uint64(int64(math.Round(v * 10000)))
}

func replyKey(req TravelTimesRequest) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}

	writeU64(roundForKey(req.Latitude))
	writeU64(roundForKey(req.Longitude))
	h.Write([]byte("AGENCY"))
	for _, a := range req.Agencies {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	h.Write([]byte("MODE"))
	for _, m := range req.Modes {
		h.Write([]byte(m))
		h.Write([]byte{0})
	}
	writeU64(req.StartTime)
	writeU64(math.Float64bits(req.MaxSearchTime))
	if req.TransferPenaltySecs != nil {
		writeU64(*req.TransferPenaltySecs)
	}
	return h.Sum64()
}
