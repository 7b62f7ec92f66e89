package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, logger.Nop()), &calls
}

func TestTravelTimes(t *testing.T) {
	bodies := make(chan map[string]any, 4)
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies <- body
		fmt.Fprint(w, `{"request_id":{"rs_list_index":3,"city":"Toronto"},"edge_times":{"1":100,"2":200,"x":5}}`)
	})

	penalty := uint64(120)
	req := TravelTimesRequest{
		Latitude:            43.65,
		Longitude:           -79.38,
		Agencies:            []string{"TTC"},
		Modes:               []string{"bus", "subway"},
		StartTime:           47035,
		MaxSearchTime:       5400,
		TransferPenaltySecs: &penalty,
		PreviousRequestID:   json.RawMessage(`{"rs_list_index":2,"city":"Toronto"}`),
	}

	tt, err := c.TravelTimes(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, colormapper.RawTravelTimes{1: 100, 2: 200}, tt.Times)
	assert.JSONEq(t, `{"rs_list_index":3,"city":"Toronto"}`, string(tt.RequestID))

	got := <-bodies
	assert.Equal(t, 43.65, got["latitude"])
	assert.Equal(t, float64(47035), got["startTime"])
	assert.Equal(t, float64(5400), got["maxSearchTime"])
	assert.Equal(t, float64(120), got["transferPenaltySecs"])
	assert.Equal(t, map[string]any{"rs_list_index": float64(2), "city": "Toronto"}, got["previousRequestId"])

	// nearby origin rounds to the same key, and replacing a reply with
	// itself frees nothing
	req.Latitude += 0.00001
	req.PreviousRequestID = tt.RequestID
	again, err := c.TravelTimes(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, tt, again)
	assert.Equal(t, int32(1), calls.Load(), "second query served from the reply cache")

	req.StartTime++
	_, err = c.TravelTimes(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// freeingBackend hands out a new request id per query and frees the id sent
// as previousRequestId, like the routing backend does.
func freeingBackend(t *testing.T) (*Client, *atomic.Int32) {
	t.Helper()
	var (
		mu    sync.Mutex
		next  int
		freed = map[int]bool{}
	)
	type requestID struct {
		Index int `json:"rs_list_index"`
	}
	return newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch r.URL.Path {
		case "/hello/":
			var req struct {
				PreviousRequestID *requestID `json:"previousRequestId"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.PreviousRequestID != nil {
				freed[req.PreviousRequestID.Index] = true
			}
			next++
			fmt.Fprintf(w, `{"request_id":{"rs_list_index":%d},"edge_times":{"1":100}}`, next)
		case "/details/":
			var req struct {
				RequestID requestID `json:"request_id"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if freed[req.RequestID.Index] {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, "request id freed")
				return
			}
			fmt.Fprint(w, `{"details":[],"path":null}`)
		}
	})
}

func TestTravelTimesReselectedOriginGetsLiveRequestID(t *testing.T) {
	c, calls := freeingBackend(t)
	ctx := context.Background()

	a := TravelTimesRequest{Latitude: 55.75, Longitude: 37.61, StartTime: 47000, MaxSearchTime: 5400}
	b := TravelTimesRequest{Latitude: 59.93, Longitude: 30.33, StartTime: 47000, MaxSearchTime: 5400}

	first, err := c.TravelTimes(ctx, a)
	require.NoError(t, err)

	b.PreviousRequestID = first.RequestID
	second, err := c.TravelTimes(ctx, b)
	require.NoError(t, err)

	a.PreviousRequestID = second.RequestID
	third, err := c.TravelTimes(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load(), "the freed reply of the first origin is not reused")
	assert.JSONEq(t, `{"rs_list_index":3}`, string(third.RequestID))

	_, err = c.Details(ctx, third.RequestID, LatLng{Latitude: 55.76, Longitude: 37.62})
	require.NoError(t, err)

	_, err = c.Details(ctx, first.RequestID, LatLng{Latitude: 55.76, Longitude: 37.62})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "request id freed", se.Body)
}

func TestTravelTimesNoCity(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"No city found nearby"`)
	})

	_, err := c.TravelTimes(context.Background(), TravelTimesRequest{})
	assert.ErrorIs(t, err, ErrNoCity)
	assert.True(t, IsExpected(err))
	assert.False(t, IsCancellation(err))
}

func TestTravelTimesStatusError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "Invalid city\n")
	})

	_, err := c.TravelTimes(context.Background(), TravelTimesRequest{})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "Invalid city", se.Body)
	assert.True(t, IsExpected(err))
}

func TestTravelTimesUnexpectedFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	})

	_, err := c.TravelTimes(context.Background(), TravelTimesRequest{})
	require.Error(t, err)
	assert.False(t, IsExpected(err))
	assert.False(t, IsCancellation(err))
}

func TestDetails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/details/", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"latitude": 43.7, "longitude": -79.4}, body["latlng"])
		assert.Equal(t, float64(3), body["request_id"].(map[string]any)["rs_list_index"])

		fmt.Fprint(w, `{"details":[{"method":"Walking","time":10,"length":12.5}],
			"path":{"type":"Feature","geometry":{"type":"LineString","coordinates":[[-79.38,43.65],[-79.4,43.7]]},"properties":{}}}`)
	})

	d, err := c.Details(context.Background(), json.RawMessage(`{"rs_list_index":3}`), LatLng{Latitude: 43.7, Longitude: -79.4})
	require.NoError(t, err)
	require.Len(t, d.Details, 1)
	require.NotNil(t, d.Path)
	assert.Equal(t, "LineString", d.Path.Geometry.GeoJSONType())
}

func TestDetailsCancelled(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Details(ctx, json.RawMessage(`1`), LatLng{})
	assert.True(t, IsCancellation(err))
}

func TestAgencies(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agencies", r.URL.Path)
		fmt.Fprint(w, `[{"public_name":"TTC","path":"ttc","short_code":"TTC","city":"Toronto"}]`)
	})

	agencies, err := c.Agencies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Agency{{PublicName: "TTC", Path: "ttc", ShortCode: "TTC", City: "Toronto"}}, agencies)
}
