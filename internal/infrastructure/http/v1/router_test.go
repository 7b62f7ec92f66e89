package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/colorramp"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/dto"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/interaction"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/render"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/repository/feature"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/routing"
	"github.com/jaennil/guide_helper/backend/isochrone/internal/usecase"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/config"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var moscow = orb.Point{37.6173, 55.7558}

// fakeBackend answers like the routing backend. Latitude 1 is an invalid
// city and latitude 2 an upstream failure.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hello/", func(w http.ResponseWriter, r *http.Request) {
		var req routing.TravelTimesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.Latitude {
		case 1:
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "Invalid city")
		case 2:
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "upstream exploded")
		default:
			fmt.Fprint(w, `{"request_id":{"rs_list_index":1},"edge_times":{"1":47100,"2":47200}}`)
		}
	})
	mux.HandleFunc("/details/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"details":[{"method":"Walking"}],
			"path":{"type":"Feature","geometry":{"type":"LineString","coordinates":[[37.6,55.75],[37.61,55.75]]},"properties":{}}}`)
	})
	mux.HandleFunc("/agencies", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"public_name":"Mosgortrans","path":"mgt","short_code":"MGT","city":"Moscow"}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	l := logger.Nop()

	store := feature.NewMemoryStore([]*feature.Row{{
		ID:       10,
		From:     1,
		To:       2,
		Highway:  feature.RoadPrimary,
		Geometry: orb.MultiLineString{{{37.60, 55.7558}, {37.63, 55.7558}}},
	}}, 0.01)

	client := routing.NewClient(routing.Config{BaseURL: fakeBackend(t).URL, Timeout: 5 * time.Second}, l)
	colors := colormapper.New(colorramp.Default())
	renderer := render.NewRenderer(store, render.Config{
		TileSize:    256,
		LineWidth:   4,
		MaxFeatures: 1000,
		MarginPx:    8,
	}, l)
	tiles := usecase.NewTileUseCase(cache.NewMapCache(), renderer, colors, l)
	hover := interaction.NewController(store, colors, client, interaction.Config{
		TileSize:    256,
		LineWidth:   4,
		HitBufferPx: 3,
	}, l)
	session := usecase.NewSession(colors, tiles, client, hover, usecase.SessionConfig{
		DefaultDuration: 90 * time.Minute,
		LayerRetryDelay: time.Millisecond,
	}, l)

	h := handler.NewHandler(validator.New(), tiles, session, client)
	return NewRouter(h, l, &config.Config{CORS: config.CORS{AllowedOrigins: []string{"*"}}})
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthz(t *testing.T) {
	w, _ := do(t, newTestRouter(t), http.MethodGet, "/api/v1/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestRequestID(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/api/v1/healthz", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), 36, "a fresh uuid is assigned")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/healthz", nil)
	req.Header.Set("X-Request-ID", "client-7")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "client-7", w.Header().Get("X-Request-ID"))
}

func TestTile(t *testing.T) {
	r := newTestRouter(t)
	tile := maptile.At(moscow, 12)
	path := fmt.Sprintf("/api/v1/tile/%d/%d/%d", tile.Z, tile.X, tile.Y)

	w, _ := do(t, r, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "render", w.Header().Get("X-Tile-Source"))
	size := w.Body.Len()

	w, _ = do(t, r, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cache", w.Header().Get("X-Tile-Source"))
	assert.Equal(t, size, w.Body.Len())

	w, env := do(t, r, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats dto.CacheStatsResponse
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, dto.CacheStatsResponse{TileCount: 1, TotalSizeBytes: int64(size)}, stats)
}

func TestTileBadRequest(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/api/v1/tile/1/a/0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"x should be integer"}`, w.Body.String())

	w, env := do(t, r, http.MethodGet, "/api/v1/tile/1/5/0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)
}

func TestNotReady(t *testing.T) {
	r := newTestRouter(t)

	w, _ := do(t, r, http.MethodGet, "/api/v1/legend", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/hover", `{"latitude":55.7558,"longitude":37.6173,"zoom":14}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/window", `{"duration_seconds":3600}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOriginFlow(t *testing.T) {
	r := newTestRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/origin", `{"latitude":55.75,"longitude":37.61,"agencies":["MGT"],"modes":["bus"],"start_time":47000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)
	var origin struct {
		Generation uint64             `json:"generation"`
		Nodes      int                `json:"nodes"`
		Colored    int                `json:"colored"`
		Window     colormapper.Window `json:"window"`
		State      string             `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &origin))
	assert.Equal(t, uint64(1), origin.Generation)
	assert.Equal(t, 2, origin.Nodes)
	assert.Equal(t, "ready", origin.State)
	assert.Equal(t, colormapper.Window{Min: 47100, Max: 52500}, origin.Window)

	w, env = do(t, r, http.MethodPost, "/api/v1/hover", `{"latitude":55.7558,"longitude":37.6173,"zoom":14,"click":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var hover struct {
		Hit  interaction.Hit `json:"hit"`
		Path json.RawMessage `json:"path"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hover))
	assert.Equal(t, int64(10), hover.Hit.FeatureID)
	assert.True(t, hover.Hit.Reached)
	assert.Equal(t, "13:05:50", hover.Hit.Clock)
	assert.NotEmpty(t, hover.Path)

	w, env = do(t, r, http.MethodGet, "/api/v1/legend", "")
	require.Equal(t, http.StatusOK, w.Code)
	var legend usecase.Legend
	require.NoError(t, json.Unmarshal(env.Data, &legend))
	assert.Len(t, legend.Stops, 11)
	require.NotNil(t, legend.Hover)

	w, _ = do(t, r, http.MethodDelete, "/api/v1/hover", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env = do(t, r, http.MethodPut, "/api/v1/window", `{"duration_seconds":3600}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &origin))
	assert.Equal(t, uint64(2), origin.Generation)
	assert.Equal(t, 47100.0+3600, origin.Window.Max)
}

func TestOriginValidation(t *testing.T) {
	r := newTestRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/origin", `{"latitude":100,"longitude":37.61}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, env.Success)

	w, _ = do(t, r, http.MethodPost, "/api/v1/origin", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/v1/window", `{"duration_seconds":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOriginBackendErrors(t *testing.T) {
	r := newTestRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/origin", `{"latitude":1,"longitude":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, env.Message, "Invalid city")

	w, _ = do(t, r, http.MethodPost, "/api/v1/origin", `{"latitude":2,"longitude":1}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAgencies(t *testing.T) {
	w, env := do(t, newTestRouter(t), http.MethodGet, "/api/v1/agencies", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"public_name":"Mosgortrans","path":"mgt","short_code":"MGT","city":"Moscow"}]`, string(env.Data))
}

func TestMetrics(t *testing.T) {
	w, _ := do(t, newTestRouter(t), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "isochrone_tile_requests_total")
}
