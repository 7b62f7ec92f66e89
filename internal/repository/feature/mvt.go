package feature

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	"golang.org/x/sync/singleflight"
)

// maxCoverTiles bounds how many source tiles one query may touch. Wider
// boxes are answered from a coarser source zoom.
const maxCoverTiles = 64

var gzipMagic = []byte{0x1f, 0x8b}

type MVTConfig struct {
	URLTemplate string
	Layer       string
	Zoom        int
	CacheSize   int
	Timeout     time.Duration
}

// MVTStore answers bounding-box queries from a remote vector tile source.
// Decoded tiles are kept in an LRU. Edges crossing source tile borders come
// back once per tile, clipped to it.
type MVTStore struct {
	cfg    MVTConfig
	client *http.Client
	tiles  gcache.Cache
	group  singleflight.Group
	logger logger.Logger
}

var _ Store = (*MVTStore)(nil)

func NewMVTStore(cfg MVTConfig, l logger.Logger) *MVTStore {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Zoom = min(max(cfg.Zoom, 0), 22)

	return &MVTStore{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		tiles:  gcache.New(cfg.CacheSize).LRU().Build(),
		logger: l,
	}
}

func (s *MVTStore) CountInBound(ctx context.Context, b orb.Bound) (int, error) {
	n := 0
	for _, err := range s.QueryBound(ctx, b) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

func (s *MVTStore) QueryBound(ctx context.Context, b orb.Bound) iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		for t := range s.cover(b) {
			rows, err := s.tile(ctx, t)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range rows {
				if !r.Bound().Intersects(b) {
					continue
				}
				if !yield(r, nil) {
					return
				}
			}
		}
	}
}

func (s *MVTStore) cover(b orb.Bound) maptile.Set {
	z := maptile.Zoom(s.cfg.Zoom)
	for {
		set := tilecover.Bound(b, z)
		if len(set) <= maxCoverTiles || z == 0 {
			return set
		}
		z--
	}
}

func (s *MVTStore) tile(ctx context.Context, t maptile.Tile) ([]*Row, error) {
	if v, err := s.tiles.Get(t); err == nil {
		return v.([]*Row), nil
	}

	// the fetch is shared by every caller of the tile, so it runs detached
	// from the first caller's cancellation and is bounded by the client timeout
	key := fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
	ch := s.group.DoChan(key, func() (any, error) {
		rows, err := s.fetch(context.WithoutCancel(ctx), t)
		if err != nil {
			return nil, err
		}
		if err := s.tiles.Set(t, rows); err != nil {
			s.logger.Warn("failed to cache vector tile", "tile", key, "error", err)
		}
		return rows, nil
	})

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]*Row), nil
	}
}

func (s *MVTStore) tileURL(t maptile.Tile) string {
	r := strings.NewReplacer(
		"{layer}", s.cfg.Layer,
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.Itoa(int(t.X)),
		"{y}", strconv.Itoa(int(t.Y)),
	)
	return r.Replace(s.cfg.URLTemplate)
}

func (s *MVTStore) fetch(ctx context.Context, t maptile.Tile) ([]*Row, error) {
	url := s.tileURL(t)
	s.logger.Debug("fetching vector tile", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vector tile: %w", err)
	}
	defer resp.Body.Close()

	// sparse sources answer 404 for tiles with no data
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("vector tile source returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vector tile: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	return s.decode(t, data)
}

func (s *MVTStore) decode(t maptile.Tile, data []byte) ([]*Row, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, gzipMagic) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode vector tile: %w", err)
	}

	layers.ProjectToWGS84(t)

	for _, layer := range layers {
		if layer.Name != s.cfg.Layer {
			continue
		}
		rows := make([]*Row, 0, len(layer.Features))
		skipped := 0
		for _, f := range layer.Features {
			r, err := RowFromProperties(f.ID, f.Geometry, f.Properties)
			if err != nil {
				skipped++
				continue
			}
			rows = append(rows, r)
		}
		if skipped > 0 {
			s.logger.Debug("skipped vector tile features", "z", t.Z, "x", t.X, "y", t.Y, "skipped", skipped)
		}
		return rows, nil
	}

	// encoders drop empty layers
	return nil, nil
}
