package feature

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"iter"

	"github.com/jaennil/guide_helper/backend/isochrone/internal/colormapper"
	"github.com/jaennil/guide_helper/backend/isochrone/pkg/logger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const boundPredicate = `max_x >= ? AND min_x <= ? AND max_y >= ? AND min_y <= ?`

// SQLiteStore reads edges from a GeoPackage-style table with per-row
// bounding boxes and WKB geometry.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string, l logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{
		db:     db,
		logger: l,
	}

	err = s.runMigrations()
	if err != nil {
		db.Close()
		return nil, err
	}

	l.Info("sqlite feature store initialized", "path", path)

	return s, nil
}

func (s *SQLiteStore) runMigrations() error {
	goose.SetBaseFS(migrations)

	err := goose.SetDialect("sqlite3")
	if err != nil {
		return err
	}

	err = goose.Up(s.db, "migrations")
	if err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert upserts rows in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, rows []*Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (id, from_node, to_node, highway, u, min_x, min_y, max_x, max_y, geom)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		from_node = excluded.from_node,
		to_node = excluded.to_node,
		highway = excluded.highway,
		u = excluded.u,
		min_x = excluded.min_x,
		min_y = excluded.min_y,
		max_x = excluded.max_x,
		max_y = excluded.max_y,
		geom = excluded.geom`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		geom, err := wkb.Marshal(r.Geometry)
		if err != nil {
			return fmt.Errorf("failed to encode geometry of edge %d: %w", r.ID, err)
		}
		b := r.Bound()
		_, err = stmt.ExecContext(ctx,
			r.ID, int64(r.From), int64(r.To), r.Highway.String(), r.U,
			b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y(), geom,
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edges: %w", err)
	}

	s.logger.Debug("inserted edges", "count", len(rows))

	return nil
}

func (s *SQLiteStore) CountInBound(ctx context.Context, b orb.Bound) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM edges WHERE `+boundPredicate,
		b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) QueryBound(ctx context.Context, b orb.Bound) iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, from_node, to_node, highway, u, geom FROM edges WHERE `+boundPredicate,
			b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y(),
		)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query edges: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r        Row
				from, to int64
				highway  string
				geom     []byte
			)
			if err := rows.Scan(&r.ID, &from, &to, &highway, &r.U, &geom); err != nil {
				yield(nil, fmt.Errorf("failed to scan edge: %w", err))
				return
			}
			r.From = colormapper.NodeID(from)
			r.To = colormapper.NodeID(to)
			r.Highway = ParseRoadClass(highway)

			g, err := wkb.Unmarshal(geom)
			if err != nil {
				// bad geometry only costs this row
				s.logger.Warn("failed to decode edge geometry", "id", r.ID, "error", err)
				continue
			}
			switch v := g.(type) {
			case orb.MultiLineString:
				r.Geometry = v
			case orb.LineString:
				r.Geometry = orb.MultiLineString{v}
			default:
				s.logger.Warn("unexpected edge geometry", "id", r.ID, "type", g.GeoJSONType())
				continue
			}

			if !yield(&r, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate edges: %w", err))
		}
	}
}
