package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tripshare/dispatch/internal/models"
)

// PostgresStore persists rides in Postgres. Origin and destination are stored
// twice: as raw lat/lon columns and as PostGIS points for spatial queries.
// The compare-and-set transitions ride on single UPDATE statements guarded by
// the current status; row-level locking in the database linearizes racing
// callers across any number of API instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

const rideColumns = `id, rider_id, COALESCE(driver_id, ''), origin_text, destination_text,
	origin_lat, origin_lon, dest_lat, dest_lon,
	distance_km, duration_min, COALESCE(path_geometry, 'null'::jsonb), fare, status,
	created_at, assigned_at, completed_at`

func (p *PostgresStore) Create(ctx context.Context, ride *models.Ride) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO rides (
			rider_id, origin_text, destination_text,
			origin_lat, origin_lon, dest_lat, dest_lon,
			origin_geom, dest_geom,
			distance_km, duration_min, path_geometry, fare, status
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			ST_SetSRID(ST_MakePoint($5, $4), 4326),
			ST_SetSRID(ST_MakePoint($7, $6), 4326),
			$8, $9, $10, $11, 'pending'
		)
		RETURNING id, created_at`,
		ride.RiderID, ride.OriginText, ride.DestText,
		ride.Origin.Lat, ride.Origin.Lon, ride.Destination.Lat, ride.Destination.Lon,
		ride.DistanceKm, ride.DurationMin, nullableJSON(ride.PathGeometry), ride.Fare,
	)
	if err := row.Scan(&ride.ID, &ride.CreatedAt); err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	ride.Status = models.StatusPending
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

// TryAssign is the accept-race primitive: the status predicate in the WHERE
// clause means at most one concurrent caller sees a row updated.
func (p *PostgresStore) TryAssign(ctx context.Context, rideID int64, driverID string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = 'assigned', driver_id = $1, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
		RETURNING `+rideColumns,
		driverID, rideID,
	)
	ride, err := scanRide(row)
	if errors.Is(err, ErrRideNotFound) {
		// Already taken, already finished, or never existed: all the same
		// answer for the losing driver.
		return nil, ErrRideUnavailable
	}
	return ride, err
}

func (p *PostgresStore) Complete(ctx context.Context, rideID int64) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = 'completed', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'assigned'
		RETURNING `+rideColumns,
		rideID,
	)
	ride, err := scanRide(row)
	if errors.Is(err, ErrRideNotFound) {
		// Distinguish a missing ride from one that is not assignable.
		var exists bool
		if err2 := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, rideID,
		).Scan(&exists); err2 != nil {
			return nil, fmt.Errorf("complete ride: %w", err2)
		}
		if exists {
			return nil, ErrRideUnavailable
		}
		return nil, ErrRideNotFound
	}
	return ride, err
}

func (p *PostgresStore) ListForParty(ctx context.Context, userID string) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+`
		FROM rides
		WHERE rider_id = $1 OR driver_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		userID, HistoryPageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("list rides: %w", err)
	}
	defer rows.Close()

	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var geom []byte
	var assignedAt, completedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.RiderID, &r.DriverID, &r.OriginText, &r.DestText,
		&r.Origin.Lat, &r.Origin.Lon, &r.Destination.Lat, &r.Destination.Lon,
		&r.DistanceKm, &r.DurationMin, &geom, &r.Fare, &r.Status,
		&r.CreatedAt, &assignedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}
	if string(geom) != "null" {
		r.PathGeometry = geom
	}
	if assignedAt.Valid {
		t := assignedAt.Time
		r.AssignedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
