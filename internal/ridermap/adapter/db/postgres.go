package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rider-map/internal/ridermap/domain"
	"rider-map/pkg/logger"
)

// Querier is the part of pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var _ Querier = (*pgxpool.Pool)(nil)

// PostgresRiderRepository reads the rider snapshot straight from the
// backend database.
type PostgresRiderRepository struct {
	log logger.Logger
	db  Querier
}

func NewPostgresRiderRepository(log logger.Logger, db Querier) *PostgresRiderRepository {
	return &PostgresRiderRepository{log: log, db: db}
}

const riderLocationsQuery = `
	SELECT r.rider_id::text,
	       r.rider_latitude::text,
	       r.rider_longitude::text,
	       COALESCE(r.availability, ''),
	       u.id IS NOT NULL,
	       u.first_name,
	       u.last_name
	FROM rider_locations r
	LEFT JOIN users u ON u.id = r.user_id
	ORDER BY r.rider_id
`

// FetchRiderLocations returns every rider location row. Coordinates are read
// as text so bad values surface as invalid records rather than scan errors.
func (r *PostgresRiderRepository) FetchRiderLocations(ctx context.Context) ([]domain.RiderLocation, error) {
	rows, err := r.db.Query(ctx, riderLocationsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query rider locations: %w", err)
	}
	defer rows.Close()

	var riders []domain.RiderLocation
	for rows.Next() {
		var (
			id, availability    string
			lat, lng            *string
			hasUser             bool
			firstName, lastName *string
		)
		if err := rows.Scan(&id, &lat, &lng, &availability, &hasUser, &firstName, &lastName); err != nil {
			return nil, fmt.Errorf("failed to scan rider location: %w", err)
		}

		rider := domain.RiderLocation{
			RiderID:      domain.RiderID(id),
			Latitude:     domain.Coordinate(deref(lat)),
			Longitude:    domain.Coordinate(deref(lng)),
			Availability: domain.Availability(availability),
		}
		if hasUser {
			rider.User = &domain.RiderUser{FirstName: deref(firstName), LastName: deref(lastName)}
		}
		riders = append(riders, rider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rider locations: %w", err)
	}

	if riders == nil {
		riders = []domain.RiderLocation{}
	}
	return riders, nil
}

const requirementsQuery = `
	SELECT rider_id::text, COALESCE(verification_status, '')
	FROM rider_requirements
`

// FetchRequirements returns every rider application.
func (r *PostgresRiderRepository) FetchRequirements(ctx context.Context) ([]domain.RiderApplication, error) {
	rows, err := r.db.Query(ctx, requirementsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query rider requirements: %w", err)
	}

	apps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RiderApplication, error) {
		var id, status string
		if err := row.Scan(&id, &status); err != nil {
			return domain.RiderApplication{}, err
		}
		return domain.RiderApplication{RiderID: domain.RiderID(id), VerificationStatus: status}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read rider requirements: %w", err)
	}
	return apps, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
