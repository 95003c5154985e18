package fx

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/ledgercore/internal/platform/db"
)

// PGRepository stores rates in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetRate loads the rate of day.
func (r *PGRepository) GetRate(ctx context.Context, day time.Time) (Rate, bool, error) {
	var rate Rate
	err := r.pool.QueryRow(ctx, `SELECT day, buy, sell, source FROM exchange_rates WHERE day = $1`, day).
		Scan(&rate.Day, &rate.Buy, &rate.Sell, &rate.Source)
	if db.IsNoRows(err) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, err
	}
	return rate, true, nil
}

// InsertRate stores rate unless the day already has one.
func (r *PGRepository) InsertRate(ctx context.Context, rate Rate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO exchange_rates (day, buy, sell, source) VALUES ($1, $2, $3, $4)
		ON CONFLICT (day) DO NOTHING`, rate.Day, rate.Buy, rate.Sell, rate.Source)
	return err
}
