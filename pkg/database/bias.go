package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetBiasStat returns modelID's current EWMA deviation and sample count,
// or (0, 0, nil) if no row exists yet.
func (c *Client) GetBiasStat(ctx context.Context, modelID string) (ewma float64, sampleCount int64, err error) {
	err = c.Pool.QueryRow(ctx,
		`SELECT ewma_deviation, sample_count FROM bias_reviewer_stats WHERE reviewer_model_id = $1`,
		modelID,
	).Scan(&ewma, &sampleCount)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to query bias stat: %w", err)
	}
	return ewma, sampleCount, nil
}

// UpsertBiasStat writes modelID's updated EWMA deviation and sample count.
func (c *Client) UpsertBiasStat(ctx context.Context, modelID string, ewma float64, sampleCount int64) error {
	_, err := c.Pool.Exec(ctx,
		`INSERT INTO bias_reviewer_stats (reviewer_model_id, ewma_deviation, sample_count, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (reviewer_model_id) DO UPDATE SET ewma_deviation = $2, sample_count = $3, updated_at = now()`,
		modelID, ewma, sampleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert bias stat: %w", err)
	}
	return nil
}

// ListBiasStats returns every tracked reviewer's current EWMA deviation.
func (c *Client) ListBiasStats(ctx context.Context) (map[string]float64, error) {
	rows, err := c.Pool.Query(ctx, `SELECT reviewer_model_id, ewma_deviation FROM bias_reviewer_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bias stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var modelID string
		var ewma float64
		if err := rows.Scan(&modelID, &ewma); err != nil {
			return nil, fmt.Errorf("failed to scan bias stat: %w", err)
		}
		out[modelID] = ewma
	}
	return out, rows.Err()
}
