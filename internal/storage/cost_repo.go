package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
)

// CostRepo is the append-only Cost/Latency Ledger persistence (spec §4.10).
type CostRepo struct {
	db *DB
}

// NewCostRepo constructs a CostRepo over db.
func NewCostRepo(db *DB) *CostRepo { return &CostRepo{db: db} }

// Append writes one CostRecord. Never updates or deletes existing rows.
func (r *CostRepo) Append(ctx context.Context, rec core.CostRecord) error {
	var metaJSON []byte
	if rec.Metadata != nil {
		var err error
		metaJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return core.ErrInternal("", "marshaling cost record metadata").WithCause(err)
		}
	}
	day := rec.Timestamp.Format("2006-01-02")
	return r.db.retryWrite(ctx, "append cost record", func() error {
		_, err := r.db.db.ExecContext(ctx, `
			INSERT INTO cost_records (day, timestamp, operation, duration_ms, tokens_in, tokens_out, virtual_cost_usd, metadata_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, day, rec.Timestamp, rec.Operation, rec.DurationMs, rec.TokensIn, rec.TokensOut, rec.VirtualCostUsd, nullString(metaJSON))
		if err != nil {
			return core.ErrInternal("", "inserting cost record").WithCause(err)
		}
		return nil
	})
}

// ForDay returns every record recorded on the given day (YYYY-MM-DD, UTC).
func (r *CostRepo) ForDay(ctx context.Context, day string) ([]core.CostRecord, error) {
	rows, err := r.db.readDB.QueryContext(ctx, `
		SELECT timestamp, operation, duration_ms, tokens_in, tokens_out, virtual_cost_usd, metadata_json
		FROM cost_records WHERE day = ? ORDER BY timestamp
	`, day)
	if err != nil {
		return nil, core.ErrInternal("", "querying cost records").WithCause(err)
	}
	defer rows.Close()

	var out []core.CostRecord
	for rows.Next() {
		var rec core.CostRecord
		var ts time.Time
		var metaJSON *string
		if err := rows.Scan(&ts, &rec.Operation, &rec.DurationMs, &rec.TokensIn, &rec.TokensOut, &rec.VirtualCostUsd, &metaJSON); err != nil {
			return nil, core.ErrInternal("", "scanning cost record").WithCause(err)
		}
		rec.Timestamp = ts
		if metaJSON != nil && *metaJSON != "" {
			if err := json.Unmarshal([]byte(*metaJSON), &rec.Metadata); err != nil {
				return nil, core.ErrInternal("", "unmarshaling cost record metadata").WithCause(err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
