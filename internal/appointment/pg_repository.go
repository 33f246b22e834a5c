package appointment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository keeps each store generation as the full contents of a table.
// Saving rewrites the table inside one transaction, so a reader sees either
// the old or the new generation and never a mix.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS appointments (
	seq                 INTEGER PRIMARY KEY,
	id                  TEXT NOT NULL UNIQUE,
	patient_id          INTEGER NOT NULL,
	provider_id         TEXT NOT NULL,
	appt_date           TEXT NOT NULL,
	appt_time           TEXT NOT NULL,
	status              TEXT NOT NULL,
	service_type        TEXT,
	notes               TEXT,
	medicines           TEXT,
	quantities          TEXT,
	prescription_status TEXT
);

CREATE TABLE IF NOT EXISTS slot_holds (
	seq         INTEGER PRIMARY KEY,
	provider_id TEXT NOT NULL,
	hold_date   TEXT NOT NULL,
	hold_time   TEXT NOT NULL
);
`

func (r *PgRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Columns are the store line fields, so rows and lines go through the same parser.
var appointmentColumns = []string{
	"seq", "id", "patient_id", "provider_id", "appt_date", "appt_time", "status",
	"service_type", "notes", "medicines", "quantities", "prescription_status",
}

var holdColumns = []string{"seq", "provider_id", "hold_date", "hold_time"}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		id, providerID, date, at, status string
		patientID                        int
		outcome                          [5]*string
	)
	err := row.Scan(&id, &patientID, &providerID, &date, &at, &status,
		&outcome[0], &outcome[1], &outcome[2], &outcome[3], &outcome[4])
	if err != nil {
		return Record{}, err
	}

	fields := []string{id, strconv.Itoa(patientID), providerID, date, at, status}
	if outcome[0] != nil {
		for _, f := range outcome {
			fields = append(fields, deref(f))
		}
	}
	r, err := parseRecordFields(fields)
	if err != nil {
		return Record{}, fmt.Errorf("appointment %s: %w", id, err)
	}
	return r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *PgRepository) Load(ctx context.Context) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, provider_id, appt_date, appt_time, status,
		       service_type, notes, medicines, quantities, prescription_status
		FROM appointments
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PgRepository) Save(ctx context.Context, records []Record) error {
	rows := make([][]any, 0, len(records))
	for i, rec := range records {
		fields := recordFields(rec)
		row := []any{i, fields[0], rec.PatientID, fields[2], fields[3], fields[4], fields[5]}
		if len(fields) == completedFieldCount {
			for _, f := range fields[baseFieldCount:] {
				row = append(row, f)
			}
		} else {
			row = append(row, nil, nil, nil, nil, nil)
		}
		rows = append(rows, row)
	}
	return r.replaceTable(ctx, "appointments", appointmentColumns, rows)
}

func (r *PgRepository) LoadHolds(ctx context.Context) ([]SlotKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, hold_date, hold_time
		FROM slot_holds
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("query slot holds: %w", err)
	}
	defer rows.Close()

	var out []SlotKey
	for rows.Next() {
		var providerID, date, at string
		if err := rows.Scan(&providerID, &date, &at); err != nil {
			return nil, err
		}
		k, err := parseHoldFields([]string{providerID, date, at, holdMarker})
		if err != nil {
			return nil, fmt.Errorf("slot hold %s %s %s: %w", providerID, date, at, err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *PgRepository) SaveHolds(ctx context.Context, holds []SlotKey) error {
	rows := make([][]any, 0, len(holds))
	for i, k := range holds {
		rows = append(rows, []any{i, k.ProviderID, k.Date.String(), k.Time.String()})
	}
	return r.replaceTable(ctx, "slot_holds", holdColumns, rows)
}

func (r *PgRepository) replaceTable(ctx context.Context, table string, columns []string, rows [][]any) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Concurrent rewrites of the same table queue here.
	if _, err := tx.Exec(ctx, "LOCK TABLE "+pgx.Identifier{table}.Sanitize()+" IN EXCLUSIVE MODE"); err != nil {
		return fmt.Errorf("lock %s: %w", table, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM "+pgx.Identifier{table}.Sanitize()); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy %s (%s): %w", table, strings.Join(columns, ","), err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copy %s: wrote %d of %d rows", table, n, len(rows))
		}
	}
	return tx.Commit(ctx)
}
