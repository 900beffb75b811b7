package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/timeutil"
)

type ReadingSQLite struct {
	db *sql.DB
}

func NewReadingSQLite(db *sql.DB) *ReadingSQLite { return &ReadingSQLite{db: db} }

var _ ReadingRepo = (*ReadingSQLite)(nil)

const insertReadingSQL = `
		INSERT INTO sensor_data (temperature, humidity, distance, manual_override, pid_output, encoder, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

const selectReadingsSQL = `SELECT id, temperature, humidity, distance, manual_override, pid_output, encoder, CAST(timestamp AS TEXT) FROM sensor_data`

// Append inserts a reading. A zero Timestamp is set to now; the stored value
// is always the canonical UTC text form.
func (r *ReadingSQLite) Append(ctx context.Context, rd models.Reading) (int64, error) {
	ts := rd.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := r.db.ExecContext(ctx, insertReadingSQL,
		rd.Temperature,
		rd.Humidity,
		rd.Distance,
		rd.ManualOverride,
		rd.ActuatorOutput,
		rd.Position,
		timeutil.Format(ts),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id for reading: %w", err)
	}
	return id, nil
}

// List returns readings filtered by [from, to] (inclusive), ordered ASC.
func (r *ReadingSQLite) List(ctx context.Context, from, to time.Time) ([]models.Reading, error) {
	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, timeutil.FormatLowerBound(from))
	}
	if !to.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, timeutil.Format(to))
	}

	q := selectReadingsSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY timestamp ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	out := make([]models.Reading, 0, 64)
	for rows.Next() {
		var (
			rd       models.Reading
			temp     sql.NullFloat64
			hum      sql.NullFloat64
			dist     sql.NullFloat64
			manual   sql.NullInt64
			output   sql.NullFloat64
			encoder  sql.NullInt64
			tsString sql.NullString
		)
		if err := rows.Scan(&rd.ID, &temp, &hum, &dist, &manual, &output, &encoder, &tsString); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		rd.Temperature = temp.Float64
		rd.Humidity = hum.Float64
		rd.Distance = dist.Float64
		rd.ManualOverride = manual.Int64 != 0
		rd.ActuatorOutput = output.Float64
		rd.Position = int(encoder.Int64)
		if tsString.Valid {
			ts, err := timeutil.ParseStored(tsString.String)
			if err != nil {
				return nil, fmt.Errorf("reading %d: %w", rd.ID, err)
			}
			rd.Timestamp = ts
		}
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return out, nil
}
