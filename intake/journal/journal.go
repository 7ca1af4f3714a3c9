// Package journal keeps an append-only record of forwarded submissions in Postgres.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kompomir/servicebot/core/logger"
	"github.com/kompomir/servicebot/intake/engine"
	"github.com/kompomir/servicebot/intake/flow"
)

type row struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	Flow      string    `db:"flow"`
	Variant   string    `db:"variant"`
	Title     string    `db:"title"`
	Fields    []byte    `db:"fields"`
	Summary   string    `db:"summary"`
	CreatedAt time.Time `db:"created_at"`
}

// FlowCount is the number of submissions of one flow variant.
type FlowCount struct {
	Flow    string `db:"flow"`
	Variant string `db:"variant"`
	Count   int    `db:"count"`
}

// Journal writes submissions to the submissions table.
type Journal struct {
	db *sqlx.DB
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

const insertSubmission = `
INSERT INTO submissions (id, user_id, flow, variant, title, fields, summary, created_at)
VALUES (:id, :user_id, :flow, :variant, :title, :fields, :summary, :created_at)
ON CONFLICT (id) DO NOTHING`

// Record stores a submission. Recording the same submission twice is a no-op.
func (j *Journal) Record(ctx context.Context, sub engine.Submission) error {
	r, err := toRow(sub)
	if err != nil {
		return err
	}
	start := time.Now()
	if _, err := j.db.NamedExecContext(ctx, insertSubmission, r); err != nil {
		logger.Error(ctx, logger.Journal, "journal.record",
			slog.String("status", "fail"),
			slog.String("flow", r.Flow),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("journal: insert submission %s: %w", r.ID, err)
	}
	logger.Debug(ctx, logger.Journal, "journal.record",
		slog.String("status", "ok"),
		slog.String("flow", r.Flow),
		slog.String("variant", r.Variant),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

const countSince = `
SELECT flow, variant, COUNT(*) AS count
FROM submissions
WHERE created_at >= $1
GROUP BY flow, variant
ORDER BY flow, variant`

// CountSince aggregates submissions created at or after since.
func (j *Journal) CountSince(ctx context.Context, since time.Time) ([]FlowCount, error) {
	var out []FlowCount
	if err := j.db.SelectContext(ctx, &out, countSince, since); err != nil {
		return nil, fmt.Errorf("journal: count submissions: %w", err)
	}
	return out, nil
}

func toRow(sub engine.Submission) (row, error) {
	fields := sub.Fields
	if fields == nil {
		fields = []flow.Field{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return row{}, fmt.Errorf("journal: encode fields: %w", err)
	}
	variant := sub.Variant
	if variant == "" {
		variant = string(sub.Flow)
	}
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return row{
		ID:        sub.ID.String(),
		UserID:    sub.UserID,
		Flow:      string(sub.Flow),
		Variant:   variant,
		Title:     sub.Title,
		Fields:    encoded,
		Summary:   sub.Summary,
		CreatedAt: created.UTC(),
	}, nil
}
