package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher with Postgres full-text search over the
// generated fts columns on tasks and events.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true: without Postgres the service is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

const tsQuery = "plainto_tsquery('english', $2)"

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	union := ftsUnion(q.FilterType)
	if union == "" {
		return nil, 0, nil
	}
	args := []any{q.PoliticianID, q.Text}
	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC, id ASC
		LIMIT %d OFFSET %d`, union, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// ftsUnion builds the tenant-scoped UNION ALL over the requested types.
// $1 is the politician id and $2 the query text.
func ftsUnion(filter ResultType) string {
	var parts []string
	if filter == "" || filter == ResultTask {
		parts = append(parts, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE t.politician_id = $1 AND t.deleted_at IS NULL AND t.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	if filter == "" || filter == ResultEvent {
		parts = append(parts, fmt.Sprintf(`
			SELECT 'event'::text AS type, e.id, e.title,
				ts_headline('english', coalesce(e.location, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				e.status,
				ts_rank(e.fts, %s) AS rank
			FROM events e
			WHERE e.politician_id = $1 AND e.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}
	return strings.Join(parts, " UNION ALL ")
}

// LoadAllRecords returns every searchable row for a full Meilisearch reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]TaskRecord, []EventRecord, error) {
	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, politician_id, title, description, status, priority
		FROM tasks
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.PoliticianID, &t.Title, &t.Description, &t.Status, &t.Priority); err != nil {
			return nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	eventRows, err := p.db.QueryContext(ctx, `
		SELECT id, politician_id, title, location, event_type, status, approval_stage
		FROM events
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load events: %w", err)
	}
	defer eventRows.Close()

	events := make([]EventRecord, 0)
	for eventRows.Next() {
		var e EventRecord
		if err := eventRows.Scan(&e.ID, &e.PoliticianID, &e.Title, &e.Location, &e.EventType, &e.Status, &e.ApprovalStage); err != nil {
			return nil, nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := eventRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate events: %w", err)
	}

	return tasks, events, nil
}
