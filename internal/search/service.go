package search

import (
	"context"
	"log/slog"
)

type indexer interface {
	Searcher
	IndexTasks(tasks []TaskRecord) error
	IndexEvents(events []EventRecord) error
	DeleteTask(id string) error
}

type loader interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]TaskRecord, []EventRecord, error)
}

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	primary  indexer
	fallback loader
}

// NewService accepts a nil meili when Meilisearch is not configured.
func NewService(m *Meili, pg *PgFTS) *Service {
	s := &Service{}
	if m != nil {
		s.primary = m
	}
	if pg != nil {
		s.fallback = pg
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		slog.Error("search: pgfts error", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTask pushes a task to Meilisearch in the background.
func (s *Service) IndexTask(t TaskRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexTasks([]TaskRecord{t}); err != nil {
			slog.Warn("search: index task", "task_id", t.ID, "error", err)
		}
	}()
}

// IndexEvent pushes an event to Meilisearch in the background.
func (s *Service) IndexEvent(e EventRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexEvents([]EventRecord{e}); err != nil {
			slog.Warn("search: index event", "event_id", e.ID, "error", err)
		}
	}()
}

func (s *Service) DeleteTask(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteTask(id); err != nil {
			slog.Warn("search: delete task", "task_id", id, "error", err)
		}
	}()
}

// ReindexAll copies every task and event from Postgres into Meilisearch.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryHealthy() || s.fallback == nil {
		return
	}
	tasks, events, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		slog.Warn("search: reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexTasks(tasks); err != nil {
		slog.Warn("search: reindex tasks", "error", err)
	}
	if err := s.primary.IndexEvents(events); err != nil {
		slog.Warn("search: reindex events", "error", err)
	}
	slog.Info("search: reindex complete", "tasks", len(tasks), "events", len(events))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
