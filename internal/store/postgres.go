package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *PostgresStore) GetCalendarSettings(ctx context.Context, politicianID string) (CalendarSettings, error) {
	var item CalendarSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT politician_id, buffer_minutes, working_start, working_end, exclude_weekends
		FROM calendar_settings
		WHERE politician_id=$1
	`, politicianID).Scan(&item.PoliticianID, &item.BufferMinutes, &item.WorkingStart, &item.WorkingEnd, &item.ExcludeWeekends)
	if err != nil {
		return CalendarSettings{}, fmt.Errorf("get calendar settings: %w", notFound(err))
	}
	return item, nil
}

// =============================================================================
// Workflow definitions
// =============================================================================

func (s *PostgresStore) InsertWorkflow(ctx context.Context, workflow WorkflowDefinition) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, politician_id, name, category, created_by_name)
			VALUES ($1, $2, $3, $4, $5)
		`, workflow.ID, workflow.PoliticianID, workflow.Name, workflow.Category, workflow.CreatedBy); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for _, step := range workflow.Steps {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO workflow_steps (id, workflow_id, step_number, title, description, expected_duration_hours, is_required)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, step.ID, workflow.ID, step.StepNumber, step.Title, step.Description, step.ExpectedDurationHours, step.Required); err != nil {
				return fmt.Errorf("insert workflow step %d: %w", step.StepNumber, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, politicianID, workflowID string) (WorkflowDefinition, error) {
	var item WorkflowDefinition
	err := s.db.QueryRowContext(ctx, `
		SELECT id, politician_id, name, category, created_by_name, created_at
		FROM workflows
		WHERE politician_id=$1 AND id=$2
	`, politicianID, workflowID).Scan(&item.ID, &item.PoliticianID, &item.Name, &item.Category, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return WorkflowDefinition{}, fmt.Errorf("get workflow: %w", notFound(err))
	}

	steps, err := s.listWorkflowSteps(ctx, workflowID)
	if err != nil {
		return WorkflowDefinition{}, err
	}
	item.Steps = steps
	return item, nil
}

func (s *PostgresStore) listWorkflowSteps(ctx context.Context, workflowID string) ([]WorkflowStepDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, step_number, title, description, expected_duration_hours, is_required
		FROM workflow_steps
		WHERE workflow_id=$1
		ORDER BY step_number ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow steps: %w", err)
	}
	defer rows.Close()

	items := make([]WorkflowStepDefinition, 0)
	for rows.Next() {
		var item WorkflowStepDefinition
		if err := rows.Scan(&item.ID, &item.WorkflowID, &item.StepNumber, &item.Title, &item.Description, &item.ExpectedDurationHours, &item.Required); err != nil {
			return nil, fmt.Errorf("scan workflow step: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow steps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, politicianID string) ([]WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, politician_id, name, category, created_by_name, created_at
		FROM workflows
		WHERE politician_id=$1
		ORDER BY created_at DESC
	`, politicianID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	items := make([]WorkflowDefinition, 0)
	for rows.Next() {
		var item WorkflowDefinition
		if err := rows.Scan(&item.ID, &item.PoliticianID, &item.Name, &item.Category, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflows: %w", err)
	}
	return items, nil
}

// =============================================================================
// Tasks and step instances
// =============================================================================

const taskColumns = `id, politician_id, title, description, category_id, priority, status, progress, deadline, workflow_id, created_by_name, created_at, updated_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var item Task
	var workflowID sql.NullString
	err := row.Scan(
		&item.ID,
		&item.PoliticianID,
		&item.Title,
		&item.Description,
		&item.CategoryID,
		&item.Priority,
		&item.Status,
		&item.Progress,
		&item.Deadline,
		&workflowID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.DeletedAt,
	)
	if err != nil {
		return Task{}, err
	}
	if workflowID.Valid {
		item.WorkflowID = &workflowID.String
	}
	return item, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	return insertTask(ctx, s.db, task)
}

// InsertTaskWithWorkflow writes a new task already bound to a workflow
// together with its step instances. Either everything is written or nothing.
func (s *PostgresStore) InsertTaskWithWorkflow(ctx context.Context, task Task, steps []TaskWorkflowStep) error {
	if task.WorkflowID == nil {
		return fmt.Errorf("insert task with workflow: task %s has no workflow", task.ID)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		return insertSteps(ctx, tx, task.PoliticianID, task.ID, steps)
	})
}

func insertTask(ctx context.Context, ex execer, task Task) error {
	status := task.Status
	if status == "" {
		status = TaskOpen
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO tasks (id, politician_id, title, description, category_id, priority, status, progress, deadline, workflow_id, created_by_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
	`, task.ID, task.PoliticianID, task.Title, task.Description, task.CategoryID, task.Priority, status, task.Deadline, task.WorkflowID, task.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, politicianID, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE politician_id=$1 AND id=$2 AND deleted_at IS NULL
	`, politicianID, taskID)
	item, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", notFound(err))
	}
	return item, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, politicianID, status string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE politician_id=$1 AND deleted_at IS NULL AND ($2='' OR status=$2)
		ORDER BY deadline ASC NULLS LAST, created_at DESC
	`, politicianID, status)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SoftDeleteTask(ctx context.Context, politicianID, taskID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET deleted_at=NOW(), updated_at=NOW()
		WHERE politician_id=$1 AND id=$2 AND deleted_at IS NULL
	`, politicianID, taskID)
	if err != nil {
		return fmt.Errorf("soft delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete task rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// lockTask takes a row lock on the task for the rest of the transaction.
func lockTask(ctx context.Context, tx *sql.Tx, politicianID, taskID string) (Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE politician_id=$1 AND id=$2 AND deleted_at IS NULL
		FOR UPDATE
	`, politicianID, taskID)
	item, err := scanTask(row)
	if err != nil {
		return Task{}, fmt.Errorf("lock task: %w", notFound(err))
	}
	return item, nil
}

// BindWorkflow inserts every step instance and sets tasks.workflow_id in one
// transaction. A task that already has a workflow or step instances yields
// ErrAlreadyBound and nothing is written.
func (s *PostgresStore) BindWorkflow(ctx context.Context, politicianID, taskID, workflowID string, steps []TaskWorkflowStep) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		task, err := lockTask(ctx, tx, politicianID, taskID)
		if err != nil {
			return err
		}
		if task.WorkflowID != nil {
			return ErrAlreadyBound
		}
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_workflow_steps WHERE task_id=$1`, taskID).Scan(&existing); err != nil {
			return fmt.Errorf("count step instances: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyBound
		}

		if err := insertSteps(ctx, tx, politicianID, taskID, steps); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET workflow_id=$3, updated_at=NOW()
			WHERE politician_id=$1 AND id=$2
		`, politicianID, taskID, workflowID); err != nil {
			return fmt.Errorf("set task workflow: %w", err)
		}
		return nil
	})
}

func insertSteps(ctx context.Context, ex execer, politicianID, taskID string, steps []TaskWorkflowStep) error {
	for _, step := range steps {
		if _, err := ex.ExecContext(ctx, `
			INSERT INTO task_workflow_steps (id, task_id, politician_id, workflow_step_id, step_number, title, is_required, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, step.ID, taskID, politicianID, step.WorkflowStepID, step.StepNumber, step.Title, step.Required, step.Status); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyBound
			}
			return fmt.Errorf("insert step instance %d: %w", step.StepNumber, err)
		}
	}
	return nil
}

const stepColumns = `id, task_id, politician_id, workflow_step_id, step_number, title, is_required, status, COALESCE(completed_by_name, ''), completed_at, notes, updated_at`

func scanStep(row rowScanner) (TaskWorkflowStep, error) {
	var item TaskWorkflowStep
	err := row.Scan(
		&item.ID,
		&item.TaskID,
		&item.PoliticianID,
		&item.WorkflowStepID,
		&item.StepNumber,
		&item.Title,
		&item.Required,
		&item.Status,
		&item.CompletedBy,
		&item.CompletedAt,
		&item.Notes,
		&item.UpdatedAt,
	)
	return item, err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listSteps(ctx context.Context, q queryer, politicianID, taskID string) ([]TaskWorkflowStep, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM task_workflow_steps
		WHERE politician_id=$1 AND task_id=$2
		ORDER BY step_number ASC
	`, politicianID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list step instances: %w", err)
	}
	defer rows.Close()

	items := make([]TaskWorkflowStep, 0)
	for rows.Next() {
		item, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step instance: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step instances: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListTaskSteps(ctx context.Context, politicianID, taskID string) ([]TaskWorkflowStep, error) {
	return listSteps(ctx, s.db, politicianID, taskID)
}

// UpdateStepStatus writes the step status and the recomputed task progress in
// one transaction. The task row lock serializes concurrent edits on the same
// task so progress is always derived from committed step statuses.
func (s *PostgresStore) UpdateStepStatus(ctx context.Context, politicianID string, change StepChange, progress func([]TaskWorkflowStep) int) (TaskWorkflowStep, int, error) {
	var updated TaskWorkflowStep
	var percent int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockTask(ctx, tx, politicianID, change.TaskID); err != nil {
			return err
		}

		var completedBy any
		if change.CompletedAt != nil {
			completedBy = change.Actor
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE task_workflow_steps
			SET status=$4, completed_by_name=$5, completed_at=$6, notes=COALESCE($7, notes), updated_at=NOW()
			WHERE politician_id=$1 AND task_id=$2 AND id=$3
			RETURNING `+stepColumns,
			politicianID, change.TaskID, change.StepID, change.Status, completedBy, change.CompletedAt, change.Notes)
		step, err := scanStep(row)
		if err != nil {
			return fmt.Errorf("update step instance: %w", notFound(err))
		}
		updated = step

		steps, err := listSteps(ctx, tx, politicianID, change.TaskID)
		if err != nil {
			return err
		}
		percent = progress(steps)
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET progress=$3, updated_at=NOW()
			WHERE politician_id=$1 AND id=$2
		`, politicianID, change.TaskID, percent); err != nil {
			return fmt.Errorf("update task progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return TaskWorkflowStep{}, 0, err
	}
	return updated, percent, nil
}

// =============================================================================
// Events and approvals
// =============================================================================

const eventColumns = `id, politician_id, title, event_type, location, starts_at, ends_at, expected_attendees, priority, status, approval_stage, created_by_id, created_by_name, created_at, updated_at`

func scanEvent(row rowScanner) (Event, error) {
	var item Event
	err := row.Scan(
		&item.ID,
		&item.PoliticianID,
		&item.Title,
		&item.EventType,
		&item.Location,
		&item.StartsAt,
		&item.EndsAt,
		&item.ExpectedAttendees,
		&item.Priority,
		&item.Status,
		&item.ApprovalStage,
		&item.CreatedByID,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertEvent(ctx context.Context, event Event, approvals []EventApproval) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, politician_id, title, event_type, location, starts_at, ends_at, expected_attendees, priority, status, approval_stage, created_by_id, created_by_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, event.ID, event.PoliticianID, event.Title, event.EventType, event.Location, event.StartsAt, event.EndsAt,
			event.ExpectedAttendees, event.Priority, event.Status, event.ApprovalStage, event.CreatedByID, event.CreatedBy); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		for _, approval := range approvals {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO event_approvals (id, event_id, politician_id, approval_level, approver_role, status)
				VALUES ($1, $2, $3, $4, $5, 'pending')
			`, approval.ID, event.ID, event.PoliticianID, approval.ApprovalLevel, approval.ApproverRole); err != nil {
				return fmt.Errorf("seed approval level %d: %w", approval.ApprovalLevel, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetEvent(ctx context.Context, politicianID, eventID string) (Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE politician_id=$1 AND id=$2
	`, politicianID, eventID)
	item, err := scanEvent(row)
	if err != nil {
		return Event{}, fmt.Errorf("get event: %w", notFound(err))
	}
	return item, nil
}

func (s *PostgresStore) listEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		item, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

// ListApprovedEvents returns approved events overlapping [from, to).
func (s *PostgresStore) ListApprovedEvents(ctx context.Context, politicianID string, from, to time.Time) ([]Event, error) {
	return s.listEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE politician_id=$1 AND status='approved' AND starts_at < $3 AND ends_at > $2
		ORDER BY starts_at ASC
	`, politicianID, from, to)
}

func (s *PostgresStore) ListEventsAtStage(ctx context.Context, politicianID, stage string) ([]Event, error) {
	return s.listEvents(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE politician_id=$1 AND status='pending' AND approval_stage=$2
		ORDER BY starts_at ASC
	`, politicianID, stage)
}

func (s *PostgresStore) ListEventApprovals(ctx context.Context, politicianID, eventID string) ([]EventApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, politician_id, approval_level, approver_role, status, COALESCE(acted_by_name, ''), acted_at, comment, version
		FROM event_approvals
		WHERE politician_id=$1 AND event_id=$2
		ORDER BY approval_level ASC
	`, politicianID, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event approvals: %w", err)
	}
	defer rows.Close()

	items := make([]EventApproval, 0)
	for rows.Next() {
		var item EventApproval
		if err := rows.Scan(
			&item.ID,
			&item.EventID,
			&item.PoliticianID,
			&item.ApprovalLevel,
			&item.ApproverRole,
			&item.Status,
			&item.ActedBy,
			&item.ActedAt,
			&item.Comment,
			&item.Version,
		); err != nil {
			return nil, fmt.Errorf("scan event approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event approvals: %w", err)
	}
	return items, nil
}

// ApplyApprovalDecision resolves one pending approval level with a
// compare-and-swap on (status, version) and refreshes the event projection in
// the same transaction. A writer that lost the race gets ErrStaleWrite.
func (s *PostgresStore) ApplyApprovalDecision(ctx context.Context, politicianID string, decision ApprovalDecision) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE event_approvals
			SET status=$5, acted_by_name=$6, acted_at=$7, comment=$8, version=version+1
			WHERE politician_id=$1 AND event_id=$2 AND id=$3 AND version=$4 AND status='pending'
		`, politicianID, decision.EventID, decision.ApprovalID, decision.ExpectedVersion,
			decision.Status, decision.ActedBy, decision.ActedAt, decision.Comment)
		if err != nil {
			return fmt.Errorf("apply approval decision: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("apply approval decision rows: %w", err)
		}
		if affected == 0 {
			return ErrStaleWrite
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE events SET status=$3, approval_stage=$4, updated_at=NOW()
			WHERE politician_id=$1 AND id=$2 AND status='pending'
		`, politicianID, decision.EventID, decision.EventStatus, decision.ApprovalStage)
		if err != nil {
			return fmt.Errorf("update event stage: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update event stage rows: %w", err)
		}
		if affected == 0 {
			return ErrStaleWrite
		}
		return nil
	})
}

// =============================================================================
// Notifications
// =============================================================================

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, politician_id, recipient, event_id, kind, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.PoliticianID, item.Recipient, item.EventID, item.Kind, item.Message)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
