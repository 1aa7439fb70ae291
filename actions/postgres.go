package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/daryls-hrplus/intellihrm-sub073/rules"
)

// PostgresStore implements Store backed by PostgreSQL. Transitions use a
// conditional UPDATE on state so the database arbitrates compare-and-swap
// races across processes.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed execution log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const executionColumns = `id, rule_id, rule_code, subject_id, company_id, trigger_event_ref,
	target_module, action_type, action_config,
	state, requires_approval, mandatory, priority, match_reason, suppressed_by,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	target_record_id, error_message, executed_at, created_at`

func (s *PostgresStore) Insert(ctx context.Context, rec *Execution) error {
	return insertExecution(ctx, s.db, rec)
}

// InsertBatch wraps the inserts in a transaction so a storage failure cannot
// leave a dispatch half persisted.
func (s *PostgresStore) InsertBatch(ctx context.Context, recs []*Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert batch: %w", err)
	}
	for _, rec := range recs {
		if err := insertExecution(ctx, tx, rec); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert batch: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertExecution(ctx context.Context, db execer, rec *Execution) error {
	actionConfig, err := rec.ActionConfig.Value()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO action_executions (`+executionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,
			$16,$17,$18,$19,$20,$21,$22,$23,$24)
	`, rec.ID, rec.RuleID, rec.RuleCode, rec.SubjectID, rec.CompanyID, rec.TriggerEventRef,
		rec.TargetModule, rec.ActionType, actionConfig,
		rec.State, rec.RequiresApproval, rec.Mandatory, rec.Priority, rec.MatchReason, nullString(rec.SuppressedBy),
		nullString(rec.ApprovedBy), rec.ApprovedAt, nullString(rec.RejectedBy), rec.RejectedAt, nullString(rec.RejectionReason),
		nullString(rec.TargetRecordID), nullString(rec.ErrorMessage), rec.ExecutedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM action_executions WHERE id = $1
	`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("execution %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM action_executions WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.CompanyID != "" {
		query += ` AND company_id = ` + arg(f.CompanyID)
	}
	if f.TargetModule != "" {
		query += ` AND target_module = ` + arg(f.TargetModule)
	}
	if f.State != "" {
		query += ` AND state = ` + arg(string(f.State))
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ` + arg(f.From)
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ` + arg(f.To)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var list []*Execution
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from State, change StateChange) (bool, error) {
	if !CanTransition(from, change.To) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, change.To)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE action_executions
		SET state = $1,
			approved_by = COALESCE(NULLIF($2, ''), approved_by),
			approved_at = COALESCE($3, approved_at),
			rejected_by = COALESCE(NULLIF($4, ''), rejected_by),
			rejected_at = COALESCE($5, rejected_at),
			rejection_reason = COALESCE(NULLIF($6, ''), rejection_reason),
			target_record_id = COALESCE(NULLIF($7, ''), target_record_id),
			error_message = NULLIF($8, ''),
			executed_at = COALESCE($9, executed_at)
		WHERE id = $10 AND state = $11
	`, change.To,
		change.ApprovedBy, change.ApprovedAt,
		change.RejectedBy, change.RejectedAt, change.RejectionReason,
		change.TargetRecordID, change.ErrorMessage, change.ExecutedAt,
		id, from)
	if err != nil {
		return false, fmt.Errorf("transition execution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) HasEvent(ctx context.Context, companyID, eventRef string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM action_executions
			WHERE company_id = $1 AND trigger_event_ref = $2
		)
	`, companyID, eventRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event ref: %w", err)
	}
	return exists, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func scanExecution(row rowScanner) (*Execution, error) {
	var rec Execution
	var actionConfig []byte
	var suppressedBy, approvedBy, rejectedBy, rejectionReason sql.NullString
	var targetRecordID, errorMessage, matchReason sql.NullString
	err := row.Scan(
		&rec.ID, &rec.RuleID, &rec.RuleCode, &rec.SubjectID, &rec.CompanyID, &rec.TriggerEventRef,
		&rec.TargetModule, &rec.ActionType, &actionConfig,
		&rec.State, &rec.RequiresApproval, &rec.Mandatory, &rec.Priority, &matchReason, &suppressedBy,
		&approvedBy, &rec.ApprovedAt, &rejectedBy, &rec.RejectedAt, &rejectionReason,
		&targetRecordID, &errorMessage, &rec.ExecutedAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	var cfg rules.ActionConfig
	if err := json.Unmarshal(actionConfig, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal action config: %w", err)
	}
	rec.ActionConfig = cfg
	rec.MatchReason = matchReason.String
	rec.SuppressedBy = suppressedBy.String
	rec.ApprovedBy = approvedBy.String
	rec.RejectedBy = rejectedBy.String
	rec.RejectionReason = rejectionReason.String
	rec.TargetRecordID = targetRecordID.String
	rec.ErrorMessage = errorMessage.String
	return &rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
