package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL. Rules are keyed by
// (company_id, code); every query is tenant-scoped.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, company_id, code, name, description,
	condition_type, condition_section, trigger_values,
	action_type, target_module, action_config,
	mandatory, priority, requires_approval, guard_expression,
	active, created_at, updated_at`

func (s *PostgresStore) Upsert(ctx context.Context, rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	triggerValues, err := json.Marshal(rule.TriggerValues)
	if err != nil {
		return fmt.Errorf("marshal trigger values: %w", err)
	}
	actionConfig, err := rule.ActionConfig.Value()
	if err != nil {
		return err
	}

	var existingCode string
	err = s.db.QueryRowContext(ctx, `
		SELECT code FROM rules WHERE id = $1 AND company_id = $2
	`, rule.ID, rule.CompanyID).Scan(&existingCode)

	switch {
	case err == sql.ErrNoRows:
		var collision bool
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM rules
				WHERE company_id = $1 AND code = $2 AND active = true
			)
		`, rule.CompanyID, rule.Code).Scan(&collision)
		if err != nil {
			return fmt.Errorf("check rule code collision: %w", err)
		}
		if collision {
			return Validationf("rule code %s already in use for this tenant", rule.Code)
		}

		now := time.Now()
		rule.CreatedAt = now
		rule.UpdatedAt = now
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO rules (`+ruleColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		`, rule.ID, rule.CompanyID, rule.Code, rule.Name, rule.Description,
			rule.ConditionType, rule.ConditionSection, triggerValues,
			rule.ActionType, rule.TargetModule, actionConfig,
			rule.Mandatory, rule.Priority, rule.RequiresApproval, rule.Guard,
			rule.Active, rule.CreatedAt, rule.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return Validationf("rule code %s already in use for this tenant", rule.Code)
			}
			return fmt.Errorf("insert rule: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("look up rule: %w", err)
	}

	if existingCode != rule.Code {
		return Validationf("rule code is immutable: %s cannot become %s", existingCode, rule.Code)
	}

	rule.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, description = $2,
			condition_type = $3, condition_section = $4, trigger_values = $5,
			action_type = $6, target_module = $7, action_config = $8,
			mandatory = $9, priority = $10, requires_approval = $11,
			guard_expression = $12, active = $13, updated_at = $14
		WHERE id = $15 AND company_id = $16
	`, rule.Name, rule.Description,
		rule.ConditionType, rule.ConditionSection, triggerValues,
		rule.ActionType, rule.TargetModule, actionConfig,
		rule.Mandatory, rule.Priority, rule.RequiresApproval,
		rule.Guard, rule.Active, rule.UpdatedAt,
		rule.ID, rule.CompanyID)
	if err != nil {
		// Setting active = true can collide with a rule that reused
		// the code while this one was inactive; the partial unique
		// index on (company_id, code) rejects it.
		if isUniqueViolation(err) {
			return Validationf("rule code %s already in use for this tenant", rule.Code)
		}
		return fmt.Errorf("update rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s not found", rule.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) Get(ctx context.Context, companyID, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+` FROM rules WHERE id = $1 AND company_id = $2
	`, id, companyID)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) ActiveRules(ctx context.Context, companyID string) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE company_id = $1 AND active = true
		ORDER BY priority DESC, created_at ASC, code ASC
	`, companyID)
}

func (s *PostgresStore) List(ctx context.Context, companyID string) ([]*Rule, error) {
	return s.query(ctx, `
		SELECT `+ruleColumns+`
		FROM rules
		WHERE company_id = $1
		ORDER BY priority DESC, created_at ASC, code ASC
	`, companyID)
}

func (s *PostgresStore) Deactivate(ctx context.Context, companyID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE rules SET active = false, updated_at = NOW()
		WHERE id = $1 AND company_id = $2
	`, id, companyID)
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("rule %s not found", id)
	}
	return nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var ruleList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		ruleList = append(ruleList, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return ruleList, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var rule Rule
	var triggerValues, actionConfig []byte
	err := row.Scan(
		&rule.ID, &rule.CompanyID, &rule.Code, &rule.Name, &rule.Description,
		&rule.ConditionType, &rule.ConditionSection, &triggerValues,
		&rule.ActionType, &rule.TargetModule, &actionConfig,
		&rule.Mandatory, &rule.Priority, &rule.RequiresApproval, &rule.Guard,
		&rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(triggerValues, &rule.TriggerValues); err != nil {
		return nil, fmt.Errorf("unmarshal trigger values: %w", err)
	}
	if err := json.Unmarshal(actionConfig, &rule.ActionConfig); err != nil {
		return nil, fmt.Errorf("unmarshal action config: %w", err)
	}
	return &rule, nil
}
