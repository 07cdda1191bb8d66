// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository on database/sql for both
// SQLite and PostgreSQL.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, d, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, dialect: d}
	if err := repo.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return repo, nil
}

// migrate applies every schema statement in one transaction. Statements
// are idempotent, so a restart re-runs them harmlessly.
func (r *SQLRepository) migrate(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range AllSchemas() {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) SaveEvent(ctx context.Context, tenantID string, ev *domain.Event) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if ev == nil || ev.EntityID == "" {
		return fmt.Errorf("%w: event entityId is required", ErrInvalidInput)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: event timestamp is required", ErrInvalidInput)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.TenantID = tenantID

	query := `
		INSERT INTO events (id, tenant_id, entity_id, kind, amount, quantity, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(query),
		ev.ID, tenantID, ev.EntityID, ev.Kind,
		ev.Amount, ev.Quantity, ev.Timestamp.UnixNano(),
	)
	return err
}

// ListEvents retrieves an entity's events since a point in time, oldest first.
func (r *SQLRepository) ListEvents(ctx context.Context, tenantID string, entityID string, since time.Time) ([]domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_id, kind, amount, quantity, occurred_at
		FROM events
		WHERE tenant_id = ? AND entity_id = ? AND occurred_at >= ?
		ORDER BY occurred_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), tenantID, entityID, unixNanos(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var occurred int64

		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.EntityID, &ev.Kind,
			&ev.Amount, &ev.Quantity, &occurred,
		); err != nil {
			return nil, err
		}

		ev.Timestamp = time.Unix(0, occurred).UTC()
		events = append(events, ev)
	}

	return events, rows.Err()
}

// SaveEvaluation stores an evaluation snapshot with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(eval)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, domain, entity_id, tier, composite, evaluated_at, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.dialect.rebind(query),
		eval.ID, tenantID, eval.Domain, eval.EntityID,
		eval.Classification.Tier, eval.Score.Composite,
		eval.Timestamp.UnixNano(), string(payload),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT payload
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	var payload string
	err := r.db.QueryRowContext(ctx, r.dialect.rebind(query), tenantID, evalID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var eval domain.Evaluation
	if err := json.Unmarshal([]byte(payload), &eval); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation %s: %w", evalID, err)
	}
	eval.TenantID = tenantID

	return &eval, nil
}

// AppendAction inserts an action record. The log is append-only: a
// second record for the same (entity, trigger) pair is rejected with
// domain.ErrDuplicateAction.
func (r *SQLRepository) AppendAction(ctx context.Context, rec *domain.ActionRecord) error {
	if rec == nil || rec.TenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rec.EntityID == "" || rec.TriggerID == "" {
		return fmt.Errorf("%w: entityId and triggerId are required", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	params, _ := json.Marshal(rec.Params)
	result, _ := json.Marshal(rec.Result)

	success := 0
	if rec.Result.Success {
		success = 1
	}

	query := `
		INSERT INTO action_records (
			id, tenant_id, entity_id, trigger_id, action_id, category,
			params, result, success, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.dialect.rebind(query),
		rec.ID, rec.TenantID, rec.EntityID, rec.TriggerID,
		rec.ActionID, rec.Category,
		string(params), string(result), success,
		rec.Timestamp.UnixNano(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s/%s", domain.ErrDuplicateAction, rec.EntityID, rec.TriggerID)
	}
	return err
}

// FindAction returns the record for an (entity, trigger) pair, or nil.
func (r *SQLRepository) FindAction(ctx context.Context, tenantID, entityID, triggerID string) (*domain.ActionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_id, trigger_id, action_id, category,
			   params, result, recorded_at
		FROM action_records
		WHERE tenant_id = ? AND entity_id = ? AND trigger_id = ?
	`

	rec, err := scanAction(r.db.QueryRowContext(ctx, r.dialect.rebind(query), tenantID, entityID, triggerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListActions returns action records oldest first. An empty entityID
// lists the tenant's whole log.
func (r *SQLRepository) ListActions(ctx context.Context, tenantID, entityID string) ([]domain.ActionRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_id, trigger_id, action_id, category,
			   params, result, recorded_at
		FROM action_records
		WHERE tenant_id = ?
	`
	args := []any{tenantID}
	if entityID != "" {
		query += " AND entity_id = ?"
		args = append(args, entityID)
	}
	query += " ORDER BY recorded_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*domain.ActionRecord, error) {
	var rec domain.ActionRecord
	var params, result string
	var recorded int64

	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.EntityID, &rec.TriggerID,
		&rec.ActionID, &rec.Category,
		&params, &result, &recorded,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, fmt.Errorf("failed to parse action params for %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to parse action result for %s: %w", rec.ID, err)
	}
	rec.Timestamp = time.Unix(0, recorded).UTC()

	return &rec, nil
}

// unixNanos maps the zero time and pre-epoch instants to 0, since
// UnixNano is undefined outside the int64 range.
func unixNanos(t time.Time) int64 {
	if t.Before(time.Unix(0, 0)) {
		return 0
	}
	return t.UnixNano()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
