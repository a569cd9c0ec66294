package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresLedger implements Ledger using PostgreSQL
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// CreateSaga persists a new saga instance
func (l *PostgresLedger) CreateSaga(ctx context.Context, sagaType string, payload Payload) (*Instance, error) {
	now := time.Now()
	instance := &Instance{
		ID:        uuid.NewString(),
		SagaType:  sagaType,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if instance.Payload.SchemaVersion == 0 {
		instance.Payload.SchemaVersion = PayloadSchemaVersion
	}
	instance.Payload.SagaID = instance.ID

	payloadJSON, err := json.Marshal(instance.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO saga_instances (id, saga_type, status, current_step, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = l.pool.Exec(ctx, query,
		instance.ID,
		instance.SagaType,
		string(instance.Status),
		instance.CurrentStep,
		payloadJSON,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create saga: %w", err)
	}

	return instance, nil
}

// GetByID retrieves a saga with its steps ordered by step_order
func (l *PostgresLedger) GetByID(ctx context.Context, id string) (*Instance, error) {
	query := `
		SELECT id, saga_type, status, current_step, payload, created_at, updated_at
		FROM saga_instances
		WHERE id = $1
	`

	instance, err := l.scanInstance(l.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	instance.Steps, err = l.GetSteps(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// GetByBookingID retrieves the saga whose payload recorded the booking id.
// Backed by an expression index on (payload->>'bookingId').
func (l *PostgresLedger) GetByBookingID(ctx context.Context, bookingID string) (*Instance, error) {
	query := `
		SELECT id, saga_type, status, current_step, payload, created_at, updated_at
		FROM saga_instances
		WHERE payload->>'bookingId' = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	instance, err := l.scanInstance(l.pool.QueryRow(ctx, query, bookingID))
	if err != nil {
		return nil, err
	}

	instance.Steps, err = l.GetSteps(ctx, instance.ID)
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// UpdateSagaStatus transitions the saga status and current step ordinal
func (l *PostgresLedger) UpdateSagaStatus(ctx context.Context, sagaID string, status Status, currentStep int) error {
	query := `
		UPDATE saga_instances
		SET status = $2,
			current_step = CASE WHEN $3 > 0 THEN $3 ELSE current_step END,
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := l.pool.Exec(ctx, query, sagaID, string(status), currentStep)
	if err != nil {
		return fmt.Errorf("failed to update saga status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSagaNotFound
	}
	return nil
}

// UpdatePayload merges newly learned facts into the saga payload
func (l *PostgresLedger) UpdatePayload(ctx context.Context, sagaID string, facts Payload) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var payloadJSON []byte
	err = tx.QueryRow(ctx,
		`SELECT payload FROM saga_instances WHERE id = $1 FOR UPDATE`, sagaID,
	).Scan(&payloadJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSagaNotFound
		}
		return fmt.Errorf("failed to load payload: %w", err)
	}

	var payload Payload
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	merged, err := json.Marshal(payload.Merge(facts))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE saga_instances SET payload = $2, updated_at = NOW() WHERE id = $1`,
		sagaID, merged,
	)
	if err != nil {
		return fmt.Errorf("failed to update payload: %w", err)
	}

	return tx.Commit(ctx)
}

// CreateStep appends a PENDING step with step_order = max+1 under the saga.
// The unique (saga_id, step_order) index guards concurrent appends; on a
// collision the insert is retried with a freshly computed order.
func (l *PostgresLedger) CreateStep(ctx context.Context, sagaID, stepName string, requestPayload interface{}) (*Step, error) {
	request, err := marshalPayload(requestPayload)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO saga_steps (id, saga_id, step_order, step_name, status, request_payload, started_at)
		SELECT $1, $2, COALESCE(MAX(step_order), 0) + 1, $3, $4, $5, NOW()
		FROM saga_steps
		WHERE saga_id = $2
		RETURNING step_order, started_at
	`

	step := &Step{
		ID:             uuid.NewString(),
		SagaID:         sagaID,
		StepName:       stepName,
		Status:         StepPending,
		RequestPayload: request,
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = l.pool.QueryRow(ctx, query,
			step.ID, sagaID, stepName, string(StepPending), request,
		).Scan(&step.StepOrder, &step.StartedAt)
		if err == nil {
			return step, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			continue
		}
		return nil, fmt.Errorf("failed to create step: %w", err)
	}

	return nil, fmt.Errorf("failed to create step after %d attempts: %w", maxAttempts, err)
}

// UpdateStep transitions a PENDING step exactly once to a terminal status
func (l *PostgresLedger) UpdateStep(ctx context.Context, stepID string, status StepStatus, responsePayload interface{}, errorMessage string) error {
	response, err := marshalPayload(responsePayload)
	if err != nil {
		return err
	}

	var errMsg *string
	if errorMessage != "" {
		errMsg = &errorMessage
	}

	query := `
		UPDATE saga_steps
		SET status = $2, response_payload = $3, error_message = $4, finished_at = NOW()
		WHERE id = $1 AND status = $5
	`

	result, err := l.pool.Exec(ctx, query, stepID, string(status), response, errMsg, string(StepPending))
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := l.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM saga_steps WHERE id = $1)`, stepID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check step existence: %w", err)
		}
		if !exists {
			return ErrStepNotFound
		}
		return ErrStepAlreadyFinal
	}
	return nil
}

// GetSteps retrieves all steps of a saga ordered by step_order
func (l *PostgresLedger) GetSteps(ctx context.Context, sagaID string) ([]*Step, error) {
	query := `
		SELECT id, saga_id, step_order, step_name, status,
			   request_payload, response_payload, error_message, started_at, finished_at
		FROM saga_steps
		WHERE saga_id = $1
		ORDER BY step_order ASC
	`

	rows, err := l.pool.Query(ctx, query, sagaID)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps: %w", err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		var step Step
		var statusStr string
		var errMsg *string

		err := rows.Scan(
			&step.ID,
			&step.SagaID,
			&step.StepOrder,
			&step.StepName,
			&statusStr,
			&step.RequestPayload,
			&step.ResponsePayload,
			&errMsg,
			&step.StartedAt,
			&step.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.Status = StepStatus(statusStr)
		if errMsg != nil {
			step.ErrorMessage = *errMsg
		}
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

func (l *PostgresLedger) scanInstance(row pgx.Row) (*Instance, error) {
	var instance Instance
	var statusStr string
	var payloadJSON []byte

	err := row.Scan(
		&instance.ID,
		&instance.SagaType,
		&statusStr,
		&instance.CurrentStep,
		&payloadJSON,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSagaNotFound
		}
		return nil, fmt.Errorf("failed to scan saga instance: %w", err)
	}

	instance.Status = Status(statusStr)
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &instance.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}
	return &instance, nil
}

var _ Ledger = (*PostgresLedger)(nil)
