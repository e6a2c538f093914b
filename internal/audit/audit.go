// AngelaMos | 2026
// audit.go

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/angelamos/clinica-identity/internal/core"
)

type Event struct {
	ID           string          `db:"id"`
	ActorID      string          `db:"actor_id"`
	Action       string          `db:"action"`
	ResourceType string          `db:"resource_type"`
	ResourceID   *string         `db:"resource_id"`
	Result       string          `db:"result"`
	ErrorCode    *string         `db:"error_code"`
	Before       json.RawMessage `db:"before_state"`
	After        json.RawMessage `db:"after_state"`
	Meta         json.RawMessage `db:"meta"`
	CreatedAt    time.Time       `db:"created_at"`
}

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder appends audit events. Recording is best-effort by contract: a
// failed write must never abort the operation being audited.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

type recorder struct {
	db     core.DBTX
	logger *slog.Logger
}

func NewRecorder(db core.DBTX, logger *slog.Logger) Recorder {
	return &recorder{db: db, logger: logger}
}

func (r *recorder) Record(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}

	query := `
		INSERT INTO audit_events (
			id, actor_id, action, resource_type, resource_id,
			result, error_code, before_state, after_state, meta
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.ActorID,
		event.Action,
		event.ResourceType,
		event.ResourceID,
		event.Result,
		event.ErrorCode,
		event.Before,
		event.After,
		event.Meta,
	)
	if err != nil {
		r.logger.Error("audit write failed",
			"error", err,
			"action", event.Action,
			"resource_type", event.ResourceType,
		)
	}
}

// Snapshot marshals a before/after state for an event, dropping it on
// marshal failure rather than failing the caller.
func Snapshot(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"marshal_error":%q}`, err.Error()))
	}
	return data
}

// NopRecorder discards events; used in tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}
