// Package audit appends immutable before/after records of state changes.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/tradecore/pkg/models"
)

// Action names recorded in the trail
const (
	ActionOrderCreated       = "order.created"
	ActionOrderOpened        = "order.opened"
	ActionOrderFilled        = "order.filled"
	ActionOrderCancelled     = "order.cancelled"
	ActionOrderRejected      = "order.rejected"
	ActionOrderStopTriggered = "order.stop_triggered"
	ActionTradeCreated       = "trade.created"
	ActionPositionOpened     = "position.opened"
	ActionPositionUpdated    = "position.updated"
	ActionPositionClosed     = "position.closed"
	ActionBalanceUpdated     = "balance.updated"
)

// Entity types
const (
	EntityOrder    = "order"
	EntityTrade    = "trade"
	EntityPosition = "position"
	EntityUser     = "user"
)

// ActorSystem marks changes not initiated by a user request.
const ActorSystem = "system"

// Entry describes one state change. Before and After are marshalled to JSON;
// nil means the entity did not exist on that side of the change.
type Entry struct {
	Actor      string
	Action     string
	EntityType string
	EntityID   string
	Before     interface{}
	After      interface{}
}

// Recorder writes audit entries
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// NewRecorder creates a new audit recorder
func NewRecorder(db *gorm.DB, logger *zap.Logger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// Record appends entries. Failures are logged and otherwise ignored: the
// change they describe has already been committed.
func (r *Recorder) Record(ctx context.Context, entries ...Entry) {
	for _, e := range entries {
		if err := r.Write(ctx, e); err != nil {
			r.logger.Error("Failed to write audit entry",
				zap.String("action", e.Action),
				zap.String("entity_type", e.EntityType),
				zap.String("entity_id", e.EntityID),
				zap.Error(err))
		}
	}
}

// Write appends a single entry and reports failures.
func (r *Recorder) Write(ctx context.Context, e Entry) error {
	before, err := models.NewJSONState(e.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	after, err := models.NewJSONState(e.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}

	row := &models.AuditLog{
		ID:          uuid.New(),
		Actor:       e.Actor,
		Action:      e.Action,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		BeforeState: before,
		AfterState:  after,
		CreatedAt:   r.nextTimestamp(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// List returns the trail of one entity, oldest first.
func (r *Recorder) List(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

// nextTimestamp returns a strictly increasing UTC microsecond timestamp so
// that entries written in sequence list back in the same order.
func (r *Recorder) nextTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}
	r.last = now
	return now
}
