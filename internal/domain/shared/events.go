package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that happened
// to a user's progress or assignment.
const (
	// User events
	EventUserRegistered EventType = "user.registered"

	// Task events
	EventTaskAssigned  EventType = "task.assigned"
	EventTaskCompleted EventType = "task.completed"
	EventTaskSkipped   EventType = "task.skipped"

	// Progress events
	EventLevelUp    EventType = "progress.level_up"
	EventCycleReset EventType = "progress.cycle_reset"

	// Catalog events
	EventUnknownCategory EventType = "catalog.unknown_category"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, if any.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// User Events
// ═══════════════════════════════════════════════════════════════════════════

// UserRegisteredEvent is emitted the first time a user interacts with the bot.
type UserRegisteredEvent struct {
	BaseEvent
	UserID UserID `json:"user_id"`
}

// Payload implements Event interface.
func (e UserRegisteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID.Int64(),
	}
}

// NewUserRegisteredEvent creates a new UserRegisteredEvent.
func NewUserRegisteredEvent(userID UserID) UserRegisteredEvent {
	return UserRegisteredEvent{
		BaseEvent: NewBaseEvent(EventUserRegistered, userID.String()),
		UserID:    userID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Task Events
// ═══════════════════════════════════════════════════════════════════════════

// TaskAssignedEvent is emitted when a task becomes the user's active assignment.
type TaskAssignedEvent struct {
	BaseEvent
	UserID     UserID `json:"user_id"`
	TaskID     TaskID `json:"task_id"`
	PoolSize   int    `json:"pool_size"`
	CycleReset bool   `json:"cycle_reset"`
}

// Payload implements Event interface.
func (e TaskAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":     e.UserID.Int64(),
		"task_id":     int(e.TaskID),
		"pool_size":   e.PoolSize,
		"cycle_reset": e.CycleReset,
	}
}

// NewTaskAssignedEvent creates a new TaskAssignedEvent.
func NewTaskAssignedEvent(userID UserID, taskID TaskID, poolSize int, cycleReset bool) TaskAssignedEvent {
	return TaskAssignedEvent{
		BaseEvent:  NewBaseEvent(EventTaskAssigned, userID.String()),
		UserID:     userID,
		TaskID:     taskID,
		PoolSize:   poolSize,
		CycleReset: cycleReset,
	}
}

// TaskCompletedEvent is emitted when the user marks the active task as done.
type TaskCompletedEvent struct {
	BaseEvent
	UserID   UserID `json:"user_id"`
	TaskID   TaskID `json:"task_id"`
	Earned   Points `json:"earned"`
	NewTotal Points `json:"new_total"`
}

// Payload implements Event interface.
func (e TaskCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID.Int64(),
		"task_id":   int(e.TaskID),
		"earned":    e.Earned.Int(),
		"new_total": e.NewTotal.Int(),
	}
}

// NewTaskCompletedEvent creates a new TaskCompletedEvent.
func NewTaskCompletedEvent(userID UserID, taskID TaskID, earned, total Points) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent: NewBaseEvent(EventTaskCompleted, userID.String()),
		UserID:    userID,
		TaskID:    taskID,
		Earned:    earned,
		NewTotal:  total,
	}
}

// TaskSkippedEvent is emitted when the user skips the active task.
type TaskSkippedEvent struct {
	BaseEvent
	UserID UserID `json:"user_id"`
	TaskID TaskID `json:"task_id"`
}

// Payload implements Event interface.
func (e TaskSkippedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id": e.UserID.Int64(),
		"task_id": int(e.TaskID),
	}
}

// NewTaskSkippedEvent creates a new TaskSkippedEvent.
func NewTaskSkippedEvent(userID UserID, taskID TaskID) TaskSkippedEvent {
	return TaskSkippedEvent{
		BaseEvent: NewBaseEvent(EventTaskSkipped, userID.String()),
		UserID:    userID,
		TaskID:    taskID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelUpEvent is emitted when an award crosses a 100-point boundary.
type LevelUpEvent struct {
	BaseEvent
	UserID   UserID `json:"user_id"`
	OldLevel Level  `json:"old_level"`
	NewLevel Level  `json:"new_level"`
	Total    Points `json:"total"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   e.UserID.Int64(),
		"old_level": e.OldLevel.Int(),
		"new_level": e.NewLevel.Int(),
		"total":     e.Total.Int(),
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID UserID, oldLevel, newLevel Level, total Points) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent: NewBaseEvent(EventLevelUp, userID.String()),
		UserID:    userID,
		OldLevel:  oldLevel,
		NewLevel:  newLevel,
		Total:     total,
	}
}

// CycleResetEvent is emitted when a user has completed every task and the
// completed set starts over.
type CycleResetEvent struct {
	BaseEvent
	UserID    UserID `json:"user_id"`
	TaskCount int    `json:"task_count"`
}

// Payload implements Event interface.
func (e CycleResetEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID.Int64(),
		"task_count": e.TaskCount,
	}
}

// NewCycleResetEvent creates a new CycleResetEvent.
func NewCycleResetEvent(userID UserID, taskCount int) CycleResetEvent {
	return CycleResetEvent{
		BaseEvent: NewBaseEvent(EventCycleReset, userID.String()),
		UserID:    userID,
		TaskCount: taskCount,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Catalog Events
// ═══════════════════════════════════════════════════════════════════════════

// UnknownCategoryEvent signals a menu/catalog mismatch. It should never fire
// for a correctly built tip menu.
type UnknownCategoryEvent struct {
	BaseEvent
	Category Category `json:"category"`
	Source   string   `json:"source"`
}

// Payload implements Event interface.
func (e UnknownCategoryEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"category": e.Category.String(),
		"source":   e.Source,
	}
}

// NewUnknownCategoryEvent creates a new UnknownCategoryEvent.
func NewUnknownCategoryEvent(category Category, source string) UnknownCategoryEvent {
	return UnknownCategoryEvent{
		BaseEvent: NewBaseEvent(EventUnknownCategory, "catalog"),
		Category:  category,
		Source:    source,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport.
type EventEnvelope struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
