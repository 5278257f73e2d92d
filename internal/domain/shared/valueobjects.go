// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UserID represents a unique Telegram user identifier.
// It is the only identity the bot knows about a person.
type UserID int64

// IsValid checks if the user ID is valid (positive number).
func (u UserID) IsValid() bool {
	return u > 0
}

// Int64 returns the underlying int64 value.
func (u UserID) Int64() int64 {
	return int64(u)
}

// String returns the string representation.
func (u UserID) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// NewUserID creates a new UserID with validation.
func NewUserID(id int64) (UserID, error) {
	if id <= 0 {
		return 0, ErrInvalidUserID
	}
	return UserID(id), nil
}

// TaskID identifies a task in the task catalog.
type TaskID int

// IsValid checks if the task ID is valid (positive number).
func (t TaskID) IsValid() bool {
	return t > 0
}

// String returns the string representation.
func (t TaskID) String() string {
	return strconv.Itoa(int(t))
}

// ParseTaskID parses a decimal task id.
func ParseTaskID(s string) (TaskID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, NewDomainError("shared", "ParseTaskID", ErrInvalidID, fmt.Sprintf("invalid task ID %q", s))
	}
	return TaskID(n), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Points & Level
// ═══════════════════════════════════════════════════════════════════════════

// Points represents eco points earned by a user.
type Points int

// PointsPerLevel is the size of one level band.
const PointsPerLevel Points = 100

// IsValid checks that the amount is non-negative.
func (p Points) IsValid() bool {
	return p >= 0
}

// Int returns the underlying int value.
func (p Points) Int() int {
	return int(p)
}

// Add returns the sum, ignoring negative deltas.
func (p Points) Add(delta Points) Points {
	if delta < 0 {
		return p
	}
	return p + delta
}

// Level represents a user level. Levels start at 1.
type Level int

// MinLevel is the level of a fresh user.
const MinLevel Level = 1

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// CalculateLevel derives the level from total points: floor(points/100) + 1.
func CalculateLevel(p Points) Level {
	if p < 0 {
		return MinLevel
	}
	return Level(p/PointsPerLevel) + MinLevel
}

// PointsToNextLevel returns how many points are missing until the next level.
func PointsToNextLevel(p Points) Points {
	if p < 0 {
		return PointsPerLevel
	}
	return PointsPerLevel - p%PointsPerLevel
}

// ═══════════════════════════════════════════════════════════════════════════
// Category
// ═══════════════════════════════════════════════════════════════════════════

// Category is a task or tip category, e.g. "Вода".
type Category string

// NewCategory trims and validates a category name.
func NewCategory(name string) (Category, error) {
	c := Category(strings.TrimSpace(name))
	if c == "" {
		return "", NewDomainError("shared", "NewCategory", ErrEmptyValue, "category cannot be empty")
	}
	return c, nil
}

// String returns the string representation.
func (c Category) String() string {
	return string(c)
}

// ═══════════════════════════════════════════════════════════════════════════
// MessageRef
// ═══════════════════════════════════════════════════════════════════════════

// MessageRef points at the chat message that presented something to the user,
// so it can be edited in place later. The zero value means "no message".
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the reference is empty.
func (m MessageRef) IsZero() bool {
	return m.ChatID == 0 && m.MessageID == 0
}

// String returns "chat/message".
func (m MessageRef) String() string {
	return fmt.Sprintf("%d/%d", m.ChatID, m.MessageID)
}
