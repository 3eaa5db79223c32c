package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxParticipants = 5
	MaxNameLength          = 120
)

type Status string

const (
	StatusActive  Status = "active"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusExpired:
		return true
	default:
		return false
	}
}

type Session struct {
	ID              uuid.UUID `db:"id"`
	Name            string    `db:"name"`
	InviteCode      string    `db:"invite_code"`
	CreatedBy       uuid.UUID `db:"created_by"`
	MaxParticipants int       `db:"max_participants"`
	Status          Status    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
}

func (s Session) Active() bool {
	return s.Status == StatusActive
}

type Participant struct {
	SessionID uuid.UUID `db:"session_id"`
	UserID    uuid.UUID `db:"user_id"`
	JoinedAt  time.Time `db:"joined_at"`
}

// Snapshot is the read model handed to callers of the session API.
type Snapshot struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	InviteCode       string    `json:"invite_code"`
	Status           Status    `json:"status"`
	CreatedBy        uuid.UUID `json:"created_by"`
	CreatedAt        time.Time `json:"created_at"`
	ParticipantCount int       `json:"participant_count"`
	MaxParticipants  int       `json:"max_participants"`
}

func NewSnapshot(session Session, participantCount int) Snapshot {
	return Snapshot{
		ID:               session.ID,
		Name:             session.Name,
		InviteCode:       session.InviteCode,
		Status:           session.Status,
		CreatedBy:        session.CreatedBy,
		CreatedAt:        session.CreatedAt,
		ParticipantCount: participantCount,
		MaxParticipants:  session.MaxParticipants,
	}
}

type CapacityLimits struct {
	Default int
	Max     int
}

func DefaultCapacityLimits() CapacityLimits {
	return CapacityLimits{Default: DefaultMaxParticipants, Max: 50}
}

// Resolve returns the capacity to use for a new session. A nil request
// falls back to the default.
func (l CapacityLimits) Resolve(requested *int) (int, error) {
	if requested == nil {
		return l.Default, nil
	}

	capacity := *requested
	if capacity < 1 {
		return 0, fmt.Errorf("%w: max participants must be positive, got %d", ErrValidation, capacity)
	}

	if l.Max > 0 && capacity > l.Max {
		return 0, fmt.Errorf("%w: max participants must not exceed %d, got %d", ErrValidation, l.Max, capacity)
	}

	return capacity, nil
}

// NewSession builds an active session owned by ownerID. The invite code is
// assigned later by the code generator.
func NewSession(name string, ownerID uuid.UUID, maxParticipants int, now time.Time) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, fmt.Errorf("%w: name is required", ErrValidation)
	}

	if len([]rune(name)) > MaxNameLength {
		return Session{}, fmt.Errorf("%w: name must not exceed %d characters", ErrValidation, MaxNameLength)
	}

	if ownerID == uuid.Nil {
		return Session{}, fmt.Errorf("%w: owner id is required", ErrValidation)
	}

	if maxParticipants < 1 {
		return Session{}, fmt.Errorf("%w: max participants must be positive, got %d", ErrValidation, maxParticipants)
	}

	return Session{
		ID:              uuid.New(),
		Name:            name,
		CreatedBy:       ownerID,
		MaxParticipants: maxParticipants,
		Status:          StatusActive,
		CreatedAt:       now.UTC(),
	}, nil
}

// CreatorParticipant is the participant row persisted together with the
// session so the owner is a member from the moment the session exists.
func (s Session) CreatorParticipant() Participant {
	return Participant{
		SessionID: s.ID,
		UserID:    s.CreatedBy,
		JoinedAt:  s.CreatedAt,
	}
}
