// Package store defines the durable record of sessions and their
// participants. Every backend has to honour the invariants below even when
// callers race:
//
//   - participants of an active session never exceed its capacity
//   - no two active sessions share an invite code
//   - a user is a participant of a session at most once
//   - the creator is persisted as a participant together with the session
package store

import (
	"context"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"

	"github.com/google/uuid"
)

// SessionSummary is a session together with its current participant count.
type SessionSummary struct {
	Session          domain.Session
	ParticipantCount int
}

type Store interface {
	// CreateSession persists session and its creator participant as one
	// unit. It fails with domain.ErrConflict when the invite code is held by
	// another active session.
	CreateSession(ctx context.Context, session domain.Session, creator domain.Participant) (domain.Session, error)

	GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error)

	// GetSessionByCode only matches active sessions.
	GetSessionByCode(ctx context.Context, code string) (domain.Session, error)

	CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error)

	HasParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)

	// InsertParticipantIfRoom performs the status check, duplicate check,
	// count check and insert as one indivisible unit relative to other
	// callers for the same session.
	InsertParticipantIfRoom(ctx context.Context, sessionID, userID uuid.UUID, maxParticipants int) (domain.AdmissionResult, error)

	// RemoveParticipant reports whether a row was deleted.
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)

	// ListSessionsForUser returns the sessions userID participates in,
	// newest first.
	ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]SessionSummary, error)

	// CloseSession moves an active session owned by ownerID to closed,
	// releasing its invite code.
	CloseSession(ctx context.Context, id, ownerID uuid.UUID) (domain.Session, error)

	// ExpireSessions moves every active session created before cutoff to
	// expired and returns how many were moved.
	ExpireSessions(ctx context.Context, createdBefore time.Time) (int, error)

	Close() error
}
