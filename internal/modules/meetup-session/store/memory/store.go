// Package memory is a single-process Session Store. Admission decisions are
// serialized by a mutex owned by each session, so operations on different
// sessions never wait on each other.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/google/uuid"
)

var _ store.Store = (*Store)(nil)

type sessionEntry struct {
	mu           sync.Mutex
	session      domain.Session
	participants map[uuid.UUID]domain.Participant
}

// Store guards the session index with mu. Lock order is mu before a
// sessionEntry's mu.
type Store struct {
	mu          sync.RWMutex
	sessions    map[uuid.UUID]*sessionEntry
	activeCodes map[string]uuid.UUID
	now         func() time.Time
}

func New() *Store {
	return &Store{
		sessions:    make(map[uuid.UUID]*sessionEntry),
		activeCodes: make(map[string]uuid.UUID),
		now:         time.Now,
	}
}

func (s *Store) CreateSession(
	ctx context.Context,
	session domain.Session,
	creator domain.Participant,
) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return domain.Session{}, fmt.Errorf("session %s already exists", session.ID)
	}

	if session.Active() {
		if _, taken := s.activeCodes[session.InviteCode]; taken {
			return domain.Session{}, fmt.Errorf("invite code %s: %w", session.InviteCode, domain.ErrConflict)
		}
		s.activeCodes[session.InviteCode] = session.ID
	}

	if creator.JoinedAt.IsZero() {
		creator.JoinedAt = s.now().UTC()
	}

	s.sessions[session.ID] = &sessionEntry{
		session:      session,
		participants: map[uuid.UUID]domain.Participant{creator.UserID: creator},
	}

	return session, nil
}

func (s *Store) entry(id uuid.UUID) (*sessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, found := s.sessions[id]
	if !found {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	return e, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	e, err := s.entry(id)
	if err != nil {
		return domain.Session{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.session, nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	s.mu.RLock()
	id, found := s.activeCodes[code]
	s.mu.RUnlock()

	if !found {
		return domain.Session{}, fmt.Errorf("invite code %s: %w", code, domain.ErrSessionNotFound)
	}

	session, err := s.GetSession(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}

	if !session.Active() {
		return domain.Session{}, fmt.Errorf("invite code %s: %w", code, domain.ErrSessionNotFound)
	}

	return session, nil
}

func (s *Store) CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e, err := s.entry(sessionID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.participants), nil
}

func (s *Store) HasParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e, err := s.entry(sessionID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, found := e.participants[userID]
	return found, nil
}

func (s *Store) InsertParticipantIfRoom(
	ctx context.Context,
	sessionID uuid.UUID,
	userID uuid.UUID,
	maxParticipants int,
) (domain.AdmissionResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e, err := s.entry(sessionID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.session.Active() {
		return domain.SessionNotActive, nil
	}

	if _, found := e.participants[userID]; found {
		return domain.AlreadyMember, nil
	}

	if len(e.participants) >= maxParticipants {
		return domain.Full, nil
	}

	e.participants[userID] = domain.Participant{
		SessionID: sessionID,
		UserID:    userID,
		JoinedAt:  s.now().UTC(),
	}

	return domain.Admitted, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e, err := s.entry(sessionID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, found := e.participants[userID]; !found {
		return false, nil
	}

	delete(e.participants, userID)
	return true, nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]store.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	summaries := make([]store.SessionSummary, 0)
	for _, e := range entries {
		e.mu.Lock()
		if _, found := e.participants[userID]; found {
			summaries = append(summaries, store.SessionSummary{
				Session:          e.session,
				ParticipantCount: len(e.participants),
			})
		}
		e.mu.Unlock()
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Session.CreatedAt.After(summaries[j].Session.CreatedAt)
	})

	return summaries, nil
}

func (s *Store) CloseSession(ctx context.Context, id, ownerID uuid.UUID) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.sessions[id]
	if !found {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session.CreatedBy != ownerID {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrNotOwner)
	}

	if !e.session.Active() {
		return domain.Session{}, fmt.Errorf("session %s is %s: %w", id, e.session.Status, domain.ErrSessionClosed)
	}

	s.deactivate(e, domain.StatusClosed)
	return e.session, nil
}

func (s *Store) ExpireSessions(ctx context.Context, createdBefore time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, e := range s.sessions {
		e.mu.Lock()
		if e.session.Active() && e.session.CreatedAt.Before(createdBefore) {
			s.deactivate(e, domain.StatusExpired)
			expired++
		}
		e.mu.Unlock()
	}

	return expired, nil
}

// deactivate must be called with s.mu and e.mu held.
func (s *Store) deactivate(e *sessionEntry, status domain.Status) {
	e.session.Status = status
	if s.activeCodes[e.session.InviteCode] == e.session.ID {
		delete(s.activeCodes, e.session.InviteCode)
	}
}

func (s *Store) Close() error {
	return nil
}
