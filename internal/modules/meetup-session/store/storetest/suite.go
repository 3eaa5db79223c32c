// Package storetest holds the behaviour every Session Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, store.Store)
	}{
		{"CreateSession_Persists_Creator_As_First_Participant", testCreatePersistsCreator},
		{"CreateSession_Returns_The_Stored_Creation_Time", testCreateReturnsStoredTime},
		{"CreateSession_Returns_Conflict_When_Code_Held_By_Active_Session", testCreateConflict},
		{"CreateSession_Allows_Code_Reuse_After_Session_Closed", testCodeReuseAfterClose},
		{"CreateSession_Allows_Code_Reuse_After_Session_Expired", testCodeReuseAfterExpire},
		{"CreateSession_Admits_Exactly_One_Of_Racing_Sessions_With_Same_Code", testCreateRace},
		{"GetSession_Returns_NotFound_For_Unknown_ID", testGetNotFound},
		{"GetSessionByCode_Only_Matches_Active_Sessions", testGetByCodeActiveOnly},
		{"InsertParticipantIfRoom_Reports_Every_Outcome", testInsertOutcomes},
		{"InsertParticipantIfRoom_Returns_NotFound_For_Unknown_Session", testInsertNotFound},
		{"InsertParticipantIfRoom_Never_Exceeds_Capacity_Under_Race", testInsertRace},
		{"InsertParticipantIfRoom_Counts_Racing_Duplicate_Once", testInsertDuplicateRace},
		{"RemoveParticipant_Frees_A_Slot", testRemoveParticipant},
		{"ListSessionsForUser_Returns_Member_Sessions_Newest_First", testListForUser},
		{"CloseSession_Requires_Owner_And_Active_Session", testCloseSession},
		{"ExpireSessions_Moves_Old_Active_Sessions_To_Expired", testExpireSessions},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var codes = domain.NewCodeGenerator()

// UniqueCode returns a random well-formed invite code.
func UniqueCode() string {
	code, err := codes.Candidate()
	if err != nil {
		panic(err)
	}
	return code
}

func newSession(t *testing.T, code string, maxParticipants int, createdAt time.Time) domain.Session {
	t.Helper()

	session, err := domain.NewSession(fmt.Sprintf("session-%s", code), uuid.New(), maxParticipants, createdAt)
	require.NoError(t, err)
	session.InviteCode = code

	return session
}

func create(t *testing.T, s store.Store, session domain.Session) domain.Session {
	t.Helper()

	created, err := s.CreateSession(context.Background(), session, session.CreatorParticipant())
	require.NoError(t, err)

	return created
}

func testCreatePersistsCreator(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := newSession(t, UniqueCode(), 5, time.Now())

	// Act
	created := create(t, s, session)

	// Assert
	require.Equal(t, session.ID, created.ID)

	has, err := s.HasParticipant(ctx, session.ID, session.CreatedBy)
	require.NoError(t, err)
	require.True(t, has)

	count, err := s.CountParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stored, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.Name, stored.Name)
	require.Equal(t, session.InviteCode, stored.InviteCode)
	require.Equal(t, session.CreatedBy, stored.CreatedBy)
	require.Equal(t, session.MaxParticipants, stored.MaxParticipants)
	require.Equal(t, domain.StatusActive, stored.Status)
	require.WithinDuration(t, session.CreatedAt, stored.CreatedAt, time.Second)
}

func testCreateReturnsStoredTime(t *testing.T, s store.Store) {
	// Arrange
	createdAt := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	session := newSession(t, UniqueCode(), 3, createdAt)

	// Act
	created := create(t, s, session)

	// Assert
	stored, err := s.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	require.True(t, created.CreatedAt.Equal(stored.CreatedAt), "created %s, stored %s", created.CreatedAt, stored.CreatedAt)
}

func testCreateConflict(t *testing.T, s store.Store) {
	// Arrange
	code := UniqueCode()
	first := create(t, s, newSession(t, code, 5, time.Now()))
	second := newSession(t, code, 5, time.Now())

	// Act
	_, err := s.CreateSession(context.Background(), second, second.CreatorParticipant())

	// Assert
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = s.GetSession(context.Background(), second.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	stored, err := s.GetSessionByCode(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.ID)
}

func testCodeReuseAfterClose(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	code := UniqueCode()
	first := create(t, s, newSession(t, code, 5, time.Now()))

	_, err := s.CloseSession(ctx, first.ID, first.CreatedBy)
	require.NoError(t, err)

	// Act
	second := create(t, s, newSession(t, code, 5, time.Now()))

	// Assert
	stored, err := s.GetSessionByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, second.ID, stored.ID)
}

func testCodeReuseAfterExpire(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	code := UniqueCode()
	create(t, s, newSession(t, code, 5, time.Now().Add(-48*time.Hour)))

	_, err := s.ExpireSessions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	// Act
	second := create(t, s, newSession(t, code, 5, time.Now()))

	// Assert
	stored, err := s.GetSessionByCode(ctx, code)
	require.NoError(t, err)
	require.Equal(t, second.ID, stored.ID)
}

func testCreateRace(t *testing.T, s store.Store) {
	// Arrange
	code := UniqueCode()
	const racers = 10

	var created, conflicts atomic.Int32
	var g errgroup.Group

	// Act
	for i := 0; i < racers; i++ {
		session := newSession(t, code, 5, time.Now())
		g.Go(func() error {
			_, err := s.CreateSession(context.Background(), session, session.CreatorParticipant())
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}

	// Assert
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, created.Load())
	require.EqualValues(t, racers-1, conflicts.Load())
}

func testGetNotFound(t *testing.T, s store.Store) {
	_, err := s.GetSession(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.GetSessionByCode(context.Background(), UniqueCode())
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testGetByCodeActiveOnly(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := create(t, s, newSession(t, UniqueCode(), 5, time.Now()))

	found, err := s.GetSessionByCode(ctx, session.InviteCode)
	require.NoError(t, err)
	require.Equal(t, session.ID, found.ID)

	// Act
	_, err = s.CloseSession(ctx, session.ID, session.CreatedBy)
	require.NoError(t, err)

	// Assert
	_, err = s.GetSessionByCode(ctx, session.InviteCode)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testInsertOutcomes(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := create(t, s, newSession(t, UniqueCode(), 2, time.Now()))
	guest := uuid.New()

	// Act + Assert
	result, err := s.InsertParticipantIfRoom(ctx, session.ID, guest, session.MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)

	result, err = s.InsertParticipantIfRoom(ctx, session.ID, guest, session.MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, domain.AlreadyMember, result)

	result, err = s.InsertParticipantIfRoom(ctx, session.ID, uuid.New(), session.MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, domain.Full, result)

	count, err := s.CountParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = s.CloseSession(ctx, session.ID, session.CreatedBy)
	require.NoError(t, err)

	result, err = s.InsertParticipantIfRoom(ctx, session.ID, uuid.New(), 100)
	require.NoError(t, err)
	require.Equal(t, domain.SessionNotActive, result)
}

func testInsertNotFound(t *testing.T, s store.Store) {
	_, err := s.InsertParticipantIfRoom(context.Background(), uuid.New(), uuid.New(), 5)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func testInsertRace(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	const capacity = 5
	const joiners = 20
	session := create(t, s, newSession(t, UniqueCode(), capacity, time.Now()))

	var admitted, full atomic.Int32
	var g errgroup.Group

	// Act
	for i := 0; i < joiners; i++ {
		g.Go(func() error {
			result, err := s.InsertParticipantIfRoom(ctx, session.ID, uuid.New(), capacity)
			if err != nil {
				return err
			}
			switch result {
			case domain.Admitted:
				admitted.Add(1)
			case domain.Full:
				full.Add(1)
			default:
				return fmt.Errorf("unexpected result %s", result)
			}
			return nil
		})
	}

	// Assert
	require.NoError(t, g.Wait())
	require.EqualValues(t, capacity-1, admitted.Load())
	require.EqualValues(t, joiners-(capacity-1), full.Load())

	count, err := s.CountParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, capacity, count)
}

func testInsertDuplicateRace(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := create(t, s, newSession(t, UniqueCode(), 5, time.Now()))
	guest := uuid.New()

	var admitted, already atomic.Int32
	var g errgroup.Group

	// Act
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			result, err := s.InsertParticipantIfRoom(ctx, session.ID, guest, session.MaxParticipants)
			if err != nil {
				return err
			}
			switch result {
			case domain.Admitted:
				admitted.Add(1)
			case domain.AlreadyMember:
				already.Add(1)
			default:
				return fmt.Errorf("unexpected result %s", result)
			}
			return nil
		})
	}

	// Assert
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, admitted.Load())
	require.EqualValues(t, 7, already.Load())

	count, err := s.CountParticipants(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func testRemoveParticipant(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := create(t, s, newSession(t, UniqueCode(), 2, time.Now()))
	guest := uuid.New()

	result, err := s.InsertParticipantIfRoom(ctx, session.ID, guest, session.MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)

	// Act
	removed, err := s.RemoveParticipant(ctx, session.ID, guest)

	// Assert
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = s.RemoveParticipant(ctx, session.ID, guest)
	require.NoError(t, err)
	require.False(t, removed)

	result, err = s.InsertParticipantIfRoom(ctx, session.ID, uuid.New(), session.MaxParticipants)
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)
}

func testListForUser(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	user := uuid.New()

	older := create(t, s, newSession(t, UniqueCode(), 5, time.Now().Add(-time.Hour)))
	newer := create(t, s, newSession(t, UniqueCode(), 5, time.Now()))
	create(t, s, newSession(t, UniqueCode(), 5, time.Now()))

	for _, session := range []domain.Session{older, newer} {
		result, err := s.InsertParticipantIfRoom(ctx, session.ID, user, session.MaxParticipants)
		require.NoError(t, err)
		require.Equal(t, domain.Admitted, result)
	}

	// Act
	summaries, err := s.ListSessionsForUser(ctx, user)

	// Assert
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, newer.ID, summaries[0].Session.ID)
	require.Equal(t, older.ID, summaries[1].Session.ID)
	require.Equal(t, 2, summaries[0].ParticipantCount)

	empty, err := s.ListSessionsForUser(ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testCloseSession(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	session := create(t, s, newSession(t, UniqueCode(), 5, time.Now()))

	// Act + Assert
	_, err := s.CloseSession(ctx, session.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotOwner)

	closed, err := s.CloseSession(ctx, session.ID, session.CreatedBy)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, closed.Status)

	_, err = s.CloseSession(ctx, session.ID, session.CreatedBy)
	require.ErrorIs(t, err, domain.ErrSessionClosed)

	_, err = s.CloseSession(ctx, uuid.New(), session.CreatedBy)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	stored, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, stored.Status)
}

func testExpireSessions(t *testing.T, s store.Store) {
	// Arrange
	ctx := context.Background()
	cutoff := time.Now().Add(-24 * time.Hour)

	stale := create(t, s, newSession(t, UniqueCode(), 5, cutoff.Add(-time.Hour)))
	fresh := create(t, s, newSession(t, UniqueCode(), 5, time.Now()))
	closed := create(t, s, newSession(t, UniqueCode(), 5, cutoff.Add(-time.Hour)))
	_, err := s.CloseSession(ctx, closed.ID, closed.CreatedBy)
	require.NoError(t, err)

	// Act
	expired, err := s.ExpireSessions(ctx, cutoff)

	// Assert
	require.NoError(t, err)
	require.GreaterOrEqual(t, expired, 1)

	stored, err := s.GetSession(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusExpired, stored.Status)

	stored, err = s.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusActive, stored.Status)

	stored, err = s.GetSession(ctx, closed.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusClosed, stored.Status)
}
