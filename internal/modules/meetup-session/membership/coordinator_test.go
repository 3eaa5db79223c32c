package membership

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/memory"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func testOptions() Options {
	return Options{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		JoinTimeout:    2 * time.Second,
	}
}

func createSession(t *testing.T, s store.Store, maxParticipants int) domain.Session {
	t.Helper()

	session, err := domain.NewSession("coffee", uuid.New(), maxParticipants, time.Now())
	require.NoError(t, err)
	session.InviteCode = storetest.UniqueCode()

	created, err := s.CreateSession(context.Background(), session, session.CreatorParticipant())
	require.NoError(t, err)

	return created
}

// flakyStore fails the first failures admissions with domain.ErrRetryable.
type flakyStore struct {
	store.Store
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) InsertParticipantIfRoom(
	ctx context.Context,
	sessionID uuid.UUID,
	userID uuid.UUID,
	maxParticipants int,
) (domain.AdmissionResult, error) {
	if s.calls.Add(1) <= s.failures {
		return 0, fmt.Errorf("serialization failure: %w", domain.ErrRetryable)
	}
	return s.Store.InsertParticipantIfRoom(ctx, sessionID, userID, maxParticipants)
}

func Test_Join_Admits_New_Participant(t *testing.T) {
	// Arrange
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 3)
	guest := uuid.New()

	// Act
	result, err := coordinator.Join(context.Background(), session.ID, guest)

	// Assert
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)

	has, err := s.HasParticipant(context.Background(), session.ID, guest)
	require.NoError(t, err)
	require.True(t, has)
}

func Test_Join_Is_Idempotent_When_Already_Member(t *testing.T) {
	// Arrange
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 3)
	guest := uuid.New()

	_, err := coordinator.Join(context.Background(), session.ID, guest)
	require.NoError(t, err)

	// Act
	result, err := coordinator.Join(context.Background(), session.ID, guest)

	// Assert
	require.NoError(t, err)
	require.Equal(t, domain.AlreadyMember, result)

	count, err := s.CountParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func Test_Join_Treats_Creator_As_Already_Member(t *testing.T) {
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 1)

	result, err := coordinator.Join(context.Background(), session.ID, session.CreatedBy)

	require.NoError(t, err)
	require.Equal(t, domain.AlreadyMember, result)
}

func Test_Join_Returns_SessionFull_When_Capacity_Reached(t *testing.T) {
	// Arrange
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 2)

	_, err := coordinator.Join(context.Background(), session.ID, uuid.New())
	require.NoError(t, err)

	// Act
	_, err = coordinator.Join(context.Background(), session.ID, uuid.New())

	// Assert
	require.ErrorIs(t, err, domain.ErrSessionFull)
}

func Test_Join_Returns_SessionClosed_When_Session_Not_Active(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())

	closed := createSession(t, s, 5)
	_, err := s.CloseSession(ctx, closed.ID, closed.CreatedBy)
	require.NoError(t, err)

	expiredSession, err := domain.NewSession("old", uuid.New(), 5, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)
	expiredSession.InviteCode = storetest.UniqueCode()
	_, err = s.CreateSession(ctx, expiredSession, expiredSession.CreatorParticipant())
	require.NoError(t, err)
	_, err = s.ExpireSessions(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	for _, id := range []uuid.UUID{closed.ID, expiredSession.ID} {
		// Act
		_, err := coordinator.Join(ctx, id, uuid.New())

		// Assert
		require.ErrorIs(t, err, domain.ErrSessionClosed)
	}
}

func Test_Join_Returns_SessionNotFound_When_Session_Unknown(t *testing.T) {
	coordinator := NewCoordinator(memory.New(), NewLocalLocker(), zap.NewNop(), testOptions())

	_, err := coordinator.Join(context.Background(), uuid.New(), uuid.New())

	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func Test_Join_Admits_Exactly_Remaining_Capacity_When_Racing(t *testing.T) {
	for _, locker := range []Locker{NoopLocker{}, NewLocalLocker()} {
		t.Run(fmt.Sprintf("%T", locker), func(t *testing.T) {
			// Arrange
			ctx := context.Background()
			s := memory.New()
			coordinator := NewCoordinator(s, locker, zap.NewNop(), testOptions())

			const capacity = 4
			const joiners = 25
			session := createSession(t, s, capacity)

			var admitted, full atomic.Int32
			var g errgroup.Group

			// Act
			for i := 0; i < joiners; i++ {
				g.Go(func() error {
					_, err := coordinator.Join(ctx, session.ID, uuid.New())
					switch {
					case err == nil:
						admitted.Add(1)
					case errors.Is(err, domain.ErrSessionFull):
						full.Add(1)
					default:
						return err
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
		})
	}
}

func Test_Join_Retries_When_Store_Reports_Retryable_Failure(t *testing.T) {
	// Arrange
	s := &flakyStore{Store: memory.New(), failures: 2}
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 3)

	// Act
	result, err := coordinator.Join(context.Background(), session.ID, uuid.New())

	// Assert
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)
	require.EqualValues(t, 3, s.calls.Load())
}

func Test_Join_Returns_Timeout_When_Retries_Exhausted(t *testing.T) {
	// Arrange
	s := &flakyStore{Store: memory.New(), failures: 100}
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 3)

	// Act
	_, err := coordinator.Join(context.Background(), session.ID, uuid.New())

	// Assert
	require.ErrorIs(t, err, domain.ErrTimeout)
	require.EqualValues(t, testOptions().MaxAttempts, s.calls.Load())
}

func Test_Join_Returns_Timeout_When_Lock_Held_Past_Deadline(t *testing.T) {
	// Arrange
	s := memory.New()
	locker := NewLocalLocker()
	coordinator := NewCoordinator(s, locker, zap.NewNop(), testOptions())
	session := createSession(t, s, 3)

	lease, err := locker.Acquire(context.Background(), lockKey(session.ID))
	require.NoError(t, err)
	defer func() { _ = lease.Release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Act
	_, err = coordinator.Join(ctx, session.ID, uuid.New())

	// Assert
	require.ErrorIs(t, err, domain.ErrTimeout)

	count, err := s.CountParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func Test_Join_Returns_Canceled_When_Caller_Cancels(t *testing.T) {
	// Arrange
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	_, err := coordinator.Join(ctx, session.ID, uuid.New())

	// Assert
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, domain.ErrTimeout)
}

func Test_Leave_Frees_A_Slot(t *testing.T) {
	// Arrange
	ctx := context.Background()
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 2)
	guest := uuid.New()

	_, err := coordinator.Join(ctx, session.ID, guest)
	require.NoError(t, err)

	// Act
	removed, err := coordinator.Leave(ctx, session.ID, guest)

	// Assert
	require.NoError(t, err)
	require.True(t, removed)

	result, err := coordinator.Join(ctx, session.ID, uuid.New())
	require.NoError(t, err)
	require.Equal(t, domain.Admitted, result)
}

func Test_Leave_Is_NoOp_When_Not_A_Member(t *testing.T) {
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 2)

	removed, err := coordinator.Leave(context.Background(), session.ID, uuid.New())

	require.NoError(t, err)
	require.False(t, removed)
}

func Test_Leave_Rejects_Owner_Of_Active_Session(t *testing.T) {
	// Arrange
	s := memory.New()
	coordinator := NewCoordinator(s, NewLocalLocker(), zap.NewNop(), testOptions())
	session := createSession(t, s, 2)

	// Act
	_, err := coordinator.Leave(context.Background(), session.ID, session.CreatedBy)

	// Assert
	require.ErrorIs(t, err, domain.ErrOwnerCannotLeave)

	has, err := s.HasParticipant(context.Background(), session.ID, session.CreatedBy)
	require.NoError(t, err)
	require.True(t, has)
}

func Test_Options_WithDefaults_Fills_Zero_Values(t *testing.T) {
	opts := Options{}.withDefaults()

	require.Equal(t, DefaultOptions(), opts)
}

func Test_Options_WithDefaults_Raises_MaxBackoff_To_InitialBackoff(t *testing.T) {
	opts := Options{InitialBackoff: time.Second, MaxBackoff: 100 * time.Millisecond}.withDefaults()

	require.Equal(t, time.Second, opts.MaxBackoff)
}

func Test_Options_WithDefaults_Keeps_Explicit_MaxBackoff(t *testing.T) {
	opts := Options{MaxBackoff: time.Second}.withDefaults()

	require.Equal(t, DefaultOptions().InitialBackoff, opts.InitialBackoff)
	require.Equal(t, time.Second, opts.MaxBackoff)
}
