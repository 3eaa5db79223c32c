package queries

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/memory"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/storetest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func seedSession(t *testing.T, s *memory.Store, owner uuid.UUID, createdAt time.Time) domain.Session {
	t.Helper()

	session, err := domain.NewSession("Lunch", owner, 4, createdAt)
	require.NoError(t, err)
	session.InviteCode = storetest.UniqueCode()

	created, err := s.CreateSession(context.Background(), session, session.CreatorParticipant())
	require.NoError(t, err)

	return created
}

func Test_GetSession_Returns_Snapshot_With_Participant_Count(t *testing.T) {
	// Arrange
	s := memory.New()
	session := seedSession(t, s, uuid.New(), time.Now())

	_, err := s.InsertParticipantIfRoom(context.Background(), session.ID, uuid.New(), session.MaxParticipants)
	require.NoError(t, err)

	handler := NewGetSessionQueryHandler(s)

	// Act
	snapshot, err := handler.Handle(context.Background(), GetSessionQuery{SessionID: session.ID})

	// Assert
	require.NoError(t, err)
	require.Equal(t, session.ID, snapshot.ID)
	require.Equal(t, session.InviteCode, snapshot.InviteCode)
	require.Equal(t, 2, snapshot.ParticipantCount)
	require.Equal(t, 4, snapshot.MaxParticipants)
}

func Test_GetSession_Returns_NotFound_For_Unknown_ID(t *testing.T) {
	handler := NewGetSessionQueryHandler(memory.New())

	_, err := handler.Handle(context.Background(), GetSessionQuery{SessionID: uuid.New()})

	commandErr, ok := core.AsCommandError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, commandErr.StatusCode)
}

func Test_GetUserSessions_Returns_Sessions_Newest_First(t *testing.T) {
	// Arrange
	s := memory.New()
	user := uuid.New()

	older := seedSession(t, s, user, time.Now().Add(-time.Hour))
	newer := seedSession(t, s, uuid.New(), time.Now())
	seedSession(t, s, uuid.New(), time.Now())

	_, err := s.InsertParticipantIfRoom(context.Background(), newer.ID, user, newer.MaxParticipants)
	require.NoError(t, err)

	handler := NewGetUserSessionsQueryHandler(s)

	// Act
	snapshots, err := handler.Handle(context.Background(), GetUserSessionsQuery{UserID: user})

	// Assert
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	require.Equal(t, newer.ID, snapshots[0].ID)
	require.Equal(t, 2, snapshots[0].ParticipantCount)
	require.Equal(t, older.ID, snapshots[1].ID)
	require.Equal(t, 1, snapshots[1].ParticipantCount)
}

func Test_GetUserSessions_Returns_Empty_List_For_New_User(t *testing.T) {
	handler := NewGetUserSessionsQueryHandler(memory.New())

	snapshots, err := handler.Handle(context.Background(), GetUserSessionsQuery{UserID: uuid.New()})

	require.NoError(t, err)
	require.NotNil(t, snapshots)
	require.Empty(t, snapshots)
}

func Test_Queries_Validate_Reject_Nil_IDs(t *testing.T) {
	require.Error(t, GetSessionQuery{}.Validate())
	require.Error(t, GetUserSessionsQuery{}.Validate())
}
