package server

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/config"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/auth"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/commands"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/test"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	testSecret         = "server-test-secret"
	testSchedulerToken = "server-test-scheduler"
)

var api *test.APIClient

func TestMain(m *testing.M) {
	conf := config.Config{
		Logger:        zap.NewNop(),
		StorageDriver: config.StorageMemory,
		Auth:          config.AuthConfiguration{JWTSecret: testSecret, SchedulerToken: testSchedulerToken},
		Membership: config.MembershipConfiguration{
			Lock:           config.LockLocal,
			MaxAttempts:    5,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			JoinTimeout:    2 * time.Second,
		},
		Session: config.SessionConfiguration{
			DefaultMaxParticipants: 5,
			MaxParticipantsLimit:   50,
			TTL:                    time.Hour,
		},
	}

	srv, err := NewHTTPServer(conf)
	if err != nil {
		log.Fatal(err)
	}

	ts := httptest.NewServer(srv.Handler())

	verifier, err := auth.NewVerifier(auth.Config{Secret: []byte(testSecret)})
	if err != nil {
		log.Fatal(err)
	}
	api = test.NewAPIClient(ts.URL, ts.Client(), verifier)

	code := m.Run()

	ts.Close()
	if err := srv.Stop(context.Background()); err != nil {
		log.Println(err)
	}

	os.Exit(code)
}

func createSession(t *testing.T, owner uuid.UUID, maxParticipants int) domain.Snapshot {
	t.Helper()

	resp, err := api.Do(context.Background(), owner, http.MethodPost, "/sessions", commands.CreateSessionCommand{
		Name:            "Friday dinner",
		MaxParticipants: &maxParticipants,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(resp.Body))

	var snapshot domain.Snapshot
	require.NoError(t, resp.Decode(&snapshot))

	return snapshot
}

func join(t *testing.T, user uuid.UUID, code string) test.Response {
	t.Helper()

	resp, err := api.Do(context.Background(), user, http.MethodPost, "/sessions/actions/join", commands.JoinSessionCommand{
		InviteCode: code,
	})
	require.NoError(t, err)

	return resp
}

func Test_Routes_Require_Bearer_Token(t *testing.T) {
	resp, err := api.Do(context.Background(), uuid.Nil, http.MethodGet, "/sessions", nil)

	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(core.CorrelationIDHeader))
}

func Test_ExpireSessions_Rejects_User_Tokens(t *testing.T) {
	// Act
	resp, err := api.Do(context.Background(), uuid.New(), http.MethodPost, "/sessions/actions/expire", nil)

	// Assert
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func Test_ExpireSessions_Accepts_Scheduler_Token(t *testing.T) {
	// Act
	resp, err := api.Do(
		context.Background(),
		uuid.Nil,
		http.MethodPost,
		"/sessions/actions/expire",
		nil,
		test.WithHeader(auth.SchedulerTokenHeader, testSchedulerToken),
	)

	// Assert
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(resp.Body))

	var body commands.ExpireSessionsResponse
	require.NoError(t, resp.Decode(&body))
	require.GreaterOrEqual(t, body.Expired, 0)
}

func Test_CreateSession_Returns_Location_And_Creator_Counts_As_Participant(t *testing.T) {
	// Arrange
	owner := uuid.New()

	// Act
	resp, err := api.Do(context.Background(), owner, http.MethodPost, "/sessions", commands.CreateSessionCommand{
		Name: "Coffee",
	})

	// Assert
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var snapshot domain.Snapshot
	require.NoError(t, resp.Decode(&snapshot))
	require.Equal(t, "/sessions/"+snapshot.ID.String(), resp.Header.Get("Location"))
	require.Equal(t, owner, snapshot.CreatedBy)
	require.Equal(t, 1, snapshot.ParticipantCount)
	require.Equal(t, 5, snapshot.MaxParticipants)
	require.Len(t, snapshot.InviteCode, domain.InviteCodeLength)

	get, err := api.Do(context.Background(), uuid.New(), http.MethodGet, "/sessions/"+snapshot.ID.String(), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, get.StatusCode)
}

func Test_CreateSession_Returns_400_When_Name_Empty(t *testing.T) {
	resp, err := api.Do(context.Background(), uuid.New(), http.MethodPost, "/sessions", commands.CreateSessionCommand{})

	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Location"))
}

func Test_GetSession_Returns_400_When_ID_Malformed(t *testing.T) {
	resp, err := api.Do(context.Background(), uuid.New(), http.MethodGet, "/sessions/not-a-uuid", nil)

	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func Test_Join_Leave_And_List_Flow(t *testing.T) {
	// Arrange
	owner, guest := uuid.New(), uuid.New()
	session := createSession(t, owner, 3)

	// Act
	joined := join(t, guest, " "+session.InviteCode+" ")
	again := join(t, guest, session.InviteCode)

	// Assert
	require.Equal(t, http.StatusOK, joined.StatusCode, string(joined.Body))

	var first, second commands.JoinSessionResponse
	require.NoError(t, joined.Decode(&first))
	require.NoError(t, again.Decode(&second))
	require.False(t, first.AlreadyMember)
	require.True(t, second.AlreadyMember)
	require.Equal(t, 2, second.ParticipantCount)

	list, err := api.Do(context.Background(), guest, http.MethodGet, "/sessions", nil)
	require.NoError(t, err)

	var sessions []domain.Snapshot
	require.NoError(t, list.Decode(&sessions))
	require.Len(t, sessions, 1)
	require.Equal(t, session.ID, sessions[0].ID)

	leave, err := api.Do(context.Background(), guest, http.MethodPut, "/sessions/"+session.ID.String()+"/actions/leave", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, leave.StatusCode)

	var left commands.LeaveSessionResponse
	require.NoError(t, leave.Decode(&left))
	require.True(t, left.Left)

	ownerLeave, err := api.Do(context.Background(), owner, http.MethodPut, "/sessions/"+session.ID.String()+"/actions/leave", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, ownerLeave.StatusCode)
}

func Test_Join_Returns_404_When_Session_Closed(t *testing.T) {
	// Arrange
	owner := uuid.New()
	session := createSession(t, owner, 3)

	closed, err := api.Do(context.Background(), owner, http.MethodPut, "/sessions/"+session.ID.String()+"/actions/close", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, closed.StatusCode)

	// Act
	resp := join(t, uuid.New(), session.InviteCode)

	// Assert
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func Test_CloseSession_Returns_403_For_Non_Owner(t *testing.T) {
	session := createSession(t, uuid.New(), 3)

	resp, err := api.Do(context.Background(), uuid.New(), http.MethodPut, "/sessions/"+session.ID.String()+"/actions/close", nil)

	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func Test_Concurrent_Joins_Never_Exceed_Capacity(t *testing.T) {
	// Arrange
	const capacity, joiners = 4, 20

	session := createSession(t, uuid.New(), capacity)

	var admitted, full atomic.Int32
	var g errgroup.Group

	// Act
	for i := 0; i < joiners; i++ {
		g.Go(func() error {
			resp, err := api.Do(context.Background(), uuid.New(), http.MethodPost, "/sessions/actions/join", commands.JoinSessionCommand{
				InviteCode: session.InviteCode,
			})
			if err != nil {
				return err
			}

			switch resp.StatusCode {
			case http.StatusOK:
				admitted.Add(1)
			case http.StatusConflict:
				full.Add(1)
			}

			return nil
		})
	}

	// Assert
	require.NoError(t, g.Wait())
	require.Equal(t, int32(capacity-1), admitted.Load())
	require.Equal(t, int32(joiners-capacity+1), full.Load())

	get, err := api.Do(context.Background(), uuid.New(), http.MethodGet, "/sessions/"+session.ID.String(), nil)
	require.NoError(t, err)

	var snapshot domain.Snapshot
	require.NoError(t, get.Decode(&snapshot))
	require.Equal(t, capacity, snapshot.ParticipantCount)
}
