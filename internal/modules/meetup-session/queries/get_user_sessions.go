package queries

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	meetupsession "github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/eskrenkovic/mediator-go"
	"github.com/google/uuid"
)

type GetUserSessionsQuery struct {
	UserID uuid.UUID
}

func (q GetUserSessionsQuery) Validate() error {
	if q.UserID == uuid.Nil {
		return fmt.Errorf("invalid UserID - %s", q.UserID)
	}

	return nil
}

func HandleGetUserSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response, err := mediator.Send[GetUserSessionsQuery, []domain.Snapshot](
		ctx,
		GetUserSessionsQuery{UserID: core.Session(ctx).UserID},
	)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type GetUserSessionsQueryHandler struct {
	store store.Store
}

func NewGetUserSessionsQueryHandler(s store.Store) *GetUserSessionsQueryHandler {
	return &GetUserSessionsQueryHandler{s}
}

// Handle lists every session the user takes part in, newest first.
func (h *GetUserSessionsQueryHandler) Handle(
	ctx context.Context,
	request GetUserSessionsQuery,
) ([]domain.Snapshot, error) {
	summaries, err := h.store.ListSessionsForUser(ctx, request.UserID)
	if err != nil {
		return nil, meetupsession.CommandError(err)
	}

	snapshots := make([]domain.Snapshot, 0, len(summaries))
	for _, summary := range summaries {
		snapshots = append(snapshots, domain.NewSnapshot(summary.Session, summary.ParticipantCount))
	}

	return snapshots, nil
}
