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
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

type GetSessionQuery struct {
	SessionID uuid.UUID
}

func (q GetSessionQuery) Validate() error {
	if q.SessionID == uuid.Nil {
		return fmt.Errorf("invalid SessionID - %s", q.SessionID)
	}

	return nil
}

func HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		core.WriteBadRequest(w, r, fmt.Errorf("invalid format for url param 'id'"))
		return
	}

	response, err := mediator.Send[GetSessionQuery, domain.Snapshot](
		r.Context(),
		GetSessionQuery{SessionID: sessionID},
	)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type GetSessionQueryHandler struct {
	store store.Store
}

func NewGetSessionQueryHandler(s store.Store) *GetSessionQueryHandler {
	return &GetSessionQueryHandler{s}
}

func (h *GetSessionQueryHandler) Handle(
	ctx context.Context,
	request GetSessionQuery,
) (domain.Snapshot, error) {
	session, err := h.store.GetSession(ctx, request.SessionID)
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	count, err := h.store.CountParticipants(ctx, session.ID)
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	return domain.NewSnapshot(session, count), nil
}
