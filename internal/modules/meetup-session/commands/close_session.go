package commands

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

type CloseSessionCommand struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

func (c CloseSessionCommand) Validate() error {
	var sessionErr, userErr error

	if c.SessionID == uuid.Nil {
		sessionErr = fmt.Errorf("invalid SessionID - '%s'", c.SessionID)
	}

	if c.UserID == uuid.Nil {
		userErr = fmt.Errorf("invalid UserID - '%s'", c.UserID)
	}

	return core.Validate(sessionErr, userErr)
}

func HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		core.WriteBadRequest(w, r, fmt.Errorf("invalid format for url param 'id'"))
		return
	}

	command := CloseSessionCommand{
		SessionID: sessionID,
		UserID:    core.Session(ctx).UserID,
	}

	response, err := mediator.Send[CloseSessionCommand, domain.Snapshot](ctx, command)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type CloseSessionCommandHandler struct {
	store store.Store
}

func NewCloseSessionCommandHandler(s store.Store) *CloseSessionCommandHandler {
	return &CloseSessionCommandHandler{s}
}

// Handle ends an active session on behalf of its owner, releasing the invite
// code for reuse.
func (h *CloseSessionCommandHandler) Handle(
	ctx context.Context,
	request CloseSessionCommand,
) (domain.Snapshot, error) {
	closed, err := h.store.CloseSession(ctx, request.SessionID, request.UserID)
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	count, err := h.store.CountParticipants(ctx, closed.ID)
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	return domain.NewSnapshot(closed, count), nil
}
