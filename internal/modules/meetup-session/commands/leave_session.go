package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	meetupsession "github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/membership"

	"github.com/eskrenkovic/mediator-go"
	"github.com/go-chi/chi"
	"github.com/google/uuid"
)

type LeaveSessionCommand struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

func (c LeaveSessionCommand) Validate() error {
	var sessionErr, userErr error

	if c.SessionID == uuid.Nil {
		sessionErr = fmt.Errorf("invalid SessionID - '%s'", c.SessionID)
	}

	if c.UserID == uuid.Nil {
		userErr = fmt.Errorf("invalid UserID - '%s'", c.UserID)
	}

	return core.Validate(sessionErr, userErr)
}

type LeaveSessionResponse struct {
	Left bool `json:"left"`
}

func HandleLeaveSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		core.WriteBadRequest(w, r, fmt.Errorf("invalid format for url param 'id'"))
		return
	}

	command := LeaveSessionCommand{
		SessionID: sessionID,
		UserID:    core.Session(ctx).UserID,
	}

	response, err := mediator.Send[LeaveSessionCommand, LeaveSessionResponse](ctx, command)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type LeaveSessionCommandHandler struct {
	coordinator *membership.Coordinator
}

func NewLeaveSessionCommandHandler(coordinator *membership.Coordinator) *LeaveSessionCommandHandler {
	return &LeaveSessionCommandHandler{coordinator}
}

func (h *LeaveSessionCommandHandler) Handle(
	ctx context.Context,
	request LeaveSessionCommand,
) (LeaveSessionResponse, error) {
	removed, err := h.coordinator.Leave(ctx, request.SessionID, request.UserID)
	if err != nil {
		return LeaveSessionResponse{}, meetupsession.CommandError(err)
	}

	return LeaveSessionResponse{Left: removed}, nil
}
