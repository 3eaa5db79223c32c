package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	meetupsession "github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/membership"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/eskrenkovic/mediator-go"
	"github.com/google/uuid"
)

type JoinSessionCommand struct {
	UserID     uuid.UUID `json:"-"`
	InviteCode string    `json:"invite_code"`
}

func (c JoinSessionCommand) Validate() error {
	var userErr, codeErr error

	if c.UserID == uuid.Nil {
		userErr = fmt.Errorf("invalid UserID - '%s'", c.UserID)
	}

	if _, err := domain.NormalizeInviteCode(c.InviteCode); err != nil {
		codeErr = err
	}

	return core.Validate(userErr, codeErr)
}

type JoinSessionResponse struct {
	domain.Snapshot
	AlreadyMember bool `json:"already_member"`
}

func HandleJoinSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	command, err := core.RequestBody[JoinSessionCommand](r)
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}
	command.UserID = core.Session(ctx).UserID

	response, err := mediator.Send[JoinSessionCommand, JoinSessionResponse](ctx, command)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type JoinSessionCommandHandler struct {
	store       store.Store
	coordinator *membership.Coordinator
}

func NewJoinSessionCommandHandler(s store.Store, coordinator *membership.Coordinator) *JoinSessionCommandHandler {
	return &JoinSessionCommandHandler{store: s, coordinator: coordinator}
}

func (h *JoinSessionCommandHandler) Handle(
	ctx context.Context,
	request JoinSessionCommand,
) (JoinSessionResponse, error) {
	code, err := domain.NormalizeInviteCode(request.InviteCode)
	if err != nil {
		return JoinSessionResponse{}, meetupsession.CommandError(err)
	}

	session, err := h.store.GetSessionByCode(ctx, code)
	if err != nil {
		return JoinSessionResponse{}, meetupsession.CommandError(err)
	}

	result, err := h.coordinator.Join(ctx, session.ID, request.UserID)
	if err != nil {
		return JoinSessionResponse{}, meetupsession.CommandError(err)
	}

	count, err := h.store.CountParticipants(ctx, session.ID)
	if err != nil {
		return JoinSessionResponse{}, meetupsession.CommandError(err)
	}

	return JoinSessionResponse{
		Snapshot:      domain.NewSnapshot(session, count),
		AlreadyMember: result == domain.AlreadyMember,
	}, nil
}
