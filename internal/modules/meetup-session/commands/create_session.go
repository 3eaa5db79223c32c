package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	meetupsession "github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/eskrenkovic/mediator-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateSessionCommand struct {
	OwnerID         uuid.UUID `json:"-"`
	Name            string    `json:"name"`
	MaxParticipants *int      `json:"max_participants,omitempty"`
}

func (c CreateSessionCommand) Validate() error {
	var ownerErr, nameErr, maxErr error

	if c.OwnerID == uuid.Nil {
		ownerErr = fmt.Errorf("invalid OwnerID - '%s'", c.OwnerID)
	}

	if strings.TrimSpace(c.Name) == "" {
		nameErr = fmt.Errorf("invalid Name - '%s'", c.Name)
	}

	if c.MaxParticipants != nil && *c.MaxParticipants < 1 {
		maxErr = fmt.Errorf("invalid MaxParticipants - '%d'", *c.MaxParticipants)
	}

	return core.Validate(ownerErr, nameErr, maxErr)
}

func HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	command, err := core.RequestBody[CreateSessionCommand](r)
	if err != nil {
		core.WriteBadRequest(w, r, err)
		return
	}
	command.OwnerID = core.Session(ctx).UserID

	response, err := mediator.Send[CreateSessionCommand, domain.Snapshot](ctx, command)
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	location := path.Join("/sessions", response.ID.String())
	core.WriteCreated(w, r, location, response)
}

type CreateSessionCommandHandler struct {
	store  store.Store
	codes  *domain.CodeGenerator
	limits domain.CapacityLimits
	logger *zap.Logger
	now    func() time.Time
}

func NewCreateSessionCommandHandler(
	s store.Store,
	codes *domain.CodeGenerator,
	limits domain.CapacityLimits,
	logger *zap.Logger,
) *CreateSessionCommandHandler {
	return &CreateSessionCommandHandler{
		store:  s,
		codes:  codes,
		limits: limits,
		logger: logger,
		now:    time.Now,
	}
}

// Handle persists the session and its creator in one step, drawing invite
// codes until the store accepts one.
func (h *CreateSessionCommandHandler) Handle(
	ctx context.Context,
	request CreateSessionCommand,
) (domain.Snapshot, error) {
	capacity, err := h.limits.Resolve(request.MaxParticipants)
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	session, err := domain.NewSession(request.Name, request.OwnerID, capacity, h.now())
	if err != nil {
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	var created domain.Session
	_, err = h.codes.Generate(ctx, func(ctx context.Context, code string) error {
		session.InviteCode = code

		var createErr error
		created, createErr = h.store.CreateSession(ctx, session, session.CreatorParticipant())
		return createErr
	})
	if err != nil {
		if errors.Is(err, domain.ErrCodeSpaceExhausted) {
			h.logger.Error("invite code space exhausted", zap.String("session_id", session.ID.String()), zap.Error(err))
		}
		return domain.Snapshot{}, meetupsession.CommandError(err)
	}

	return domain.NewSnapshot(created, 1), nil
}
