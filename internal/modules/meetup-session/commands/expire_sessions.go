package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	meetupsession "github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/eskrenkovic/mediator-go"
	"go.uber.org/zap"
)

// ExpireSessionsCommand is issued by an external scheduler. Sessions still
// active after the configured ttl move to expired.
type ExpireSessionsCommand struct{}

type ExpireSessionsResponse struct {
	Expired int `json:"expired"`
}

func HandleExpireSessions(w http.ResponseWriter, r *http.Request) {
	response, err := mediator.Send[ExpireSessionsCommand, ExpireSessionsResponse](r.Context(), ExpireSessionsCommand{})
	if err != nil {
		core.WriteCommandError(w, r, err)
		return
	}

	core.WriteOK(w, r, response)
}

type ExpireSessionsCommandHandler struct {
	store  store.Store
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewExpireSessionsCommandHandler(s store.Store, ttl time.Duration, logger *zap.Logger) *ExpireSessionsCommandHandler {
	return &ExpireSessionsCommandHandler{
		store:  s,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func (h *ExpireSessionsCommandHandler) Handle(
	ctx context.Context,
	_ ExpireSessionsCommand,
) (ExpireSessionsResponse, error) {
	cutoff := h.now().Add(-h.ttl)

	expired, err := h.store.ExpireSessions(ctx, cutoff)
	if err != nil {
		return ExpireSessionsResponse{}, meetupsession.CommandError(err)
	}

	if expired > 0 {
		h.logger.Info("expired sessions", zap.Int("count", expired), zap.Time("created_before", cutoff))
	}

	return ExpireSessionsResponse{Expired: expired}, nil
}
