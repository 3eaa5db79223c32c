package meetupsession

import (
	"context"
	"errors"
	"net/http"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
)

var errorStatuses = []struct {
	err    error
	status int
	reason string
}{
	{domain.ErrValidation, http.StatusBadRequest, "request validation failed"},
	{domain.ErrSessionNotFound, http.StatusNotFound, "session not found"},
	{domain.ErrNotOwner, http.StatusForbidden, "not the session owner"},
	{domain.ErrSessionClosed, http.StatusConflict, "session is not active"},
	{domain.ErrSessionFull, http.StatusConflict, "session is full"},
	{domain.ErrOwnerCannotLeave, http.StatusConflict, "owner cannot leave"},
	{domain.ErrTimeout, http.StatusServiceUnavailable, "timed out, retry later"},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage unavailable"},
	{domain.ErrCodeSpaceExhausted, http.StatusInternalServerError, "could not allocate invite code"},
}

// CommandError translates domain failures into core.CommandErrors. The
// original error stays reachable through errors.Is.
func CommandError(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := core.AsCommandError(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewCommandError(http.StatusServiceUnavailable, err, core.WithReason("timed out, retry later"))
	}

	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			return core.NewCommandError(s.status, err, core.WithReason(s.reason))
		}
	}

	return core.NewCommandError(http.StatusInternalServerError, err, core.WithReason("internal server error"))
}
