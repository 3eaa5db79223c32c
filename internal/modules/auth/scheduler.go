package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
)

// SchedulerTokenHeader carries the shared secret of the job that triggers
// maintenance actions such as session expiry.
const SchedulerTokenHeader = "X-Scheduler-Token"

var ErrInvalidSchedulerToken = errors.New("invalid scheduler token")

// SchedulerMiddleware admits only requests presenting token. An empty token
// disables the routes it guards.
func SchedulerMiddleware(token string) func(http.Handler) http.Handler {
	expected := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				core.WriteCommandError(w, r, core.NewCommandError(
					http.StatusForbidden,
					nil,
					core.WithReason("scheduler access is disabled"),
				))
				return
			}

			presented := r.Header.Get(SchedulerTokenHeader)
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				core.WriteUnauthorized(w, r, ErrInvalidSchedulerToken)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
