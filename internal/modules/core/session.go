package core

import (
	"context"

	"github.com/google/uuid"
)

type ContextKey string

const SessionContextKey ContextKey = "session"

// ContextSession identifies the authenticated caller of a request.
type ContextSession struct {
	UserID uuid.UUID
}

func WithSession(ctx context.Context, session ContextSession) context.Context {
	return context.WithValue(ctx, SessionContextKey, session)
}

// Session returns the caller stored by the authentication middleware, or the
// zero value when the request is anonymous.
func Session(ctx context.Context) ContextSession {
	session, ok := ctx.Value(SessionContextKey).(ContextSession)
	if !ok {
		return ContextSession{}
	}

	return session
}
