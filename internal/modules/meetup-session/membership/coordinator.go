// Package membership admits and removes session participants. Admission for
// one session is serialized twice over: a Locker keyed by session id guards
// the store call, and every store performs its check-and-insert atomically.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const releaseTimeout = time.Second

type Options struct {
	// MaxAttempts bounds lock acquisition and store retries per join.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// JoinTimeout is applied when the caller's context carries no deadline.
	JoinTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:    5,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		JoinTimeout:    3 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxAttempts < 1 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = d.JoinTimeout
	}
	return o
}

type Coordinator struct {
	store  store.Store
	locker Locker
	logger *zap.Logger
	opts   Options
}

func NewCoordinator(s store.Store, locker Locker, logger *zap.Logger, opts Options) *Coordinator {
	if locker == nil {
		locker = NoopLocker{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		store:  s,
		locker: locker,
		logger: logger,
		opts:   opts.withDefaults(),
	}
}

func lockKey(sessionID uuid.UUID) string {
	return "session:" + sessionID.String()
}

// Join admits userID into the session. Admitted and AlreadyMember are both
// successful outcomes; a full session fails with domain.ErrSessionFull and an
// inactive one with domain.ErrSessionClosed.
func (c *Coordinator) Join(ctx context.Context, sessionID, userID uuid.UUID) (domain.AdmissionResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.JoinTimeout)
		defer cancel()
	}

	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return 0, c.failure(ctx, sessionID, err)
	}

	if !session.Active() {
		return 0, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, domain.ErrSessionClosed)
	}

	var result domain.AdmissionResult
	attempts := 0

	admit := func() error {
		attempts++

		lease, err := c.locker.Acquire(ctx, lockKey(sessionID))
		if err != nil {
			if errors.Is(err, ErrLockHeld) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer c.release(ctx, sessionID, lease)

		result, err = c.store.InsertParticipantIfRoom(ctx, sessionID, userID, session.MaxParticipants)
		if err != nil {
			if errors.Is(err, domain.ErrRetryable) {
				return err
			}
			return backoff.Permanent(err)
		}

		return nil
	}

	if err := backoff.Retry(admit, c.backoff(ctx)); err != nil {
		if errors.Is(err, ErrLockHeld) || errors.Is(err, domain.ErrRetryable) {
			c.logger.Warn(
				"gave up waiting for session membership",
				zap.String("session_id", sessionID.String()),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			return 0, fmt.Errorf("join session %s after %d attempts: %w: %w", sessionID, attempts, domain.ErrTimeout, err)
		}
		return 0, c.failure(ctx, sessionID, err)
	}

	switch result {
	case domain.Admitted, domain.AlreadyMember:
		return result, nil
	case domain.Full:
		return result, fmt.Errorf("session %s holds %d participants: %w", sessionID, session.MaxParticipants, domain.ErrSessionFull)
	case domain.SessionNotActive:
		return result, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionClosed)
	default:
		return result, fmt.Errorf("session %s: unexpected admission result %s", sessionID, result)
	}
}

// Leave removes userID from the session and reports whether a row was
// removed. The owner of an active session cannot leave it.
func (c *Coordinator) Leave(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	if session.Active() && session.CreatedBy == userID {
		return false, fmt.Errorf("session %s: %w", sessionID, domain.ErrOwnerCannotLeave)
	}

	removed, err := c.store.RemoveParticipant(ctx, sessionID, userID)
	if err != nil {
		return false, err
	}

	if removed {
		c.logger.Debug(
			"participant left session",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", userID.String()),
		)
	}

	return removed, nil
}

func (c *Coordinator) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1)), ctx)
}

// failure turns an expired join deadline into domain.ErrTimeout. Explicit
// cancellation is returned as is.
func (c *Coordinator) failure(ctx context.Context, sessionID uuid.UUID, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.logger.Warn(
			"join deadline exceeded",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("join session %s: %w: %w", sessionID, domain.ErrTimeout, err)
	}

	return err
}

func (c *Coordinator) release(ctx context.Context, sessionID uuid.UUID, lease Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := lease.Release(ctx); err != nil {
		c.logger.Warn(
			"failed to release session lock",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
	}
}
