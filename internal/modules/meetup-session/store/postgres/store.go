// Package postgres is the Session Store used in production. Admission takes a
// row lock on the session (SELECT ... FOR UPDATE) so concurrent joins to the
// same session queue up in the database while other sessions proceed.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"

	"github.com/eskrenkovic/tql"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

var pinDriver sync.Once

// New wraps an open database whose schema has already been migrated.
//
// tql resolves the driver and caches struct mappings in unsynchronized
// package state, so the driver is pinned once here and rows are scanned
// with database/sql. tql is only used to execute statements.
func New(db *sql.DB) *Store {
	pinDriver.Do(func() {
		tql.SetActiveDriver("postgres")
	})

	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(
	ctx context.Context,
	session domain.Session,
	creator domain.Participant,
) (domain.Session, error) {
	var created domain.Session

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		const insertSession = `
			INSERT INTO
				meetup.session (id, name, invite_code, created_by, max_participants, status, created_at)
			VALUES
				(:id, :name, :invite_code, :created_by, :max_participants, :status, :created_at);`

		_, err := tql.Exec(ctx, tx, insertSession, map[string]any{
			"id":               session.ID,
			"name":             session.Name,
			"invite_code":      session.InviteCode,
			"created_by":       session.CreatedBy,
			"max_participants": session.MaxParticipants,
			"status":           string(session.Status),
			"created_at":       session.CreatedAt,
		})
		if err != nil {
			return err
		}

		const insertCreator = `
			INSERT INTO
				meetup.session_participant (session_id, user_id)
			VALUES
				($1, $2);`

		if _, err := tql.Exec(ctx, tx, insertCreator, session.ID, creator.UserID); err != nil {
			return err
		}

		created, err = scanSession(tx.QueryRowContext(ctx, selectSession+" WHERE id = $1;", session.ID))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Session{}, fmt.Errorf("invite code %s: %w", session.InviteCode, domain.ErrConflict)
		}
		return domain.Session{}, fmt.Errorf("create session: %w", mapError(err))
	}

	return created, nil
}

const selectSession = `
	SELECT
		id, name, invite_code, created_by, max_participants, status, created_at
	FROM
		meetup.session`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSession reads the selectSession columns followed by extra.
func scanSession(row rowScanner, extra ...any) (domain.Session, error) {
	var (
		session domain.Session
		status  string
	)

	dest := append([]any{
		&session.ID,
		&session.Name,
		&session.InviteCode,
		&session.CreatedBy,
		&session.MaxParticipants,
		&status,
		&session.CreatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return domain.Session{}, err
	}

	session.Status = domain.Status(status)
	if !session.Status.Valid() {
		return domain.Session{}, fmt.Errorf("session %s: unknown status %q", session.ID, status)
	}

	return session, nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	session, err := scanSession(s.db.QueryRowContext(ctx, selectSession+" WHERE id = $1;", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", mapError(err))
	}

	return session, nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	const where = " WHERE invite_code = $1 AND status = 'active';"

	session, err := scanSession(s.db.QueryRowContext(ctx, selectSession+where, code))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("invite code %s: %w", code, domain.ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session by code: %w", mapError(err))
	}

	return session, nil
}

type participantCheck struct {
	SessionExists bool
	Participants  int
	Member        bool
}

func (s *Store) checkParticipant(ctx context.Context, sessionID, userID uuid.UUID) (participantCheck, error) {
	const query = `
		SELECT
			EXISTS (SELECT 1 FROM meetup.session WHERE id = $1) AS session_exists,
			(SELECT COUNT(*) FROM meetup.session_participant WHERE session_id = $1) AS participants,
			EXISTS (SELECT 1 FROM meetup.session_participant WHERE session_id = $1 AND user_id = $2) AS member;`

	var check participantCheck
	err := s.db.QueryRowContext(ctx, query, sessionID, userID).Scan(&check.SessionExists, &check.Participants, &check.Member)
	if err != nil {
		return participantCheck{}, mapError(err)
	}

	if !check.SessionExists {
		return participantCheck{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	return check, nil
}

func (s *Store) CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	check, err := s.checkParticipant(ctx, sessionID, uuid.Nil)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}

	return check.Participants, nil
}

func (s *Store) HasParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	check, err := s.checkParticipant(ctx, sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}

	return check.Member, nil
}

func (s *Store) InsertParticipantIfRoom(
	ctx context.Context,
	sessionID uuid.UUID,
	userID uuid.UUID,
	maxParticipants int,
) (domain.AdmissionResult, error) {
	var result domain.AdmissionResult

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		// Serializes admissions for this session until commit.
		const lockSession = `
			SELECT
				status
			FROM
				meetup.session
			WHERE
				id = $1
			FOR UPDATE;`

		var status string
		err := tx.QueryRowContext(ctx, lockSession, sessionID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
		}
		if err != nil {
			return err
		}

		if domain.Status(status) != domain.StatusActive {
			result = domain.SessionNotActive
			return nil
		}

		const countMember = `
			SELECT
				COUNT(*) FILTER (WHERE user_id = $2)
			FROM
				meetup.session_participant
			WHERE
				session_id = $1;`

		var member int
		if err := tx.QueryRowContext(ctx, countMember, sessionID, userID).Scan(&member); err != nil {
			return err
		}

		if member > 0 {
			result = domain.AlreadyMember
			return nil
		}

		const countParticipants = `
			SELECT
				COUNT(*)
			FROM
				meetup.session_participant
			WHERE
				session_id = $1;`

		var count int
		if err := tx.QueryRowContext(ctx, countParticipants, sessionID).Scan(&count); err != nil {
			return err
		}

		if count >= maxParticipants {
			result = domain.Full
			return nil
		}

		const insertParticipant = `
			INSERT INTO
				meetup.session_participant (session_id, user_id)
			VALUES
				($1, $2);`

		if _, err := tql.Exec(ctx, tx, insertParticipant, sessionID, userID); err != nil {
			return err
		}

		result = domain.Admitted
		return nil
	}, core.WithIsolationLevel(sql.LevelReadCommitted))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return 0, err
		}
		if isUniqueViolation(err) {
			return domain.AlreadyMember, nil
		}
		return 0, fmt.Errorf("insert participant: %w", mapError(err))
	}

	return result, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	const stmt = `
		WITH target AS (
			SELECT id FROM meetup.session WHERE id = $1 FOR UPDATE
		), removed AS (
			DELETE FROM
				meetup.session_participant p
			USING
				target
			WHERE
				p.session_id = target.id AND p.user_id = $2
			RETURNING 1
		)
		SELECT
			(SELECT COUNT(*) FROM target) AS session_exists,
			(SELECT COUNT(*) FROM removed) AS removed;`

	var sessionExists, removed int
	if err := s.db.QueryRowContext(ctx, stmt, sessionID, userID).Scan(&sessionExists, &removed); err != nil {
		return false, fmt.Errorf("remove participant: %w", mapError(err))
	}

	if sessionExists == 0 {
		return false, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	return removed > 0, nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]store.SessionSummary, error) {
	const query = `
		SELECT
			s.id, s.name, s.invite_code, s.created_by, s.max_participants, s.status, s.created_at,
			(SELECT COUNT(*) FROM meetup.session_participant c WHERE c.session_id = s.id) AS participant_count
		FROM
			meetup.session s
		JOIN
			meetup.session_participant p ON p.session_id = s.id
		WHERE
			p.user_id = $1
		ORDER BY
			s.created_at DESC, s.id;`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", mapError(err))
	}
	defer rows.Close()

	summaries := make([]store.SessionSummary, 0)
	for rows.Next() {
		var summary store.SessionSummary

		summary.Session, err = scanSession(rows, &summary.ParticipantCount)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", mapError(err))
	}

	return summaries, nil
}

func (s *Store) CloseSession(ctx context.Context, id, ownerID uuid.UUID) (domain.Session, error) {
	var closed domain.Session

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		session, err := scanSession(tx.QueryRowContext(ctx, selectSession+" WHERE id = $1 FOR UPDATE;", id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
		}
		if err != nil {
			return err
		}

		if session.CreatedBy != ownerID {
			return fmt.Errorf("session %s: %w", id, domain.ErrNotOwner)
		}

		if !session.Active() {
			return fmt.Errorf("session %s is %s: %w", id, session.Status, domain.ErrSessionClosed)
		}

		const stmt = `
			UPDATE
				meetup.session
			SET
				status = 'closed'
			WHERE
				id = $1;`

		if _, err := tql.Exec(ctx, tx, stmt, id); err != nil {
			return err
		}

		session.Status = domain.StatusClosed
		closed = session
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) ||
			errors.Is(err, domain.ErrNotOwner) ||
			errors.Is(err, domain.ErrSessionClosed) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("close session: %w", mapError(err))
	}

	return closed, nil
}

func (s *Store) ExpireSessions(ctx context.Context, createdBefore time.Time) (int, error) {
	const stmt = `
		UPDATE
			meetup.session
		SET
			status = 'expired'
		WHERE
			status = 'active' AND created_at < :created_before;`

	res, err := tql.Exec(ctx, s.db, stmt, map[string]any{"created_before": createdBefore.UTC()})
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", mapError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	return int(affected), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// mapError tags lock and serialization failures as retryable and lost
// connections as unavailable storage.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "55P03":
			return fmt.Errorf("%w: %w", domain.ErrRetryable, err)
		case strings.HasPrefix(string(pqErr.Code), "08"), pqErr.Code == "57P01", pqErr.Code == "53300":
			return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
		default:
			return err
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}

	return err
}
