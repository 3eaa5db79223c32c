// Package sqlite is a single-file Session Store backed by modernc.org/sqlite.
// Every write runs in an immediate transaction, so SQLite's database lock
// serializes admission decisions across connections and processes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/domain"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store"
	"github.com/eskrenkovic/meetup-sessions/internal/modules/meetup-session/store/sqlite/migrations"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// A single connection keeps writers from tripping over SQLITE_BUSY
	// inside this process; other processes still wait on busy_timeout.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", mapError(err))
	}

	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) CreateSession(
	ctx context.Context,
	session domain.Session,
	creator domain.Participant,
) (domain.Session, error) {
	if creator.JoinedAt.IsZero() {
		creator.JoinedAt = s.now().UTC()
	}

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		const insertSession = `
			INSERT INTO sessions (id, name, invite_code, created_by, max_participants, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?);`

		_, err := tx.ExecContext(
			ctx,
			insertSession,
			session.ID.String(),
			session.Name,
			session.InviteCode,
			session.CreatedBy.String(),
			session.MaxParticipants,
			string(session.Status),
			toMillis(session.CreatedAt),
		)
		if err != nil {
			return err
		}

		const insertParticipant = `
			INSERT INTO session_participants (session_id, user_id, joined_at)
			VALUES (?, ?, ?);`

		_, err = tx.ExecContext(ctx, insertParticipant, session.ID.String(), creator.UserID.String(), toMillis(creator.JoinedAt))
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Session{}, fmt.Errorf("invite code %s: %w", session.InviteCode, domain.ErrConflict)
		}
		return domain.Session{}, fmt.Errorf("create session: %w", mapError(err))
	}

	session.CreatedAt = fromMillis(toMillis(session.CreatedAt))
	return session, nil
}

const selectSession = `
	SELECT id, name, invite_code, created_by, max_participants, status, created_at
	FROM sessions`

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, selectSession+" WHERE id = ?;", id.String())

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", mapError(err))
	}

	return session, nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.Session, error) {
	row := s.db.QueryRowContext(ctx, selectSession+" WHERE invite_code = ? AND status = 'active';", code)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, fmt.Errorf("invite code %s: %w", code, domain.ErrSessionNotFound)
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session by code: %w", mapError(err))
	}

	return session, nil
}

func (s *Store) CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const stmt = `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE id = ?1),
			(SELECT COUNT(*) FROM session_participants WHERE session_id = ?1);`

	var exists, count int
	if err := s.db.QueryRowContext(ctx, stmt, sessionID.String()).Scan(&exists, &count); err != nil {
		return 0, fmt.Errorf("count participants: %w", mapError(err))
	}

	if exists == 0 {
		return 0, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	return count, nil
}

func (s *Store) HasParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	const stmt = `
		SELECT
			(SELECT COUNT(*) FROM sessions WHERE id = ?1),
			(SELECT COUNT(*) FROM session_participants WHERE session_id = ?1 AND user_id = ?2);`

	var exists, member int
	if err := s.db.QueryRowContext(ctx, stmt, sessionID.String(), userID.String()).Scan(&exists, &member); err != nil {
		return false, fmt.Errorf("check participant: %w", mapError(err))
	}

	if exists == 0 {
		return false, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}

	return member > 0, nil
}

func (s *Store) InsertParticipantIfRoom(
	ctx context.Context,
	sessionID uuid.UUID,
	userID uuid.UUID,
	maxParticipants int,
) (domain.AdmissionResult, error) {
	var result domain.AdmissionResult

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?;`, sessionID.String()).Scan(&status)
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

		const countStmt = `
			SELECT
				COUNT(*),
				COALESCE(SUM(CASE WHEN user_id = ?2 THEN 1 ELSE 0 END), 0)
			FROM session_participants
			WHERE session_id = ?1;`

		var count, member int
		if err := tx.QueryRowContext(ctx, countStmt, sessionID.String(), userID.String()).Scan(&count, &member); err != nil {
			return err
		}

		if member > 0 {
			result = domain.AlreadyMember
			return nil
		}

		if count >= maxParticipants {
			result = domain.Full
			return nil
		}

		const insertStmt = `
			INSERT INTO session_participants (session_id, user_id, joined_at)
			VALUES (?, ?, ?);`

		if _, err := tx.ExecContext(ctx, insertStmt, sessionID.String(), userID.String(), toMillis(s.now())); err != nil {
			return err
		}

		result = domain.Admitted
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return 0, err
		}
		if isUniqueViolation(err) {
			// Lost a race against the same user on another connection.
			return domain.AlreadyMember, nil
		}
		return 0, fmt.Errorf("insert participant: %w", mapError(err))
	}

	return result, nil
}

func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	var removed bool

	err := core.Tx(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?;`, sessionID.String()).Scan(&exists); err != nil {
			return err
		}

		if exists == 0 {
			return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
		}

		const stmt = `DELETE FROM session_participants WHERE session_id = ? AND user_id = ?;`
		res, err := tx.ExecContext(ctx, stmt, sessionID.String(), userID.String())
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}

		removed = affected > 0
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, err
		}
		return false, fmt.Errorf("remove participant: %w", mapError(err))
	}

	return removed, nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, userID uuid.UUID) ([]store.SessionSummary, error) {
	const stmt = `
		SELECT
			s.id, s.name, s.invite_code, s.created_by, s.max_participants, s.status, s.created_at,
			(SELECT COUNT(*) FROM session_participants c WHERE c.session_id = s.id)
		FROM sessions s
		JOIN session_participants p ON p.session_id = s.id
		WHERE p.user_id = ?
		ORDER BY s.created_at DESC, s.id;`

	rows, err := s.db.QueryContext(ctx, stmt, userID.String())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", mapError(err))
	}
	defer rows.Close()

	summaries := make([]store.SessionSummary, 0)
	for rows.Next() {
		var (
			summary store.SessionSummary
			record  sessionRow
		)

		if err := rows.Scan(record.dest(&summary.ParticipantCount)...); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		summary.Session, err = record.session()
		if err != nil {
			return nil, err
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
		session, err := scanSession(tx.QueryRowContext(ctx, selectSession+" WHERE id = ?;", id.String()))
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

		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET status = 'closed' WHERE id = ?;`, id.String()); err != nil {
			return err
		}

		session.Status = domain.StatusClosed
		closed = session
		return nil
	})
	if err != nil {
		if isDomainError(err) {
			return domain.Session{}, err
		}
		return domain.Session{}, fmt.Errorf("close session: %w", mapError(err))
	}

	return closed, nil
}

func (s *Store) ExpireSessions(ctx context.Context, createdBefore time.Time) (int, error) {
	const stmt = `UPDATE sessions SET status = 'expired' WHERE status = 'active' AND created_at < ?;`

	res, err := s.db.ExecContext(ctx, stmt, toMillis(createdBefore))
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", mapError(err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}

	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type sessionRow struct {
	id, name, inviteCode, createdBy, status string
	maxParticipants                         int
	createdAt                               int64
}

func (r *sessionRow) dest(extra ...any) []any {
	return append([]any{
		&r.id, &r.name, &r.inviteCode, &r.createdBy, &r.maxParticipants, &r.status, &r.createdAt,
	}, extra...)
}

func (r sessionRow) session() (domain.Session, error) {
	id, err := uuid.Parse(r.id)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse session id %q: %w", r.id, err)
	}

	createdBy, err := uuid.Parse(r.createdBy)
	if err != nil {
		return domain.Session{}, fmt.Errorf("parse session owner %q: %w", r.createdBy, err)
	}

	status := domain.Status(r.status)
	if !status.Valid() {
		return domain.Session{}, fmt.Errorf("session %s has unknown status %q", r.id, r.status)
	}

	return domain.Session{
		ID:              id,
		Name:            r.name,
		InviteCode:      r.inviteCode,
		CreatedBy:       createdBy,
		MaxParticipants: r.maxParticipants,
		Status:          status,
		CreatedAt:       fromMillis(r.createdAt),
	}, nil
}

func scanSession(row rowScanner) (domain.Session, error) {
	var record sessionRow
	if err := row.Scan(record.dest()...); err != nil {
		return domain.Session{}, err
	}
	return record.session()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) ||
		errors.Is(err, domain.ErrNotOwner) ||
		errors.Is(err, domain.ErrSessionClosed)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// mapError tags busy/locked failures as retryable. Primary result codes live
// in the low byte of the extended code.
func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", domain.ErrRetryable, err)
	case sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_IOERR, sqlite3lib.SQLITE_FULL:
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	default:
		return err
	}
}
