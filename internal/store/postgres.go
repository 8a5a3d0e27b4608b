package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// PostgresStore is the shared store. Live queries re-read PostgreSQL after a
// change signal from the notifier; use a RedisNotifier when more than one
// process writes to the same database.
type PostgresStore struct {
	db       *sql.DB
	notifier Notifier
}

func NewPostgresStore(db *sql.DB, notifier Notifier) *PostgresStore {
	if notifier == nil {
		notifier = NewLocalNotifier()
	}
	return &PostgresStore{db: db, notifier: notifier}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetPractice(ctx context.Context, code string) (Practice, error) {
	var practice Practice
	err := s.db.QueryRowContext(ctx, `
		SELECT code, name, pass_hash, created_at FROM practices WHERE code=$1
	`, code).Scan(&practice.Code, &practice.Name, &practice.PassHash, &practice.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Practice{}, ErrNotFound
	}
	if err != nil {
		return Practice{}, fmt.Errorf("get practice: %w", err)
	}
	return practice, nil
}

func (s *PostgresStore) MergePractice(ctx context.Context, code string, patch PracticePatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO practices (code, name, pass_hash, created_at)
		VALUES ($1, COALESCE($2::text, ''), COALESCE($3::text, ''), COALESCE($4::bigint, 0))
		ON CONFLICT (code) DO UPDATE SET
			name = COALESCE($2::text, practices.name),
			pass_hash = COALESCE($3::text, practices.pass_hash),
			created_at = COALESCE($4::bigint, practices.created_at)
	`, code, patch.Name, patch.PassHash, patch.CreatedAt)
	if err != nil {
		return fmt.Errorf("merge practice: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureMember(ctx context.Context, code, uid string, initial Member, update MemberPatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (practice_code, uid, display_name, role, availability, activity, location, note, last_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (practice_code, uid) DO UPDATE SET
			display_name = COALESCE($10::text, members.display_name),
			role = COALESCE($11::text, members.role),
			availability = COALESCE($12::text, members.availability),
			activity = COALESCE($13::text, members.activity),
			location = COALESCE($14::text, members.location),
			note = COALESCE($15::text, members.note),
			last_active = COALESCE($16::bigint, members.last_active)
	`,
		code, uid,
		initial.DisplayName, initial.Role, string(initial.Availability), initial.Activity, initial.Location, initial.Note, initial.LastActive,
		update.DisplayName, update.Role, availabilityParam(update.Availability), update.Activity, update.Location, update.Note, update.LastActive,
	)
	if err != nil {
		return fmt.Errorf("ensure member: %w", err)
	}
	s.publish(ctx, membersTopic(code))
	return nil
}

func (s *PostgresStore) MergeMember(ctx context.Context, code, uid string, patch MemberPatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (practice_code, uid, display_name, role, availability, activity, location, note, last_active)
		VALUES ($1, $2,
			COALESCE($3::text, ''), COALESCE($4::text, ''), COALESCE($5::text, ''), COALESCE($6::text, ''),
			COALESCE($7::text, ''), COALESCE($8::text, ''), COALESCE($9::bigint, 0))
		ON CONFLICT (practice_code, uid) DO UPDATE SET
			display_name = COALESCE($3::text, members.display_name),
			role = COALESCE($4::text, members.role),
			availability = COALESCE($5::text, members.availability),
			activity = COALESCE($6::text, members.activity),
			location = COALESCE($7::text, members.location),
			note = COALESCE($8::text, members.note),
			last_active = COALESCE($9::bigint, members.last_active)
	`, code, uid, patch.DisplayName, patch.Role, availabilityParam(patch.Availability), patch.Activity, patch.Location, patch.Note, patch.LastActive)
	if err != nil {
		return fmt.Errorf("merge member: %w", err)
	}
	s.publish(ctx, membersTopic(code))
	return nil
}

func (s *PostgresStore) AddActivity(ctx context.Context, code string, entry ActivityEntry) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (id, practice_code, by_uid, by_name, change, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, code, entry.ByUID, entry.ByName, entry.Change, entry.TS)
	if err != nil {
		return "", fmt.Errorf("add activity: %w", err)
	}
	s.publish(ctx, activityTopic(code))
	return id, nil
}

func (s *PostgresStore) WatchMembers(ctx context.Context, code string, fn MembersFunc) (Unsubscribe, error) {
	return watch(ctx, s.notifier, membersTopic(code), func(ctx context.Context) ([]Member, error) {
		return s.ListMembers(ctx, code)
	}, fn)
}

func (s *PostgresStore) WatchActivity(ctx context.Context, code string, limit int, fn ActivityFunc) (Unsubscribe, error) {
	return watch(ctx, s.notifier, activityTopic(code), func(ctx context.Context) ([]ActivityEntry, error) {
		return s.ListActivity(ctx, code, limit)
	}, fn)
}

func (s *PostgresStore) ListMembers(ctx context.Context, code string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, practice_code, display_name, role, availability, activity, location, note, last_active
		FROM members
		WHERE practice_code=$1
		ORDER BY display_name ASC, uid ASC
	`, code)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]Member, 0)
	for rows.Next() {
		var member Member
		var availability string
		if err := rows.Scan(&member.UID, &member.PracticeCode, &member.DisplayName, &member.Role, &availability,
			&member.Activity, &member.Location, &member.Note, &member.LastActive); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		member.Availability = Availability(availability)
		items = append(items, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, code string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, by_uid, by_name, change, ts
		FROM activity
		WHERE practice_code=$1
		ORDER BY ts DESC, seq DESC
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]ActivityEntry, 0, limit)
	for rows.Next() {
		var entry ActivityEntry
		if err := rows.Scan(&entry.ID, &entry.ByUID, &entry.ByName, &entry.Change, &entry.TS); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SaveCredential(ctx context.Context, tokenHash, uid string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anonymous_credentials (token_hash, uid, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET uid=EXCLUDED.uid, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, uid, expiresAt)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupCredential(ctx context.Context, tokenHash string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `
		SELECT uid FROM anonymous_credentials
		WHERE token_hash=$1
			AND revoked_at IS NULL
			AND expires_at > NOW()
	`, tokenHash).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup credential: %w", err)
	}
	return uid, nil
}

func (s *PostgresStore) RevokeCredential(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE anonymous_credentials SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// publish signals live queries. The write already succeeded, so a failed
// signal only delays views until the next change.
func (s *PostgresStore) publish(ctx context.Context, topic string) {
	if err := s.notifier.Publish(ctx, topic); err != nil {
		log.Printf("store: notify %s: %v", topic, err)
	}
}

func availabilityParam(value *Availability) *string {
	if value == nil {
		return nil
	}
	text := string(*value)
	return &text
}
