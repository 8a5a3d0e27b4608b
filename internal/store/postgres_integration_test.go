package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Froom3010/Froom/db"
	"github.com/jackc/pgx/v5/pgconn"
)

// openTestStore connects to FROOM_TEST_DATABASE_URL, applies migrations and
// gives each test its own practice code.
func openTestStore(t *testing.T) (*PostgresStore, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("FROOM_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FROOM_TEST_DATABASE_URL is not set")
	}

	ctx := context.Background()
	conn, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := ApplyMigrations(ctx, conn, db.Migrations()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	code := fmt.Sprintf("T%d", time.Now().UnixNano())
	return NewPostgresStore(conn, nil), code
}

func TestPostgresStorePracticeMerge(t *testing.T) {
	s, code := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetPractice(ctx, code); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.MergePractice(ctx, code, PracticePatch{Name: Ptr(code), CreatedAt: Ptr(int64(1000))}); err != nil {
		t.Fatalf("MergePractice: %v", err)
	}
	if err := s.MergePractice(ctx, code, PracticePatch{PassHash: Ptr("hash")}); err != nil {
		t.Fatalf("MergePractice secret: %v", err)
	}
	practice, err := s.GetPractice(ctx, code)
	if err != nil {
		t.Fatalf("GetPractice: %v", err)
	}
	if practice.Name != code || practice.PassHash != "hash" || practice.CreatedAt != 1000 {
		t.Fatalf("unexpected practice: %+v", practice)
	}
}

func TestPostgresStoreMemberMergeSemantics(t *testing.T) {
	s, code := openTestStore(t)
	ctx := context.Background()

	initial := Member{DisplayName: "Avery", Role: "Nurse", Availability: AvailabilityFree, Activity: "Active now", LastActive: 1}
	if err := s.EnsureMember(ctx, code, "uid-1", initial, MemberPatch{}); err != nil {
		t.Fatalf("EnsureMember: %v", err)
	}
	if err := s.MergeMember(ctx, code, "uid-1", MemberPatch{Availability: Ptr(AvailabilityDND), Note: Ptr("Do not disturb")}); err != nil {
		t.Fatalf("MergeMember: %v", err)
	}
	if err := s.EnsureMember(ctx, code, "uid-1", initial, MemberPatch{DisplayName: Ptr("Avery B"), LastActive: Ptr(int64(9))}); err != nil {
		t.Fatalf("EnsureMember again: %v", err)
	}

	members, err := s.ListMembers(ctx, code)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(members))
	}
	got := members[0]
	if got.DisplayName != "Avery B" || got.Availability != AvailabilityDND || got.Note != "Do not disturb" || got.Activity != "Active now" || got.LastActive != 9 {
		t.Fatalf("unexpected member: %+v", got)
	}
}

func TestPostgresStoreActivityOrderAndImmutability(t *testing.T) {
	s, code := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 55; i++ {
		if _, err := s.AddActivity(ctx, code, ActivityEntry{ByUID: "uid-1", ByName: "Avery", Change: fmt.Sprintf("c%d", i), TS: int64(i)}); err != nil {
			t.Fatalf("AddActivity: %v", err)
		}
	}
	entries, err := s.ListActivity(ctx, code, 50)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 50 || entries[0].Change != "c54" {
		t.Fatalf("unexpected activity page: len=%d first=%+v", len(entries), entries[0])
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE activity SET change='edited' WHERE practice_code=$1`, code)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || !strings.Contains(pgErr.Message, "immutable") {
		t.Fatalf("expected immutability guard error, got %v", err)
	}
}

func TestPostgresStoreCredentials(t *testing.T) {
	s, code := openTestStore(t)
	ctx := context.Background()
	hash := "hash-" + code

	if err := s.SaveCredential(ctx, hash, "uid-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	uid, err := s.LookupCredential(ctx, hash)
	if err != nil || uid != "uid-1" {
		t.Fatalf("LookupCredential = %q, %v", uid, err)
	}
	if err := s.RevokeCredential(ctx, hash); err != nil {
		t.Fatalf("RevokeCredential: %v", err)
	}
	if _, err := s.LookupCredential(ctx, hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}
