// Package store persists practices, members and the activity feed, and
// serves live queries over them.
//
// A live query delivers the full, ordered result set once on subscribe and
// again after every change to the practice. Callers rebuild their views from
// each delivery; there is no incremental diff.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Unsubscribe releases a live query. It is safe to call more than once and
// returns after the last delivery has finished. It must not be called from
// inside the query's own callback.
type Unsubscribe func()

type MembersFunc func(members []Member, err error)

type ActivityFunc func(entries []ActivityEntry, err error)

type Store interface {
	GetPractice(ctx context.Context, code string) (Practice, error)
	MergePractice(ctx context.Context, code string, patch PracticePatch) error
	// EnsureMember writes initial when no record exists for (code, uid) and
	// merges update into the existing record otherwise.
	EnsureMember(ctx context.Context, code, uid string, initial Member, update MemberPatch) error
	MergeMember(ctx context.Context, code, uid string, patch MemberPatch) error
	AddActivity(ctx context.Context, code string, entry ActivityEntry) (string, error)
	WatchMembers(ctx context.Context, code string, fn MembersFunc) (Unsubscribe, error)
	WatchActivity(ctx context.Context, code string, limit int, fn ActivityFunc) (Unsubscribe, error)
	Ping(ctx context.Context) error
}

// CredentialRegistry records issued anonymous identity credentials by the
// hash of their token.
type CredentialRegistry interface {
	SaveCredential(ctx context.Context, tokenHash, uid string, expiresAt time.Time) error
	LookupCredential(ctx context.Context, tokenHash string) (string, error)
	RevokeCredential(ctx context.Context, tokenHash string) error
}

func membersTopic(code string) string {
	return "froom:practice:" + code + ":members"
}

func activityTopic(code string) string {
	return "froom:practice:" + code + ":activity"
}
