package presence

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/Froom3010/Froom/internal/events"
	"github.com/Froom3010/Froom/internal/sessioncache"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/view"
)

type call struct {
	op   string
	code string
}

// fakeStore records every call and lets a test replace individual writes.
type fakeStore struct {
	*store.MemoryStore

	mu    sync.Mutex
	calls []call

	getPracticeFn func(code string) (store.Practice, error)
	mergeMemberFn func(code, uid string, patch store.MemberPatch) error
	addActivityFn func(code string, entry store.ActivityEntry) error
	watchErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{MemoryStore: store.NewMemoryStore()}
}

func (f *fakeStore) record(op, code string) {
	f.mu.Lock()
	f.calls = append(f.calls, call{op: op, code: code})
	f.mu.Unlock()
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

func (f *fakeStore) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeStore) GetPractice(ctx context.Context, code string) (store.Practice, error) {
	f.record("GetPractice", code)
	if f.getPracticeFn != nil {
		return f.getPracticeFn(code)
	}
	return f.MemoryStore.GetPractice(ctx, code)
}

func (f *fakeStore) MergePractice(ctx context.Context, code string, patch store.PracticePatch) error {
	f.record("MergePractice", code)
	return f.MemoryStore.MergePractice(ctx, code, patch)
}

func (f *fakeStore) EnsureMember(ctx context.Context, code, uid string, initial store.Member, update store.MemberPatch) error {
	f.record("EnsureMember", code)
	return f.MemoryStore.EnsureMember(ctx, code, uid, initial, update)
}

func (f *fakeStore) MergeMember(ctx context.Context, code, uid string, patch store.MemberPatch) error {
	f.record("MergeMember", code)
	if f.mergeMemberFn != nil {
		if err := f.mergeMemberFn(code, uid, patch); err != nil {
			return err
		}
	}
	return f.MemoryStore.MergeMember(ctx, code, uid, patch)
}

func (f *fakeStore) AddActivity(ctx context.Context, code string, entry store.ActivityEntry) (string, error) {
	f.record("AddActivity", code)
	if f.addActivityFn != nil {
		if err := f.addActivityFn(code, entry); err != nil {
			return "", err
		}
	}
	return f.MemoryStore.AddActivity(ctx, code, entry)
}

func (f *fakeStore) WatchMembers(ctx context.Context, code string, fn store.MembersFunc) (store.Unsubscribe, error) {
	f.record("WatchMembers", code)
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.MemoryStore.WatchMembers(ctx, code, fn)
}

func (f *fakeStore) WatchActivity(ctx context.Context, code string, limit int, fn store.ActivityFunc) (store.Unsubscribe, error) {
	f.record("WatchActivity", code)
	return f.MemoryStore.WatchActivity(ctx, code, limit, fn)
}

type fakeIdentity struct {
	mu          sync.Mutex
	uid         string
	minted      int
	ensureCalls int
	endCalls    int
	ensureErr   error
	endErr      error
}

func (f *fakeIdentity) EnsureAnonymous(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	if f.ensureErr != nil {
		return "", f.ensureErr
	}
	if f.uid == "" {
		f.minted++
		f.uid = "anon_" + string(rune('a'+f.minted-1))
	}
	return f.uid, nil
}

func (f *fakeIdentity) EndSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls++
	f.uid = ""
	return f.endErr
}

func (f *fakeIdentity) ends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endCalls
}

type recordingObserver struct {
	mu       sync.Mutex
	teams    []view.Team
	feeds    []view.Activity
	failures []error
}

func (o *recordingObserver) TeamChanged(team view.Team) {
	o.mu.Lock()
	o.teams = append(o.teams, team)
	o.mu.Unlock()
}

func (o *recordingObserver) ActivityChanged(feed view.Activity) {
	o.mu.Lock()
	o.feeds = append(o.feeds, feed)
	o.mu.Unlock()
}

func (o *recordingObserver) SyncFailed(_ string, err error) {
	o.mu.Lock()
	o.failures = append(o.failures, err)
	o.mu.Unlock()
}

func (o *recordingObserver) lastTeam() (view.Team, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.teams) == 0 {
		return view.Team{}, false
	}
	return o.teams[len(o.teams)-1], true
}

func (o *recordingObserver) lastFeed() (view.Activity, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.feeds) == 0 {
		return view.Activity{}, false
	}
	return o.feeds[len(o.feeds)-1], true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.ActivityEvent
}

func (p *recordingPublisher) PublishActivity(_ context.Context, event events.ActivityEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

// blockingPublisher holds every publish until its context ends.
type blockingPublisher struct {
	done chan error
}

func (p *blockingPublisher) PublishActivity(ctx context.Context, _ events.ActivityEvent) error {
	<-ctx.Done()
	p.done <- ctx.Err()
	return ctx.Err()
}

var fixedNow = time.UnixMilli(1_700_000_000_000)

type fixture struct {
	store    *fakeStore
	identity *fakeIdentity
	cache    *sessioncache.Memory
	client   *Client
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    newFakeStore(),
		identity: &fakeIdentity{},
		cache:    sessioncache.NewMemory(),
	}
	base := []Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithClock(func() time.Time { return fixedNow }),
		WithHeartbeatInterval(time.Hour),
	}
	f.client = NewClient(f.store, f.identity, f.cache, append(base, opts...)...)
	t.Cleanup(func() { _ = f.client.Logout(context.Background()) })
	return f
}

func (f *fixture) enter(t *testing.T, in EnterInput, observer Observer) *Session {
	t.Helper()
	session, err := f.client.Enter(context.Background(), in, observer)
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	return session
}

// members reads one snapshot of a practice's members.
func (f *fixture) members(t *testing.T, code string) []store.Member {
	t.Helper()
	ch := make(chan []store.Member, 1)
	unsubscribe, err := f.store.MemoryStore.WatchMembers(context.Background(), code, func(items []store.Member, _ error) {
		select {
		case ch <- items:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchMembers() error = %v", err)
	}
	defer unsubscribe()
	select {
	case items := <-ch:
		return items
	case <-time.After(time.Second):
		t.Fatal("timed out reading members")
		return nil
	}
}

// activity reads one snapshot of a practice's feed.
func (f *fixture) activity(t *testing.T, code string, limit int) []store.ActivityEntry {
	t.Helper()
	ch := make(chan []store.ActivityEntry, 1)
	unsubscribe, err := f.store.MemoryStore.WatchActivity(context.Background(), code, limit, func(items []store.ActivityEntry, _ error) {
		select {
		case ch <- items:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchActivity() error = %v", err)
	}
	defer unsubscribe()
	select {
	case items := <-ch:
		return items
	case <-time.After(time.Second):
		t.Fatal("timed out reading activity")
		return nil
	}
}
