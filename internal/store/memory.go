package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryCredential struct {
	uid       string
	expiresAt time.Time
}

// MemoryStore keeps everything in process. It backs tests and single-process
// deployments where no DATABASE_URL is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	practices   map[string]Practice
	members     map[string]map[string]Member
	activity    map[string][]ActivityEntry
	credentials map[string]memoryCredential
	notifier    *LocalNotifier
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		practices:   make(map[string]Practice),
		members:     make(map[string]map[string]Member),
		activity:    make(map[string][]ActivityEntry),
		credentials: make(map[string]memoryCredential),
		notifier:    NewLocalNotifier(),
		now:         time.Now,
	}
}

func (s *MemoryStore) GetPractice(_ context.Context, code string) (Practice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	practice, ok := s.practices[code]
	if !ok {
		return Practice{}, ErrNotFound
	}
	return practice, nil
}

func (s *MemoryStore) MergePractice(_ context.Context, code string, patch PracticePatch) error {
	s.mu.Lock()
	practice, ok := s.practices[code]
	if !ok {
		practice = Practice{Code: code}
	}
	s.practices[code] = patch.apply(practice)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) EnsureMember(ctx context.Context, code, uid string, initial Member, update MemberPatch) error {
	s.mu.Lock()
	members := s.practiceMembers(code)
	if existing, ok := members[uid]; ok {
		members[uid] = update.apply(existing)
	} else {
		initial.UID = uid
		initial.PracticeCode = code
		members[uid] = initial
	}
	s.mu.Unlock()
	return s.notifier.Publish(ctx, membersTopic(code))
}

func (s *MemoryStore) MergeMember(ctx context.Context, code, uid string, patch MemberPatch) error {
	s.mu.Lock()
	members := s.practiceMembers(code)
	existing, ok := members[uid]
	if !ok {
		existing = Member{UID: uid, PracticeCode: code}
	}
	members[uid] = patch.apply(existing)
	s.mu.Unlock()
	return s.notifier.Publish(ctx, membersTopic(code))
}

func (s *MemoryStore) AddActivity(ctx context.Context, code string, entry ActivityEntry) (string, error) {
	entry.ID = uuid.NewString()
	s.mu.Lock()
	s.activity[code] = append(s.activity[code], entry)
	s.mu.Unlock()
	if err := s.notifier.Publish(ctx, activityTopic(code)); err != nil {
		return entry.ID, err
	}
	return entry.ID, nil
}

func (s *MemoryStore) WatchMembers(ctx context.Context, code string, fn MembersFunc) (Unsubscribe, error) {
	return watch(ctx, s.notifier, membersTopic(code), func(context.Context) ([]Member, error) {
		return s.listMembers(code), nil
	}, fn)
}

func (s *MemoryStore) WatchActivity(ctx context.Context, code string, limit int, fn ActivityFunc) (Unsubscribe, error) {
	return watch(ctx, s.notifier, activityTopic(code), func(context.Context) ([]ActivityEntry, error) {
		return s.listActivity(code, limit), nil
	}, fn)
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) SaveCredential(_ context.Context, tokenHash, uid string, expiresAt time.Time) error {
	s.mu.Lock()
	s.credentials[tokenHash] = memoryCredential{uid: uid, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LookupCredential(_ context.Context, tokenHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.credentials[tokenHash]
	if !ok || !s.now().Before(credential.expiresAt) {
		return "", ErrNotFound
	}
	return credential.uid, nil
}

func (s *MemoryStore) RevokeCredential(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	delete(s.credentials, tokenHash)
	s.mu.Unlock()
	return nil
}

// practiceMembers must be called with mu held for writing.
func (s *MemoryStore) practiceMembers(code string) map[string]Member {
	members := s.members[code]
	if members == nil {
		members = make(map[string]Member)
		s.members[code] = members
	}
	return members
}

func (s *MemoryStore) listMembers(code string) []Member {
	s.mu.RLock()
	items := make([]Member, 0, len(s.members[code]))
	for _, member := range s.members[code] {
		items = append(items, member)
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].DisplayName != items[j].DisplayName {
			return items[i].DisplayName < items[j].DisplayName
		}
		return items[i].UID < items[j].UID
	})
	return items
}

func (s *MemoryStore) listActivity(code string, limit int) []ActivityEntry {
	s.mu.RLock()
	log := s.activity[code]
	items := make([]ActivityEntry, 0, len(log))
	// Newest write first so equal timestamps keep insertion recency.
	for i := len(log) - 1; i >= 0; i-- {
		items = append(items, log[i])
	}
	s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TS > items[j].TS
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
