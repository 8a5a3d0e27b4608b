package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Froom3010/Froom/internal/events"
	"github.com/Froom3010/Froom/internal/observability"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/view"
)

type StatusInput struct {
	Availability string
	Activity     string
	Location     string
	Note         string
}

// Session is one member's presence in one practice. It is created by
// Client.Enter and ends with Logout.
type Session struct {
	client       *Client
	practiceCode string
	displayName  string
	role         string
	observer     Observer

	mu            sync.Mutex
	uid           string
	ended         bool
	counted       bool
	unsubTeam     store.Unsubscribe
	unsubActivity store.Unsubscribe

	// heartbeatMu serializes arming and stopping the heartbeat. It is held
	// while waiting for the heartbeat goroutine, which only takes mu.
	heartbeatMu   sync.Mutex
	stopHeartbeat func()
}

// UID is empty once the session has ended.
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uid
}

func (s *Session) PracticeCode() string { return s.practiceCode }
func (s *Session) DisplayName() string  { return s.displayName }
func (s *Session) Role() string         { return s.role }

// attach subscribes the team view, then the activity feed.
func (s *Session) attach(ctx context.Context) error {
	c := s.client
	unsubTeam, err := c.store.WatchMembers(ctx, s.practiceCode, func(members []store.Member, err error) {
		if err != nil {
			c.logger.Printf("team sync practice=%s: %v", s.practiceCode, err)
			s.observer.SyncFailed("team", err)
			return
		}
		s.observer.TeamChanged(view.RenderTeam(members, c.now(), c.onlineWindow))
	})
	if err != nil {
		return fmt.Errorf("watch team: %w", err)
	}
	s.mu.Lock()
	s.unsubTeam = unsubTeam
	s.mu.Unlock()

	unsubActivity, err := c.store.WatchActivity(ctx, s.practiceCode, c.activityLimit, func(entries []store.ActivityEntry, err error) {
		if err != nil {
			c.logger.Printf("activity sync practice=%s: %v", s.practiceCode, err)
			s.observer.SyncFailed("activity", err)
			return
		}
		s.observer.ActivityChanged(view.RenderActivity(entries, c.activityLimit))
	})
	if err != nil {
		return fmt.Errorf("watch activity: %w", err)
	}
	s.mu.Lock()
	s.unsubActivity = unsubActivity
	s.mu.Unlock()
	return nil
}

// StartHeartbeat arms the periodic lastActive refresh, stopping any prior
// heartbeat first. It does nothing on an ended session.
func (s *Session) StartHeartbeat() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()

	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
	if s.UID() == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.client.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.beat(ctx)
			}
		}
	}()

	var once sync.Once
	s.stopHeartbeat = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// beat writes only lastActive. Failures are logged and counted; the next
// tick is the retry.
func (s *Session) beat(ctx context.Context) {
	uid := s.UID()
	if uid == "" {
		return
	}
	now := s.client.now().UnixMilli()
	err := s.client.store.MergeMember(ctx, s.practiceCode, uid, store.MemberPatch{LastActive: store.Ptr(now)})
	if ctx.Err() != nil {
		return
	}
	observability.RecordHeartbeat(err)
	if err != nil {
		s.client.logger.Printf("heartbeat practice=%s uid=%s: %v", s.practiceCode, uid, err)
	}
}

func (s *Session) haltHeartbeat() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
}

// SaveStatus writes the member's status and appends one activity entry.
// Both writes are attempted; there is no rollback. It is a no-op on an ended
// session.
func (s *Session) SaveStatus(ctx context.Context, in StatusInput) error {
	uid := s.UID()
	if uid == "" {
		return nil
	}

	availability := store.Availability(strings.ToLower(strings.TrimSpace(in.Availability)))
	if availability == "" {
		availability = store.AvailabilityFree
	}
	if !availability.Valid() {
		return validationError("availability", "availability must be one of free, busy, dnd")
	}
	activity := in.Activity
	location := strings.TrimSpace(in.Location)
	note := strings.TrimSpace(in.Note)

	c := s.client
	start := time.Now()
	now := c.now().UnixMilli()

	var failed []string
	var errs []error
	patch := store.MemberPatch{
		Availability: store.Ptr(availability),
		Activity:     store.Ptr(activity),
		Location:     store.Ptr(location),
		Note:         store.Ptr(note),
		LastActive:   store.Ptr(now),
	}
	if err := c.store.MergeMember(ctx, s.practiceCode, uid, patch); err != nil {
		failed = append(failed, "update member")
		errs = append(errs, err)
	}

	entry := store.ActivityEntry{
		ByUID:  uid,
		ByName: s.displayName,
		Change: ComposeChange(availability, activity, location, note),
		TS:     now,
	}
	id, err := c.store.AddActivity(ctx, s.practiceCode, entry)
	if err != nil {
		failed = append(failed, "append activity")
		errs = append(errs, err)
	} else {
		s.forward(ctx, id, entry)
	}

	var result error
	if len(failed) > 0 {
		result = &StoreError{Op: "save status", Steps: failed, Err: errors.Join(errs...)}
	}
	observability.RecordStatusSave(start, result)
	return result
}

// Clear blanks the note and saves the rest of in.
func (s *Session) Clear(ctx context.Context, in StatusInput) error {
	in.Note = ""
	return s.SaveStatus(ctx, in)
}

// forward hands the entry to the publisher off the caller's path. Each
// forward runs on a context detached from the caller and bounded by the
// publish timeout.
func (s *Session) forward(ctx context.Context, id string, entry store.ActivityEntry) {
	c := s.client
	if _, nop := c.publisher.(events.Nop); nop {
		return
	}
	event := events.ActivityEvent{
		ID:           id,
		PracticeCode: s.practiceCode,
		ByUID:        entry.ByUID,
		ByName:       entry.ByName,
		Change:       entry.Change,
		TS:           entry.TS,
	}
	c.forwards.Add(1)
	go func() {
		defer c.forwards.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
		defer cancel()
		err := c.publisher.PublishActivity(ctx, event)
		observability.RecordEventPublished(err)
		if err != nil {
			c.logger.Printf("forward activity practice=%s id=%s: %v", event.PracticeCode, event.ID, err)
		}
	}()
}

// Logout stops this session and logs the client out, ending the identity
// credential. A session already replaced by a later Enter still logs the
// client out, since both share one identity.
func (s *Session) Logout(ctx context.Context) error {
	s.end()
	return s.client.Logout(ctx)
}

func (s *Session) markStarted() {
	s.mu.Lock()
	s.counted = true
	s.mu.Unlock()
	observability.SessionStarted()
}

// release stops the views and heartbeat but keeps the identity. Used when a
// new Enter replaces this session.
func (s *Session) release() {
	s.end()
}

// end tears the session down once; later calls do nothing.
func (s *Session) end() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	counted := s.counted
	s.uid = ""
	unsubTeam, unsubActivity := s.unsubTeam, s.unsubActivity
	s.unsubTeam, s.unsubActivity = nil, nil
	s.mu.Unlock()

	if unsubTeam != nil {
		unsubTeam()
	}
	if unsubActivity != nil {
		unsubActivity()
	}
	s.haltHeartbeat()
	if counted {
		observability.SessionEnded()
	}
}

// ComposeChange renders "<AVAILABILITY> • <activity>[ @ <location>][ — <note>]".
func ComposeChange(availability store.Availability, activity, location, note string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(string(availability)))
	b.WriteString(" • ")
	b.WriteString(activity)
	if location != "" {
		b.WriteString(" @ ")
		b.WriteString(location)
	}
	if note != "" {
		b.WriteString(" — ")
		b.WriteString(note)
	}
	return b.String()
}
