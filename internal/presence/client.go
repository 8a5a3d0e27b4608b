// Package presence runs one member's session in a practice: entry through the
// practice gate, liveness heartbeats, status saves and the live team and
// activity views.
package presence

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Froom3010/Froom/internal/digest"
	"github.com/Froom3010/Froom/internal/events"
	"github.com/Froom3010/Froom/internal/observability"
	"github.com/Froom3010/Froom/internal/roles"
	"github.com/Froom3010/Froom/internal/sessioncache"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/view"
)

const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultPublishTimeout    = 10 * time.Second
	DefaultActivity          = "Active now"
)

type IdentityProvider interface {
	EnsureAnonymous(ctx context.Context) (string, error)
	EndSession(ctx context.Context) error
}

type SessionCache interface {
	Load() (sessioncache.Entry, bool, error)
	Save(entry sessioncache.Entry) error
}

// Observer receives every rendered snapshot of a session's live views.
// Calls arrive on subscription goroutines.
type Observer interface {
	TeamChanged(team view.Team)
	ActivityChanged(feed view.Activity)
	SyncFailed(name string, err error)
}

type NopObserver struct{}

func (NopObserver) TeamChanged(view.Team)         {}
func (NopObserver) ActivityChanged(view.Activity) {}
func (NopObserver) SyncFailed(string, error)      {}

type EnterInput struct {
	PracticeCode string
	DisplayName  string
	Role         string
	Secret       string
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.heartbeatInterval = interval
		}
	}
}

func WithOnlineWindow(window time.Duration) Option {
	return func(c *Client) {
		if window > 0 {
			c.onlineWindow = window
		}
	}
}

func WithActivityLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.activityLimit = limit
		}
	}
}

// WithPublishTimeout bounds each activity forward to the publisher.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.publishTimeout = timeout
		}
	}
}

// WithPublisher forwards every appended activity entry to publisher.
func WithPublisher(publisher events.Publisher) Option {
	return func(c *Client) {
		if publisher != nil {
			c.publisher = publisher
		}
	}
}

// Client owns at most one active Session. Entering again replaces it.
type Client struct {
	store    store.Store
	identity IdentityProvider
	cache    SessionCache

	logger            *log.Logger
	now               func() time.Time
	heartbeatInterval time.Duration
	onlineWindow      time.Duration
	activityLimit     int
	publisher         events.Publisher
	publishTimeout    time.Duration
	forwards          sync.WaitGroup

	mu     sync.Mutex
	active *Session
	// identityHeld is set once an Enter establishes an identity and cleared
	// by Logout.
	identityHeld bool
}

func NewClient(st store.Store, identity IdentityProvider, cache SessionCache, opts ...Option) *Client {
	c := &Client{
		store:             st,
		identity:          identity,
		cache:             cache,
		logger:            log.New(log.Writer(), "[presence] ", log.LstdFlags),
		now:               time.Now,
		heartbeatInterval: DefaultHeartbeatInterval,
		onlineWindow:      view.DefaultOnlineWindow,
		activityLimit:     view.DefaultActivityLimit,
		publisher:         events.Nop{},
		publishTimeout:    DefaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prefill returns the cached entry form when it holds both a practice code
// and a display name.
func (c *Client) Prefill() (sessioncache.Entry, bool) {
	if c.cache == nil {
		return sessioncache.Entry{}, false
	}
	entry, ok, err := c.cache.Load()
	if err != nil {
		c.logger.Printf("load session cache: %v", err)
		return sessioncache.Entry{}, false
	}
	return entry, ok
}

// Enter validates the form, passes the practice gate, upserts the member
// record and starts the session's views and heartbeat, in that order.
func (c *Client) Enter(ctx context.Context, in EnterInput, observer Observer) (*Session, error) {
	code := strings.ToUpper(strings.TrimSpace(in.PracticeCode))
	name := strings.TrimSpace(in.DisplayName)
	role := string(roles.Normalize(in.Role))
	if observer == nil {
		observer = NopObserver{}
	}

	if code == "" {
		observability.RecordEntry(observability.ResultValidation)
		return nil, validationError("practiceCode", "practice code is required")
	}
	if name == "" {
		observability.RecordEntry(observability.ResultValidation)
		return nil, validationError("displayName", "display name is required")
	}

	if err := c.admit(ctx, code, in.Secret); err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			observability.RecordEntry(observability.ResultAuth)
		} else {
			observability.RecordEntry(observability.ResultStore)
		}
		return nil, err
	}

	uid, err := c.identity.EnsureAnonymous(ctx)
	if err != nil {
		observability.RecordEntry(observability.ResultStore)
		return nil, storeError("establish identity", err)
	}
	c.mu.Lock()
	c.identityHeld = true
	c.mu.Unlock()

	now := c.now().UnixMilli()
	initial := store.Member{
		DisplayName:  name,
		Role:         role,
		Availability: store.AvailabilityFree,
		Activity:     DefaultActivity,
		LastActive:   now,
	}
	update := store.MemberPatch{
		DisplayName: store.Ptr(name),
		Role:        store.Ptr(role),
		LastActive:  store.Ptr(now),
	}
	if err := c.store.EnsureMember(ctx, code, uid, initial, update); err != nil {
		observability.RecordEntry(observability.ResultStore)
		return nil, storeError("upsert member", err)
	}

	if c.cache != nil {
		if err := c.cache.Save(sessioncache.Entry{DisplayName: name, PracticeCode: code, Role: role}); err != nil {
			c.logger.Printf("save session cache: %v", err)
		}
	}

	c.mu.Lock()
	previous := c.active
	c.active = nil
	c.mu.Unlock()
	if previous != nil {
		previous.release()
	}

	session := &Session{client: c, uid: uid, practiceCode: code, displayName: name, role: role, observer: observer}
	if err := session.attach(ctx); err != nil {
		session.release()
		observability.RecordEntry(observability.ResultStore)
		return nil, storeError("subscribe", err)
	}
	session.StartHeartbeat()
	session.markStarted()

	c.mu.Lock()
	c.active = session
	c.mu.Unlock()
	observability.RecordEntry(observability.ResultOK)
	c.logger.Printf("entered practice=%s uid=%s", code, uid)
	return session, nil
}

// Active returns the current session, or nil.
func (c *Client) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Logout stops the active session, if any, and ends the identity credential.
// The provider is asked to end the credential on every call, including after
// an Enter that failed past identity establishment. A failure is returned
// once per established identity and only logged afterwards.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	session := c.active
	c.active = nil
	held := c.identityHeld
	c.identityHeld = false
	c.mu.Unlock()

	if session != nil {
		session.end()
	}
	if err := c.identity.EndSession(ctx); err != nil {
		c.logger.Printf("end identity session: %v", err)
		if held {
			return storeError("end identity session", err)
		}
	}
	return nil
}

// Flush waits for activity forwards still in flight.
func (c *Client) Flush() {
	c.forwards.Wait()
}

// Detach stops the active session's views and heartbeat but keeps the
// identity, so a later Enter resumes the same member.
func (c *Client) Detach() {
	c.mu.Lock()
	session := c.active
	c.active = nil
	c.mu.Unlock()
	if session != nil {
		session.release()
	}
}

// admit resolves the practice, checking its secret or founding it.
func (c *Client) admit(ctx context.Context, code, secret string) error {
	practice, err := c.store.GetPractice(ctx, code)
	switch {
	case errors.Is(err, store.ErrNotFound):
		patch := store.PracticePatch{
			Name:      store.Ptr(code),
			CreatedAt: store.Ptr(c.now().UnixMilli()),
		}
		if err := c.store.MergePractice(ctx, code, patch); err != nil {
			return storeError("create practice", err)
		}
		c.logger.Printf("founded open practice %s", code)
		return nil
	case err != nil:
		return storeError("get practice", err)
	}

	if practice.PassHash != "" && !digest.Matches(practice.PassHash, secret) {
		return &AuthError{PracticeCode: code}
	}
	return nil
}

