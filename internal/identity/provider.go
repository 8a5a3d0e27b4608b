package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Froom3010/Froom/internal/digest"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/util"
)

const defaultTTL = 30 * 24 * time.Hour

// Provider hands out a stable anonymous identity id. The id is reused while
// the stored credential parses and is still registered; otherwise a new one
// is minted.
type Provider struct {
	secret   []byte
	ttl      time.Duration
	registry store.CredentialRegistry
	tokens   TokenStore
	now      func() time.Time

	mu    sync.Mutex
	uid   string
	token string
}

func NewProvider(secret []byte, ttl time.Duration, registry store.CredentialRegistry, tokens TokenStore) *Provider {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Provider{
		secret:   secret,
		ttl:      ttl,
		registry: registry,
		tokens:   tokens,
		now:      time.Now,
	}
}

func (p *Provider) EnsureAnonymous(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uid != "" {
		return p.uid, nil
	}

	stored, err := p.tokens.LoadToken()
	if err != nil {
		return "", fmt.Errorf("load credential: %w", err)
	}
	if stored != "" {
		uid, err := p.resume(ctx, stored)
		if err != nil {
			return "", err
		}
		if uid != "" {
			p.uid, p.token = uid, stored
			return uid, nil
		}
	}

	uid := util.NewID("anon")
	token, err := IssueToken(p.secret, uid, util.NewID("jti"), p.now().Add(p.ttl))
	if err != nil {
		return "", err
	}
	if err := p.registry.SaveCredential(ctx, digest.Hex(token), uid, p.now().Add(p.ttl)); err != nil {
		return "", fmt.Errorf("register credential: %w", err)
	}
	if err := p.tokens.SaveToken(token); err != nil {
		// The identity still works for this run; it just won't survive a restart.
		log.Printf("identity: persist credential: %v", err)
	}
	p.uid, p.token = uid, token
	return uid, nil
}

// resume returns "" when the stored credential can no longer be used.
func (p *Provider) resume(ctx context.Context, token string) (string, error) {
	claims, err := ParseToken(p.secret, token)
	if err != nil {
		return "", nil
	}
	uid, err := p.registry.LookupCredential(ctx, digest.Hex(token))
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resume credential: %w", err)
	}
	if uid != claims.Subject {
		return "", nil
	}
	return uid, nil
}

// EndSession revokes the credential and forgets the identity. The next
// EnsureAnonymous mints a new id.
func (p *Provider) EndSession(ctx context.Context) error {
	p.mu.Lock()
	token := p.token
	p.uid, p.token = "", ""
	p.mu.Unlock()

	if token == "" {
		stored, err := p.tokens.LoadToken()
		if err != nil {
			return fmt.Errorf("load credential: %w", err)
		}
		token = stored
	}
	if err := p.tokens.ClearToken(); err != nil {
		return err
	}
	if token == "" {
		return nil
	}
	if err := p.registry.RevokeCredential(ctx, digest.Hex(token)); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Token returns the credential backing the current identity, or "".
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}
