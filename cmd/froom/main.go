// Command froom is a terminal client for a practice's presence board.
//
//	froom enter -practice ELM -name Dana -role Nurse [-secret s3cret]
//	froom secret -practice ELM -secret s3cret
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Froom3010/Froom/db"
	"github.com/Froom3010/Froom/internal/config"
	"github.com/Froom3010/Froom/internal/digest"
	"github.com/Froom3010/Froom/internal/identity"
	"github.com/Froom3010/Froom/internal/presence"
	"github.com/Froom3010/Froom/internal/sessioncache"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/view"
	"github.com/redis/go-redis/v9"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "enter":
		err = runEnter(ctx, cfg, os.Args[2:], os.Stdin, os.Stdout)
	case "secret":
		err = runSecret(ctx, cfg, os.Args[2:])
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("froom %s: %v", os.Args[1], err)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: froom enter -practice CODE -name NAME [-role ROLE] [-secret SECRET]")
	fmt.Fprintln(w, "       froom secret -practice CODE -secret SECRET")
}

type backend struct {
	store    store.Store
	registry store.CredentialRegistry
	closers  []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	b := &backend{}

	var notifier store.Notifier = store.NewLocalNotifier()
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		b.closers = append(b.closers, redisClient.Close)
		notifier = store.NewRedisNotifier(redisClient)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Printf("WARNING: DATABASE_URL not set, using an in-memory store; teammates are not visible and the stored credential cannot be resumed")
		memory := store.NewMemoryStore()
		b.store, b.registry = memory, memory
	} else {
		sqlDB, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, sqlDB.Close)
		if err := store.ApplyMigrations(ctx, sqlDB, db.Migrations()); err != nil {
			b.Close()
			return nil, err
		}
		postgres := store.NewPostgresStore(sqlDB, notifier)
		b.store, b.registry = postgres, postgres
	}
	if redisClient != nil {
		b.registry = identity.NewRedisRegistryWithClient(redisClient)
	}
	return b, nil
}

func runEnter(ctx context.Context, cfg config.Config, args []string, stdin io.Reader, stdout io.Writer) error {
	cache := sessioncache.NewFile(filepath.Join(cfg.CacheDir, "session.json"))
	prefill, _, err := cache.Load()
	if err != nil {
		log.Printf("ignoring session cache: %v", err)
	}

	fs := flag.NewFlagSet("enter", flag.ContinueOnError)
	code := fs.String("practice", prefill.PracticeCode, "practice code")
	name := fs.String("name", prefill.DisplayName, "display name")
	role := fs.String("role", prefill.Role, "role")
	secret := fs.String("secret", "", "practice secret, if the practice has one")
	if err := fs.Parse(args); err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	tokens := identity.NewFileTokens(filepath.Join(cfg.CacheDir, "credential"))
	provider := identity.NewProvider([]byte(cfg.CredentialSecret), cfg.CredentialTTL, b.registry, tokens)
	client := presence.NewClient(b.store, provider, cache,
		presence.WithHeartbeatInterval(cfg.HeartbeatInterval),
		presence.WithOnlineWindow(cfg.OnlineWindow),
		presence.WithActivityLimit(cfg.ActivityLimit),
	)

	printer := &printer{out: stdout}
	session, err := client.Enter(ctx, presence.EnterInput{
		PracticeCode: *code,
		DisplayName:  *name,
		Role:         *role,
		Secret:       *secret,
	}, printer)
	if err != nil {
		return err
	}
	printer.printf("Entered %s as %s (%s)\n", session.PracticeCode(), session.DisplayName(), session.Role())

	// A closed terminal detaches; only an explicit logout forgets the identity.
	defer client.Flush()
	defer client.Detach()
	return repl(ctx, client, session, stdin, printer)
}

// repl reads commands until EOF, quit or logout.
func repl(ctx context.Context, client *presence.Client, session *presence.Session, stdin io.Reader, p *printer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		command, rest, _ := strings.Cut(line, " ")
		switch command {
		case "":
		case "status":
			if err := session.SaveStatus(ctx, parseStatus(rest)); err != nil {
				p.printf("error: %v\n", err)
			}
		case "clear":
			if err := session.Clear(ctx, parseStatus(rest)); err != nil {
				p.printf("error: %v\n", err)
			}
		case "logout":
			return client.Logout(ctx)
		case "quit":
			return nil
		default:
			p.printf("commands: status <availability> | <activity> | <location> | <note>, clear, logout, quit\n")
		}
	}
}

// parseStatus splits "busy | In session | Room 2 | Back in 10". Missing
// trailing fields are empty.
func parseStatus(text string) presence.StatusInput {
	parts := strings.SplitN(text, "|", 4)
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return presence.StatusInput{
		Availability: strings.TrimSpace(parts[0]),
		Activity:     strings.TrimSpace(parts[1]),
		Location:     strings.TrimSpace(parts[2]),
		Note:         strings.TrimSpace(parts[3]),
	}
}

func runSecret(ctx context.Context, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("secret", flag.ContinueOnError)
	code := fs.String("practice", "", "practice code")
	secret := fs.String("secret", "", "new practice secret; empty opens the practice")
	if err := fs.Parse(args); err != nil {
		return err
	}
	practice := strings.ToUpper(strings.TrimSpace(*code))
	if practice == "" {
		return errors.New("practice code is required")
	}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	hash := ""
	if *secret != "" {
		hash = digest.Hex(*secret)
	}
	patch := store.PracticePatch{PassHash: &hash}
	if _, err := b.store.GetPractice(ctx, practice); errors.Is(err, store.ErrNotFound) {
		patch.Name = store.Ptr(practice)
		patch.CreatedAt = store.Ptr(time.Now().UnixMilli())
	} else if err != nil {
		return fmt.Errorf("get practice: %w", err)
	}
	if err := b.store.MergePractice(ctx, practice, patch); err != nil {
		return fmt.Errorf("set practice secret: %w", err)
	}
	log.Printf("updated secret for %s", practice)
	return nil
}

// printer is the session Observer for a terminal.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) TeamChanged(team view.Team) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "== Team ==")
	if team.Empty {
		fmt.Fprintln(p.out, "  No team members yet.")
		return
	}
	for _, row := range team.Members {
		fmt.Fprintf(p.out, "  %-20s %-12s [%s] %s  (%s)\n", row.DisplayName, row.Role, row.Availability, row.Status, row.Presence)
	}
}

func (p *printer) ActivityChanged(feed view.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, "== Activity ==")
	if feed.Empty {
		fmt.Fprintln(p.out, "  No activity yet.")
		return
	}
	for _, row := range feed.Entries {
		fmt.Fprintf(p.out, "  %s  %s: %s\n", row.Time, row.ByName, row.Change)
	}
}

func (p *printer) SyncFailed(name string, err error) {
	p.printf("live %s updates failed: %v\n", name, err)
}
