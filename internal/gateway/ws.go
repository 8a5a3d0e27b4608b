package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Froom3010/Froom/internal/identity"
	"github.com/Froom3010/Froom/internal/presence"
	"github.com/Froom3010/Froom/internal/view"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// clientMessage is any message a browser sends. Type selects which fields
// matter.
type clientMessage struct {
	Type string `json:"type"`

	PracticeCode string `json:"practiceCode,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Role         string `json:"role,omitempty"`
	Secret       string `json:"secret,omitempty"`
	Credential   string `json:"credential,omitempty"`

	Availability string `json:"availability,omitempty"`
	Activity     string `json:"activity,omitempty"`
	Location     string `json:"location,omitempty"`
	Note         string `json:"note,omitempty"`
}

type serverMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type enteredPayload struct {
	UID          string `json:"uid"`
	PracticeCode string `json:"practiceCode"`
	DisplayName  string `json:"displayName"`
	Role         string `json:"role"`
	Credential   string `json:"credential"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// connection runs one browser's presence session. It is the session's
// Observer, so snapshots are pushed as they arrive.
type connection struct {
	conn     *websocket.Conn
	tokens   *identity.MemoryTokens
	provider *identity.Provider
	client   *presence.Client

	writeMu sync.Mutex
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade: %v", err)
		return
	}

	tokens := identity.NewMemoryTokens("")
	provider := identity.NewProvider(s.cfg.CredentialSecret, s.cfg.CredentialTTL, s.cfg.Registry, tokens)
	c := &connection{
		conn:     conn,
		tokens:   tokens,
		provider: provider,
		// The browser keeps its own form state, so no session cache here.
		client: presence.NewClient(s.cfg.Store, provider, nil, s.cfg.ClientOptions...),
	}
	c.run(r.Context())
}

func (c *connection) run(ctx context.Context) {
	done := make(chan struct{})
	defer func() {
		close(done)
		// A dropped connection keeps the credential so a reload resumes the
		// same member; only an explicit logout ends it.
		c.client.Detach()
		_ = c.conn.Close()
	}()

	go c.keepAlive(done)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws read: %v", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(ctx, msg)
	}
}

func (c *connection) handle(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "enter":
		c.enter(ctx, msg)
	case "status":
		c.withSession("status", func(session *presence.Session) error {
			return session.SaveStatus(ctx, statusInput(msg))
		})
	case "clear":
		c.withSession("clear", func(session *presence.Session) error {
			return session.Clear(ctx, statusInput(msg))
		})
	case "logout":
		if err := c.client.Logout(ctx); err != nil {
			log.Printf("ws logout: %v", err)
			c.sendError(err)
		}
		c.send("loggedOut", nil)
	default:
		c.send("error", errorPayload{Code: "UNKNOWN_MESSAGE", Message: "Unknown message type"})
	}
}

func (c *connection) enter(ctx context.Context, msg clientMessage) {
	if c.provider.Token() == "" && msg.Credential != "" {
		_ = c.tokens.SaveToken(msg.Credential)
	}
	session, err := c.client.Enter(ctx, presence.EnterInput{
		PracticeCode: msg.PracticeCode,
		DisplayName:  msg.DisplayName,
		Role:         msg.Role,
		Secret:       msg.Secret,
	}, c)
	if err != nil {
		c.sendError(err)
		return
	}
	c.send("entered", enteredPayload{
		UID:          session.UID(),
		PracticeCode: session.PracticeCode(),
		DisplayName:  session.DisplayName(),
		Role:         session.Role(),
		Credential:   c.provider.Token(),
	})
}

func (c *connection) withSession(kind string, fn func(*presence.Session) error) {
	session := c.client.Active()
	if session == nil {
		c.send("error", errorPayload{Code: "NO_SESSION", Message: "Enter a practice first"})
		return
	}
	if err := fn(session); err != nil {
		log.Printf("ws %s: %v", kind, err)
		c.sendError(err)
		return
	}
	c.send("saved", nil)
}

func (c *connection) TeamChanged(team view.Team) {
	c.send("team", team)
}

func (c *connection) ActivityChanged(feed view.Activity) {
	c.send("activity", feed)
}

func (c *connection) SyncFailed(name string, err error) {
	c.send("error", errorPayload{Code: "SYNC_ERROR", Message: "Live " + name + " updates failed"})
}

func (c *connection) sendError(err error) {
	code, message := mapError(err)
	c.send("error", errorPayload{Code: code, Message: message})
}

func (c *connection) send(kind string, data any) {
	payload, err := json.Marshal(serverMessage{Type: kind, Data: data})
	if err != nil {
		log.Printf("ws encode %s: %v", kind, err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("ws write %s: %v", kind, err)
	}
}

func (c *connection) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func statusInput(msg clientMessage) presence.StatusInput {
	return presence.StatusInput{
		Availability: msg.Availability,
		Activity:     msg.Activity,
		Location:     msg.Location,
		Note:         msg.Note,
	}
}
