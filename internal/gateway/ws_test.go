package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Froom3010/Froom/internal/digest"
	"github.com/Froom3010/Froom/internal/store"
	"github.com/Froom3010/Froom/internal/view"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func startWSServer(t *testing.T, st store.Store) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newTestServer(t, st, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil skips messages until one of type kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) rawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg rawMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", kind)
		if msg.Type == kind {
			return msg
		}
	}
}

func readError(t *testing.T, conn *websocket.Conn) errorPayload {
	t.Helper()
	var payload errorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Data, &payload))
	return payload
}

func enter(t *testing.T, conn *websocket.Conn, msg clientMessage) enteredPayload {
	t.Helper()
	msg.Type = "enter"
	require.NoError(t, conn.WriteJSON(msg))
	var payload enteredPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "entered").Data, &payload))
	return payload
}

func TestWSEnterStatusAndLogout(t *testing.T) {
	srv := startWSServer(t, store.NewMemoryStore())
	conn := dial(t, srv)

	entered := enter(t, conn, clientMessage{PracticeCode: "elm", DisplayName: "Dana", Role: "nurse"})
	require.NotEmpty(t, entered.UID)
	require.Equal(t, "ELM", entered.PracticeCode)
	require.Equal(t, "Nurse", entered.Role)
	require.NotEmpty(t, entered.Credential)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "status", Availability: "busy", Activity: "In session", Location: "Room 2", Note: "Back in 10"}))

	// The feed snapshot and the save acknowledgement race each other.
	saved := false
	var feed view.Activity
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !saved || len(feed.Entries) == 0 {
		var msg rawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "saved":
			saved = true
		case "activity":
			require.NoError(t, json.Unmarshal(msg.Data, &feed))
		}
	}
	require.Equal(t, "BUSY • In session @ Room 2 — Back in 10", feed.Entries[0].Change)
	require.Equal(t, "Dana", feed.Entries[0].ByName)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "logout"}))
	readUntil(t, conn, "loggedOut")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "status", Availability: "free", Activity: "Available"}))
	require.Equal(t, "NO_SESSION", readError(t, conn).Code)
}

func TestWSTeamSnapshot(t *testing.T) {
	srv := startWSServer(t, store.NewMemoryStore())
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "enter", PracticeCode: "ELM", DisplayName: "Dana"}))
	var team view.Team
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "team").Data, &team))
	require.False(t, team.Empty)
	require.Len(t, team.Members, 1)
	require.Equal(t, "Dana", team.Members[0].DisplayName)
	require.True(t, team.Members[0].Online)
	require.Equal(t, "Online", team.Members[0].Presence)
}

func TestWSWrongSecret(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.MergePractice(context.Background(), "ELM", store.PracticePatch{
		Name:     store.Ptr("ELM"),
		PassHash: store.Ptr(digest.Hex("s3cret")),
	}))
	srv := startWSServer(t, st)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "enter", PracticeCode: "ELM", DisplayName: "Dana", Secret: "nope"}))
	require.Equal(t, "AUTH_ERROR", readError(t, conn).Code)

	entered := enter(t, conn, clientMessage{PracticeCode: "ELM", DisplayName: "Dana", Secret: "s3cret"})
	require.Equal(t, "ELM", entered.PracticeCode)
}

func TestWSValidationError(t *testing.T) {
	srv := startWSServer(t, store.NewMemoryStore())
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "enter", PracticeCode: "ELM", DisplayName: "  "}))
	payload := readError(t, conn)
	require.Equal(t, "VALIDATION_ERROR", payload.Code)
	require.Equal(t, "display name is required", payload.Message)
}

func TestWSUnknownMessage(t *testing.T) {
	srv := startWSServer(t, store.NewMemoryStore())
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(clientMessage{Type: "dance"}))
	require.Equal(t, "UNKNOWN_MESSAGE", readError(t, conn).Code)
}

func TestWSCredentialResumesIdentityUntilLogout(t *testing.T) {
	srv := startWSServer(t, store.NewMemoryStore())

	first := dial(t, srv)
	entered := enter(t, first, clientMessage{PracticeCode: "ELM", DisplayName: "Dana"})
	require.NoError(t, first.Close())

	second := dial(t, srv)
	resumed := enter(t, second, clientMessage{PracticeCode: "ELM", DisplayName: "Dana", Credential: entered.Credential})
	require.Equal(t, entered.UID, resumed.UID)
	require.Equal(t, entered.Credential, resumed.Credential)

	require.NoError(t, second.WriteJSON(clientMessage{Type: "logout"}))
	readUntil(t, second, "loggedOut")

	third := dial(t, srv)
	fresh := enter(t, third, clientMessage{PracticeCode: "ELM", DisplayName: "Dana", Credential: entered.Credential})
	require.NotEqual(t, entered.UID, fresh.UID)
}
