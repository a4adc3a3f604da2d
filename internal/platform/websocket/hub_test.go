package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mediclear/mediclear/internal/platform/auth"
)

func newClient(hub *Hub, id, userID, role string, topics ...string) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Role:   role,
		Topics: topics,
		Send:   make(chan []byte, 256),
		hub:    hub,
	}
}

func received(c *Client) []Event {
	var out []Event
	for {
		select {
		case data := <-c.Send:
			var ev Event
			_ = json.Unmarshal(data, &ev)
			out = append(out, ev)
		default:
			return out
		}
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c1", "u1", auth.RoleNurse, TopicRoster)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(TopicRoster) != 1 {
		t.Fatalf("expected 1 client on roster, got %d/%d", hub.ClientCount(), hub.TopicCount(TopicRoster))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicRoster) != 0 {
		t.Fatalf("expected empty hub, got %d/%d", hub.ClientCount(), hub.TopicCount(TopicRoster))
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_IgnoresUnknownAndDuplicateTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c1", "u1", auth.RoleNurse, TopicRoster, "Patient/123")
	hub.Register(client)

	hub.Subscribe(client, []string{TopicRoster, TopicSession})
	if len(client.Topics) != 2 {
		t.Fatalf("expected roster and session only, got %v", client.Topics)
	}
	if hub.TopicCount("Patient/123") != 0 {
		t.Error("unknown topic must not be registered")
	}
}

func TestHub_RosterVisibilityFollowsRole(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	nurse := newClient(hub, "n", "nurse-1", auth.RoleNurse, TopicRoster)
	attending := newClient(hub, "d1", "doc-1", auth.RoleDoctor, TopicRoster)
	otherDoc := newClient(hub, "d2", "doc-2", auth.RoleDoctor, TopicRoster)
	other := newClient(hub, "o", "clerk-1", auth.RoleOther, TopicRoster)
	for _, c := range []*Client{nurse, attending, otherDoc, other} {
		hub.Register(c)
	}

	err := hub.Publish(context.Background(), Event{
		Type:        "patient.status_changed",
		Topic:       TopicRoster,
		PatientID:   "p-1",
		PhysicianID: "doc-1",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got := received(nurse); len(got) != 1 || got[0].PatientID != "p-1" {
		t.Errorf("nurse: expected the event, got %+v", got)
	}
	if got := received(attending); len(got) != 1 {
		t.Errorf("attending doctor: expected the event, got %d", len(got))
	}
	if got := received(otherDoc); len(got) != 0 {
		t.Errorf("other doctor: expected nothing, got %d", len(got))
	}
	if got := received(other); len(got) != 0 {
		t.Errorf("other role: expected nothing, got %d", len(got))
	}
}

func TestHub_SessionEventsTargetOneUser(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	a1 := newClient(hub, "a1", "user-a", auth.RoleNurse, TopicSession)
	a2 := newClient(hub, "a2", "user-a", auth.RoleNurse, TopicSession)
	b := newClient(hub, "b", "user-b", auth.RoleNurse, TopicSession)
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b)

	_ = hub.Publish(context.Background(), Event{Type: "session.signed_out", Topic: TopicSession, UserID: "user-a"})

	if len(received(a1)) != 1 || len(received(a2)) != 1 {
		t.Error("expected both of user-a's connections to be notified")
	}
	if len(received(b)) != 0 {
		t.Error("user-b must not be notified")
	}
}

func TestHub_PublishSetsTimestampAndHidesRouting(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	nurse := newClient(hub, "n", "nurse-1", auth.RoleNurse, TopicRoster)
	hub.Register(nurse)

	_ = hub.Publish(context.Background(), Event{Type: "patient.created", Topic: TopicRoster, PhysicianID: "doc-9"})

	data := <-nurse.Send
	if strings.Contains(string(data), "doc-9") {
		t.Errorf("routing fields must not be serialized: %s", data)
	}
	var ev Event
	_ = json.Unmarshal(data, &ev)
	if ev.Timestamp.IsZero() {
		t.Error("expected timestamp to be filled in")
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", UserID: "n", Role: auth.RoleNurse, Topics: []string{TopicRoster}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			_ = hub.Publish(context.Background(), Event{Type: "patient.updated", Topic: TopicRoster})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c", "u", auth.RoleNurse)
	hub.Register(client)

	var msg ClientMessage
	if err := json.Unmarshal([]byte(`{"action":"subscribe","topics":["roster","session"]}`), &msg); err != nil {
		t.Fatal(err)
	}
	hub.ProcessMessage(client, msg)
	if hub.TopicCount(TopicRoster) != 1 || hub.TopicCount(TopicSession) != 1 {
		t.Fatal("expected subscriptions to both topics")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicRoster}})
	if hub.TopicCount(TopicRoster) != 0 || hub.TopicCount(TopicSession) != 1 {
		t.Fatal("expected roster subscription removed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicSession {
		t.Errorf("unexpected client topics %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(hub, "c", "u", auth.RoleNurse, TopicRoster)
			hub.Register(c)
			_ = hub.Publish(context.Background(), Event{Type: "patient.updated", Topic: TopicRoster})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestWebSocketHandler_RequiresAuthentication(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewWebSocketHandler(hub, nil).RegisterRoutes(e.Group(""))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebSocketHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := context.WithValue(c.Request().Context(), auth.UserIDKey, "nurse-1")
			ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleNurse})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewWebSocketHandler(hub, nil).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount(TopicRoster) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(TopicRoster) != 1 {
		t.Fatal("expected connection to be subscribed to the roster")
	}

	_ = hub.Publish(context.Background(), Event{Type: "patient.created", Topic: TopicRoster, PatientID: "p-42"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if ev.Type != "patient.created" || ev.PatientID != "p-42" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestWebSocketHandler_RejectsForeignOrigin(t *testing.T) {
	wsh := NewWebSocketHandler(NewHub(zerolog.Nop()), []string{"http://app.test"})
	req := httptest.NewRequest(http.MethodGet, "http://api.test/ws", nil)

	req.Header.Set("Origin", "http://evil.test")
	if wsh.upgrader.CheckOrigin(req) {
		t.Error("expected foreign origin to be rejected")
	}
	req.Header.Set("Origin", "http://app.test")
	if !wsh.upgrader.CheckOrigin(req) {
		t.Error("expected configured origin to be accepted")
	}
}
