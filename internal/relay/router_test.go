package relay

import (
	"context"
	"testing"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
)

type fakeConn struct {
	sent   []protocol.Envelope
	closed bool
}

func (f *fakeConn) SendEnvelope(env protocol.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

type fakeHistory struct {
	chats    []protocol.ChatMessage
	statuses []string
}

func (f *fakeHistory) SaveChatMessage(_ context.Context, msg protocol.ChatMessage) error {
	f.chats = append(f.chats, msg)
	return nil
}

func (f *fakeHistory) SaveStatusChange(_ context.Context, rideID, status string, _ time.Time) error {
	f.statuses = append(f.statuses, rideID+":"+status)
	return nil
}

func (f *fakeHistory) ChatHistory(_ context.Context, _ string, _ int) ([]protocol.ChatMessage, error) {
	return f.chats, nil
}

type fakePublisher struct {
	locations []protocol.LocationUpdate
	chats     []protocol.ChatMessage
}

func (f *fakePublisher) PublishLocation(_ context.Context, _, _ string, e protocol.LocationUpdate) error {
	f.locations = append(f.locations, e)
	return nil
}

func (f *fakePublisher) PublishChat(_ context.Context, e protocol.ChatMessage) error {
	f.chats = append(f.chats, e)
	return nil
}

type fakePresence struct {
	refreshes int
}

func (f *fakePresence) SessionStarted(_ context.Context, _, _ string, _ auth.Role) error { return nil }
func (f *fakePresence) Refresh(_ context.Context, _ string) error {
	f.refreshes++
	return nil
}
func (f *fakePresence) SessionEnded(_ context.Context, _ string) error { return nil }
func (f *fakePresence) IsOnline(_ context.Context, _ string) (bool, error) {
	return true, nil
}

type routerFixture struct {
	hub       *Hub
	router    *Router
	history   *fakeHistory
	publisher *fakePublisher
	presence  *fakePresence
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		hub:       NewHub(logger.Nop()),
		history:   &fakeHistory{},
		publisher: &fakePublisher{},
		presence:  &fakePresence{},
	}
	f.router = NewRouter(f.hub, f.history, f.publisher, f.presence, logger.Nop())
	return f
}

func driverClaims(id string) *auth.AppClaims {
	return &auth.AppClaims{UserID: id, Role: auth.RoleDriver}
}

func riderClaims(id string) *auth.AppClaims {
	return &auth.AppClaims{UserID: id, Role: auth.RoleRider}
}

func TestRouterAnswersPing(t *testing.T) {
	f := newRouterFixture()
	conn := &fakeConn{}

	f.router.HandleEnvelope(context.Background(), riderClaims("rider-1"), conn, protocol.Ping{})

	if len(conn.sent) != 1 {
		t.Fatalf("sent = %d envelopes, want 1", len(conn.sent))
	}
	if _, ok := conn.sent[0].(protocol.Pong); !ok {
		t.Errorf("reply = %T, want Pong", conn.sent[0])
	}
	if f.presence.refreshes != 1 {
		t.Errorf("presence refreshes = %d, want 1", f.presence.refreshes)
	}
}

func TestRouterForwardsDriverLocation(t *testing.T) {
	f := newRouterFixture()
	rider := &fakeConn{}
	f.hub.Add("rider-1", rider)
	f.hub.BindRide("ride-1", "rider-1")
	f.hub.AssignDriver("ride-1", "driver-1")

	loc := protocol.LocationUpdate{Latitude: 51.16, Longitude: 71.47, TimestampMs: 1}
	f.router.HandleEnvelope(context.Background(), driverClaims("driver-1"), &fakeConn{}, loc)

	if len(rider.sent) != 1 {
		t.Fatalf("rider received %d envelopes, want 1", len(rider.sent))
	}
	if got := rider.sent[0].(protocol.LocationUpdate); got != loc {
		t.Errorf("forwarded = %+v, want %+v", got, loc)
	}
	if len(f.publisher.locations) != 1 {
		t.Errorf("published %d locations, want 1", len(f.publisher.locations))
	}
}

func TestRouterDropsLocationFromRider(t *testing.T) {
	f := newRouterFixture()
	driver := &fakeConn{}
	f.hub.Add("driver-1", driver)
	f.hub.BindRide("ride-1", "rider-1")
	f.hub.AssignDriver("ride-1", "driver-1")

	f.router.HandleEnvelope(context.Background(), riderClaims("rider-1"), &fakeConn{},
		protocol.LocationUpdate{Latitude: 1, Longitude: 2})

	if len(driver.sent) != 0 {
		t.Errorf("driver received %d envelopes, want 0", len(driver.sent))
	}
	if len(f.publisher.locations) != 0 {
		t.Errorf("published %d locations, want 0", len(f.publisher.locations))
	}
}

func TestRouterChatPersistsAndForwards(t *testing.T) {
	f := newRouterFixture()
	driver := &fakeConn{}
	f.hub.Add("driver-1", driver)
	f.hub.BindRide("ride-1", "rider-1")
	f.hub.AssignDriver("ride-1", "driver-1")

	msg := protocol.ChatMessage{
		RideID:      "ride-1",
		MessageID:   "msg-1",
		SenderID:    "rider-1",
		Body:        "waiting at the north entrance",
		TimestampMs: 1,
	}
	f.router.HandleEnvelope(context.Background(), riderClaims("rider-1"), &fakeConn{}, msg)

	if len(driver.sent) != 1 {
		t.Fatalf("driver received %d envelopes, want 1", len(driver.sent))
	}
	if len(f.history.chats) != 1 {
		t.Errorf("persisted %d chats, want 1", len(f.history.chats))
	}
	if len(f.publisher.chats) != 1 {
		t.Errorf("published %d chats, want 1", len(f.publisher.chats))
	}
}

func TestRouterRejectsSpoofedChatSender(t *testing.T) {
	f := newRouterFixture()
	driver := &fakeConn{}
	f.hub.Add("driver-1", driver)
	f.hub.BindRide("ride-1", "rider-1")
	f.hub.AssignDriver("ride-1", "driver-1")

	msg := protocol.ChatMessage{RideID: "ride-1", MessageID: "msg-1", SenderID: "someone-else", Body: "hi"}
	f.router.HandleEnvelope(context.Background(), riderClaims("rider-1"), &fakeConn{}, msg)

	if len(driver.sent) != 0 {
		t.Errorf("driver received %d envelopes, want 0", len(driver.sent))
	}
	if len(f.history.chats) != 0 {
		t.Errorf("persisted %d chats, want 0", len(f.history.chats))
	}
}

func TestRouterChatWithoutCounterpartDropped(t *testing.T) {
	f := newRouterFixture()
	f.hub.BindRide("ride-1", "rider-1") // no driver assigned yet

	msg := protocol.ChatMessage{RideID: "ride-1", MessageID: "msg-1", SenderID: "rider-1", Body: "hello?"}
	f.router.HandleEnvelope(context.Background(), riderClaims("rider-1"), &fakeConn{}, msg)

	if len(f.history.chats) != 0 {
		t.Errorf("persisted %d chats, want 0", len(f.history.chats))
	}
	if len(f.publisher.chats) != 0 {
		t.Errorf("published %d chats, want 0", len(f.publisher.chats))
	}
}

func TestRouterPushStatusFansOutAndUnbindsTerminal(t *testing.T) {
	f := newRouterFixture()
	rider := &fakeConn{}
	driver := &fakeConn{}
	f.hub.Add("rider-1", rider)
	f.hub.Add("driver-1", driver)
	f.hub.BindRide("ride-1", "rider-1")
	f.hub.AssignDriver("ride-1", "driver-1")

	f.router.PushStatus(context.Background(), "ride-1", "IN_PROGRESS", time.Now())

	if len(rider.sent) != 1 || len(driver.sent) != 1 {
		t.Fatalf("rider=%d driver=%d envelopes, want 1 each", len(rider.sent), len(driver.sent))
	}
	if got := rider.sent[0].(protocol.RideStatusUpdate); got.Status != "IN_PROGRESS" {
		t.Errorf("status = %s, want IN_PROGRESS", got.Status)
	}
	if _, _, ok := f.hub.Parties("ride-1"); !ok {
		t.Fatal("ride unbound after non-terminal status")
	}

	f.router.PushStatus(context.Background(), "ride-1", "COMPLETED", time.Now())

	if _, _, ok := f.hub.Parties("ride-1"); ok {
		t.Error("ride still bound after COMPLETED")
	}
	if len(f.history.statuses) != 2 {
		t.Errorf("persisted %d status changes, want 2", len(f.history.statuses))
	}
}

func TestHubReplaceClosesPrevious(t *testing.T) {
	hub := NewHub(logger.Nop())
	first := &fakeConn{}
	second := &fakeConn{}

	hub.Add("user-1", first)
	hub.Add("user-1", second)

	if !first.closed {
		t.Error("previous connection not closed on replace")
	}
	if second.closed {
		t.Error("replacement connection closed")
	}

	// Remove with the stale handle must not evict the replacement.
	hub.Remove("user-1", first)
	if !hub.IsUserConnected("user-1") {
		t.Error("stale Remove evicted the active connection")
	}

	hub.Remove("user-1", second)
	if hub.IsUserConnected("user-1") {
		t.Error("user still connected after Remove")
	}
}

func TestHubSendToOfflineUserIsNotAnError(t *testing.T) {
	hub := NewHub(logger.Nop())

	if err := hub.SendToUser("ghost", protocol.Pong{}); err != nil {
		t.Errorf("SendToUser to offline user = %v, want nil", err)
	}
}

func TestHubCounterpart(t *testing.T) {
	hub := NewHub(logger.Nop())
	hub.BindRide("ride-1", "rider-1")

	if _, ok := hub.Counterpart("ride-1", "rider-1"); ok {
		t.Error("counterpart resolved before driver assignment")
	}

	hub.AssignDriver("ride-1", "driver-1")

	if peer, ok := hub.Counterpart("ride-1", "rider-1"); !ok || peer != "driver-1" {
		t.Errorf("Counterpart(rider) = %s, %v; want driver-1, true", peer, ok)
	}
	if peer, ok := hub.Counterpart("ride-1", "driver-1"); !ok || peer != "rider-1" {
		t.Errorf("Counterpart(driver) = %s, %v; want rider-1, true", peer, ok)
	}
	if _, ok := hub.Counterpart("ride-1", "stranger"); ok {
		t.Error("counterpart resolved for a user outside the ride")
	}

	if rideID, ok := hub.RideForDriver("driver-1"); !ok || rideID != "ride-1" {
		t.Errorf("RideForDriver = %s, %v; want ride-1, true", rideID, ok)
	}
}
