package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auction-service/internal/models"
	"auction-service/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHub(t *testing.T) *ws.Hub {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func attach(t *testing.T, hub *ws.Hub, userID string, existing int) *ws.Session {
	t.Helper()
	s := ws.NewSession(userID, 8)
	hub.Register(s)
	require.Eventually(t, func() bool { return hub.SessionCount() == existing+1 },
		2*time.Second, 5*time.Millisecond)
	return s
}

func recvEvent(t *testing.T, s *ws.Session) models.BroadcastEvent {
	t.Helper()
	select {
	case raw := <-s.Receive():
		var event models.BroadcastEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.BroadcastEvent{}
	}
}

func TestEmitReachesLocalSessions(t *testing.T) {
	hub := testHub(t)
	viewer := attach(t, hub, "viewer", 0)

	b := NewBroadcaster(hub, nil, "instance-a")
	b.Emit(context.Background(), models.EventBidAccepted, "auction-1", map[string]string{"amount": "105"})

	event := recvEvent(t, viewer)
	assert.Equal(t, models.EventBidAccepted, event.Type)
	assert.Equal(t, "auction-1", event.AuctionID)
	assert.Equal(t, "instance-a", event.Origin)
	assert.NotEmpty(t, event.EventID)
}

func TestNotifyIsAddressed(t *testing.T) {
	hub := testHub(t)
	alice := attach(t, hub, "alice", 0)
	bob := attach(t, hub, "bob", 1)

	b := NewBroadcaster(hub, nil, "instance-a")
	b.Notify(context.Background(), "alice", models.EventBidOutbid, map[string]string{"auction_id": "a1"})

	event := recvEvent(t, alice)
	assert.Equal(t, models.EventNotify, event.Type)
	assert.Equal(t, "alice", event.UserID)

	select {
	case raw := <-bob.Receive():
		t.Fatalf("bob received alice's notify: %s", raw)
	default:
	}
}

func TestHandleRelaySkipsOwnOrigin(t *testing.T) {
	hub := testHub(t)
	viewer := attach(t, hub, "viewer", 0)

	b := NewBroadcaster(hub, nil, "instance-a")
	own, err := json.Marshal(models.BroadcastEvent{
		EventID: "e1", Type: models.EventBidAccepted, AuctionID: "a1", Origin: "instance-a",
	})
	require.NoError(t, err)

	// An event this instance published comes back around; the hub already
	// delivered it once.
	require.NoError(t, b.HandleRelayMessage(context.Background(), own))

	select {
	case raw := <-viewer.Receive():
		t.Fatalf("own-origin event was re-broadcast: %s", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleRelayRebroadcastsForeignEvents(t *testing.T) {
	hub := testHub(t)
	viewer := attach(t, hub, "viewer", 0)

	b := NewBroadcaster(hub, nil, "instance-a")
	foreign, err := json.Marshal(models.BroadcastEvent{
		EventID: "e2", Type: models.EventAuctionEnded, AuctionID: "a1", Origin: "instance-b",
	})
	require.NoError(t, err)

	require.NoError(t, b.HandleRelayMessage(context.Background(), foreign))

	event := recvEvent(t, viewer)
	assert.Equal(t, models.EventAuctionEnded, event.Type)
	assert.Equal(t, "instance-b", event.Origin)
}

func TestHandleRelayRoutesForeignNotify(t *testing.T) {
	hub := testHub(t)
	alice := attach(t, hub, "alice", 0)
	bob := attach(t, hub, "bob", 1)

	b := NewBroadcaster(hub, nil, "instance-a")
	foreign, err := json.Marshal(models.BroadcastEvent{
		EventID: "e3", Type: models.EventNotify, UserID: "alice", Origin: "instance-b",
	})
	require.NoError(t, err)

	require.NoError(t, b.HandleRelayMessage(context.Background(), foreign))

	event := recvEvent(t, alice)
	assert.Equal(t, "alice", event.UserID)

	select {
	case raw := <-bob.Receive():
		t.Fatalf("addressed foreign notify leaked to bob: %s", raw)
	default:
	}
}

func TestHandleRelayDropsMalformed(t *testing.T) {
	hub := testHub(t)
	b := NewBroadcaster(hub, nil, "instance-a")

	// Garbage on the shared topic is logged and dropped, never fatal.
	assert.NoError(t, b.HandleRelayMessage(context.Background(), []byte("not json")))
}
