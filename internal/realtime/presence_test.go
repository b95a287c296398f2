package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsehub/internal/bus"
	"pulsehub/internal/channel"
	"pulsehub/internal/presence"
)

// localBus is a minimal in-process bus.Bus that fans a publish out to every
// live subscriber. It stands in for Redis in these tests so a presence join
// or leave's member_added/member_removed broadcast reaches every other
// Connection on this "node" the same way the real C6 dispatcher would,
// without needing a broker.
type localBus struct {
	mu   sync.Mutex
	subs []chan bus.Message
}

func newLocalBus() *localBus { return &localBus{} }

func (b *localBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan bus.Message(nil), b.subs...)
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- bus.Message{Topic: topic, Payload: payload}:
		case <-ctx.Done():
		}
	}
	return nil
}

func (b *localBus) Subscribe(ctx context.Context, pattern string) (<-chan bus.Message, error) {
	ch := make(chan bus.Message, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch, nil
}

// isRedisAvailable checks whether a local Redis instance can be reached, the
// same check the teacher's internal/websocket/redis_integration_test.go runs
// before any test that needs a real broker.
func isRedisAvailable() bool {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	return err == nil
}

// presenceTestDeps wires a Deps around a real Redis-backed presence.Store and
// a localBus fanned out by a live Dispatcher, so a join/leave on one
// Connection is actually delivered to every other Connection sharing these
// Deps, the way two sockets on the same node would see each other's presence
// events.
func presenceTestDeps(t *testing.T) Deps {
	if !isRedisAvailable() {
		t.Skip("redis is not available, skipping presence integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	registry := NewRegistry()
	lb := newLocalBus()
	dispatcher := NewDispatcher(lb, registry)

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	time.Sleep(100 * time.Millisecond) // let the dispatcher's subscribe land before any publish

	t.Cleanup(func() {
		cancel()
		rdb.Close()
	})

	return Deps{
		Registry:        registry,
		Presence:        presence.New(rdb),
		Bus:             lb,
		AppSecret:       "s3cret",
		ActivityTimeout: 5 * time.Second,
		QueueSize:       16,
	}
}

// newIDTestSocket is newTestSocket with an explicit socket_id, so a single
// test can open more than one socket without them colliding on id (invariant
// 3: socket_id never repeats for a live connection).
func newIDTestSocket(t *testing.T, deps Deps, socketID string) *testSocket {
	connCh := make(chan *Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		c := NewConnection(wsConn, socketID, "domain-1", deps)
		connCh <- c
		c.Serve()
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	ts := &testSocket{clientConn: clientConn, server: srv}
	select {
	case ts.conn = <-connCh:
	case <-time.After(time.Second):
		t.Fatal("server-side connection was never created")
	}
	return ts
}

func presenceChannelData(userID, displayName string) string {
	return fmt.Sprintf(`{"user_id":%q,"user_info":{"n":%q}}`, userID, displayName)
}

func subscribePresence(t *testing.T, ts *testSocket, secret, channelName, userID, displayName string) {
	channelData := presenceChannelData(userID, displayName)
	auth := channel.Sign(secret, ts.conn.SocketID(), channelName, channelData)
	ts.send(t, eventSubscribe, subscribeData{
		Channel:     channelName,
		Auth:        auth,
		ChannelData: json.RawMessage(channelData),
	})
}

// expectNoFrame asserts that no frame arrives on ts within a short window,
// used to prove a negative (e.g. "no member_removed was sent").
func expectNoFrame(t *testing.T, ts *testSocket) {
	ts.clientConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := ts.clientConn.ReadMessage()
	require.Error(t, err, "expected no frame to arrive")
}

// TestPresenceJoinAndMemberAdded is scenario E4: two sockets join the same
// presence channel as distinct users; the first gets a count-1 snapshot, the
// second a count-2 snapshot, and the first is notified of the second's join.
func TestPresenceJoinAndMemberAdded(t *testing.T) {
	deps := presenceTestDeps(t)
	chanName := "presence-chat-" + t.Name()

	a := newIDTestSocket(t, deps, "A-"+t.Name())
	defer a.close()
	a.readFrame(t) // connection_established

	subscribePresence(t, a, deps.AppSecret, chanName, "u1", "Alice")
	ackA := a.readFrame(t)
	require.Equal(t, EventSubscriptionSucceeded, ackA.Event)

	dataA, err := json.Marshal(ackA.Data)
	require.NoError(t, err)
	var presenceA struct {
		Presence struct {
			IDs   []string                   `json:"ids"`
			Hash  map[string]json.RawMessage `json:"hash"`
			Count int                        `json:"count"`
		} `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(dataA, &presenceA))
	assert.Equal(t, 1, presenceA.Presence.Count)
	assert.ElementsMatch(t, []string{"u1"}, presenceA.Presence.IDs)

	b := newIDTestSocket(t, deps, "B-"+t.Name())
	defer b.close()
	b.readFrame(t) // connection_established

	subscribePresence(t, b, deps.AppSecret, chanName, "u2", "Bob")
	ackB := b.readFrame(t)
	require.Equal(t, EventSubscriptionSucceeded, ackB.Event)

	dataB, err := json.Marshal(ackB.Data)
	require.NoError(t, err)
	var presenceB struct {
		Presence struct {
			Count int `json:"count"`
		} `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(dataB, &presenceB))
	assert.Equal(t, 2, presenceB.Presence.Count)

	memberAdded := a.readFrame(t)
	assert.Equal(t, EventMemberAdded, memberAdded.Event)
	payload, err := json.Marshal(memberAdded.Data)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"user_id":"u2"`)
}

// TestPresenceDedupAcrossSockets is scenario E5: the same user_id joining
// from a second socket produces no member_added and no roster-count change;
// member_removed fires only when the last socket for that user_id leaves.
func TestPresenceDedupAcrossSockets(t *testing.T) {
	deps := presenceTestDeps(t)
	chanName := "presence-chat-" + t.Name()

	a1 := newIDTestSocket(t, deps, "A1-"+t.Name())
	a1.readFrame(t)
	subscribePresence(t, a1, deps.AppSecret, chanName, "u1", "Alice")
	a1.readFrame(t) // subscription_succeeded

	b := newIDTestSocket(t, deps, "B-"+t.Name())
	defer b.close()
	b.readFrame(t)
	subscribePresence(t, b, deps.AppSecret, chanName, "u2", "Bob")
	b.readFrame(t) // subscription_succeeded
	a1.readFrame(t) // member_added for u2, seen by a1

	a2 := newIDTestSocket(t, deps, "A2-"+t.Name())
	a2.readFrame(t) // connection_established
	subscribePresence(t, a2, deps.AppSecret, chanName, "u1", "Alice")
	ackA2 := a2.readFrame(t)
	require.Equal(t, EventSubscriptionSucceeded, ackA2.Event)

	dataA2, err := json.Marshal(ackA2.Data)
	require.NoError(t, err)
	var presenceA2 struct {
		Presence struct {
			Count int `json:"count"`
		} `json:"presence"`
	}
	require.NoError(t, json.Unmarshal(dataA2, &presenceA2))
	assert.Equal(t, 2, presenceA2.Presence.Count, "a second socket for u1 must not change the distinct-user roster count")

	// Neither a1, a2, nor b should see a member_added for this re-join.
	expectNoFrame(t, b)

	a1.close()
	require.Eventually(t, func() bool {
		return !deps.Registry.IsSubscribed(a1.conn, chanName)
	}, 2*time.Second, 10*time.Millisecond)
	expectNoFrame(t, b) // u1 still held by a2: no member_removed yet

	a2.close()
	require.Eventually(t, func() bool {
		return !deps.Registry.IsSubscribed(a2.conn, chanName)
	}, 2*time.Second, 10*time.Millisecond)

	memberRemoved := b.readFrame(t)
	assert.Equal(t, EventMemberRemoved, memberRemoved.Event)
	payload, err := json.Marshal(memberRemoved.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u1"}`, string(payload))
}
