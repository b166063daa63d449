package progress

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/testutil"
	"github.com/roach88/firevox/internal/voxel"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func waitForSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Subscribers() == n }, 5*time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastsToEverySubscriber(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)
	waitForSubscribers(t, h, 2)

	h.Publish(Event{
		SimulationID: "sim-1",
		Result:       barrier.Result{Outcome: barrier.Advanced, Closed: 3, Generation: 4, ScheduledVoxels: 7},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		ev := readEvent(t, conn)
		assert.Equal(t, "sim-1", ev["simulation_id"])
		assert.Equal(t, "advanced", ev["outcome"])
		assert.Equal(t, float64(3), ev["closed"])
		assert.Equal(t, float64(4), ev["generation"])
		assert.Equal(t, float64(7), ev["scheduled_voxels"])
	}
}

func TestHub_LateSubscriberGetsLastEvent(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	h.Publish(Event{Result: barrier.Result{Outcome: barrier.Advanced, Closed: 0, Generation: 1}})
	h.Publish(Event{Result: barrier.Result{Outcome: barrier.Terminated, Closed: 1, Generation: 2}})

	conn := dial(t, srv.URL)
	ev := readEvent(t, conn)
	assert.Equal(t, "terminated", ev["outcome"])
	assert.Equal(t, float64(2), ev["generation"])
}

func TestHub_DropsDisconnectedSubscribers(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitForSubscribers(t, h, 1)

	conn.Close()
	waitForSubscribers(t, h, 0)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv.URL)
	waitForSubscribers(t, h, 1)

	h.Close()
	assert.Equal(t, 0, h.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestPublisher_AttachesCurrentReadings(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewStore(t)
	testutil.SeedRow(t, s, 5)
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.RecordReadings(ctx, 0)
		return err
	}))

	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	conn := dial(t, srv.URL)
	waitForSubscribers(t, h, 1)

	h.Publisher(ctx, s, "row")(barrier.Result{Outcome: barrier.Advanced, Generation: 0})

	ev := readEvent(t, conn)
	assert.Equal(t, "row", ev["simulation_id"])
	readings, ok := ev["readings"].([]any)
	require.True(t, ok)
	require.Len(t, readings, 1)
	reading := readings[0].(map[string]any)
	assert.Equal(t, float64(320), reading["temperature"])
	assert.Equal(t, voxel.K(2, 0, 0).String(), keyString(t, reading["key"]))
}

func keyString(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var k voxel.Key
	require.NoError(t, json.Unmarshal(data, &k))
	return k.String()
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, "127.0.0.1:0", h, func(a net.Addr) { addrCh <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	conn := dial(t, "http://"+addr.String()+"/progress")
	waitForSubscribers(t, h, 1)
	h.Publish(Event{Result: barrier.Result{Outcome: barrier.Advanced, Generation: 1}})
	assert.Equal(t, float64(1), readEvent(t, conn)["generation"])

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}
