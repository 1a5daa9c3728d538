package progress

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/models"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestBroadcaster_PushesSnapshotToConnectedClient(t *testing.T) {
	addr := freeAddr(t)
	b := New(addr, arbor.NewLogger())

	go b.Start()
	defer b.Stop()
	waitForListener(t, addr)

	url := "ws://" + addr + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to register the connection before pushing.
	time.Sleep(20 * time.Millisecond)

	b.Push(Snapshot{
		Stats:     models.QueueStats{Pending: 3, Completed: 1},
		Timestamp: time.Now(),
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Equal(t, 3, snap.Stats.Pending)
	require.Equal(t, 1, snap.Stats.Completed)
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never started listening", addr)
}
