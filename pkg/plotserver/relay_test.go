package plotserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/plotview/pkg/pages"
	"github.com/go-go-golems/plotview/pkg/plot"
)

func dial(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", s.Port()), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func livePage(reg *pages.Registry, stream plot.Stream) int {
	return reg.Finalize([]plot.Entry{
		{Payload: plot.Static{{"y": []int{0}}}},
		{Payload: plot.NewLive(stream), Layout: plot.Layout{"title": "live"}},
	})
}

func awaitSubscription(t *testing.T, f *fakeStream) chan []plot.Plot {
	t.Helper()
	select {
	case ch := <-f.subscribed:
		return ch
	case <-time.After(5 * time.Second):
		t.Fatal("relay never subscribed to the live stream")
		return nil
	}
}

func TestParseClientMessage(t *testing.T) {
	msg, err := parseClientMessage([]byte(`{"type":"init","id":3}`))
	require.NoError(t, err)
	require.Equal(t, "init", msg.Type)
	require.NotNil(t, msg.ID)
	require.Equal(t, 3, int(*msg.ID))

	msg, err = parseClientMessage([]byte(`{"type":"close","id":"12"}`))
	require.NoError(t, err)
	require.Equal(t, 12, int(*msg.ID))

	msg, err = parseClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Nil(t, msg.ID)

	for _, raw := range []string{
		`not json`,
		`{"type":"init","id":"abc"}`,
		`{"id":1}`,
		`{"type":"init"}`,
		`{"type":"close"}`,
		`{"type":"init","id":null}`,
	} {
		_, err := parseClientMessage([]byte(raw))
		var perr *ParseError
		require.True(t, errors.As(err, &perr), "expected ParseError for %s", raw)
	}
}

func TestRelayConfigureKeepsOnlyLivePages(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	staticPage(reg)
	livePage(reg, newFakeStream())

	s.Relay().Configure(reg.Snapshot())
	_, ok := s.Relay().lookup(0)
	require.False(t, ok)
	_, ok = s.Relay().lookup(1)
	require.True(t, ok)
}

func TestRelayForwardsEmissionsInOrder(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":"%d"}`, id))
	sub := awaitSubscription(t, stream)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	go func() {
		for i := 1; i <= 3; i++ {
			sub <- []plot.Plot{{"y": []int{i}}}
		}
	}()

	for i := 1; i <= 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		want := fmt.Sprintf(`[{"data":[{"y":[0]}]},{"data":[{"y":[%d]}],"layout":{"title":"live"}}]`, i)
		require.JSONEq(t, want, string(data))
	}
}

func TestRelayUnknownPageKeepsChannelOpen(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, `{"type":"init","id":99}`)
	send(t, conn, `garbage`)
	require.Equal(t, 0, s.Relay().ActiveCount())

	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	sub := awaitSubscription(t, stream)
	go func() { sub <- []plot.Plot{{"y": []int{5}}} }()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"y":[5]`)
}

func TestRelayDropsEmptyEmissions(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	sub := awaitSubscription(t, stream)
	go func() {
		sub <- []plot.Plot{}
		sub <- []plot.Plot{{"y": []int{8}}}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"y":[8]`)
}

func TestRelayCloseMessageReleasesChannel(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	awaitSubscription(t, stream)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	send(t, conn, fmt.Sprintf(`{"type":"close","id":%d}`, id))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveChannelHoldsTeardown(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	awaitSubscription(t, stream)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body := get(t, s, fmt.Sprintf("/data/%d", id))
	require.Equal(t, http.StatusOK, status)
	require.JSONEq(t, `[{"data":[{"y":[0]}]},{"data":[],"layout":{"title":"live"}}]`, body)
	require.True(t, s.Listening())

	require.NoError(t, conn.Close())
	waitIdle(t, s)
}

func TestLiveHoldCanBeDisabled(t *testing.T) {
	s, _ := newTestServer(t, WithHoldForLiveChannels(false))
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	awaitSubscription(t, stream)

	status, _ := get(t, s, fmt.Sprintf("/data/%d", id))
	require.Equal(t, http.StatusOK, status)
	waitIdle(t, s)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "teardown closes relay channels")
}

func TestCompletedStreamReleasesHold(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
	sub := awaitSubscription(t, stream)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	status, _ := get(t, s, fmt.Sprintf("/data/%d", id))
	require.Equal(t, http.StatusOK, status)
	require.True(t, s.Listening())

	close(sub)
	waitIdle(t, s)
}

func TestRelayInitWithoutIDDoesNotAttach(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	stream := newFakeStream()
	id := livePage(reg, stream)
	require.Equal(t, 0, id)
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	send(t, conn, `{"type":"init"}`)
	select {
	case <-stream.subscribed:
		t.Fatal("handshake without id attached the channel")
	case <-time.After(200 * time.Millisecond):
	}
	require.Equal(t, 0, s.Relay().ActiveCount())

	send(t, conn, `{"type":"init","id":0}`)
	awaitSubscription(t, stream)
	require.Eventually(t, func() bool { return s.Relay().ActiveCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// floodStream emits large frames as fast as the reader takes them until the
// subscription is cancelled.
type floodStream struct {
	size int
}

func (f floodStream) Subscribe(ctx context.Context) (<-chan []plot.Plot, error) {
	ch := make(chan []plot.Plot)
	go func() {
		defer close(ch)
		ys := make([]int, f.size)
		for i := 0; ; i++ {
			ys[0] = i
			frame := []plot.Plot{{"y": append([]int(nil), ys...)}}
			select {
			case ch <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func TestRelayReinitNeverOverlapsWrites(t *testing.T) {
	s, _ := newTestServer(t)
	reg := pages.NewRegistry()
	id := reg.Finalize([]plot.Entry{{Payload: plot.NewLive(floodStream{size: 20000})}})
	require.NoError(t, s.Spawn(context.Background(), reg))

	conn := dial(t, s)
	readErr := make(chan error, 1)
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 50; i++ {
		send(t, conn, fmt.Sprintf(`{"type":"init","id":%d}`, id))
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, 1, s.Relay().ActiveCount())
	select {
	case err := <-readErr:
		t.Fatalf("channel broke during re-init: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	require.True(t, s.Listening())
}
