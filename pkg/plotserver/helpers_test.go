package plotserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/plotview/pkg/pages"
	"github.com/go-go-golems/plotview/pkg/plot"
)

type recordingOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *recordingOpener) Open(url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, url)
	return o.err
}

func (o *recordingOpener) URLs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

// fakeStream hands every subscriber channel to the test.
type fakeStream struct {
	subscribed chan chan []plot.Plot
}

func newFakeStream() *fakeStream {
	return &fakeStream{subscribed: make(chan chan []plot.Plot, 4)}
}

func (f *fakeStream) Subscribe(ctx context.Context) (<-chan []plot.Plot, error) {
	ch := make(chan []plot.Plot)
	f.subscribed <- ch
	return ch, nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *recordingOpener) {
	t.Helper()
	opener := &recordingOpener{}
	base := []Option{
		WithHost("127.0.0.1"),
		WithPort(0),
		WithOpener(opener),
		WithLiveAttachGrace(0),
	}
	s, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Teardown(ctx)
	})
	return s, opener
}

func staticPage(reg *pages.Registry) int {
	return reg.Finalize([]plot.Entry{{Payload: plot.Static{{"x": []int{1, 2}, "y": []int{3, 4}}}}})
}

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", s.Port(), path))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func waitIdle(t *testing.T, s *Server) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	require.False(t, s.Listening())
}
