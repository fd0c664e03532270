package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/events"
)

// emit delivers a pre-encoded payload with no transport-supplied workbook.
func (h *eventHub) emit(topic string, data []byte) {
	h.deliver(events.Message{Topic: topic, Data: data})
}

func TestReplayLog(t *testing.T) {
	l := newReplayLog(3)
	if got := l.since(0); got != nil {
		t.Fatalf("empty log replayed %v", got)
	}
	for i := uint64(1); i <= 5; i++ {
		l.add(streamEvent{id: i})
	}

	ids := func(es []streamEvent) []uint64 {
		out := make([]uint64, len(es))
		for i, e := range es {
			out[i] = e.id
		}
		return out
	}
	for _, tc := range []struct {
		since uint64
		want  []uint64
	}{
		{0, []uint64{3, 4, 5}},
		{3, []uint64{4, 5}},
		{5, nil},
	} {
		got := ids(l.since(tc.since))
		if len(got) != len(tc.want) {
			t.Fatalf("since(%d) = %v, want %v", tc.since, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("since(%d) = %v, want %v", tc.since, got, tc.want)
			}
		}
	}
}

func TestEventHubFiltersAtFanOut(t *testing.T) {
	hub := newEventHub(10)
	all := hub.attach(events.Filter{})
	values := hub.attach(events.Filter{Topics: []string{"paramgraph.values.*"}})
	wb := hub.attach(events.Filter{WorkbookID: "wb-1"})
	defer hub.detach(all)
	defer hub.detach(values)
	defer hub.detach(wb)

	hub.emit(events.TopicWorkbookDeleted, []byte(`{"workbook_id":"wb-2"}`))
	hub.emit(events.TopicValuesComputed, []byte(`{"workbook_id":"wb-1"}`))

	if n := len(all.ch); n != 2 {
		t.Errorf("unfiltered subscriber queued %d, want 2", n)
	}
	if n := len(values.ch); n != 1 {
		t.Errorf("topic subscriber queued %d, want 1", n)
	}
	if n := len(wb.ch); n != 1 {
		t.Errorf("workbook subscriber queued %d, want 1", n)
	}
	if e := <-values.ch; e.id != 2 || e.msg.Topic != events.TopicValuesComputed {
		t.Errorf("got %+v", e)
	}
}

func TestEventHubSlowSubscriber(t *testing.T) {
	hub := newEventHub(10)
	slow := hub.attach(events.Filter{})
	defer hub.detach(slow)

	for range subscriberQueue + 5 {
		hub.emit(events.TopicViewChanged, []byte(`{}`))
	}
	if n := len(slow.ch); n != subscriberQueue {
		t.Fatalf("queued %d, want %d", n, subscriberQueue)
	}
	if got := hub.history.since(0); len(got) != 10 {
		t.Fatalf("history kept %d events, want 10", len(got))
	}
}

func TestEventHubDetach(t *testing.T) {
	hub := newEventHub(10)
	sub := hub.attach(events.Filter{})
	hub.detach(sub)
	hub.emit(events.TopicViewChanged, []byte(`{}`))
	if len(sub.ch) != 0 {
		t.Fatal("detached subscriber received an event")
	}
}

// streamRecorder is a ResponseWriter safe to read while a handler writes.
type streamRecorder struct {
	header http.Header
	mu     sync.Mutex
	code   int
	buf    bytes.Buffer
}

func (r *streamRecorder) Header() http.Header { return r.header }

func (r *streamRecorder) WriteHeader(code int) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
}

func (r *streamRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *streamRecorder) Flush() {}

func (r *streamRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}

type openStream struct {
	rec    *streamRecorder
	cancel context.CancelFunc
	done   chan struct{}
}

// startStream serves path on a goroutine and waits until the handler has
// attached to the hub.
func startStream(t *testing.T, srv *GraphServer, h http.Handler, path, lastEventID string) *openStream {
	t.Helper()
	srv.hub.mu.RLock()
	before := len(srv.hub.subs)
	srv.hub.mu.RUnlock()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	s := &openStream{rec: &streamRecorder{header: http.Header{}}, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		h.ServeHTTP(s.rec, req)
	}()
	t.Cleanup(s.stop)

	eventually(t, func() bool {
		srv.hub.mu.RLock()
		defer srv.hub.mu.RUnlock()
		return len(srv.hub.subs) > before
	})
	return s
}

func (s *openStream) stop() {
	s.cancel()
	<-s.done
}

// waitFor blocks until the body contains sub and returns the body.
func (s *openStream) waitFor(t *testing.T, sub string) string {
	t.Helper()
	eventually(t, func() bool { return strings.Contains(s.rec.body(), sub) })
	return s.rec.body()
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStreamWireFormat(t *testing.T) {
	srv, _, h := newTestServer()
	s := startStream(t, srv, h, "/v1/events/stream", "")

	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"workbook":{"id":"wb-fmt"}}`))
	body := s.waitFor(t, "wb-fmt")
	s.stop()

	want := "id:1\nevent:paramgraph.workbook.created\ndata:{\"workbook\":{\"id\":\"wb-fmt\"}}\n\n"
	if body != want {
		t.Fatalf("body = %q, want %q", body, want)
	}
	if ct := s.rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if s.rec.code != http.StatusOK {
		t.Fatalf("status = %d", s.rec.code)
	}
}

func TestEventStreamReplayThenLive(t *testing.T) {
	srv, _, h := newTestServer()
	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"n":1}`))
	srv.hub.emit(events.TopicCycleDetected, []byte(`{"n":2}`))
	srv.hub.emit(events.TopicWorkbookDeleted, []byte(`{"n":3}`))

	s := startStream(t, srv, h, "/v1/events/stream?topics=paramgraph.workbook.*", "1")
	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"n":4}`))
	body := s.waitFor(t, `{"n":4}`)

	if strings.Contains(body, `{"n":1}`) {
		t.Errorf("event at Last-Event-ID was replayed:\n%s", body)
	}
	if strings.Contains(body, `{"n":2}`) {
		t.Errorf("filtered topic was replayed:\n%s", body)
	}
	three, four := strings.Index(body, `{"n":3}`), strings.Index(body, `{"n":4}`)
	if three < 0 || three > four {
		t.Errorf("want replayed event 3 before live event 4:\n%s", body)
	}
	if strings.Count(body, "id:") != 2 {
		t.Errorf("want exactly two events:\n%s", body)
	}
}

func TestEventStreamPublishFiltersWorkbook(t *testing.T) {
	srv, _, h := newTestServer()
	s := startStream(t, srv, h, "/v1/events/stream?workbook=wb-keep", "")

	srv.publish(context.Background(), events.TopicWorkbookDeleted, events.WorkbookDeleted{WorkbookID: "wb-drop"})
	srv.publish(context.Background(), events.TopicValuesComputed, events.ValuesComputed{WorkbookID: "wb-keep", Sequence: 4})

	body := s.waitFor(t, `"sequence":4`)
	if strings.Contains(body, "wb-drop") {
		t.Fatalf("other workbook leaked into the stream:\n%s", body)
	}
	if !strings.Contains(body, "event:paramgraph.values.computed") {
		t.Fatalf("missing values event:\n%s", body)
	}
}

func TestEventStreamFanOut(t *testing.T) {
	srv, _, h := newTestServer()
	a := startStream(t, srv, h, "/v1/events/stream", "")
	b := startStream(t, srv, h, "/v1/events/stream", "")

	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"workbook":{"id":"wb-multi"}}`))
	a.waitFor(t, "wb-multi")
	b.waitFor(t, "wb-multi")
}

func TestEventStreamBadLastEventID(t *testing.T) {
	srv, _, h := newTestServer()
	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"n":1}`))

	s := startStream(t, srv, h, "/v1/events/stream", "not-a-number")
	srv.hub.emit(events.TopicWorkbookCreated, []byte(`{"n":2}`))
	body := s.waitFor(t, `{"n":2}`)
	if strings.Contains(body, `{"n":1}`) {
		t.Fatalf("unparseable Last-Event-ID must not replay:\n%s", body)
	}
}
