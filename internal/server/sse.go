package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/events"
)

const (
	// DefaultEventHistory is how many recent events are kept for clients
	// that resume with Last-Event-ID.
	DefaultEventHistory = 1000

	streamKeepalive = 15 * time.Second
	subscriberQueue = 64
)

// streamEvent is an events.Message stamped with its stream position.
type streamEvent struct {
	id  uint64
	msg events.Message
}

func (e streamEvent) writeTo(w io.Writer) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", e.id, e.msg.Topic, e.msg.Data)
}

// replayLog is a fixed-capacity ring of the most recent events.
type replayLog struct {
	mu    sync.Mutex
	buf   []streamEvent
	next  int
	limit int
}

func newReplayLog(limit int) *replayLog {
	if limit <= 0 {
		limit = DefaultEventHistory
	}
	return &replayLog{buf: make([]streamEvent, 0, limit), limit: limit}
}

func (l *replayLog) add(e streamEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.limit {
		l.buf = append(l.buf, e)
		return
	}
	l.buf[l.next] = e
	l.next = (l.next + 1) % l.limit
}

// since returns retained events newer than id, oldest first. Events that
// have already rotated out are silently missing.
func (l *replayLog) since(id uint64) []streamEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []streamEvent
	for i := range len(l.buf) {
		e := l.buf[(l.next+i)%len(l.buf)]
		if e.id > id {
			out = append(out, e)
		}
	}
	return out
}

// eventHub is the events.Publisher behind GET /v1/events/stream. Each
// subscriber carries its own filter, applied before queueing.
type eventHub struct {
	seq     atomic.Uint64
	history *replayLog

	mu   sync.RWMutex
	subs map[*streamSubscriber]struct{}
}

type streamSubscriber struct {
	filter events.Filter
	ch     chan streamEvent
}

func newEventHub(history int) *eventHub {
	return &eventHub{
		history: newReplayLog(history),
		subs:    make(map[*streamSubscriber]struct{}),
	}
}

func (h *eventHub) Publish(_ context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	h.deliver(events.Message{Topic: topic, Data: data, Workbook: events.WorkbookRef(event)})
	return nil
}

func (h *eventHub) Close() error { return nil }

// deliver records m and queues it for every matching subscriber. A full
// queue drops the event for that subscriber only.
func (h *eventHub) deliver(m events.Message) uint64 {
	e := streamEvent{id: h.seq.Add(1), msg: m}
	h.history.add(e)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.filter.Match(e.msg) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
	return e.id
}

func (h *eventHub) attach(f events.Filter) *streamSubscriber {
	sub := &streamSubscriber{filter: f, ch: make(chan streamEvent, subscriberQueue)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *eventHub) detach(sub *streamSubscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// handleEventStream handles GET /v1/events/stream.
//
// ?topics= is a comma-separated list of topic patterns and ?workbook=
// keeps events for one workbook. A Last-Event-ID header replays retained
// events newer than that id before live delivery starts.
func (s *GraphServer) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	q := r.URL.Query()
	filter := events.Filter{
		Topics:     events.ParseTopics(q.Get("topics")),
		WorkbookID: q.Get("workbook"),
	}

	// Attach before replaying so nothing emitted in between is lost.
	sub := s.hub.attach(filter)
	defer s.hub.detach(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var last uint64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			last = id
			for _, e := range s.hub.history.since(id) {
				if filter.Match(e.msg) {
					e.writeTo(w)
					last = e.id
				}
			}
		}
	}
	flusher.Flush()

	keepalive := time.NewTicker(streamKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-sub.ch:
			// Already sent during replay.
			if e.id <= last {
				continue
			}
			e.writeTo(w)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}
