package events

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicWorkbookCreated, WorkbookCreated{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWorkbookRef(t *testing.T) {
	for _, tc := range []struct {
		name  string
		event any
		want  string
	}{
		{"created", WorkbookCreated{Workbook: &model.Workbook{ID: "wb-1"}}, "wb-1"},
		{"created pointer", &WorkbookCreated{Workbook: &model.Workbook{ID: "wb-1"}}, "wb-1"},
		{"created without workbook", WorkbookCreated{}, ""},
		{"deleted", WorkbookDeleted{WorkbookID: "wb-2"}, "wb-2"},
		{"computed", ValuesComputed{WorkbookID: "wb-3"}, "wb-3"},
		{"cycle", CycleDetected{WorkbookID: "wb-4"}, "wb-4"},
		{"view", &ViewChanged{WorkbookID: "wb-5"}, "wb-5"},
		{"unscoped", map[string]string{"workbook_id": "wb-6"}, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := WorkbookRef(tc.event); got != tc.want {
				t.Fatalf("WorkbookRef = %q, want %q", got, tc.want)
			}
		})
	}
}

type recordingPublisher struct {
	topics []string
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	r.topics = append(r.topics, topic)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.closed = true
	return r.err
}

func TestMultiPublishesToAll(t *testing.T) {
	boom := errors.New("boom")
	failing := &recordingPublisher{err: boom}
	ok := &recordingPublisher{}
	m := Multi{failing, ok}

	err := m.Publish(context.Background(), TopicViewChanged, ViewChanged{})
	if !errors.Is(err, boom) {
		t.Errorf("Publish err = %v, want %v", err, boom)
	}
	if len(ok.topics) != 1 || ok.topics[0] != TopicViewChanged {
		t.Errorf("second publisher got %v", ok.topics)
	}
	if err := m.Close(); !errors.Is(err, boom) {
		t.Errorf("Close err = %v", err)
	}
	if !failing.closed || !ok.closed {
		t.Error("Close did not reach every publisher")
	}
}

func TestDecode(t *testing.T) {
	got, err := Decode(Message{Topic: TopicCycleDetected, Data: []byte(`{"workbook_id":"wb-1","cycles":[["X","Y"]]}`)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev, ok := got.(*CycleDetected)
	if !ok {
		t.Fatalf("Decode returned %T", got)
	}
	if ev.WorkbookID != "wb-1" || len(ev.Cycles) != 1 || len(ev.Cycles[0]) != 2 {
		t.Errorf("event = %+v", ev)
	}

	raw, err := Decode(Message{Topic: "paramgraph.other", Data: []byte(`{"k":1}`)})
	if err != nil {
		t.Fatalf("Decode unknown topic: %v", err)
	}
	if _, ok := raw.(map[string]any); !ok {
		t.Errorf("unknown topic decoded as %T", raw)
	}

	if _, err := Decode(Message{Topic: TopicViewChanged, Data: []byte(`not json`)}); err == nil {
		t.Error("Decode accepted invalid JSON")
	}
}
