package events

import (
	"encoding/json"
	"fmt"
)

// Message is one event received from the bus. Workbook is filled when the
// transport carried it alongside the payload.
type Message struct {
	Topic    string
	Data     []byte
	Workbook string
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers events on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan Message, func(), error)
	Close() error
}

// Decode unmarshals a message into the payload type of its topic.
func Decode(m Message) (any, error) {
	var v any
	switch m.Topic {
	case TopicWorkbookCreated:
		v = &WorkbookCreated{}
	case TopicWorkbookDeleted:
		v = &WorkbookDeleted{}
	case TopicValuesComputed:
		v = &ValuesComputed{}
	case TopicCycleDetected:
		v = &CycleDetected{}
	case TopicViewChanged:
		v = &ViewChanged{}
	default:
		var raw map[string]any
		if err := json.Unmarshal(m.Data, &raw); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", m.Topic, err)
		}
		return raw, nil
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", m.Topic, err)
	}
	return v, nil
}
