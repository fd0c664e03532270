package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// WorkbookHeader names the NATS header that carries an event's workbook id.
const WorkbookHeader = "Paramgraph-Workbook"

const (
	// clientName identifies paramgraph connections in NATS monitoring.
	clientName = "paramgraph"

	subscriptionBuffer = 64

	// closeFlushTimeout bounds how long Close waits for buffered publishes
	// to reach the server.
	closeFlushTimeout = 5 * time.Second
)

func connect(url string, defaults, opts []nats.Option) (*nats.Conn, error) {
	all := append([]nats.Option{nats.Name(clientName)}, defaults...)
	nc, err := nats.Connect(url, append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes each event as JSON on the subject named by its
// topic. Workbook-scoped events also carry WorkbookHeader.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url. Extra options are applied after the
// connection name.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, nil, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

// Publish sends event as JSON on subject topic. It fails once the publisher
// is closed.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if id := WorkbookRef(event); id != "" {
		msg.Header.Set(WorkbookHeader, id)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered publishes and closes the connection. The
// connection is closed when Close returns, even if the flush failed.
func (p *NATSPublisher) Close() error {
	err := p.conn.FlushTimeout(closeFlushTimeout)
	p.conn.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("flushing pending events: %w", err)
	}
	return nil
}

// NATSSubscriber receives events over NATS. It reconnects indefinitely.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to url. Extra options (disconnect and
// reconnect handlers, typically) are applied after the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers messages whose subject matches topic, which may use
// NATS wildcards. When the consumer falls behind NATS drops messages for
// this subscription rather than stall the connection. The cancel function
// unsubscribes and closes the channel; calling it again is a no-op.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan Message, func(), error) {
	raw := make(chan *nats.Msg, subscriptionBuffer)
	sub, err := s.conn.ChanSubscribe(topic, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// Publishes from other connections are only routed once the server
	// has seen the subscription.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	out := make(chan Message, subscriptionBuffer)
	stop := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case m := <-raw:
				select {
				case out <- toMessage(m):
				case <-stop:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			close(stop)
		})
	}
	return out, cancel, nil
}

func toMessage(m *nats.Msg) Message {
	msg := Message{Topic: m.Subject, Data: m.Data}
	if m.Header != nil {
		msg.Workbook = m.Header.Get(WorkbookHeader)
	}
	return msg
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
