package queue

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSQueue publishes to a subject and consumes through a queue group so
// each message reaches one worker.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue connects to the NATS server at url.
func NewNATSQueue(url, subject, group string) (*NATSQueue, error) {
	conn, err := nats.Connect(url, nats.Name("chainattend"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish sends a message on the subject.
func (q *NATSQueue) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.conn.Publish(q.subject, []byte(serialize(msg)))
}

// Consume subscribes in the queue group until ctx ends.
func (q *NATSQueue) Consume(ctx context.Context) (<-chan Message, error) {
	in := make(chan *nats.Msg, 64)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, in)
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", q.subject, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case m := <-in:
				select {
				case out <- deserialize(string(m.Data)):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}
