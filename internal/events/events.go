// Package events publishes domain events about form responses and their
// notifications.
//
// Events are best effort: callers log publish failures and carry on. Two
// publishers exist:
//
//   - Kafka writes JSON-encoded events with segmentio/kafka-go, keyed by the
//     event key so all events of one response land on the same partition.
//   - Nop drops events; it is used when no brokers are configured.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeResponseSubmitted = "response.submitted"
	TypeDeliveryDead      = "notification.dead_lettered"
)

// Event is the JSON envelope written to the broker.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// New returns an event stamped with the current UTC time.
func New(typ, key string, data any) Event {
	return Event{Type: typ, Key: key, OccurredAt: time.Now().UTC(), Data: data}
}

// Publisher sends events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, e Event) error
	Close() error
}

var published = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Domain events handed to the broker, by topic and result.",
	},
	[]string{"topic", "result"},
)

func init() {
	prometheus.MustRegister(published)
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a Kafka cluster.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a publisher writing to brokers.
func NewKafka(brokers []string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

// Publish implements Publisher.
func (k *Kafka) Publish(ctx context.Context, topic string, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	err = k.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(e.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		published.WithLabelValues(topic, "failure").Inc()
		return err
	}
	published.WithLabelValues(topic, "success").Inc()
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
func (Nop) Close() error                                 { return nil }

// FromBrokers returns a Kafka publisher, or Nop when brokers is empty.
func FromBrokers(brokers []string) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafka(brokers)
}
