package monitoring

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
)

// Topic is the Kafka topic every connection lifecycle event is produced to.
const Topic = "ws.monitoring"

// queueSize bounds how many lifecycle events can be buffered ahead of the
// background publish loop. It is sized generously relative to a single
// connection's lifecycle (four events) since the queue is shared process-wide.
const queueSize = 4096

// KafkaProducer emits events onto Topic using a sarama sync producer, but
// never calls it from the caller's goroutine: Emit only enqueues onto events
// and returns immediately, matching the non-blocking contract documented on
// the Emitter interface. A single background goroutine (run by Start) drains
// the queue and performs the actual SendMessage round trip, so a slow or
// degraded broker never stalls a socket's read pump.
type KafkaProducer struct {
	producer sarama.SyncProducer
	events   chan Event

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewKafkaProducer dials brokers with a configuration tuned for small,
// frequent, order-insensitive events rather than the teacher's
// RequiredAcks=WaitForAll/ClientID="chat-service" settings, and starts the
// background goroutine that drains Emit's queue onto the broker.
func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.ClientID = "pulsehub"

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	p := &KafkaProducer{
		producer: producer,
		events:   make(chan Event, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Emit enqueues e for the background publish loop and returns immediately.
// If the queue is full the event is dropped and logged rather than blocking
// the caller: monitoring is a side channel the connection hot path never
// blocks on or fails because of.
func (p *KafkaProducer) Emit(e Event) {
	select {
	case p.events <- e:
	default:
		slog.Warn("monitoring: queue full, dropping event", "socket_id", e.SocketID, "event_type", e.Type)
	}
}

func (p *KafkaProducer) run() {
	defer close(p.done)
	for {
		select {
		case e := <-p.events:
			p.send(e)
		case <-p.stop:
			return
		}
	}
}

func (p *KafkaProducer) send(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("monitoring: failed to marshal event", "error", err)
		return
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: Topic,
		Key:   sarama.StringEncoder(e.SocketID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		slog.Error("monitoring: failed to publish event", "socket_id", e.SocketID, "event_type", e.Type, "error", err)
	}
}

// Close stops the background publish loop and closes the underlying sync
// producer. Events still queued when Close is called are dropped.
func (p *KafkaProducer) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
	return p.producer.Close()
}
