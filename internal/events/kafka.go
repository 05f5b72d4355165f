package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/himgis/webgis/internal/core/observability"
)

// KafkaSink publishes events to a topic through an async producer. Events
// are queued in memory; when the queue is full they are dropped so request
// handlers never wait on the broker.
type KafkaSink struct {
	topic    string
	events   chan Event
	prod     sarama.AsyncProducer
	log      *slog.Logger
	stopped  chan struct{}
	errsDone chan struct{}
	once     sync.Once

	// guards events against a send after close
	mu     sync.RWMutex
	closed bool
}

func NewKafkaSink(brokers []string, topic string, queueSize int, log *slog.Logger) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newKafkaSink(prod, topic, queueSize, log), nil
}

func newKafkaSink(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	s := &KafkaSink{
		topic:    topic,
		events:   make(chan Event, queueSize),
		prod:     prod,
		log:      log,
		stopped:  make(chan struct{}),
		errsDone: make(chan struct{}),
	}

	go func() {
		defer close(s.stopped)
		for ev := range s.events {
			b, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("events: marshal", "err", err)
				continue
			}
			msg := &sarama.ProducerMessage{
				Topic: s.topic,
				Value: sarama.ByteEncoder(b),
			}
			if ev.Layer != "" {
				msg.Key = sarama.StringEncoder(ev.Layer)
			}
			s.prod.Input() <- msg
		}
	}()

	go func() {
		defer close(s.errsDone)
		for perr := range s.prod.Errors() {
			if perr != nil {
				observability.IncLayerEvent("kafka", "error")
				s.log.Warn("events: producer error", "topic", s.topic, "err", perr.Err)
			}
		}
	}()

	return s
}

// Publish queues ev. After Close it drops the event.
func (s *KafkaSink) Publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		observability.IncLayerEvent("kafka", "dropped")
		return
	}
	select {
	case s.events <- ev:
		observability.IncLayerEvent("kafka", "queued")
	default:
		// queue full, drop
		observability.IncLayerEvent("kafka", "dropped")
	}
}

// Close drains the queue into the producer and shuts it down.
func (s *KafkaSink) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.stopped
		if cerr := s.prod.Close(); cerr != nil {
			err = fmt.Errorf("events: close producer: %w", cerr)
		}
		<-s.errsDone
	})
	return err
}
