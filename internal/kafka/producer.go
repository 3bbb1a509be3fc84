package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer buffers messages in an inbox channel and writes them from a single
// goroutine so callers never block on the broker.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

// Start launches the inbox goroutine. Shutdown happens through Close alone:
// closing the inbox flushes what remains and then closes the writer.
func (p *Producer) Start() {
	go func() {
		for m := range p.inbox {
			p.write(m)
		}
		_ = p.w.Close()
		close(p.closeCh)
	}()
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		slog.Error("kafka write failed", "topic", p.w.Topic, "error", err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting messages; the inbox goroutine flushes what remains.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the inbox goroutine has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
