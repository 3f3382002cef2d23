package events

import (
	"context"
	"sync"
	"sync/atomic"

	sarama "github.com/IBM/sarama"
)

// DefaultKafkaTopic carries every lease event. Events are produced to and
// consumed from partition 0 only, which keeps them ordered.
const DefaultKafkaTopic = "lease-events"

// KafkaBus implements Bus using a Kafka backend.
type KafkaBus struct {
	producer sarama.SyncProducer
	consumer sarama.Consumer
	topic    string
	closers  []func() error

	mu sync.Mutex
	pc sarama.PartitionConsumer
	// closing is closed once the previous partition consumer is gone
	closing   chan struct{}
	chans     map[string][]chan Event
	published uint64
	delivered uint64
}

// NewKafkaBus creates a new KafkaBus connecting to the given brokers.
func NewKafkaBus(brokers []string, cfg *sarama.Config) (*KafkaBus, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	cfg.Producer.Partitioner = sarama.NewManualPartitioner
	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, err
	}
	b := NewKafkaBusFromClients(producer, consumer)
	b.closers = append(b.closers, client.Close)
	return b, nil
}

// NewKafkaBusFromClients returns a KafkaBus on an existing producer and
// consumer. The producer must be configured to return successes and honour
// the partition set on messages.
func NewKafkaBusFromClients(producer sarama.SyncProducer, consumer sarama.Consumer) *KafkaBus {
	return &KafkaBus{
		producer: producer,
		consumer: consumer,
		topic:    DefaultKafkaTopic,
		chans:    make(map[string][]chan Event),
	}
}

// Publish implements Bus.Publish.
func (b *KafkaBus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:     b.topic,
		Partition: 0,
		Key:       sarama.StringEncoder(ev.Name),
		Value:     sarama.ByteEncoder(data),
	}
	if _, _, err := b.producer.SendMessage(msg); err != nil {
		return err
	}
	atomic.AddUint64(&b.published, 1)
	return nil
}

// Subscribe implements Bus.Subscribe. The partition consumer is opened on the
// first subscription and closed with the last one; a subscription arriving
// while it is closing waits for the close, since a partition is consumed at
// most once per consumer.
func (b *KafkaBus) Subscribe(ctx context.Context, name string) (chan Event, error) {
	ch := make(chan Event, 1)
	for {
		b.mu.Lock()
		if b.pc != nil || b.closing == nil {
			break
		}
		closing := b.closing
		b.mu.Unlock()
		select {
		case <-closing:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.pc == nil {
		pc, err := b.consumer.ConsumePartition(b.topic, 0, sarama.OffsetNewest)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.pc = pc
		go b.dispatch(pc)
	}
	b.chans[name] = append(b.chans[name], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = b.Unsubscribe(context.Background(), name, ch)
	}()
	return ch, nil
}

func (b *KafkaBus) dispatch(pc sarama.PartitionConsumer) {
	for msg := range pc.Messages() {
		ev, err := decode(msg.Value)
		if err != nil {
			continue
		}
		b.mu.Lock()
		atomic.AddUint64(&b.delivered, fanout(b.chans[ev.Name], ev))
		b.mu.Unlock()
	}
}

// Unsubscribe implements Bus.Unsubscribe.
func (b *KafkaBus) Unsubscribe(ctx context.Context, name string, ch chan Event) error {
	b.mu.Lock()
	subs, removed := removeChan(b.chans[name], ch)
	if removed {
		close(ch)
	}
	if len(subs) == 0 {
		delete(b.chans, name)
	} else {
		b.chans[name] = subs
	}
	var pc sarama.PartitionConsumer
	var done chan struct{}
	if len(b.chans) == 0 && b.pc != nil {
		pc, b.pc = b.pc, nil
		done = make(chan struct{})
		b.closing = done
	}
	b.mu.Unlock()
	if pc == nil {
		return nil
	}

	// closed outside the lock: dispatch may be waiting on it
	err := pc.Close()
	b.mu.Lock()
	if b.closing == done {
		b.closing = nil
	}
	b.mu.Unlock()
	close(done)
	return err
}

// Metrics returns the published and delivered counts.
func (b *KafkaBus) Metrics() Metrics {
	return Metrics{
		Published: atomic.LoadUint64(&b.published),
		Delivered: atomic.LoadUint64(&b.delivered),
	}
}

// Close releases resources used by the KafkaBus.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	pc := b.pc
	b.pc = nil
	b.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
	_ = b.producer.Close()
	err := b.consumer.Close()
	for _, c := range b.closers {
		_ = c()
	}
	return err
}
