package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"conveyor/internal/fault"
	"conveyor/internal/logging"
	"conveyor/internal/telemetry"
	"conveyor/record"
	"conveyor/sink"
)

// Writer submits records through an async producer and tracks every send in
// an in-flight ledger. The owning task loop is the only mutator; producer
// ack channels are drained opportunistically on Write and Settled calls.
type Writer struct {
	cfg    Config
	encode EncodeFunc

	p       sarama.AsyncProducer
	ledger  *ledger
	limit   *throttle
	sendErr error // first failure, re-raised on subsequent writes
	closed  bool

	log *slog.Logger
}

func (w *Writer) Configure(raw any) error {
	cfg, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", raw)
	}
	w.cfg = cfg
	w.encode = cfg.Encode
	if w.encode == nil {
		w.encode = defaultEncode
	}
	w.ledger = newLedger()
	w.limit = newThrottle(cfg.maxInFlight())
	w.log = logging.Named("writer")
	return nil
}

func (w *Writer) Open(ctx context.Context) error {
	brokers, err := w.cfg.locator().WaitBrokers(ctx)
	if err != nil {
		return err
	}
	sc, err := w.saramaConfig()
	if err != nil {
		return err
	}
	if w.p, err = sarama.NewAsyncProducer(brokers, sc); err != nil {
		return fault.Wrap(fault.Unavailable, fmt.Errorf("kafka producer: %w", err))
	}
	w.log.Info("writer open", "topic", w.cfg.Topic, "brokers", brokers)
	return nil
}

// Write submits the batch asynchronously and returns without waiting for
// acknowledgments. The first send failure observed on any earlier batch is
// re-raised here before anything new is submitted.
func (w *Writer) Write(ctx context.Context, batch []record.Outbound) error {
	w.reap()
	if w.sendErr != nil {
		return w.sendErr
	}
	for _, rec := range batch {
		if err := w.submit(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) submit(ctx context.Context, rec record.Outbound) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic := rec.Topic
	if topic == "" {
		topic = w.cfg.Topic
	}
	if topic == "" {
		return fault.New(fault.Payload, "record has no resolvable topic")
	}
	if rec.Value == nil {
		return fault.New(fault.Payload, "record for %q missing value", topic)
	}
	raw, err := w.encode(rec.Value)
	if err != nil {
		return fault.Wrap(fault.Payload, fmt.Errorf("encode for %q: %w", topic, err))
	}

	// bound unresolved sends; reap while waiting so acks free capacity
	for !w.limit.tryAcquire(1) {
		w.reap()
		if w.sendErr != nil {
			return w.sendErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}

	handle := w.ledger.track()
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Partition: rec.Partition,
		Value:     sarama.ByteEncoder(raw),
		Metadata:  handle,
	}
	if rec.Key != nil {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}

	select {
	case w.p.Input() <- msg:
	case <-ctx.Done():
		handle(sendAck{}) // never submitted; strike it so the barrier can close
		w.limit.release(1)
		return ctx.Err()
	}
	telemetry.RecordsProduced.WithLabelValues(topic).Inc()
	return nil
}

// WriteDone emits the end-of-stream sentinel downstream, unless the task
// suppresses it.
func (w *Writer) WriteDone(ctx context.Context) error {
	if w.cfg.SuppressDone {
		return nil
	}
	return w.Write(ctx, []record.Outbound{record.NewOutbound(record.Done)})
}

// Settled reports whether every submitted send has been acknowledged and none
// failed. It first sweeps the producer's ack channels to resolve ledger
// entries.
func (w *Writer) Settled() bool {
	w.reap()
	if w.ledger.pending() != 0 || w.sendErr != nil {
		return false
	}
	if last := w.ledger.lastAcked(); last != nil {
		w.log.Debug("settled", "topic", last.topic, "partition", last.partition, "offset", last.offset)
	}
	return true
}

// Err exposes the first send failure without submitting anything.
func (w *Writer) Err() error {
	w.reap()
	return w.sendErr
}

func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.p != nil {
		err := w.p.Close()
		w.p = nil
		return err
	}
	return nil
}

// reap resolves ledger entries for every acknowledgment the producer has
// queued, without blocking.
func (w *Writer) reap() {
	if w.p == nil {
		return
	}
	for {
		select {
		case pm, ok := <-w.p.Successes():
			if !ok {
				return
			}
			w.resolve(pm)
		case pe, ok := <-w.p.Errors():
			if !ok {
				return
			}
			w.resolve(pe.Msg)
			telemetry.SendFailures.WithLabelValues(pe.Msg.Topic).Inc()
			if w.sendErr == nil {
				w.sendErr = fault.Wrap(fault.Send, pe)
				w.log.Error("async send failed", "topic", pe.Msg.Topic, "err", pe.Err)
			}
		default:
			return
		}
	}
}

func (w *Writer) resolve(pm *sarama.ProducerMessage) {
	if fn, ok := pm.Metadata.(func(sendAck)); ok && fn != nil {
		fn(sendAck{topic: pm.Topic, partition: pm.Partition, offset: pm.Offset})
		w.limit.release(1)
	}
}

func (w *Writer) saramaConfig() (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(w.cfg.Version)
	if err != nil {
		return nil, fault.New(fault.Config, "kafka version %q: %v", w.cfg.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if w.cfg.RequiredAcks != nil {
		sc.Producer.RequiredAcks = sarama.RequiredAcks(*w.cfg.RequiredAcks)
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.MaxMessageBytes = w.cfg.MaxRequestSize
	sc.Producer.Partitioner = newOverridePartitioner
	if w.cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if w.cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = w.cfg.SASLUser, w.cfg.SASLPass
	}
	applyClientOptions(sc, w.cfg.ClientOptions, w.log)
	return sc, nil
}

// applyClientOptions maps passthrough string options onto the sarama config.
// Unknown keys are logged and skipped rather than failing the task.
func applyClientOptions(sc *sarama.Config, opts map[string]string, log *slog.Logger) {
	for k, v := range opts {
		switch k {
		case "client_id":
			sc.ClientID = v
		case "channel_buffer_size":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				sc.ChannelBufferSize = n
			}
		case "flush_messages":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				sc.Producer.Flush.Messages = n
			}
		case "flush_frequency_ms":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				sc.Producer.Flush.Frequency = time.Duration(n) * time.Millisecond
			}
		default:
			if log != nil {
				log.Warn("ignoring unknown client option", "key", k)
			}
		}
	}
}

func (c Config) maxInFlight() int64 {
	if c.MaxInFlight <= 0 {
		return 10_000
	}
	return c.MaxInFlight
}

func defaultEncode(v any) ([]byte, error) {
	if record.IsDone(v) {
		return []byte("done"), nil
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, fmt.Errorf("no encoder for %T", v)
}

// overridePartitioner honors an explicit per-record partition and falls back
// to key hashing otherwise.
type overridePartitioner struct {
	fallback sarama.Partitioner
}

func newOverridePartitioner(topic string) sarama.Partitioner {
	return &overridePartitioner{fallback: sarama.NewHashPartitioner(topic)}
}

func (p *overridePartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if msg.Partition >= 0 && msg.Partition < numPartitions {
		return msg.Partition, nil
	}
	return p.fallback.Partition(msg, numPartitions)
}

func (p *overridePartitioner) RequiresConsistency() bool { return true }

func init() { sink.Register("kafka", func() sink.Adapter { return &Writer{} }) }
