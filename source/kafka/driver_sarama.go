package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"conveyor/internal/assign"
	"conveyor/internal/fault"
	"conveyor/internal/logging"
	"conveyor/internal/telemetry"
	"conveyor/record"
)

// SaramaReader consumes an explicit partition range with externally managed
// offsets. One task loop owns the reader; only the partition consumers run
// their own delivery goroutines, bridged through a bounded fetch channel.
type SaramaReader struct {
	cfg    Config
	decode DecodeFunc

	cl       sarama.Client
	consumer sarama.Consumer
	parts    []int32

	pcs     []sarama.PartitionConsumer
	fetchCh chan *sarama.ConsumerMessage
	stop    context.CancelFunc
	wg      sync.WaitGroup

	batch   []*sarama.ConsumerMessage
	next    int
	cp      Checkpoint
	drained bool
	closed  bool

	log *slog.Logger
}

func (r *SaramaReader) Configure(cfg Config, decode DecodeFunc) error {
	if decode == nil {
		decode = func(value []byte) (any, error) { return value, nil }
	}
	r.cfg, r.decode = cfg, decode
	r.cp = Checkpoint{}
	r.log = logging.Named("reader")
	// catch malformed pins before any broker I/O
	_, err := cfg.Policy()
	return err
}

func (r *SaramaReader) Open(ctx context.Context) error {
	pol, err := r.cfg.Policy()
	if err != nil {
		return err
	}

	brokers, err := r.cfg.locator().WaitBrokers(ctx)
	if err != nil {
		return err
	}

	sc, err := r.saramaConfig()
	if err != nil {
		return err
	}
	cl, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return fault.Wrap(fault.Unavailable, fmt.Errorf("kafka client: %w", err))
	}
	consumer, err := sarama.NewConsumerFromClient(cl)
	if err != nil {
		_ = cl.Close()
		return fault.Wrap(fault.Unavailable, fmt.Errorf("kafka consumer: %w", err))
	}

	// nothing half-built may survive a failed open; the task loop retries on
	// the same instance
	partitions, err := cl.Partitions(r.cfg.Topic)
	if err != nil {
		_ = consumer.Close()
		_ = cl.Close()
		return fault.Wrap(fault.Unavailable, fmt.Errorf("partitions of %q: %w", r.cfg.Topic, err))
	}
	parts, err := assign.Plan(len(partitions), pol, r.cfg.Slot)
	if err != nil {
		_ = consumer.Close()
		_ = cl.Close()
		return err
	}
	r.cl, r.consumer, r.parts = cl, consumer, parts

	r.log.Info("reader open",
		"topic", r.cfg.Topic, "group", r.cfg.GroupID,
		"slot", r.cfg.Slot, "partitions", r.parts, "brokers", brokers)
	return nil
}

// Recover seeks each assigned partition for a new epoch: past the last
// delivered offset when checkpointed, else to a configured explicit start
// offset, else to the offset-reset position.
func (r *SaramaReader) Recover(ctx context.Context, prior Checkpoint) error {
	if r.consumer == nil {
		return fault.New(fault.Config, "recover called before open")
	}
	r.stopFetch()

	r.cp = prior.Clone()
	r.drained = false
	r.batch, r.next = nil, 0
	r.fetchCh = make(chan *sarama.ConsumerMessage, r.bufSize())

	fwdCtx, cancel := context.WithCancel(context.Background())
	r.stop = cancel

	for _, p := range r.parts {
		off, err := r.resumeOffset(prior, p)
		if err != nil {
			return err
		}
		pc, err := r.consumer.ConsumePartition(r.cfg.Topic, p, off)
		if err != nil {
			return fault.Wrap(fault.Unavailable, fmt.Errorf("consume %s[%d]@%d: %w", r.cfg.Topic, p, off, err))
		}
		r.pcs = append(r.pcs, pc)
		r.wg.Add(1)
		go r.forward(fwdCtx, pc)
	}
	return nil
}

func (r *SaramaReader) resumeOffset(prior Checkpoint, p int32) (int64, error) {
	if off, ok := prior[p]; ok {
		return off + 1, nil
	}
	if len(r.cfg.StartOffsets) > 0 {
		off, ok := r.cfg.startOffsetFor(p)
		if !ok {
			return 0, fault.New(fault.Config, "start_offsets configured but partition %d unlisted", p)
		}
		return off, nil
	}
	switch r.cfg.OffsetReset {
	case ResetEarliest:
		return sarama.OffsetOldest, nil
	case ResetLatest:
		return sarama.OffsetNewest, nil
	}
	return 0, fault.New(fault.Config, "unknown offset_reset %q", r.cfg.OffsetReset)
}

func (r *SaramaReader) forward(ctx context.Context, pc sarama.PartitionConsumer) {
	defer r.wg.Done()
	for {
		select {
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			select {
			case r.fetchCh <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll dispenses one decoded record from the current batch. With the batch
// exhausted it fetches for at most the batch timeout and reports "no record
// yet"; the caller polls again.
func (r *SaramaReader) Poll(ctx context.Context) (any, error) {
	if r.drained || r.closed {
		return nil, nil
	}

	if r.next < len(r.batch) {
		msg := r.batch[r.next]
		r.next++

		v, err := r.decode(msg.Value)
		if err != nil {
			return nil, fault.Wrap(fault.Payload, fmt.Errorf("decode %s[%d]@%d: %w", msg.Topic, msg.Partition, msg.Offset, err))
		}
		if record.IsDone(v) {
			r.drained = true
			r.log.Info("upstream drained", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			return nil, nil
		}

		r.cp[msg.Partition] = msg.Offset
		part := strconv.Itoa(int(msg.Partition))
		telemetry.RecordsConsumed.WithLabelValues(msg.Topic, part).Inc()
		telemetry.CheckpointOffset.WithLabelValues(msg.Topic, part).Set(float64(msg.Offset))

		if r.cfg.WrapMeta {
			return &record.Wrapped{
				Value: v,
				Meta: record.Meta{
					Topic:     msg.Topic,
					Partition: msg.Partition,
					Offset:    msg.Offset,
					Key:       msg.Key,
					Ts:        msg.Timestamp,
				},
			}, nil
		}
		return v, nil
	}

	// bounded fetch for the next batch
	r.batch, r.next = r.batch[:0], 0
	timer := time.NewTimer(r.batchTimeout())
	defer timer.Stop()

	select {
	case msg := <-r.fetchCh:
		r.batch = append(r.batch, msg)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(r.batch) < r.bufSize() {
		select {
		case msg := <-r.fetchCh:
			r.batch = append(r.batch, msg)
		default:
			return nil, nil
		}
	}
	return nil, nil
}

func (r *SaramaReader) Checkpoint() Checkpoint { return r.cp.Clone() }

func (r *SaramaReader) Drained() bool { return r.drained }

func (r *SaramaReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.stopFetch()
	if r.consumer != nil {
		_ = r.consumer.Close()
	}
	if r.cl != nil {
		_ = r.cl.Close()
	}
	return nil
}

func (r *SaramaReader) stopFetch() {
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	for _, pc := range r.pcs {
		pc.AsyncClose()
	}
	r.pcs = nil
	r.wg.Wait()
}

func (r *SaramaReader) saramaConfig() (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(r.cfg.Version)
	if err != nil {
		return nil, fault.New(fault.Config, "kafka version %q: %v", r.cfg.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = r.cfg.GroupID
	if r.cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if r.cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = r.cfg.SASLUser, r.cfg.SASLPass
	}
	applyClientOptions(sc, r.cfg.ClientOptions, r.log)
	return sc, nil
}

func (r *SaramaReader) bufSize() int {
	if r.cfg.ReceiveBuffer <= 0 {
		return 1
	}
	return r.cfg.ReceiveBuffer
}

func (r *SaramaReader) batchTimeout() time.Duration {
	if r.cfg.BatchTimeout <= 0 {
		return 50 * time.Millisecond
	}
	return r.cfg.BatchTimeout
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
		case "fetch_default_bytes":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				sc.Consumer.Fetch.Default = int32(n)
			}
		default:
			if log != nil {
				log.Warn("ignoring unknown client option", "key", k)
			}
		}
	}
}

func init() { Register("sarama", func() Adapter { return &SaramaReader{} }) }
