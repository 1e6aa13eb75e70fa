package extract

import (
	"context"
	"fmt"
	"time"

	"conductor/internal/logging"

	"github.com/twmb/franz-go/pkg/kgo"
)

// FranzClient is the kgo-backed alternative to SaramaClient. Selected with
// KAFKA_DRIVER=franz.
type FranzClient struct {
	cfg Config
	cl  *kgo.Client
}

func (d *FranzClient) Configure(config Config) error {
	d.cfg = config

	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ConsumerGroup(config.GroupID),
		kgo.ConsumeTopics(config.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if config.ClientID != "" {
		opts = append(opts, kgo.ClientID(config.ClientID))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	// kgo dials lazily; ping so a dead bootstrap fails at configure time
	// like the sarama driver does.
	pctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cl.Ping(pctx); err != nil {
		cl.Close()
		return fmt.Errorf("%w: %v", ErrClientInit, err)
	}
	d.cl = cl
	return nil
}

func (d *FranzClient) Run(ctx context.Context, emit EmitFunc) error {
	for {
		fetches := d.cl.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fatal := false
		fetches.EachError(func(topic string, partition int32, err error) {
			if kgo.IsRetryableBrokerErr(err) {
				logging.L().Warn("franz-client: transient fetch error", "topic", topic, "partition", partition, "err", err)
				return
			}
			fatal = true
		})
		if fatal {
			return fmt.Errorf("franz-client: fetch failed: %v", fetches.Err())
		}

		var emitErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if emitErr != nil {
				return
			}
			emitErr = emit(&Record{
				Topic:     r.Topic,
				Partition: r.Partition,
				Offset:    r.Offset,
				Key:       r.Key,
				Value:     r.Value,
				Headers:   franzHeaderMap(r.Headers),
				Timestamp: r.Timestamp,
			})
		})
		if emitErr != nil {
			return emitErr
		}
	}
}

func (d *FranzClient) Close() error {
	d.cl.Close()
	return nil
}

func franzHeaderMap(src []kgo.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[h.Key] = h.Value
	}
	return out
}
