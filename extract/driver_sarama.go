package extract

import (
	"context"
	"fmt"

	"conductor/internal/logging"

	"github.com/IBM/sarama"
)

type SaramaClient struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
}

func (d *SaramaClient) Configure(config Config) error {
	d.cfg = config

	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	if config.ClientID != "" {
		sc.ClientID = config.ClientID
	}
	if config.PollTimeout > 0 {
		sc.Consumer.MaxWaitTime = config.PollTimeout
	}

	var err error
	if d.cl, err = sarama.NewClient(config.Brokers, sc); err != nil {
		return fmt.Errorf("%w: %v", ErrClientInit, err)
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(config.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return fmt.Errorf("%w: %v", ErrClientInit, err)
	}
	return nil
}

func (d *SaramaClient) Run(ctx context.Context, emit EmitFunc) error {
	// Transient group errors (metadata refresh, rebalance) are logged and
	// absorbed; only Consume returning an error is fatal.
	go func() {
		for err := range d.group.Errors() {
			logging.L().Warn("sarama-client: consumer group error", "group", d.cfg.GroupID, "err", err)
		}
	}()

	handler := &groupHandler{emit: emit}

	for {
		if err := d.group.Consume(ctx, []string{d.cfg.Topic}, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (d *SaramaClient) Close() error {
	_ = d.group.Close()
	return d.cl.Close()
}

type groupHandler struct {
	emit EmitFunc
}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case <-sess.Context().Done():
			return sess.Context().Err()

		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			rec := &Record{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
				Headers:   toHeaderMap(msg.Headers),
				Timestamp: msg.Timestamp,
			}
			if err := h.emit(rec); err != nil {
				return err
			}
			// Offsets ride the client's auto-commit cadence; sink outcomes
			// never gate the commit.
			sess.MarkMessage(msg, "")
		}
	}
}

func toHeaderMap(src []*sarama.RecordHeader) map[string][]byte {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(src))
	for _, h := range src {
		out[string(h.Key)] = h.Value
	}
	return out
}
