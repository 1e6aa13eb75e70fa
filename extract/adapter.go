package extract

import (
	"context"
	"errors"
	"time"
)

// ErrClientInit wraps any failure to build or connect the underlying Kafka
// client. Drivers wrap their construction errors with it so callers can map
// the failure class without knowing the driver.
var ErrClientInit = errors.New("kafka client init failed")

type Config struct {
	Brokers     []string
	Topic       string
	GroupID     string
	ClientID    string
	PollTimeout time.Duration
}

type EmitFunc func(*Record) error

// Client is the driver-side contract. Configure must establish the broker
// connection (or fail with ErrClientInit); Run blocks polling records and
// feeding emit until ctx is cancelled or a fatal client error occurs.
type Client interface {
	Configure(Config) error
	Run(context.Context, EmitFunc) error
	Close() error
}

// Processor consumes records one at a time. Implementations may buffer but
// must tolerate Close after any Process call. The owning consumer's id is
// injected into the context, nothing else about the consumer is visible.
type Processor interface {
	Process(context.Context, *Record) error
	Close() error
}

// Sink pairs a Processor with the id it was declared under, so failures can
// be attributed without widening the Processor contract.
type Sink struct {
	ID        string
	Processor Processor
}

type ctxKey int

const consumerIDKey ctxKey = 0

func WithConsumerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, consumerIDKey, id)
}

// ConsumerID returns the consumer id injected by the extractor, or "".
func ConsumerID(ctx context.Context) string {
	id, _ := ctx.Value(consumerIDKey).(string)
	return id
}
