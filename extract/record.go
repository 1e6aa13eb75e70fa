package extract

import "time"

// Record is one message pulled from Kafka, as handed to downstream sinks.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
}
