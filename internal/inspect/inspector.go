package inspect

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
)

var (
	// ErrNoOffsets means the group is unknown or has never committed.
	ErrNoOffsets = errors.New("consumer group has no committed offsets")
	// ErrTimedOut means the query exceeded the inspector timeout. Partial
	// results are never returned.
	ErrTimedOut = errors.New("inspector query timed out")
	// ErrAdmin wraps admin client construction or query failures.
	ErrAdmin = errors.New("kafka admin query failed")
)

const DefaultTimeout = 10 * time.Second

// OffsetMeta is one partition's committed offset plus broker metadata.
type OffsetMeta struct {
	Offset   int64  `json:"current_offset"`
	Metadata string `json:"metadata"`
}

// PartitionLag is the lag triple for one partition.
type PartitionLag struct {
	CurrentOffset int64 `json:"current_offset"`
	LogEndOffset  int64 `json:"log_end_offset"`
	Lag           int64 `json:"lag"`
}

// Inspector answers read-only offset and lag queries. Every call builds a
// short-lived admin client against the requested bootstrap servers, so
// running extractors are never disturbed. The client is closed when the
// query finishes; a call that returns ErrTimedOut does not wait for that,
// and its abandoned query closes the client once the admin calls return.
type Inspector struct {
	bootstrap []string
	timeout   time.Duration
}

func New(bootstrap []string, timeout time.Duration) *Inspector {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Inspector{bootstrap: bootstrap, timeout: timeout}
}

// ListGroups returns all consumer group ids known to the cluster, sorted.
func (i *Inspector) ListGroups(servers []string) ([]string, error) {
	return withTimeout(i.timeout, func() ([]string, error) {
		admin, err := i.admin(servers)
		if err != nil {
			return nil, err
		}
		defer admin.Close()

		groups, err := admin.ListConsumerGroups()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
		}
		out := make([]string, 0, len(groups))
		for id := range groups {
			out = append(out, id)
		}
		sort.Strings(out)
		return out, nil
	})
}

// CommittedOffsets returns {topic → {partition → committed offset}} for the
// group. ErrNoOffsets when the group has nothing committed.
func (i *Inspector) CommittedOffsets(servers []string, groupID string) (map[string]map[int32]OffsetMeta, error) {
	return withTimeout(i.timeout, func() (map[string]map[int32]OffsetMeta, error) {
		admin, err := i.admin(servers)
		if err != nil {
			return nil, err
		}
		defer admin.Close()

		resp, err := admin.ListConsumerGroupOffsets(groupID, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
		}

		out := map[string]map[int32]OffsetMeta{}
		for topic, parts := range resp.Blocks {
			for partition, block := range parts {
				if block.Offset < 0 {
					continue
				}
				if out[topic] == nil {
					out[topic] = map[int32]OffsetMeta{}
				}
				out[topic][partition] = OffsetMeta{Offset: block.Offset, Metadata: block.Metadata}
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoOffsets, groupID)
		}
		return out, nil
	})
}

// Lag returns {partition → lag triple} for one group and topic. A partition
// with no committed offset reports current_offset = -1 and lag equal to the
// log end offset.
func (i *Inspector) Lag(servers []string, groupID, topic string) (map[int32]PartitionLag, error) {
	return withTimeout(i.timeout, func() (map[int32]PartitionLag, error) {
		client, err := i.client(servers)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
		}
		// admin shares the client; closing the client at defer covers both

		partitions, err := client.Partitions(topic)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
		}

		resp, err := admin.ListConsumerGroupOffsets(groupID, map[string][]int32{topic: partitions})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
		}

		out := make(map[int32]PartitionLag, len(partitions))
		for _, partition := range partitions {
			end, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
			}
			current := int64(-1)
			if block := resp.GetBlock(topic, partition); block != nil {
				current = block.Offset
			}
			out[partition] = PartitionLag{
				CurrentOffset: current,
				LogEndOffset:  end,
				Lag:           ComputeLag(current, end),
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrNoOffsets, groupID, topic)
		}
		return out, nil
	})
}

// ComputeLag is max(0, end − current); an uncommitted partition (current −1)
// lags by the whole log.
func ComputeLag(current, end int64) int64 {
	if current < 0 {
		if end < 0 {
			return 0
		}
		return end
	}
	if lag := end - current; lag > 0 {
		return lag
	}
	return 0
}

func (i *Inspector) servers(override []string) []string {
	if len(override) > 0 {
		return override
	}
	return i.bootstrap
}

func (i *Inspector) client(servers []string) (sarama.Client, error) {
	cfg := sarama.NewConfig()
	cfg.Admin.Timeout = i.timeout
	cfg.Net.DialTimeout = i.timeout
	client, err := sarama.NewClient(i.servers(servers), cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
	}
	return client, nil
}

func (i *Inspector) admin(servers []string) (sarama.ClusterAdmin, error) {
	client, err := i.client(servers)
	if err != nil {
		return nil, err
	}
	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrAdmin, err)
	}
	return admin, nil
}

// withTimeout bounds a whole query. The underlying admin calls carry their
// own request timeouts; this is the outer "full answer or TimedOut" bound.
func withTimeout[T any](d time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-time.After(d):
		var zero T
		return zero, ErrTimedOut
	}
}
