package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

const (
	// DefaultStreamPrefix namespaces the per-workflow streams.
	DefaultStreamPrefix = "parley:bus:"
	// DefaultGroup is the consumer group shared by all replicas of a workflow instance.
	DefaultGroup = "parley"

	envelopeField = "envelope"
	defaultBatch  = 100
)

// Stream implements ports.Transport on Redis Streams.
// Each workflow instance reads its own stream through a consumer group; an entry is
// acknowledged only after the handler succeeds, so failed entries are redelivered.
type Stream struct {
	client   *backend.Client
	prefix   string
	group    string
	consumer string
	block    time.Duration
	maxLen   int64

	mu     sync.Mutex
	groups map[string]bool
}

// StreamOption configures the Stream.
type StreamOption func(*Stream)

// WithStreamPrefix sets the key prefix for streams.
func WithStreamPrefix(prefix string) StreamOption {
	return func(s *Stream) {
		s.prefix = prefix
	}
}

// WithGroup sets the consumer group name.
func WithGroup(group string) StreamOption {
	return func(s *Stream) {
		s.group = group
	}
}

// WithConsumer sets this replica's consumer name within the group.
func WithConsumer(consumer string) StreamOption {
	return func(s *Stream) {
		s.consumer = consumer
	}
}

// WithBlock makes Receive wait up to d for new entries. Zero returns immediately.
func WithBlock(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.block = d
	}
}

// WithMaxLen caps each stream at roughly n entries.
func WithMaxLen(n int64) StreamOption {
	return func(s *Stream) {
		s.maxLen = n
	}
}

// NewStream creates a Streams transport from an existing client.
func NewStream(client *backend.Client, opts ...StreamOption) *Stream {
	s := &Stream{
		client:   client,
		prefix:   DefaultStreamPrefix,
		group:    DefaultGroup,
		consumer: "default",
		groups:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stream) key(workflowID string) string {
	return s.prefix + workflowID
}

// Publish appends each envelope to its recipient's stream.
func (s *Stream) Publish(ctx context.Context, envs []domain.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, env := range envs {
		data, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		args := &backend.XAddArgs{
			Stream: s.key(env.To),
			Values: map[string]any{envelopeField: data},
		}
		if s.maxLen > 0 {
			args.MaxLen = s.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Receive delivers up to max entries addressed to workflowID. Entries this consumer read
// earlier but never acknowledged come first.
func (s *Stream) Receive(ctx context.Context, workflowID string, max int, handler ports.DeliveryHandler) (int, error) {
	stream := s.key(workflowID)
	if err := s.ensureGroup(ctx, stream); err != nil {
		return 0, err
	}

	count := int64(max)
	if max <= 0 {
		count = defaultBatch
	}

	delivered := 0
	for _, id := range []string{"0", ">"} {
		block := time.Duration(-1)
		if id == ">" && s.block > 0 {
			block = s.block
		}
		msgs, err := s.read(ctx, stream, id, count-int64(delivered), block)
		if err != nil {
			return delivered, err
		}
		for _, msg := range msgs {
			env, err := decodeEntry(msg)
			if err != nil {
				// A malformed entry would be redelivered forever; drop it.
				_ = s.client.XAck(ctx, stream, s.group, msg.ID).Err()
				continue
			}
			if err := handler(ctx, env); err != nil {
				return delivered, fmt.Errorf("failed to handle entry %s: %w", msg.ID, err)
			}
			if err := s.client.XAck(ctx, stream, s.group, msg.ID).Err(); err != nil {
				return delivered, fmt.Errorf("failed to ack entry %s: %w", msg.ID, err)
			}
			delivered++
		}
		if int64(delivered) >= count {
			break
		}
	}
	return delivered, nil
}

func (s *Stream) read(ctx context.Context, stream, id string, count int64, block time.Duration) ([]backend.XMessage, error) {
	res, err := s.client.XReadGroup(ctx, &backend.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from redis: %w", err)
	}
	var msgs []backend.XMessage
	for _, r := range res {
		msgs = append(msgs, r.Messages...)
	}
	return msgs, nil
}

func (s *Stream) ensureGroup(ctx context.Context, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups[stream] {
		return nil
	}
	err := s.client.XGroupCreateMkStream(ctx, stream, s.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	s.groups[stream] = true
	return nil
}

func decodeEntry(msg backend.XMessage) (domain.Envelope, error) {
	raw, ok := msg.Values[envelopeField].(string)
	if !ok {
		return domain.Envelope{}, fmt.Errorf("entry %s has no %s field", msg.ID, envelopeField)
	}
	var env domain.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to unmarshal entry %s: %w", msg.ID, err)
	}
	return env, nil
}

// Close closes the redis client.
func (s *Stream) Close() error {
	return s.client.Close()
}
