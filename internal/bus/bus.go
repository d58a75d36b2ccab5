// Package bus implements an in-memory, append-only stream with
// consumer-group semantics: create-if-absent groups, per-group cursors,
// explicit acknowledgement, and a subscribeMultiple round-robin with
// keep-alive sentinel.
//
// It reimplements the contract of a Redis-stream-backed bus (XADD /
// XREADGROUP / XGROUP CREATE / XACK) without a Redis dependency: streams
// are namespaced, messages carry a monotonically increasing id and a JSON
// payload, and each delivered message is recorded as pending for its group
// until the consumer acknowledges. Pending messages are not redelivered:
// a group's cursor only moves forward, so a message that is never
// acknowledged stays in the pending record and is not handed out again,
// neither to the same consumer nor to a new subscriber of the group.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Message is one published entry on a stream.
type Message struct {
	ID      uint64
	Stream  string
	Payload json.RawMessage
}

// KeepAlive is yielded by SubscribeMultiple when no message arrives within
// the block window, mirroring the reference bus's "ping" sentinel.
type KeepAlive struct {
	Stream string
}

// pending tracks a delivered-but-unacknowledged message for one group.
type pendingEntry struct {
	msg Message
}

type group struct {
	cursor  int    // index into stream.messages of the next message to deliver
	pending map[uint64]pendingEntry
}

type stream struct {
	mu       sync.Mutex
	messages []Message
	nextID   uint64
	groups   map[string]*group
}

func newStream() *stream {
	return &stream{groups: make(map[string]*group)}
}

func (s *stream) ensureGroup(name string) *group {
	g, ok := s.groups[name]
	if !ok {
		g = &group{pending: make(map[uint64]pendingEntry)}
		s.groups[name] = g
	}
	return g
}

// Bus is the namespaced collection of streams.
type Bus struct {
	prefix string
	log    zerolog.Logger

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
}

// Config configures a Bus.
type Config struct {
	Prefix string
	Log    zerolog.Logger
}

// New creates a Bus with the given namespace prefix.
func New(cfg Config) *Bus {
	return &Bus{
		prefix:  cfg.Prefix,
		log:     cfg.Log.With().Str("component", "bus").Logger(),
		streams: make(map[string]*stream),
	}
}

func (b *Bus) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return b.prefix + ":" + name
}

func (b *Bus) streamFor(name string) *stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := b.key(name)
	s, ok := b.streams[key]
	if !ok {
		s = newStream()
		b.streams[key] = s
	}
	return s
}

// Publish appends payload to the named stream, JSON-encoding it and
// assigning it a monotonically increasing message id.
func (b *Bus) Publish(name string, payload any) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus: publish on closed bus")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}

	s := b.streamFor(name)
	s.mu.Lock()
	s.nextID++
	msg := Message{ID: s.nextID, Stream: name, Payload: data}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	return nil
}

// StreamLength reports the number of retained messages on a stream, for
// admin introspection.
func (b *Bus) StreamLength(name string) int {
	s := b.streamFor(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// GroupCursor reports a group's current read cursor on a stream, or -1 if
// the group has never read from it.
func (b *Bus) GroupCursor(streamName, groupName string) int {
	s := b.streamFor(streamName)
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupName]
	if !ok {
		return -1
	}
	return g.cursor
}

// Close marks the bus closed. Idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// poll returns the next undelivered message for (stream, group), advancing
// the group's cursor and recording it pending, or ok=false if nothing is
// available.
func (s *stream) poll(groupName string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.ensureGroup(groupName)
	if g.cursor >= len(s.messages) {
		return Message{}, false
	}
	msg := s.messages[g.cursor]
	g.cursor++
	g.pending[msg.ID] = pendingEntry{msg: msg}
	return msg, true
}

func (s *stream) ack(groupName string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.ensureGroup(groupName)
	delete(g.pending, id)
}

// Delivery is handed to a subscriber: the decoded stream name, raw
// payload, and an Ack function that must be called once the consumer has
// finished processing (successfully or not — poison messages are still
// acknowledged, the poison-drop rule).
type Delivery struct {
	Stream  string
	Payload json.RawMessage
	Ack     func()
}

// Subscribe returns a channel of Deliveries for a single stream under the
// given consumer group. Group creation is idempotent. The returned channel
// is closed when ctx is cancelled or Close is called.
func (b *Bus) Subscribe(ctx context.Context, streamName, groupName string, block time.Duration) <-chan Delivery {
	out := make(chan Delivery)
	s := b.streamFor(streamName)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}

			msg, ok := s.poll(groupName)
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(block):
					continue
				}
			}

			d := Delivery{
				Stream:  streamName,
				Payload: msg.Payload,
				Ack:     func() { s.ack(groupName, msg.ID) },
			}

			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// MultiDelivery is the (stream, payload) pair SubscribeMultiple yields; a
// nil Payload with IsKeepAlive=true signals the keep-alive sentinel.
type MultiDelivery struct {
	Stream      string
	Payload     json.RawMessage
	IsKeepAlive bool
	Ack         func()
}

// SubscribeMultiple round-robins across the given streams under one
// consumer group, yielding a keep-alive sentinel whenever a full round
// produces no message within the block window.
func (b *Bus) SubscribeMultiple(ctx context.Context, streamNames []string, groupName string, block time.Duration) <-chan MultiDelivery {
	out := make(chan MultiDelivery)
	streams := make([]*stream, len(streamNames))
	for i, name := range streamNames {
		streams[i] = b.streamFor(name)
	}

	go func() {
		defer close(out)
		if len(streams) == 0 {
			return
		}
		idx := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			delivered := false
			for i := 0; i < len(streams); i++ {
				pos := (idx + i) % len(streams)
				s := streams[pos]
				name := streamNames[pos]
				msg, ok := s.poll(groupName)
				if !ok {
					continue
				}
				idx = (pos + 1) % len(streams)
				d := MultiDelivery{
					Stream:  name,
					Payload: msg.Payload,
					Ack:     func() { s.ack(groupName, msg.ID) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
				delivered = true
				break
			}

			if !delivered {
				select {
				case out <- MultiDelivery{IsKeepAlive: true}:
				case <-ctx.Done():
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(block):
				}
			}
		}
	}()

	return out
}

// DecodeOrAck unmarshals payload into v; on failure it acknowledges the
// delivery itself (poison-pill drop) and logs, returning ok=false so the
// caller knows to skip further processing.
func (b *Bus) DecodeOrAck(d Delivery, v any) bool {
	if err := json.Unmarshal(d.Payload, v); err != nil {
		b.log.Warn().Err(err).Str("stream", d.Stream).Msg("poison message, dropping")
		d.Ack()
		return false
	}
	return true
}
