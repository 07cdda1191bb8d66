package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opensource-finance/larder/internal/domain"
)

// ChannelBus is the in-process EventBus of the Community tier. Each
// subscription owns a buffered channel drained by one goroutine, so a
// handler sees its messages in publish order. A full buffer drops the
// message for that subscriber and counts it.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	topics     map[string][]*channelSubscription
	inboxes    map[string]chan *domain.Message
	closed     bool

	dropped atomic.Int64
}

type channelSubscription struct {
	tenantID string
	topic    string
	handler  domain.MessageHandler
	msgCh    chan *domain.Message
	ctx      context.Context
	cancel   context.CancelFunc
	bus      *ChannelBus
	once     sync.Once
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		topics:     make(map[string][]*channelSubscription),
		inboxes:    make(map[string]chan *domain.Message),
	}
}

// Publish delivers payload to the topic's subscribers for tenantID and to
// AllTenants subscribers.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkSendTenant(tenantID); err != nil {
		return err
	}
	return b.deliver(newMessage(ctx, tenantID, topic, payload))
}

func (b *ChannelBus) deliver(msg *domain.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.topics[msg.Topic] {
		if sub.tenantID != msg.TenantID && sub.tenantID != domain.AllTenants {
			continue
		}
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("bus subscriber full, message dropped",
				"tenant_id", msg.TenantID,
				"topic", msg.Topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. tenantID may be AllTenants.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkSubscribeTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		tenantID: tenantID,
		topic:    topic,
		handler:  handler,
		msgCh:    make(chan *domain.Message, b.bufferSize),
		ctx:      subCtx,
		cancel:   cancel,
		bus:      b,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	go sub.run()
	return sub, nil
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"tenant_id", msg.TenantID,
					"topic", msg.Topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes payload with a private reply address and waits for the
// first answer.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if err := checkSendTenant(tenantID); err != nil {
		return nil, err
	}

	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	msg := newMessage(ctx, tenantID, topic, payload)
	msg.ReplyTo = "_inbox." + uuid.New().String()

	inbox := make(chan *domain.Message, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.inboxes[msg.ReplyTo] = inbox
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.inboxes, msg.ReplyTo)
		b.mu.Unlock()
	}()

	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-inbox:
		if !ok {
			return nil, ErrClosed
		}
		return reply.Payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request on %s: %w", topic, ctx.Err())
	}
}

// Reply answers a message received through Request. Late replies, after
// the requester gave up, are discarded.
func (b *ChannelBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return ErrNoReplyAddress
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	inbox, ok := b.inboxes[msg.ReplyTo]
	if !ok {
		return nil
	}
	select {
	case inbox <- replyTo(ctx, msg, payload):
	default:
	}
	return nil
}

// Dropped returns how many messages were discarded on full subscribers.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription and fails pending requests.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	for _, inbox := range b.inboxes {
		close(inbox)
	}
	b.topics = make(map[string][]*channelSubscription)
	b.inboxes = make(map[string]chan *domain.Message)
	return nil
}

// Unsubscribe stops receiving messages and drops the subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()

		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.topics[s.topic]
		for i, other := range subs {
			if other == s {
				b.topics[s.topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(b.topics[s.topic]) == 0 {
			delete(b.topics, s.topic)
		}
	})
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
