// ABOUTME: In-memory fan-out of outbound messages produced by async operations
// ABOUTME: Front ends subscribe per user or for everyone and render what arrives

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllUsers subscribes to messages for every user.
	AllUsers = "*"
)

// Delivery is one outbound message addressed to a user.
type Delivery struct {
	UserID  string
	Message Outbound
}

// Broadcaster implements Notifier as in-memory pub/sub. Subscribers register
// for a user ID (or AllUsers) and receive that user's async results.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Delivery // userID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Delivery),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for deliveries to userID. The subscription is removed
// and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, userID string) (<-chan Delivery, string) {
	subID := uuid.New().String()
	ch := make(chan Delivery, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan Delivery)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(userID, subID)
	}()

	return ch, subID
}

// Notify sends msgs, in order, to the user's subscribers and to AllUsers
// subscribers. Messages are dropped for subscribers whose channels are full.
func (b *Broadcaster) Notify(userID string, msgs ...Outbound) {
	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := false
	for _, key := range []string{userID, AllUsers} {
		for _, ch := range b.subscribers[key] {
			delivered = true
			for _, m := range msgs {
				select {
				case ch <- Delivery{UserID: userID, Message: m}:
				default:
					b.logger.Warn("dropped message for slow subscriber", "user_id", userID)
				}
			}
		}
	}

	if !delivered {
		b.logger.Warn("no subscriber for user, dropping messages", "user_id", userID, "count", len(msgs))
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}

	b.logger.Debug("broadcaster closed")
}
