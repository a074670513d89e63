// Package broker fans events out to in-process subscribers.
//
// Delivery is best effort: a subscriber whose buffer is full misses the
// event and the topic's drop counter goes up. Anything that must not be
// lost is written to the store first.
package broker

import (
	"context"

	"campusdesk/internal/model"
)

const (
	// TopicOutbox wakes the outbox dispatcher after a commit.
	TopicOutbox = "outbox"
	// TopicChatPrefix prefixes per-conversation live chat rooms.
	TopicChatPrefix = "chat."
)

// ChatTopic is the room topic for a conversation.
func ChatTopic(conversationID string) string {
	return TopicChatPrefix + conversationID
}

type TopicStats struct {
	Topic        string `json:"topic"`
	Subscribers  int    `json:"subscribers"`
	BufferedMsgs int    `json:"buffered_messages"`
	DroppedMsgs  int64  `json:"dropped_messages"`
}

type Broker interface {
	Subscribe(ctx context.Context, subscriberID, topic string) (<-chan model.Event, error)
	Unsubscribe(ctx context.Context, subscriberID, topic string) error
	Publish(ctx context.Context, evt model.Event) error
	DeleteTopic(ctx context.Context, topic string) error
	TopicStats(ctx context.Context, topic string) (TopicStats, error)
}
