// Package events carries run progress from the engine to observers such as
// the interactive UI.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const Topic = "quill.runs"

type Type string

const (
	RunStarted   Type = "run.started"
	StepStarted  Type = "step.started"
	StepFinished Type = "step.finished"
	RunFinished  Type = "run.finished"
)

const typeMetadataKey = "event_type"

type Event struct {
	Type   Type      `json:"type"`
	RunID  string    `json:"run_id"`
	Step   string    `json:"step,omitempty"`
	Worker string    `json:"worker,omitempty"`
	Index  int       `json:"index"`
	Total  int       `json:"total"`
	Status string    `json:"status,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Bus is an in-process pub/sub. Publish waits for subscribers to take the
// event so they see events in order; events published with no subscriber
// are dropped, as are events a subscriber has no room for.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewSlogLogger(logger),
	)

	return &Bus{
		pubSub: pubSub,
		logger: logger.With("component", "event_bus"),
	}
}

func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(typeMetadataKey, string(e.Type))
	msg.SetContext(ctx)

	return b.pubSub.Publish(Topic, msg)
}

// Subscribe returns decoded events until ctx is cancelled or the bus is
// closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var e Event
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				b.logger.Warn("dropping malformed event", "error", err)
				msg.Ack()
				continue
			}

			select {
			case out <- e:
			case <-ctx.Done():
				msg.Ack()
				return
			default:
				b.logger.Warn("subscriber is behind, dropping event", "type", e.Type, "run_id", e.RunID)
			}
			msg.Ack()
		}
	}()

	return out, nil
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
