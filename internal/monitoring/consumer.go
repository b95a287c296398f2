package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Sink is what a consumed event is turned into a row for. The admin package
// satisfies this via its Repository.
type Sink interface {
	InsertWSConnection(ctx context.Context, domainID, channelID, channelName, socketID string, connectedUser *string) error
	EnsureChannel(ctx context.Context, domainID, name string) (string, error)
	MarkDisconnected(ctx context.Context, socketID string) error
	MarkDisconnectedByChannel(ctx context.Context, socketID, channelName string) error
}

// Consume reads Topic from brokers under groupID until ctx is canceled,
// applying each event to sink. It is the body of cmd/monitortail: a
// standalone process, never called by cmd/server, so a monitoring outage
// cannot affect the connection hot path.
func Consume(ctx context.Context, brokers []string, groupID string, sink Sink) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   Topic,
	})
	defer reader.Close()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("monitoring: read: %w", err)
		}

		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			slog.Error("monitoring: malformed event on topic", "error", err)
			continue
		}
		if err := apply(ctx, sink, e); err != nil {
			slog.Error("monitoring: failed to apply event", "socket_id", e.SocketID, "event_type", e.Type, "error", err)
		}
	}
}

func apply(ctx context.Context, sink Sink, e Event) error {
	switch e.Type {
	case EventConnect:
		return nil
	case EventSubscribe:
		if e.Channel == "" {
			return nil
		}
		channelID, err := sink.EnsureChannel(ctx, e.DomainID, e.Channel)
		if err != nil {
			return err
		}
		return sink.InsertWSConnection(ctx, e.DomainID, channelID, e.Channel, e.SocketID, nil)
	case EventUnsubscribe:
		if e.Channel == "" {
			return nil
		}
		return sink.MarkDisconnectedByChannel(ctx, e.SocketID, e.Channel)
	case EventDisconnect:
		return sink.MarkDisconnected(ctx, e.SocketID)
	default:
		return nil
	}
}
