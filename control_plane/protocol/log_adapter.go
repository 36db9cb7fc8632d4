package protocol

import (
	"context"
	"log"

	"github.com/itskum47/fleetops/control_plane/streaming"
)

// LogAdapter accepts every message and republishes it on the outbound topic.
// It stands in for transports that are not wired in this deployment.
type LogAdapter struct {
	publisher streaming.Publisher
}

func NewLogAdapter(publisher streaming.Publisher) *LogAdapter {
	return &LogAdapter{publisher: publisher}
}

func (a *LogAdapter) ProcessMessage(ctx context.Context, msg Message) (Result, error) {
	if a.publisher != nil {
		if err := a.publisher.Publish(ctx, streaming.TopicProtocolOut, msg); err != nil {
			log.Printf("[PROTOCOL] publish for %s failed: %v", msg.TargetSystem, err)
		}
	}
	return Result{Success: true}, nil
}
