package broadcast

import "context"

// Sink observes every event the hub accepts, independently of subscriber
// fan-out. Implementations must honor ctx deadlines and may be invoked from
// the hub's publish path concurrently with subscriber delivery.
type Sink interface {
	Consume(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Publisher is the half of the hub the pipeline sees; workers stay agnostic
// about subscribers and sinks.
type Publisher interface {
	Publish(evt Event)
}
