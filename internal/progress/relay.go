package progress

import "context"

// Relay feeds sub's events for handle into pub until the handle's terminal
// event has been delivered. It is how sinks that write to a terminal or a
// pipe (BarReporter, JSONReporter) follow a run: a stalled sink holds up
// only the relay while the broker keeps coalescing behind it.
//
// Subscribe before the run starts so no event is missed.
func Relay(ctx context.Context, sub *Subscription, handle string, pub Publisher) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Handle != handle {
			continue
		}
		pub.Publish(ev)
		if ev.Phase.Terminal() {
			return nil
		}
	}
}
