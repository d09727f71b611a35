/*
Package events provides an in-memory broker that fans controller events out to
subscribers.

The controller publishes an event for every evaluation, every decision loop
transition and every recorded rollback. The CLI streams them to the terminal
and the metrics collector turns them into Prometheus series.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────┐
	│                                                        │
	│  Publish ──► event channel (buffer 100)                │
	│                    │                                   │
	│                    ▼                                   │
	│             broadcast loop                             │
	│                    │                                   │
	│        ┌───────────┼───────────┐                       │
	│        ▼           ▼           ▼                       │
	│   subscriber   subscriber   subscriber  (buffer 50)    │
	└────────────────────────────────────────────────────────┘

Delivery is best effort. A subscriber whose buffer is full misses the event
instead of stalling the broadcast loop, so a slow consumer never holds back
the decision loop. Consumers that need every transition use the channel
returned by controller.Monitor instead.

# Event Types

  - lineage.evaluated: carries the Evaluation
  - loop.transition: carries the Transition
  - rollback.started: carries the initiated RollbackEvent
  - rollback.done: carries a RollbackEvent with its final outcome
  - deploy.image_updated, deploy.scaled: deploy operations

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		if ev.Type == events.EventTransition {
			fmt.Println(ev.Transition.From, "->", ev.Transition.To)
		}
	}

Stop closes every subscriber channel, so range loops end. Publish never
blocks once the broker is stopped.
*/
package events
