package metrics

import (
	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/types"
)

var loopStates = []types.State{
	types.StateMonitoring,
	types.StateRollingBack,
	types.StateVerifying,
	types.StateStable,
	types.StateFailed,
	types.StateCancelled,
}

// Collector turns controller events into decision loop and rollback metrics
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a collector fed by broker
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start subscribes to the broker and begins collecting
func (c *Collector) Start() {
	c.sub = c.broker.Subscribe()
	go func() {
		defer close(c.doneCh)
		for {
			select {
			case ev, ok := <-c.sub:
				if !ok {
					return
				}
				c.collect(ev)
			case <-c.stopCh:
				c.broker.Unsubscribe(c.sub)
				return
			}
		}
	}()
}

// Stop stops the collector and waits for it to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collect(ev *events.Event) {
	switch ev.Type {
	case events.EventTransition:
		if ev.Transition != nil {
			c.collectTransition(ev.Transition)
		}
	case events.EventRollbackDone:
		if ev.Rollback != nil {
			RollbacksTotal.WithLabelValues(
				ev.Rollback.Lineage,
				string(ev.Rollback.TriggeredBy),
				string(ev.Rollback.Outcome),
			).Inc()
		}
	}
}

func (c *Collector) collectTransition(t *types.Transition) {
	TransitionsTotal.WithLabelValues(t.Lineage, string(t.To)).Inc()

	for _, s := range loopStates {
		v := 0.0
		if s == t.To {
			v = 1
		}
		LoopState.WithLabelValues(t.Lineage, string(s)).Set(v)
	}

	if t.To.Terminal() {
		TerminalStatesTotal.WithLabelValues(t.Lineage, string(t.To), string(t.Reason)).Inc()
	}
}
