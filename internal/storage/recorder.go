package storage

import (
	"context"
	"strings"

	"svcnotify/internal/eventbus"
	logx "svcnotify/pkg/logx"
)

const recorderBuffer = 128

// Record appends every transition event published on bus to st until ctx
// is done. It never blocks the publisher; a full buffer drops events.
func Record(ctx context.Context, bus eventbus.Bus, st Store, log logx.Logger) error {
	if bus == nil || st == nil {
		return nil
	}
	events, unsubscribe := bus.Subscribe(recorderBuffer)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			t, ok := transitionFromEvent(ev)
			if !ok {
				continue
			}
			if err := st.AppendTransition(ctx, t); err != nil && ctx.Err() == nil {
				log.Warn("history append failed", logx.String("unit", t.Unit), logx.Err(err))
			}
		}
	}
}

func transitionFromEvent(ev eventbus.Event) (Transition, bool) {
	kind, ok := strings.CutPrefix(ev.Type, "transition.")
	if !ok {
		return Transition{}, false
	}
	data, ok := ev.Data.(eventbus.Transition)
	if !ok {
		return Transition{}, false
	}
	return Transition{
		At:      ev.Time,
		Kind:    kind,
		Unit:    data.Unit,
		Active:  data.Active,
		Sub:     data.Sub,
		Message: data.Message,
		Error:   data.Error,
	}, true
}
