package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/coinfall/internal/model"
)

func TestFanoutDeliversToEverySink(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	f := Fanout{a, Nop{}, b}

	f.Publish(context.Background(), model.Event{Type: model.EventTick, UserID: 1})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestFilterForwardsListedTypesOnly(t *testing.T) {
	rec := &Recorder{}
	f := Filter{Types: []model.EventType{model.EventRoundSettled}, Next: rec}

	f.Publish(context.Background(), model.Event{Type: model.EventTick})
	f.Publish(context.Background(), model.Event{Type: model.EventRoundSettled})
	f.Publish(context.Background(), model.Event{Type: model.EventItemSpawned})

	events := rec.Events()
	assert.Len(t, events, 1)
	assert.Equal(t, model.EventRoundSettled, events[0].Type)
}

func TestRecorderOfTypeAndReset(t *testing.T) {
	rec := &Recorder{}
	rec.Publish(context.Background(), model.Event{Type: model.EventTick})
	rec.Publish(context.Background(), model.Event{Type: model.EventTick})
	rec.Publish(context.Background(), model.Event{Type: model.EventStateChanged})

	assert.Len(t, rec.OfType(model.EventTick), 2)

	rec.Reset()
	assert.Empty(t, rec.Events())
}
