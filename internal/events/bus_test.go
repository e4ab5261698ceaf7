package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliveryOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "first:"+e.Type) })
	bus.Subscribe(func(e Event) { got = append(got, "second:"+e.Type) })

	bus.Publish(TypeAlertCreated, map[string]any{"alert_id": "a1"})
	bus.Publish(TypeAlertResolved, nil)

	require.Len(t, got, 4)
	assert.Equal(t, []string{
		"first:alert.created",
		"second:alert.created",
		"first:alert.resolved",
		"second:alert.resolved",
	}, got)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() {
		bus.Publish(TypeMonitoringStarted, nil)
	})
}
