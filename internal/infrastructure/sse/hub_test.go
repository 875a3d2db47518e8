package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

func TestHubDeliversOnlyToBookingSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("SS-20250101-0001")
	b := h.Subscribe("SS-20250101-0002")
	require.Equal(t, 2, h.ClientCount())

	applied := []flow.Change{{Entity: flow.EntitySession, From: "REQUESTED", To: "APPROVED"}}
	h.TransitionCommitted("SS-20250101-0001", applied, nil)

	select {
	case ev := <-a.Events:
		assert.Equal(t, "SS-20250101-0001", ev.BookingRef)
		assert.Equal(t, applied, ev.Applied)
	default:
		t.Fatal("expected an event for the subscribed booking")
	}
	assert.Empty(t, b.Events)
}

func TestHubDropsWhenClientIsFull(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("SS-20250101-0001")
	for i := 0; i < h.buffer+5; i++ {
		h.TransitionCommitted("SS-20250101-0001", nil, nil)
	}
	assert.Len(t, c.Events, h.buffer)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("SS-20250101-0001")
	h.Unsubscribe(c.ID)
	h.Unsubscribe(c.ID)

	_, open := <-c.Events
	assert.False(t, open)
	assert.Equal(t, 0, h.ClientCount())

	d := h.Subscribe("SS-20250101-0001")
	h.Stop()
	_, open = <-d.Events
	assert.False(t, open)
}
