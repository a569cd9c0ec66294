package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEventTypePassthrough(t *testing.T) {
	eventType, err := ResolveEventType(string(EventSeatsHeld), []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, EventSeatsHeld, eventType)
}

func TestResolveEventTypePaymentEnvelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want EventType
	}{
		{"success", `{"eventType":"PAYMENT_SUCCESS","bookingId":"b1"}`, EventPaymentSuccess},
		{"failed", `{"eventType":"PAYMENT_FAILED","bookingId":"b1"}`, EventPaymentFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveEventType(TopicPaymentEvent, []byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ResolveEventType(TopicPaymentEvent, []byte(`{"eventType":"REFUND"}`))
	assert.Error(t, err, "unknown payment event type must be rejected")

	_, err = ResolveEventType(TopicPaymentEvent, []byte("not json"))
	assert.Error(t, err, "malformed payment envelope must be rejected")
}

func TestCorrelationKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"saga id wins", `{"sagaId":"saga-1","bookingId":"booking-1"}`, "saga-1"},
		{"booking id fallback", `{"bookingId":"booking-1"}`, "booking-1"},
		{"neither present", `{"userId":"user-1"}`, ""},
		{"malformed", `not json`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CorrelationKey([]byte(tc.raw)))
		})
	}
}

func TestSeatsHeldEventSeatIDs(t *testing.T) {
	event := SeatsHeldEvent{
		Seats: []Seat{{ID: "A1", PriceRatio: 1}, {ID: "B2", PriceRatio: 1.5}},
	}
	assert.Equal(t, []string{"A1", "B2"}, event.SeatIDs())
}

func TestInboundTopicsCoverEveryHandler(t *testing.T) {
	topics := InboundTopics()
	assert.Contains(t, topics, string(EventSeatsHeld))
	assert.Contains(t, topics, TopicPaymentEvent)
	assert.Contains(t, topics, string(EventBookingFailed))
	assert.NotContains(t, topics, string(EventPaymentSuccess),
		"payment outcomes arrive on the shared payment_event topic")
}
