package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublisherDeliversToExchange(t *testing.T) {
	uri := os.Getenv("AMQP_URL")
	if uri == "" {
		t.Skip("AMQP_URL not set")
	}

	publisher, err := DialPublisher(uri, "reservations-test")
	require.NoError(t, err)
	defer publisher.Close()

	ch, err := publisher.conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "reservation.*", "reservations-test", false, nil))

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, publisher.Deliver(ctx, createdEvent("alice")))

	select {
	case d := <-deliveries:
		require.Equal(t, "reservation.created", d.RoutingKey)
		var msg Message
		require.NoError(t, json.Unmarshal(d.Body, &msg))
		require.Equal(t, "res-1", msg.ReservationID)
	case <-ctx.Done():
		t.Fatal("no delivery received")
	}
}
