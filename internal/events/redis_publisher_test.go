package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisPublisherWritesEnvelope(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewRedisPublisher(client, "")
	payload := map[string]string{"transactionId": "tx-1", "status": "COMPLETED"}
	require.NoError(t, publisher.Publish(context.Background(), TransactionCompleted, payload))

	msgs, err := client.XRange(context.Background(), TransactionEventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	raw, ok := msgs[0].Values["event"].(string)
	require.True(t, ok)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(raw), &event))
	assert.Equal(t, TransactionCompleted, event.Type)
	assert.False(t, event.Timestamp.IsZero())

	data, ok := event.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tx-1", data["transactionId"])
	assert.Equal(t, "COMPLETED", data["status"])
}

func TestRedisPublisherAppendsInOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	publisher := NewRedisPublisher(client, "custom.stream")
	require.NoError(t, publisher.Publish(context.Background(), TransactionInitiated, nil))
	require.NoError(t, publisher.Publish(context.Background(), TransactionFailed, nil))

	msgs, err := client.XRange(context.Background(), "custom.stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	var types []string
	for _, msg := range msgs {
		var event Event
		require.NoError(t, json.Unmarshal([]byte(msg.Values["event"].(string)), &event))
		types = append(types, event.Type)
	}
	assert.Equal(t, []string{TransactionInitiated, TransactionFailed}, types)
}
