package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_PublishConsumeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	q := NewInMemory(4)
	job := FinalizeJob{CourseID: "course-1", Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}
	body, err := json.Marshal(job)
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, Message{Type: "finalize", Body: body}))

	messages, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		assert.Equal(t, "finalize", msg.Type)
		var got FinalizeJob
		require.NoError(t, json.Unmarshal(msg.Body, &got))
		assert.Equal(t, job, got)
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestInMemory_PublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{Type: "finalize"}))

	// Queue full: a canceled context unblocks the publisher.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err := q.Publish(canceled, Message{Type: "finalize"})
	assert.ErrorIs(t, err, context.Canceled)
}
