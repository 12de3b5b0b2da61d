package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragit/core"
)

func testMessage(jobID string) Message {
	return Message{JobID: jobID, Source: core.SourcePlainText, Locator: "some text"}
}

func TestEnqueueReceiveAck(t *testing.T) {
	q := New()
	defer q.Close()

	require.NoError(t, q.Enqueue(testMessage("job-1")))

	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", d.JobID)
	assert.Equal(t, 1, d.Attempt)

	require.NoError(t, q.Ack(d.Receipt))
	assert.Equal(t, 0, q.Len())
}

func TestReceiveBlocksUntilEnqueue(t *testing.T) {
	q := New()
	defer q.Close()

	done := make(chan *Delivery, 1)
	go func() {
		d, err := q.Receive(context.Background())
		if err == nil {
			done <- d
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(testMessage("job-1")))

	select {
	case d := <-done:
		assert.Equal(t, "job-1", d.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake after enqueue")
	}
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	q := New(WithVisibilityTimeout(30 * time.Millisecond))
	defer q.Close()

	require.NoError(t, q.Enqueue(testMessage("job-1")))

	first, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Attempt)

	// Do not ack; wait for the visibility timeout to expire.
	second, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-1", second.JobID)
	assert.Equal(t, 2, second.Attempt)

	// The first receipt is stale now.
	assert.ErrorIs(t, q.Ack(first.Receipt), ErrUnknownReceipt)
	require.NoError(t, q.Ack(second.Receipt))
}

func TestNackRequeuesImmediately(t *testing.T) {
	q := New(WithVisibilityTimeout(time.Hour))
	defer q.Close()

	require.NoError(t, q.Enqueue(testMessage("job-1")))

	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Nack(d.Receipt))

	redelivered, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempt)
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	q := New(WithVisibilityTimeout(time.Hour), WithMaxAttempts(2))
	defer q.Close()

	require.NoError(t, q.Enqueue(testMessage("job-1")))

	for i := 0; i < 2; i++ {
		d, err := q.Receive(context.Background())
		require.NoError(t, err)
		require.NoError(t, q.Nack(d.Receipt))
	}

	// Third delivery attempt exceeds the limit; the message must be
	// dead-lettered, so Receive should block until cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "job-1", dead[0].JobID)
}

func TestReceiveContextCancelled(t *testing.T) {
	q := New()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseWakesReceivers(t *testing.T) {
	q := New()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Receive(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake after close")
	}

	assert.ErrorIs(t, q.Enqueue(testMessage("job-2")), ErrQueueClosed)
}
