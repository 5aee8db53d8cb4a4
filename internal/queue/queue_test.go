package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendwatch/tendwatch/internal/bus"
)

func testMsg(chatID, content string) bus.InboundMessage {
	return bus.InboundMessage{Platform: bus.PlatformTelegram, ChatID: chatID, SenderID: chatID, Content: content}
}

func TestEnqueue_RejectsInvalidPlatform(t *testing.T) {
	m := New(Config{}, func(ctx context.Context, msg bus.InboundMessage) error { return nil }, nil)
	err := m.Enqueue(context.Background(), bus.InboundMessage{Platform: "carrier-pigeon", ChatID: "1"})
	assert.Error(t, err)
}

func TestProcess_NoMergeWindowProcessesImmediately(t *testing.T) {
	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 10)

	m := New(Config{}, func(ctx context.Context, msg bus.InboundMessage) error {
		mu.Lock()
		received = append(received, msg.Content)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	require.NoError(t, m.Enqueue(context.Background(), testMsg("c1", "hello")))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for process")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hello"}, received)
}

func TestMergeWindow_CoalescesBurst(t *testing.T) {
	var mu sync.Mutex
	var received []string
	done := make(chan struct{}, 10)
	release := make(chan struct{})
	first := true

	m := New(Config{MergeWindow: 50 * time.Millisecond}, func(ctx context.Context, msg bus.InboundMessage) error {
		if first {
			first = false
			<-release // hold the first dispatch in flight so the burst below has to queue behind it
		}
		mu.Lock()
		received = append(received, msg.Content)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "first"))) // idle lane: dispatches immediately
	time.Sleep(20 * time.Millisecond)                          // let it claim processing
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "part one")))
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "part two")))
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "part three")))
	close(release)

	<-done // "first"
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merged process")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2, "the three messages arriving while the lane was busy must coalesce into one process call")
	assert.Equal(t, "first", received[0])
	assert.Equal(t, "part one\npart two\npart three", received[1])
}

func TestQueue_AtMostOneInFlightPerChannel(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight := 0
	maxObserved := 0

	m := New(Config{}, func(ctx context.Context, msg bus.InboundMessage) error {
		mu.Lock()
		inFlight++
		if inFlight > maxObserved {
			maxObserved = inFlight
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "first")))
	time.Sleep(20 * time.Millisecond) // let the first dispatch claim processing
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "second")))

	assert.True(t, m.IsProcessing("telegram:c1"))

	close(release)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxObserved, "no two process calls for the same channel should overlap")
}

func TestQueue_FIFOOrderWithinChannel(t *testing.T) {
	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 10)

	release := make(chan struct{})
	first := true

	m := New(Config{}, func(ctx context.Context, msg bus.InboundMessage) error {
		if first {
			first = false
			<-release // hold the first message in-flight until both are queued
		}
		mu.Lock()
		order = append(order, msg.Content)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "one")))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "two")))
	close(release)

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, order)
}

func TestBackpressure_RejectsBeyondMaxDepth(t *testing.T) {
	block := make(chan struct{})
	var rejected []bus.InboundMessage
	var mu sync.Mutex

	m := New(Config{MaxDepth: 1}, func(ctx context.Context, msg bus.InboundMessage) error {
		<-block
		return nil
	}, func(channelID string, msg bus.InboundMessage) {
		mu.Lock()
		rejected = append(rejected, msg)
		mu.Unlock()
	})

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "in flight")))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "queued")))
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "overflow")))

	close(block)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, rejected, 1)
	assert.Equal(t, "overflow", rejected[0].Content)
}

func TestChannelIsolation_SeparateChannelsDontBlockEachOther(t *testing.T) {
	var mu sync.Mutex
	var order []string
	block1 := make(chan struct{})
	done := make(chan struct{}, 2)

	m := New(Config{}, func(ctx context.Context, msg bus.InboundMessage) error {
		if msg.ChatID == "c1" {
			<-block1
		}
		mu.Lock()
		order = append(order, msg.ChatID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, nil)

	ctx := context.Background()
	require.NoError(t, m.Enqueue(ctx, testMsg("c1", "blocked")))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Enqueue(ctx, testMsg("c2", "unblocked")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("channel c2 should process without waiting on c1")
	}

	mu.Lock()
	assert.Equal(t, []string{"c2"}, order)
	mu.Unlock()

	close(block1)
	<-done
}
