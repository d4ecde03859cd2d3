package pubsub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEvent struct {
	Value string
}

func TestPubSub(t *testing.T) {
	testee := New[fakeEvent]()
	s := testee.Subscribe(context.Background(), "test")
	defer s.Stop()

	eventCount := 3

	go func() {
		for i := 0; i < eventCount; i++ {
			testee.Publish(fakeEvent{Value: fmt.Sprintf("fake value %d", i)})
		}
	}()

	time.Sleep(100 * time.Millisecond)

	go func() {
		time.Sleep(time.Second)
		s.Stop()
		testee.Publish(fakeEvent{Value: "event sent after stop"})
	}()

	expected := []string{"fake value 0", "fake value 1", "fake value 2"}
	actual := make([]string, 0, 3)

	for evt := range s.ResultChan() {
		actual = append(actual, evt.Value)
	}

	require.Equal(t, expected, actual, "received events")
}

func TestPubSubKicksSlowSubscriber(t *testing.T) {
	testee := New[fakeEvent]().WithTimeout(10 * time.Millisecond)
	slow := testee.Subscribe(context.Background(), "slow")

	for i := 0; i < 11; i++ {
		testee.Publish(fakeEvent{Value: fmt.Sprintf("%d", i)})
	}

	count := 0
	for range slow.ResultChan() {
		count++
	}

	require.Equal(t, 10, count, "buffered events before the subscriber got kicked")
}

func TestPubSubStop(t *testing.T) {
	testee := New[fakeEvent]()
	s := testee.Subscribe(context.Background(), "test")

	testee.Stop()

	_, ok := <-s.ResultChan()
	require.False(t, ok, "subscription channel should be closed")

	_, ok = <-testee.Subscribe(context.Background(), "after-stop").ResultChan()
	require.False(t, ok, "subscription after stop should be closed")
}

func TestPublisherFunc(t *testing.T) {
	var received []fakeEvent
	var p Publisher[fakeEvent] = PublisherFunc[fakeEvent](func(e fakeEvent) {
		received = append(received, e)
	})

	p.Publish(fakeEvent{Value: "a"})

	require.Equal(t, []fakeEvent{{Value: "a"}}, received)
}
