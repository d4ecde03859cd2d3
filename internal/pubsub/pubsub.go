package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Publisher[E any] interface {
	Publish(evt E)
}

type Subscriber[E any] interface {
	Subscribe(ctx context.Context, name string) Subscription[E]
}

type Subscription[E any] interface {
	ResultChan() <-chan E
	Stop()
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc[E any] func(evt E)

func (f PublisherFunc[E]) Publish(evt E) {
	f(evt)
}

// PubSub fans events out to all of its subscribers.
// A subscriber that does not accept an event within the timeout is kicked.
type PubSub[E any] struct {
	mutex         sync.RWMutex
	subscriptions map[int64]*subscription[E]
	seq           int64
	stopped       bool
	bufferSize    int
	timeout       time.Duration
}

func New[E any]() *PubSub[E] {
	return &PubSub[E]{
		subscriptions: map[int64]*subscription[E]{},
		bufferSize:    10,
		timeout:       20 * time.Second,
	}
}

// WithTimeout sets how long Publish waits for a subscriber before it kicks it.
func (p *PubSub[E]) WithTimeout(timeout time.Duration) *PubSub[E] {
	p.timeout = timeout
	return p
}

func (p *PubSub[E]) Stop() {
	p.mutex.Lock()
	p.stopped = true
	subscriptions := make([]*subscription[E], 0, len(p.subscriptions))
	for _, s := range p.subscriptions {
		subscriptions = append(subscriptions, s)
	}
	p.mutex.Unlock()

	for _, s := range subscriptions {
		s.cancel()
	}
}

func (p *PubSub[E]) Subscribe(ctx context.Context, name string) Subscription[E] {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.stopped {
		return noopSubscription[E](name)
	}

	p.seq++

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription[E]{
		id:     p.seq,
		name:   name,
		cancel: cancel,
		pubsub: p,
		ch:     make(chan E, p.bufferSize),
	}
	p.subscriptions[s.id] = s

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s
}

func (p *PubSub[E]) Publish(evt E) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.stopped {
		return
	}

	for _, s := range p.subscriptions {
		select {
		case s.ch <- evt:
		case <-time.After(p.timeout):
			slog.Warn("kicking subscriber since it timed out accepting the event", "subscriber", s.name, "timeout", p.timeout)
			go s.Stop()
		}
	}
}

type subscription[E any] struct {
	pubsub *PubSub[E]
	id     int64
	name   string
	cancel context.CancelFunc
	ch     chan E
	closed bool
}

func (s *subscription[E]) Stop() {
	s.pubsub.mutex.Lock()
	delete(s.pubsub.subscriptions, s.id)
	closed := s.closed
	s.closed = true
	s.pubsub.mutex.Unlock()
	if !closed {
		close(s.ch)
		s.cancel()
	}
}

func (s *subscription[E]) ResultChan() <-chan E {
	return s.ch
}

type noopSubscription[E any] string

func (noopSubscription[E]) Stop() {}

func (noopSubscription[E]) ResultChan() <-chan E {
	ch := make(chan E)
	close(ch)
	return ch
}
