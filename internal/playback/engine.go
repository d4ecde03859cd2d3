// Package playback plays queued audio payloads strictly in the order
// they were enqueued.
//
// Payloads are decoded ahead of time on separate goroutines, so decodes
// complete in any order. Decode slots are handed out in enqueue order. The Engine's consumer loop only ever pulls the
// head of the queue and starts the next payload once the current one has
// finished playing, failed to decode or timed out.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"golang.org/x/sync/semaphore"

	"github.com/mgoltzsche/voice-chat/internal/observe"
)

const (
	DefaultDecodeTimeout = 10 * time.Second
	DefaultPrefetch      = 2
)

// Decoder turns an encoded payload into playable samples.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*audio.IntBuffer, error)
}

// Player plays a buffer at playback pace. It blocks until the buffer was handed to the device or the context got cancelled.
type Player interface {
	Play(ctx context.Context, buf *audio.IntBuffer) error
}

type Options struct {
	// DecodeTimeout bounds how long the head of the queue may wait for its decode result.
	// Zero disables the watchdog.
	DecodeTimeout time.Duration
	// Prefetch is the number of payloads that may be decoded concurrently.
	Prefetch int
	Metrics  *observe.Metrics
}

type Engine struct {
	decoder       Decoder
	player        Player
	decodeTimeout time.Duration
	metrics       *observe.Metrics
	sem           *semaphore.Weighted
	ctx           context.Context
	cancel        context.CancelFunc

	mutex   sync.Mutex
	queue   []*item
	current *item
	seq     int64

	// lastStarted is closed once the most recently enqueued payload got a decode slot.
	lastStarted <-chan struct{}
	idle        chan struct{}
	wake        chan struct{}
}

type item struct {
	seq        int64
	data       []byte
	cancel     context.CancelFunc
	prev       <-chan struct{}
	started    chan struct{}
	done       chan struct{}
	buffer     *audio.IntBuffer
	err        error
	playCancel context.CancelFunc
}

func NewEngine(decoder Decoder, player Player, opts Options) *Engine {
	if opts.Prefetch <= 0 {
		opts.Prefetch = DefaultPrefetch
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	started := make(chan struct{})
	close(started)

	return &Engine{
		decoder:       decoder,
		player:        player,
		decodeTimeout: opts.DecodeTimeout,
		metrics:       observe.OrDefault(opts.Metrics),
		sem:           semaphore.NewWeighted(int64(opts.Prefetch)),
		ctx:           ctx,
		cancel:        cancel,
		lastStarted:   started,
		idle:          idle,
		wake:          make(chan struct{}, 1),
	}
}

// Enqueue appends a payload to the queue, starts decoding it and returns its sequence number.
func (e *Engine) Enqueue(data []byte) int64 {
	ctx, cancel := context.WithCancel(e.ctx)

	e.mutex.Lock()
	e.seq++
	it := &item{
		seq:     e.seq,
		data:    data,
		cancel:  cancel,
		prev:    e.lastStarted,
		started: make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.lastStarted = it.started
	e.queue = append(e.queue, it)
	e.markBusy()
	e.mutex.Unlock()

	e.metrics.QueueLength.Add(ctx, 1)

	go e.decode(ctx, it)

	select {
	case e.wake <- struct{}{}:
	default:
	}

	return it.seq
}

func (e *Engine) decode(ctx context.Context, it *item) {
	defer close(it.done)

	startedClosed := false
	closeStarted := func() {
		if !startedClosed {
			startedClosed = true
			close(it.started)
		}
	}
	defer closeStarted()

	// queue behind the previous payload so that slots are acquired in enqueue order
	select {
	case <-it.prev:
	case <-ctx.Done():
		it.err = ctx.Err()
		return
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		it.err = err
		return
	}
	defer e.sem.Release(1)

	closeStarted()

	type result struct {
		buffer *audio.IntBuffer
		err    error
	}

	start := time.Now()
	ch := make(chan result, 1)

	go func() {
		buf, err := e.decoder.Decode(ctx, it.data)
		ch <- result{buf, err}
	}()

	select {
	case r := <-ch:
		it.buffer, it.err = r.buffer, r.err
		if it.err == nil && it.buffer == nil {
			it.err = errors.New("decoder returned no audio")
		}
		e.metrics.DecodeDuration.Record(ctx, time.Since(start).Seconds())
	case <-ctx.Done():
		// The decoder may not honour the context; its slot is released anyway.
		it.err = ctx.Err()
	}
}

// Run plays queued payloads one after another until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer e.cancel()

	for {
		if ctx.Err() != nil {
			return nil
		}

		it, playCtx := e.next(ctx)
		if it == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-e.wake:
			}
			continue
		}

		e.process(playCtx, it)
	}
}

// next moves the head of the queue into the playing slot.
func (e *Engine) next(ctx context.Context) (*item, context.Context) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.current != nil {
		e.current.playCancel()
		e.current = nil
	}

	if len(e.queue) == 0 {
		e.markIdle()
		return nil, nil
	}

	it := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]

	playCtx, cancel := context.WithCancel(ctx)
	it.playCancel = cancel
	e.current = it

	e.metrics.QueueLength.Add(ctx, -1)

	return it, playCtx
}

func (e *Engine) process(ctx context.Context, it *item) {
	defer it.cancel()

	// the watchdog only covers the decode itself, not the wait for a slot
	select {
	case <-it.started:
	case <-ctx.Done():
		e.metrics.RecordPlaybackItem(context.Background(), observe.StatusFlushed)
		return
	}

	var timeout <-chan time.Time
	if e.decodeTimeout > 0 {
		timer := time.NewTimer(e.decodeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-it.done:
	case <-timeout:
		it.cancel()
		slog.Warn("skipping audio payload since decoding timed out", "seq", it.seq, "timeout", e.decodeTimeout)
		e.metrics.RecordPlaybackItem(ctx, observe.StatusTimeout)
		return
	case <-ctx.Done():
		e.metrics.RecordPlaybackItem(context.Background(), observe.StatusFlushed)
		return
	}

	if it.err != nil {
		if ctx.Err() != nil {
			e.metrics.RecordPlaybackItem(context.Background(), observe.StatusFlushed)
			return
		}
		slog.Warn("skipping audio payload that failed to decode", "seq", it.seq, "err", it.err)
		e.metrics.RecordPlaybackItem(ctx, observe.StatusDecodeFailed)
		return
	}

	slog.Debug("playing audio payload", "seq", it.seq, "samples", len(it.buffer.Data))

	err := e.player.Play(ctx, it.buffer)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("audio playback interrupted", "seq", it.seq)
			e.metrics.RecordPlaybackItem(context.Background(), observe.StatusFlushed)
			return
		}
		slog.Warn("failed to play audio payload", "seq", it.seq, "err", err)
		e.metrics.RecordPlaybackItem(ctx, observe.StatusPlayFailed)
		return
	}

	e.metrics.RecordPlaybackItem(ctx, observe.StatusPlayed)
}

// Flush drops all queued payloads and interrupts the current playback.
// It returns the number of dropped payloads that had not started playing.
func (e *Engine) Flush() int {
	e.mutex.Lock()
	dropped := e.queue
	e.queue = nil
	current := e.current
	e.mutex.Unlock()

	for _, it := range dropped {
		it.cancel()
		e.metrics.RecordPlaybackItem(context.Background(), observe.StatusFlushed)
	}

	if len(dropped) > 0 {
		e.metrics.QueueLength.Add(context.Background(), -int64(len(dropped)))
		slog.Debug("flushed audio queue", "dropped", len(dropped))
	}

	if current != nil {
		current.playCancel()
	}

	select {
	case e.wake <- struct{}{}:
	default:
	}

	return len(dropped)
}

// Len returns the number of payloads waiting for playback.
func (e *Engine) Len() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return len(e.queue)
}

// Playing reports whether a payload is currently in the playing slot.
func (e *Engine) Playing() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.current != nil
}

// WaitIdle blocks until the queue is empty and nothing is playing.
func (e *Engine) WaitIdle(ctx context.Context) error {
	e.mutex.Lock()
	idle := e.idle
	e.mutex.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) markBusy() {
	select {
	case <-e.idle:
		e.idle = make(chan struct{})
	default:
	}
}

func (e *Engine) markIdle() {
	select {
	case <-e.idle:
	default:
		close(e.idle)
	}
}
