package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opaquemesh/platform/infrastructure/metrics"
)

type request struct {
	run   func(ctx context.Context) (interface{}, error)
	reply chan response
}

type response struct {
	value interface{}
	err   error
}

// Service is the single-writer Storage service of spec §4.3. All requests
// arrive on one channel, are handled sequentially against engine, and
// responses return on a per-request reply channel; this linearization is
// the service's sole source of atomicity.
type Service struct {
	engine  Engine
	log     zerolog.Logger
	metrics *metrics.Metrics

	requests chan request
	done     chan struct{}
}

// New constructs a Storage service over engine. Call Run to start its
// single-writer loop before issuing requests.
func New(engine Engine, log zerolog.Logger) *Service {
	return &Service{
		engine:   engine,
		log:      log,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
}

// SetMetrics attaches a Metrics collector so every Get/Put/Delete/Enqueue/
// Dequeue records its duration and outcome (SPEC_FULL.md's Prometheus
// wiring for the Storage engine).
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run processes requests sequentially until ctx is canceled. It must be
// started exactly once, typically in its own goroutine.
func (s *Service) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			value, err := req.run(ctx)
			req.reply <- response{value: value, err: err}
		}
	}
}

// Done is closed once Run returns.
func (s *Service) Done() <-chan struct{} { return s.done }

func (s *Service) submit(ctx context.Context, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	req := request{run: run, reply: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp.value, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// submitTimed is submit plus a StorageOpsTotal/StorageOpDuration recording
// under operation's name, used by every public method below.
func (s *Service) submitTimed(ctx context.Context, operation string, run func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	v, err := s.submit(ctx, run)
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordStorageOp(operation, status, time.Since(start))
	}
	return v, err
}

// Get performs a scalar read.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.submitTimed(ctx, "get", func(ctx context.Context) (interface{}, error) {
		value, ok, err := s.engine.Get(ctx, key)
		return getResult{value, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(getResult)
	return r.value, r.ok, nil
}

type getResult struct {
	value []byte
	ok    bool
}

// Put performs a scalar write.
func (s *Service) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.submitTimed(ctx, "put", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.Put(ctx, key, value)
	})
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("put failed")
	}
	return err
}

// Delete removes a scalar key.
func (s *Service) Delete(ctx context.Context, key string) error {
	_, err := s.submitTimed(ctx, "delete", func(ctx context.Context) (interface{}, error) {
		return nil, s.engine.Delete(ctx, key)
	})
	return err
}

// Enqueue appends value to the named FIFO queue.
func (s *Service) Enqueue(ctx context.Context, queue string, value []byte) error {
	_, err := s.submitTimed(ctx, "enqueue", func(ctx context.Context) (interface{}, error) {
		return nil, enqueue(ctx, s.engine, queue, value)
	})
	if err != nil {
		s.log.Error().Err(err).Str("queue", queue).Msg("enqueue failed")
	} else {
		s.log.Debug().Str("queue", queue).Int("bytes", len(value)).Msg("enqueued")
	}
	return err
}

// Dequeue pops the head element of the named FIFO queue. ok is false if the
// queue was empty.
func (s *Service) Dequeue(ctx context.Context, queue string) (value []byte, ok bool, err error) {
	v, err := s.submitTimed(ctx, "dequeue", func(ctx context.Context) (interface{}, error) {
		value, ok, err := dequeue(ctx, s.engine, queue)
		return dequeueResult{value, ok}, err
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(dequeueResult)
	return r.value, r.ok, nil
}

type dequeueResult struct {
	value []byte
	ok    bool
}

// QueueDepth returns the number of elements currently enqueued.
func (s *Service) QueueDepth(ctx context.Context, queue string) (uint32, error) {
	v, err := s.submitTimed(ctx, "queue_depth", func(ctx context.Context) (interface{}, error) {
		return queueDepth(ctx, s.engine, queue)
	})
	if err != nil {
		return 0, err
	}
	depth, ok := v.(uint32)
	if !ok {
		return 0, fmt.Errorf("storage: unexpected queue depth result type %T", v)
	}
	return depth, nil
}

// StagedTaskQueue is the well-known queue name Management stages tasks into
// and the Scheduler dequeues from (spec §2, §4.4, §4.5).
const StagedTaskQueue = "staged-task"
