package sigtransport

import (
	"context"
	"encoding/base64"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// workerTimeout is the hard per-job timeout the utility worker enforces
// (spec §4.9).
const workerTimeout = 60 * time.Second

type workerJob struct {
	id     uint64
	fn     string
	arg    []byte
	result chan workerResult
}

type workerResult struct {
	value []byte
	err   error
}

// workerFunc is one of the codec functions the utility worker exposes.
type workerFunc func([]byte) ([]byte, error)

var workerFuncs = map[string]workerFunc{
	// stringToArrayBufferBase64 encodes raw bytes to their base64 string
	// form, returned as the ASCII bytes of that string.
	"stringToArrayBufferBase64": func(in []byte) ([]byte, error) {
		return []byte(base64.StdEncoding.EncodeToString(in)), nil
	},
	// arrayBufferToStringBase64 is the inverse: in holds the ASCII bytes of
	// a base64 string, out is the decoded raw bytes.
	"arrayBufferToStringBase64": func(in []byte) ([]byte, error) {
		return base64.StdEncoding.DecodeString(string(in))
	},
}

// Worker is the off-thread codec service of spec §4.9: jobs are assigned a
// monotonically increasing id, processed one at a time on a single
// goroutine (mirroring the source's separate single-threaded worker
// context), and matched back to the caller by id.
type Worker struct {
	mu     sync.Mutex
	nextID uint64
	jobs   map[uint64]chan workerResult
	input  chan *workerJob
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewWorker starts the worker loop. Callers should call Shutdown when done.
func NewWorker(ctx context.Context, log zerolog.Logger) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		jobs:   make(map[uint64]chan workerResult),
		input:  make(chan *workerJob, 64),
		cancel: cancel,
		log:    log.With().Str("component", "utility_worker").Logger(),
	}
	go w.loop(ctx)
	return w
}

func (w *Worker) loop(ctx context.Context) {
	defer w.drainAll(fmt.Errorf("sigtransport: worker stopped"))
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.input:
			w.runJob(job)
		}
	}
}

func (w *Worker) runJob(job *workerJob) {
	defer func() {
		if p := recover(); p != nil {
			w.log.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Msg("worker job panicked")
			w.deliver(job.id, workerResult{err: fmt.Errorf("sigtransport: worker job panicked: %v", p)})
		}
	}()

	fn, ok := workerFuncs[job.fn]
	if !ok {
		w.deliver(job.id, workerResult{err: fmt.Errorf("sigtransport: unknown worker function %q", job.fn)})
		return
	}
	out, err := fn(job.arg)
	w.deliver(job.id, workerResult{value: out, err: err})
}

func (w *Worker) deliver(id uint64, result workerResult) {
	w.mu.Lock()
	ch, ok := w.jobs[id]
	delete(w.jobs, id)
	w.mu.Unlock()
	if ok {
		ch <- result
	}
}

func (w *Worker) drainAll(cause error) {
	w.mu.Lock()
	jobs := w.jobs
	w.jobs = make(map[uint64]chan workerResult)
	w.mu.Unlock()
	for _, ch := range jobs {
		ch <- workerResult{err: cause}
	}
}

// CallWorker posts a codec job and waits up to 60 seconds for a reply. On
// timeout the call returns ErrWorkerTimeout but the job entry stays
// registered so the eventual real reply still gets delivered and cleaned
// up (spec §4.9 / Design Notes §9).
func (w *Worker) CallWorker(ctx context.Context, fnName string, arg []byte) ([]byte, error) {
	w.mu.Lock()
	w.nextID++
	id := w.nextID
	resultCh := make(chan workerResult, 1)
	w.jobs[id] = resultCh
	w.mu.Unlock()

	select {
	case w.input <- &workerJob{id: id, fn: fnName, arg: arg, result: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	timer := time.NewTimer(workerTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-timer.C:
		return nil, ErrWorkerTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the worker loop, rejecting any jobs still outstanding.
func (w *Worker) Shutdown() {
	w.cancel()
}
