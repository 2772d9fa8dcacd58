// Package dispatch runs the per-connection task loop: read a frame, decode
// it, execute the workload on the pool, write the result back.
//
// Exactly one task is in flight per connection. The next frame is not
// decoded or handed to the workload until the previous result has been
// written. A reader goroutine keeps pulling from the socket into a FIFO so a
// dropped connection is noticed while a slow workload is still running, even
// when further frames are already queued.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tri2820/backend/indexer/internal/codec"
	"github.com/tri2820/backend/indexer/internal/model"
	"github.com/tri2820/backend/indexer/internal/pool"
	"github.com/tri2820/backend/indexer/internal/workload"
	"github.com/tri2820/backend/indexer/internal/ws"
)

// FrameConn is the part of a connection the loop needs
type FrameConn interface {
	ReadFrame() (codec.Frame, error)
	WriteFrame(codec.Frame) error
}

// Submitter runs blocking jobs off the connection goroutine
type Submitter interface {
	Submit(ctx context.Context, job pool.Job) (<-chan error, error)
}

// TaskEvent describes one task execution
type TaskEvent struct {
	SessionID string
	Task      model.Task
	Started   time.Time
	Duration  time.Duration
	Err       error
}

// Observer is notified about task processing. OnTaskStarted and
// OnTaskFinished are called from pool goroutines.
type Observer interface {
	OnTaskStarted(ev TaskEvent)
	OnTaskFinished(ev TaskEvent)
	OnDecodeError(sessionID string, err error)
}

// Options configures a Loop
type Options struct {
	Executor workload.Executor
	Pool     Submitter

	// WorkContext is handed to every workload. It is the process context,
	// not the connection's: a dropped connection never cancels a task.
	WorkContext context.Context

	Observers []Observer
	Logger    *zap.SugaredLogger
}

// Loop dispatches tasks arriving on a connection to the workload
type Loop struct {
	exec      workload.Executor
	pool      Submitter
	workCtx   context.Context
	observers []Observer
	log       *zap.SugaredLogger
}

// New creates a dispatch loop
func New(opts Options) *Loop {
	if opts.WorkContext == nil {
		opts.WorkContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Loop{
		exec:      opts.Executor,
		pool:      opts.Pool,
		workCtx:   opts.WorkContext,
		observers: opts.Observers,
		log:       opts.Logger,
	}
}

// Serve implements ws.Handler
func (l *Loop) Serve(ctx context.Context, conn *ws.Conn) error {
	return l.Run(ctx, conn)
}

// Run processes frames from conn until the connection fails or ctx ends.
// The returned error is the reason the connection is no longer usable.
func (l *Loop) Run(ctx context.Context, conn FrameConn) error {
	sessionID := uuid.NewString()
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// the reader never blocks on the loop, so pongs and closes are seen
	// while a task runs
	queue := newFrameQueue()
	go func() {
		for {
			f, err := conn.ReadFrame()
			if err != nil {
				cancel(err)
				return
			}
			queue.push(f)
		}
	}()

	for {
		f, ok := queue.pop()
		if !ok {
			select {
			case <-connCtx.Done():
				return context.Cause(connCtx)
			case <-queue.ready:
			}
			continue
		}
		if cause := context.Cause(connCtx); cause != nil {
			return cause
		}

		msg, err := codec.Decode(f)
		if err != nil {
			l.log.Warnf("dropping frame: %v", err)
			for _, o := range l.observers {
				o.OnDecodeError(sessionID, err)
			}
			continue
		}

		task := newTask(msg)
		l.log.Infof("received task %s (type=%q, payload=%d bytes)", task.ID, task.Type(), len(task.Payload))

		res, err := l.execute(connCtx, sessionID, task)
		if cause := context.Cause(connCtx); cause != nil {
			l.log.Warnf("connection lost while task %s was running; its result will be discarded", task.ID)
			return cause
		}
		if err != nil {
			l.log.Errorf("task %s failed: %v", task.ID, err)
			continue
		}

		out, err := codec.Encode(res.Header, res.Payload)
		if err != nil {
			l.log.Errorf("task %s: cannot encode result: %v", task.ID, err)
			continue
		}
		if err := conn.WriteFrame(out); err != nil {
			return err
		}
		l.log.Infof("sent result for task %s (%d bytes)", task.ID, len(out.Data))
	}
}

// execute runs the task on the pool and waits for it or for the connection
// to fail, whichever comes first.
func (l *Loop) execute(connCtx context.Context, sessionID string, task model.Task) (model.Result, error) {
	var res model.Result
	ev := TaskEvent{SessionID: sessionID, Task: task}

	job := func() (err error) {
		ev.Started = time.Now()
		for _, o := range l.observers {
			o.OnTaskStarted(ev)
		}
		defer func() {
			if r := recover(); r != nil {
				err = &pool.PanicError{Value: r, Stack: debug.Stack()}
			}
			ev.Duration = time.Since(ev.Started)
			ev.Err = err
			for _, o := range l.observers {
				o.OnTaskFinished(ev)
			}
		}()

		res, err = l.exec.Execute(l.workCtx, task)
		return err
	}

	done, err := l.pool.Submit(connCtx, job)
	if err != nil {
		return model.Result{}, fmt.Errorf("submit task: %w", err)
	}

	select {
	case err := <-done:
		return res, err
	case <-connCtx.Done():
		return model.Result{}, context.Cause(connCtx)
	}
}

func newTask(msg codec.Message) model.Task {
	id, _ := msg.Header["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	return model.Task{ID: id, Header: msg.Header, Payload: msg.Payload}
}

// frameQueue holds frames read ahead of the task in flight, in arrival order
type frameQueue struct {
	mu     sync.Mutex
	frames []codec.Frame
	ready  chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{ready: make(chan struct{}, 1)}
}

func (q *frameQueue) push(f codec.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *frameQueue) pop() (codec.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return codec.Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = codec.Frame{}
	q.frames = q.frames[1:]
	return f, true
}
