package pv

import (
	"sync"
)

// Executor runs notification tasks.
type Executor interface {
	Execute(task func())
}

// GoExecutor runs every task on a new goroutine.
type GoExecutor struct{}

// Execute implements Executor.
func (GoExecutor) Execute(task func()) {
	go task()
}

// InlineExecutor runs tasks on the calling goroutine. Useful for tests.
type InlineExecutor struct{}

// Execute implements Executor.
func (InlineExecutor) Execute(task func()) {
	task()
}

// SerialExecutor runs tasks one at a time, in submission order, on a single
// goroutine.
type SerialExecutor struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSerialExecutor starts a serial executor.
func NewSerialExecutor() *SerialExecutor {
	e := &SerialExecutor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Execute queues task. Tasks submitted after Close are dropped.
func (e *SerialExecutor) Execute(task func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.tasks = append(e.tasks, task)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *SerialExecutor) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.wake:
		case <-e.done:
		}
		for {
			e.mu.Lock()
			if len(e.tasks) == 0 {
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := e.tasks[0]
			e.tasks[0] = nil
			e.tasks = e.tasks[1:]
			e.mu.Unlock()

			task()
		}
	}
}

// Close runs the queued tasks and stops the goroutine. It must not be
// called from a task.
func (e *SerialExecutor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
}

var (
	_ Executor = GoExecutor{}
	_ Executor = InlineExecutor{}
	_ Executor = (*SerialExecutor)(nil)
)
