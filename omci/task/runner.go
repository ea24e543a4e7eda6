/*
 * Copyright 2018-present Open Networking Foundation

 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at

 * http://www.apache.org/licenses/LICENSE-2.0

 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package task serializes asynchronous work items against a device's
// management channel.  A runner executes one task at a time in submission
// order; no two tasks ever run concurrently against the same device.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/opencord/pon-core/metrics"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// ErrRunnerStopped is returned for tasks still queued when the runner stops
var ErrRunnerStopped = errors.New("task runner stopped")

const defaultQueueDepth = 64

// Task is a unit of work executed against a device
type Task interface {
	Name() string
	Run(ctx context.Context) (interface{}, error)
}

// Result carries a completed task's payload or failure
type Result struct {
	Output interface{}
	Err    error
}

// Func adapts a plain function into a Task
type Func struct {
	TaskName string
	Fn       func(ctx context.Context) (interface{}, error)
}

func (f *Func) Name() string { return f.TaskName }

func (f *Func) Run(ctx context.Context) (interface{}, error) { return f.Fn(ctx) }

type pending struct {
	id   string
	task Task
	res  chan Result
}

// Runner owns the task queue of a single device
type Runner struct {
	deviceID string
	queue    chan *pending

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// NewRunner creates and starts a runner for the given device.  The runner
// stops when ctx is canceled or Stop is called, whichever comes first.
func NewRunner(ctx context.Context, deviceID string) *Runner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{
		deviceID: deviceID,
		queue:    make(chan *pending, defaultQueueDepth),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go r.process()
	logger.Debugw(ctx, "task-runner-started", log.Fields{"device-id": deviceID})
	return r
}

// Submit queues a task for execution.  The returned channel receives exactly
// one result.  Tasks submitted after Stop complete immediately with
// ErrRunnerStopped.
func (r *Runner) Submit(ctx context.Context, task Task) <-chan Result {
	p := &pending{
		id:   uuid.New().String(),
		task: task,
		res:  make(chan Result, 1),
	}
	select {
	case <-r.ctx.Done():
		p.res <- Result{Err: ErrRunnerStopped}
		return p.res
	default:
	}
	logger.Debugw(ctx, "task-queued", log.Fields{"device-id": r.deviceID, "task": task.Name(), "task-id": p.id})
	select {
	case r.queue <- p:
	case <-r.ctx.Done():
		p.res <- Result{Err: ErrRunnerStopped}
	}
	return p.res
}

// Stop cancels the in-flight task, fails everything still queued and releases
// the runner.  It is safe to call more than once and safe to call when the
// runner is idle.
func (r *Runner) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		logger.Debugw(ctx, "task-runner-stopping", log.Fields{"device-id": r.deviceID})
		r.cancel()
		<-r.done
	})
}

func (r *Runner) process() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.drain()
			return
		case p := <-r.queue:
			// the outer select does not prefer Done over a non-empty queue
			select {
			case <-r.ctx.Done():
				p.res <- Result{Err: ErrRunnerStopped}
				r.drain()
				return
			default:
			}
			r.execute(p)
		}
	}
}

func (r *Runner) execute(p *pending) {
	ctx := r.ctx
	logger.Debugw(ctx, "task-executing", log.Fields{"device-id": r.deviceID, "task": p.task.Name(), "task-id": p.id})
	output, err := p.task.Run(ctx)
	if err != nil {
		metrics.OmciTasksFailed.WithLabelValues(p.task.Name()).Inc()
		logger.Infow(ctx, "task-failed", log.Fields{"device-id": r.deviceID, "task": p.task.Name(), "task-id": p.id, "error": err})
	} else {
		metrics.OmciTasksExecuted.WithLabelValues(p.task.Name()).Inc()
	}
	p.res <- Result{Output: output, Err: err}
}

func (r *Runner) drain() {
	for {
		select {
		case p := <-r.queue:
			p.res <- Result{Err: ErrRunnerStopped}
		default:
			return
		}
	}
}
