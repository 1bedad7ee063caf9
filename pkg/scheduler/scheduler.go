// Package scheduler runs functional cases on a fixed pool of workers.
// Cases are independent, each with its own VM and workspace, so the only
// coordination needed is bounding how many QEMU processes run at once.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
)

// Work executes one case and reports its result.
type Work func(ctx context.Context) models.CaseResult

// Future delivers a case result once and can cancel the underlying work.
type Future struct {
	c      chan models.CaseResult
	cancel context.CancelFunc
}

func (f *Future) C() chan models.CaseResult {
	return f.c
}

func (f *Future) Stop() {
	f.cancel()
}

type queue[T any] []T

func (wq *queue[T]) Len() int { return len(*wq) }

func (wq *queue[T]) Pop() T {
	old := *wq
	x := old[0]
	*wq = old[1:]
	return x
}

func (wq *queue[T]) Push(t T) {
	*wq = append(*wq, t)
}

type workRequest struct {
	name string
	fn   Work
	c    chan models.CaseResult
	ctx  context.Context
}

type worker struct {
	done chan any
	wg   *sync.WaitGroup
}

func (w worker) Work(r workRequest) {
	defer func() {
		if rec := recover(); rec != nil {
			r.c <- models.CaseResult{
				Name:   r.name,
				Status: models.CaseStatusFailed,
				Error:  fmt.Sprintf("case panicked: %v", rec),
			}
		}
		w.done <- struct{}{}
		w.wg.Done()
	}()

	r.c <- r.fn(r.ctx)
}

func newWorker(done chan any, wg *sync.WaitGroup) worker {
	return worker{done: done, wg: wg}
}

type Scheduler struct {
	workers    *queue[worker]
	workQueue  *queue[workRequest]
	close      chan any
	done       chan any
	work       chan workRequest
	mainCtx    context.Context
	mainCancel context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

func NewScheduler(nbWorkers int) *Scheduler {
	done := make(chan any, nbWorkers)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		workers:    &queue[worker]{},
		workQueue:  &queue[workRequest]{},
		close:      make(chan any),
		done:       done,
		work:       make(chan workRequest),
		mainCtx:    ctx,
		mainCancel: cancel,
	}
	for range nbWorkers {
		s.workers.Push(newWorker(done, &s.wg))
	}
	go s.run()
	return s
}

// AddWork queues one case execution. The returned future always delivers
// exactly one result, even when the scheduler is already closed.
func (s *Scheduler) AddWork(name string, w Work) *Future {
	c := make(chan models.CaseResult, 1)
	ctx, cancel := context.WithCancel(s.mainCtx)

	select {
	case <-s.mainCtx.Done():
		c <- models.CaseResult{
			Name:   name,
			Status: models.CaseStatusSkipped,
			Error:  context.Canceled.Error(),
		}
	case s.work <- workRequest{name, w, c, ctx}:
	}

	return &Future{c: c, cancel: cancel}
}

func (s *Scheduler) Close() {
	s.once.Do(func() {
		s.mainCancel()
		s.close <- struct{}{}
		<-s.done
	})
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		select {
		case w := <-s.work:
			s.workQueue.Push(w)
			s.dispatch()
		case <-s.done:
			s.workers.Push(newWorker(s.done, &s.wg))
			s.dispatch()
		case <-s.close:
			s.wg.Wait()
			return
		}
	}
}

// dispatch drains the workQueue as much as possible
// based on available workers
func (s *Scheduler) dispatch() {
	for s.workers.Len() > 0 && s.workQueue.Len() > 0 {
		r := s.workQueue.Pop()
		worker := s.workers.Pop()
		s.wg.Add(1)
		go worker.Work(r)
	}
}
