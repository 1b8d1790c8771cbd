package pool

import (
	"sync"
)

// Pool runs a job function on every value received from a work channel,
// with at most a fixed number of jobs in flight.
type Pool struct {
	workerQ chan struct{}
	f       func(input interface{})
	wg      sync.WaitGroup
}

// NewPool creates a new worker pool with a goroutine limit
// and a job function to execute on the incoming data.
func NewPool(routines int, job func(input interface{})) *Pool {
	if routines < 1 {
		routines = 1
	}
	q := make(chan struct{}, routines)
	for i := 0; i < routines; i++ {
		q <- struct{}{}
	}
	return &Pool{
		workerQ: q,
		f:       job,
		wg:      sync.WaitGroup{},
	}
}

// Work is a blocking call that starts the pool working on a data input
// channel. It returns once c is closed; running jobs may still be active.
func (p *Pool) Work(c <-chan interface{}) {
	for v := range c {
		<-p.workerQ
		p.wg.Add(1)
		go func(input interface{}) {
			defer p.wg.Done()
			p.f(input)
			p.workerQ <- struct{}{}
		}(v)
	}
}

// Wait waits until the pool is finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
