package worker

import (
	"sync"
)

type WorkerHandler = func(workerIndex int, job interface{})

// RunBatch fans a fixed set of jobs over numberOfWorkers goroutines and
// blocks until every job is handled. The pool is short-lived: it exists for
// one batch and is torn down when the batch drains, which fits one-shot bulk
// dispatch.
func RunBatch(numberOfWorkers int, jobs []interface{}, do WorkerHandler) {
	if len(jobs) == 0 {
		return
	}
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	if numberOfWorkers > len(jobs) {
		numberOfWorkers = len(jobs)
	}

	jobChannel := make(chan interface{}, len(jobs))
	for _, j := range jobs {
		jobChannel <- j
	}
	close(jobChannel)

	waiter := &sync.WaitGroup{}
	waiter.Add(numberOfWorkers)
	for i := 0; i < numberOfWorkers; i++ {
		go func(index int) {
			defer waiter.Done()
			for job := range jobChannel {
				do(index, job)
			}
		}(i)
	}
	waiter.Wait()
}
