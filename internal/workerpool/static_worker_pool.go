// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package workerpool runs block device sector I/O on a fixed pool of
// goroutines split between a priority lane (SubmitPriority) and a normal
// lane (Submit). Its one user, vm.Swap, sends both swap-in and swap-out
// sectors to the priority lane; nothing submits to the normal lane.
package workerpool

import "sync"

// Task is a unit of submitted work.
type Task func()

// Pool is a static, non-growing pool of workers draining two queues.
type Pool struct {
	priority chan Task
	normal   chan Task
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewStaticWorkerPool starts priorityWorker+normalWorker goroutines. At least
// one of the two must be non-zero.
func NewStaticWorkerPool(priorityWorker, normalWorker uint32) (*Pool, error) {
	if priorityWorker == 0 && normalWorker == 0 {
		return nil, errZeroWorkers
	}

	p := &Pool{
		priority: make(chan Task, 64),
		normal:   make(chan Task, 256),
	}

	for i := uint32(0); i < priorityWorker; i++ {
		p.wg.Add(1)
		go p.runPriority()
	}
	for i := uint32(0); i < normalWorker; i++ {
		p.wg.Add(1)
		go p.runNormal()
	}
	return p, nil
}

func (p *Pool) runPriority() {
	defer p.wg.Done()
	for t := range p.priority {
		t()
	}
}

// runNormal prefers draining the priority queue whenever both have work
// available, so a blocked page-fault resolution never waits behind
// readahead.
func (p *Pool) runNormal() {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.priority:
			if !ok {
				return
			}
			t()
		default:
			select {
			case t, ok := <-p.priority:
				if !ok {
					return
				}
				t()
			case t, ok := <-p.normal:
				if !ok {
					return
				}
				t()
			}
		}
	}
}

// SubmitPriority enqueues t on the priority lane.
func (p *Pool) SubmitPriority(t Task) { p.priority <- t }

// Submit enqueues t on the normal lane.
func (p *Pool) Submit(t Task) { p.normal <- t }

// Stop closes both queues and waits for every worker to drain. Safe to call
// on a nil pool and safe to call more than once.
func (p *Pool) Stop() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() {
		close(p.priority)
		close(p.normal)
		p.wg.Wait()
	})
}
