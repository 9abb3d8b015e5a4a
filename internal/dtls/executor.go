package dtls

import (
	"sync"
)

// Executor 는 콜백을 실행할 실행 컨텍스트입니다. (ko)
// Executor runs callbacks; it may be a goroutine spawner, a pool or an event loop. (en)
//
// Execute 는 task 를 호출자 goroutine 에서 바로 실행해도 됩니다. 세션은 내부 잠금을 놓은 뒤에만 제출합니다.
type Executor interface {
	Execute(task func())
}

// ExecutorFunc 는 함수를 Executor 로 사용하기 위한 어댑터입니다.
type ExecutorFunc func(task func())

func (f ExecutorFunc) Execute(task func()) { f(task) }

// GoExecutor 는 작업마다 새 goroutine 을 띄우는 기본 Executor 입니다.
var GoExecutor Executor = ExecutorFunc(func(task func()) { go task() })

// serialQueue 는 주입된 Executor 위에서 작업을 한 번에 하나씩, 넣은 순서대로 실행합니다.
// 세션마다 하나씩 가지며 다른 세션과 공유하지 않습니다.
type serialQueue struct {
	base Executor

	mu      sync.Mutex
	tasks   []func()
	running bool
}

func newSerialQueue(base Executor) *serialQueue {
	if base == nil {
		base = GoExecutor
	}
	return &serialQueue{base: base}
}

// enqueue 는 작업을 추가하고 바로 실행을 시작합니다.
func (q *serialQueue) enqueue(task func()) {
	q.push(task)
	q.kick()
}

// push 는 작업을 순서대로 쌓기만 하고 실행하지 않습니다. 세션 잠금 안에서 호출해도 됩니다.
func (q *serialQueue) push(task func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
}

// kick 은 쌓인 작업이 있고 drain 이 돌고 있지 않을 때만 drain 을 base 에 제출합니다.
// 세션 잠금 밖에서 호출해야 합니다.
func (q *serialQueue) kick() {
	q.mu.Lock()
	if q.running || len(q.tasks) == 0 {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	q.base.Execute(q.drain)
}

func (q *serialQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		task()
	}
}
