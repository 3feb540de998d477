package mirror

import "sync"

// Queue hands out upload tasks front to back. Each task is returned by
// exactly one Next call.
type Queue struct {
	mu    sync.Mutex
	tasks []UploadTask
}

// NewQueue returns a queue over a copy of tasks.
func NewQueue(tasks []UploadTask) *Queue {
	return &Queue{tasks: append([]UploadTask(nil), tasks...)}
}

// Next removes and returns the first task. ok is false once the queue
// is empty.
func (q *Queue) Next() (task UploadTask, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return UploadTask{}, false
	}

	task = q.tasks[0]
	q.tasks = q.tasks[1:]

	return task, true
}

// Len returns the number of tasks left.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}
