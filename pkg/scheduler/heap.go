package scheduler

import (
	"container/heap"
	"sort"
	"sync"
	"time"
)

// RequeuePolicy 决定到期但未能派发的任务何时重新入队，返回 false 时放弃本次执行
type RequeuePolicy func(task Task, now time.Time) (time.Time, bool)

// DeferFor 顺延 d 后重试
func DeferFor(d time.Duration) RequeuePolicy {
	return func(task Task, now time.Time) (time.Time, bool) {
		return now.Add(d), true
	}
}

// DropBusy 放弃本次执行，周期任务等下一个周期
func DropBusy(task Task, now time.Time) (time.Time, bool) {
	if task.GetType() == TaskTypeOnce {
		return time.Time{}, false
	}
	next := task.UpdateNextTime(now)
	return next, !next.IsZero()
}

type queueEntry struct {
	task  Task
	at    time.Time
	index int
}

// entryHeap 以入队时的到期时间排序。任务在队列中时 NextTime 不会变化，
// 顺延的任务只改 at，不改任务本身的 NextTime
type entryHeap []*queueEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x interface{}) {
	e := x.(*queueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TaskQueue 等待执行的任务队列，同一个任务ID只保留一项
type TaskQueue struct {
	mu      sync.Mutex
	entries entryHeap
	byID    map[string]*queueEntry
}

// NewTaskQueue 创建任务队列
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{byID: make(map[string]*queueEntry)}
}

// Push 按任务的下次执行时间入队，任务已在队列中时更新其位置
func (q *TaskQueue) Push(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushLocked(task, task.GetNextTime())
}

func (q *TaskQueue) pushLocked(task Task, at time.Time) {
	if e, ok := q.byID[task.GetID()]; ok {
		e.task = task
		e.at = at
		heap.Fix(&q.entries, e.index)
		return
	}
	e := &queueEntry{task: task, at: at}
	heap.Push(&q.entries, e)
	q.byID[task.GetID()] = e
}

// Remove 移除任务
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.entries, e.index)
	delete(q.byID, taskID)
	return true
}

// Get 按ID查找等待中的任务
func (q *TaskQueue) Get(taskID string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.byID[taskID]
	if !ok {
		return nil, false
	}
	return e.task, true
}

// List 按到期时间升序返回所有任务
func (q *TaskQueue) List() []Task {
	q.mu.Lock()
	entries := append([]*queueEntry(nil), q.entries...)
	q.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.Before(entries[j].at)
	})
	tasks := make([]Task, len(entries))
	for i, e := range entries {
		tasks[i] = e.task
	}
	return tasks
}

// Len 队列中的任务数量
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// NextTime 最早的到期时间，队列为空时第二个返回值为false
func (q *TaskQueue) NextTime() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].at, true
}

// PopReady 取出所有到期任务交给 dispatch。dispatch 返回 false 的任务按 requeue 决定的时间放回队列，
// 已完成或已取消的任务直接丢弃。dispatch 在队列锁内调用，不能阻塞，也不能回调队列
func (q *TaskQueue) PopReady(now time.Time, dispatch func(Task) bool, requeue RequeuePolicy) (dispatched, requeued int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var busy []Task
	for len(q.entries) > 0 && !q.entries[0].at.After(now) {
		e := heap.Pop(&q.entries).(*queueEntry)
		delete(q.byID, e.task.GetID())

		if e.task.IsCompleted() {
			continue
		}
		if dispatch(e.task) {
			dispatched++
			continue
		}
		busy = append(busy, e.task)
	}

	// 循环结束后再放回，requeue 给出的时间不晚于 now 时也不会在本轮被再次取出
	for _, task := range busy {
		if requeue == nil {
			continue
		}
		at, ok := requeue(task, now)
		if !ok {
			continue
		}
		q.pushLocked(task, at)
		requeued++
	}
	return dispatched, requeued
}
