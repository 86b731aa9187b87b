package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	s := NewScheduler(&SchedulerConfig{MaxWorkers: 4})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestStartStopIdempotent(t *testing.T) {
	s := NewScheduler(nil)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "重复启动应返回错误")
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	err := s.AddTask(NewOnceTask("late", time.Now(), time.Second, func(ctx context.Context) error { return nil }))
	assert.Error(t, err, "停止后不能再添加任务")
}

func TestIntervalTaskRunsRepeatedly(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	task := NewIntervalTask("tick", time.Now(), 10*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.GetStats().CompletedTasks, int64(3))
}

func TestFailingTaskKeepsRunning(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	task := NewIntervalTask("flaky", time.Now(), 10*time.Millisecond, time.Second, func(ctx context.Context) error {
		n := runs.Add(1)
		if n == 1 {
			panic("first run panics")
		}
		return errors.New("always fails")
	})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"失败或panic的周期任务应在下个周期继续执行")
	assert.GreaterOrEqual(t, s.GetStats().FailedTasks, int64(2))
}

func TestOnceTaskRunsOnce(t *testing.T) {
	s := newTestScheduler(t)

	var runs atomic.Int32
	task := NewOnceTask("once", time.Now(), time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("failed once")
	})
	require.NoError(t, s.AddTask(task))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "失败的一次性任务不应被重新调度")
	assert.Nil(t, s.GetTask(task.GetID()))
}

func TestRemoveTask(t *testing.T) {
	s := newTestScheduler(t)

	task := NewIntervalTask("later", time.Now().Add(time.Hour), time.Hour, time.Second, func(ctx context.Context) error { return nil })
	require.NoError(t, s.AddTask(task))
	require.NotNil(t, s.GetTask(task.GetID()))
	assert.Len(t, s.ListTasks(), 1)

	assert.True(t, s.RemoveTask(task.GetID()))
	assert.False(t, s.RemoveTask(task.GetID()))
	assert.Empty(t, s.ListTasks())
}

func TestStopWaitsForRunningTask(t *testing.T) {
	s := NewScheduler(nil)
	require.NoError(t, s.Start())

	started := make(chan struct{})
	var finished atomic.Bool
	var ctxErr atomic.Value
	task := NewOnceTask("slow", time.Now(), time.Second, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			ctxErr.Store(ctx.Err())
		}
		finished.Store(true)
		return nil
	})
	require.NoError(t, s.AddTask(task))

	<-started
	require.NoError(t, s.Stop())
	assert.True(t, finished.Load(), "Stop应等待正在执行的任务完成")
	assert.Nil(t, ctxErr.Load(), "停止调度器不应取消正在执行的任务")
}

func TestTaskTimeout(t *testing.T) {
	s := newTestScheduler(t)

	done := make(chan error, 1)
	task := NewOnceTask("timeout", time.Now(), 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, s.AddTask(task))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("任务未按超时时间结束")
	}
}

func TestCronTask(t *testing.T) {
	task, err := NewCronTask("report", "0 0 * * * *", time.Minute, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, TaskTypeCron, task.GetType())

	next := task.GetNextTime()
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, 0, next.Second())
	assert.True(t, next.After(time.Now()))

	after := task.UpdateNextTime(next)
	assert.Equal(t, time.Hour, after.Sub(next))

	_, err = NewCronTask("five-fields", "*/5 * * * *", time.Minute, nil)
	assert.NoError(t, err)

	_, err = NewCronTask("bad", "not a cron", time.Minute, nil)
	assert.Error(t, err)
}

func TestTaskQueueOrder(t *testing.T) {
	q := NewTaskQueue()
	now := time.Now()

	late := NewOnceTask("late", now.Add(time.Hour), time.Second, nil)
	early := NewOnceTask("early", now.Add(-time.Second), time.Second, nil)
	q.Push(late)
	q.Push(early)
	q.Push(early)
	require.Equal(t, 2, q.Len(), "同一任务重复入队只保留一项")

	next, ok := q.NextTime()
	require.True(t, ok)
	assert.Equal(t, early.GetNextTime(), next)
	assert.Equal(t, []Task{early, late}, q.List())

	var ran []string
	dispatched, requeued := q.PopReady(now, func(task Task) bool {
		ran = append(ran, task.GetName())
		return true
	}, nil)
	assert.Equal(t, 1, dispatched)
	assert.Zero(t, requeued)
	assert.Equal(t, []string{"early"}, ran)
	assert.Equal(t, 1, q.Len())

	got, ok := q.Get(late.GetID())
	require.True(t, ok)
	assert.Equal(t, late, got)
	assert.True(t, q.Remove(late.GetID()))
	assert.False(t, q.Remove(late.GetID()))
	_, ok = q.NextTime()
	assert.False(t, ok)
}

func TestPopReadyRequeuePolicy(t *testing.T) {
	now := time.Now()
	busy := func(Task) bool { return false }

	q := NewTaskQueue()
	once := NewOnceTask("once", now.Add(-time.Second), time.Second, nil)
	q.Push(once)

	// 顺延后任务本身的执行时间不变，只改变入队位置
	_, requeued := q.PopReady(now, busy, DeferFor(time.Second))
	assert.Equal(t, 1, requeued)
	next, ok := q.NextTime()
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Second), next)
	assert.Equal(t, now.Add(-time.Second), once.GetNextTime())

	dispatched, _ := q.PopReady(now, func(Task) bool { return true }, nil)
	assert.Zero(t, dispatched, "顺延期间不应被取出")

	_, requeued = q.PopReady(now.Add(time.Second), busy, DropBusy)
	assert.Zero(t, requeued, "一次性任务忙时直接放弃")
	assert.Zero(t, q.Len())

	interval := NewIntervalTask("interval", now, time.Minute, time.Second, nil)
	q.Push(interval)
	_, requeued = q.PopReady(now, busy, DropBusy)
	assert.Equal(t, 1, requeued)
	next, _ = q.NextTime()
	assert.Equal(t, now.Add(time.Minute), next, "周期任务跳到下一个周期")

	interval.SetStatus(TaskStatusCanceled)
	dispatched, requeued = q.PopReady(now.Add(time.Minute), func(Task) bool { return true }, DropBusy)
	assert.Zero(t, dispatched, "已取消的任务直接丢弃")
	assert.Zero(t, requeued)
}

func TestBusyPolicyWhenPoolFull(t *testing.T) {
	s := NewScheduler(&SchedulerConfig{MaxWorkers: 1, BusyPolicy: DropBusy})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	release := make(chan struct{})
	var blockedRuns, onceRuns atomic.Int32
	require.NoError(t, s.AddTask(NewOnceTask("blocker", time.Now(), time.Second, func(ctx context.Context) error {
		blockedRuns.Add(1)
		<-release
		return nil
	})))
	require.Eventually(t, func() bool { return blockedRuns.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.AddTask(NewOnceTask("dropped", time.Now(), time.Second, func(ctx context.Context) error {
		onceRuns.Add(1)
		return nil
	})))
	require.Eventually(t, func() bool { return s.GetStats().SkippedTasks == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, onceRuns.Load())
	assert.Empty(t, s.ListTasks())
}
