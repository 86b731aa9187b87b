// Package scheduler 提供进程内的定时任务调度
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler 基于最小堆的本地任务调度器。
// 任务按下次执行时间排序，由单个定时器驱动，执行时占用工作者池中的一个名额，
// 工作者池满时按 BusyPolicy 处理到期任务
type Scheduler struct {
	maxWorkers int
	busyPolicy RequeuePolicy

	// 运行时状态
	isRunning atomic.Bool
	wg        sync.WaitGroup

	// 等待执行的任务
	queue *TaskQueue

	// 工作者池
	workerSemaphore chan struct{}

	// 定时器
	timer   *time.Timer
	timerMu sync.Mutex

	logger *zap.Logger

	// 统计信息
	stats *SchedulerStats
}

// SchedulerStats 调度器统计信息
type SchedulerStats struct {
	mu              sync.RWMutex
	TotalTasks      int64     `json:"total_tasks"`
	CompletedTasks  int64     `json:"completed_tasks"`
	FailedTasks     int64     `json:"failed_tasks"`
	SkippedTasks    int64     `json:"skipped_tasks"`
	LastExecuteTime time.Time `json:"last_execute_time"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	MaxWorkers int         `json:"max_workers"`
	Logger     *zap.Logger `json:"-"`
	// BusyPolicy 工作者池满时到期任务的处理方式，默认顺延1秒
	BusyPolicy RequeuePolicy `json:"-"`
}

// DefaultSchedulerConfig 默认调度器配置
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxWorkers: 10,
	}
}

// NewScheduler 创建新的调度器
func NewScheduler(config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 10
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	busyPolicy := config.BusyPolicy
	if busyPolicy == nil {
		busyPolicy = DeferFor(time.Second)
	}

	return &Scheduler{
		maxWorkers:      config.MaxWorkers,
		busyPolicy:      busyPolicy,
		queue:           NewTaskQueue(),
		workerSemaphore: make(chan struct{}, config.MaxWorkers),
		logger:          logger,
		stats:           &SchedulerStats{},
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return fmt.Errorf("调度器已经在运行")
	}

	s.logger.Info("启动调度器", zap.Int("max_workers", s.maxWorkers))

	// 如果有任务需要执行，立即设置定时器
	s.resetTimer()
	return nil
}

// Stop 停止调度器。不再触发新的任务，并等待正在执行的任务结束
func (s *Scheduler) Stop() error {
	if !s.isRunning.CompareAndSwap(true, false) {
		return nil
	}

	s.logger.Info("停止调度器")
	s.stopTimer()

	// 等待正在执行的任务完成
	s.wg.Wait()

	s.logger.Info("调度器已停止")
	return nil
}

// IsRunning 调度器是否在运行
func (s *Scheduler) IsRunning() bool {
	return s.isRunning.Load()
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task Task) error {
	if !s.isRunning.Load() {
		return fmt.Errorf("调度器未运行")
	}

	s.queue.Push(task)
	s.stats.IncrementTotalTasks()

	s.logger.Info("添加任务", zap.String("name", task.GetName()), zap.String("id", task.GetID()))

	// 重新设置定时器
	s.resetTimer()
	return nil
}

// RemoveTask 移除任务。正在执行的任务不在堆中，执行完成后也不会再被调度
func (s *Scheduler) RemoveTask(taskID string) bool {
	removed := s.queue.Remove(taskID)
	if removed {
		s.logger.Info("移除任务", zap.String("id", taskID))
		s.resetTimer()
	}
	return removed
}

// GetTask 获取等待中的任务，不存在时返回nil
func (s *Scheduler) GetTask(taskID string) Task {
	task, _ := s.queue.Get(taskID)
	return task
}

// ListTasks 按到期时间列出所有等待中的任务
func (s *Scheduler) ListTasks() []Task {
	return s.queue.List()
}

// GetStats 获取统计信息
func (s *Scheduler) GetStats() *SchedulerStats {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	// 创建副本返回
	return &SchedulerStats{
		TotalTasks:      s.stats.TotalTasks,
		CompletedTasks:  s.stats.CompletedTasks,
		FailedTasks:     s.stats.FailedTasks,
		SkippedTasks:    s.stats.SkippedTasks,
		LastExecuteTime: s.stats.LastExecuteTime,
	}
}

// resetTimer 重置定时器
func (s *Scheduler) resetTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	if !s.isRunning.Load() {
		return
	}

	nextTime, ok := s.queue.NextTime()
	if !ok {
		return
	}

	waitDuration := time.Until(nextTime)
	if waitDuration < 0 {
		waitDuration = 0
	}

	s.timer = time.AfterFunc(waitDuration, s.onTimerFired)
}

// stopTimer 停止定时器
func (s *Scheduler) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// onTimerFired 定时器触发
func (s *Scheduler) onTimerFired() {
	if !s.isRunning.Load() {
		return
	}

	_, requeued := s.queue.PopReady(time.Now(), s.tryExecute, s.busyPolicy)
	if requeued > 0 {
		s.logger.Debug("到期任务重新入队", zap.Int("count", requeued))
	}
	// 执行中任务的下次时间由 runTask 完成后重置
	s.resetTimer()
}

// tryExecute 占用一个工作者名额执行任务，工作者池满时返回false
func (s *Scheduler) tryExecute(task Task) bool {
	select {
	case s.workerSemaphore <- struct{}{}:
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			defer func() { <-s.workerSemaphore }()

			s.runTask(t)
		}(task)
		return true
	default:
		s.logger.Warn("工作者池已满，跳过本次执行", zap.String("name", task.GetName()), zap.String("id", task.GetID()))
		s.stats.IncrementSkippedTasks()
		return false
	}
}

// runTask 运行任务。任务上下文只受任务超时约束，调度器停止不会中断正在执行的任务
func (s *Scheduler) runTask(task Task) {
	start := time.Now()
	s.logger.Debug("开始执行任务", zap.String("name", task.GetName()), zap.String("id", task.GetID()))

	ctx, cancel := context.WithTimeout(context.Background(), task.GetTimeout())
	defer cancel()

	err := task.Execute(ctx)

	duration := time.Since(start)
	s.stats.SetLastExecuteTime(start)

	if err != nil {
		// 失败只记录，周期任务在下个周期照常执行
		s.logger.Error("任务执行失败",
			zap.String("name", task.GetName()),
			zap.String("id", task.GetID()),
			zap.Duration("duration", duration),
			zap.Error(err))
		s.stats.IncrementFailedTasks()
	} else {
		s.logger.Debug("任务执行成功",
			zap.String("name", task.GetName()),
			zap.String("id", task.GetID()),
			zap.Duration("duration", duration))
		s.stats.IncrementCompletedTasks()
	}

	if task.GetType() == TaskTypeOnce || task.IsCompleted() {
		s.resetTimer()
		return
	}
	s.requeue(task, time.Now())
}

// requeue 计算下次执行时间并重新加入堆
func (s *Scheduler) requeue(task Task, from time.Time) {
	if !s.isRunning.Load() {
		return
	}
	nextTime := task.UpdateNextTime(from)
	if nextTime.IsZero() {
		return
	}
	task.SetStatus(TaskStatusWaiting)
	s.queue.Push(task)
	s.resetTimer()
}

// 统计方法
func (s *SchedulerStats) IncrementTotalTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalTasks++
}

func (s *SchedulerStats) IncrementCompletedTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompletedTasks++
}

func (s *SchedulerStats) IncrementFailedTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailedTasks++
}

func (s *SchedulerStats) IncrementSkippedTasks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SkippedTasks++
}

func (s *SchedulerStats) SetLastExecuteTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastExecuteTime = t
}
