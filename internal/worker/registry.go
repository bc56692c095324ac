package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/qs3c/insight_go_server/internal/model"
)

var (
	ErrAnalysisRunning = errors.New("该任务已有分析在运行")
)

// Outcome 标记一条结果产生于哪条通道
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFallback
	OutcomeDefaulted
)

// pendingResult 已完成分析、等待批量落库的一条结果
type pendingResult struct {
	CommentID string
	Result    model.JSONMap
	Outcome   Outcome
}

// Job 一次分析运行的全部可变状态：取消信号、待落库队列、在途调用句柄
type Job struct {
	TaskID int64
	UserID int64

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	stopped    bool
	pending    []pendingResult
	dispatched map[string]struct{}
	inflight   map[string]context.CancelFunc

	// 待落库数达到批量阈值时通知 flusher 提前刷盘
	flushKick chan struct{}
}

func newJob(taskID, userID int64) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		TaskID:     taskID,
		UserID:     userID,
		ctx:        ctx,
		cancel:     cancel,
		dispatched: make(map[string]struct{}),
		inflight:   make(map[string]context.CancelFunc),
		flushKick:  make(chan struct{}, 1),
	}
}

// Context 任务级取消上下文
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancelled 取消信号是否已触发
func (j *Job) Cancelled() bool {
	select {
	case <-j.ctx.Done():
		return true
	default:
		return false
	}
}

// markDispatched 标记评论已派发；重复派发返回 false
func (j *Job) markDispatched(commentID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.dispatched[commentID]; ok {
		return false
	}
	j.dispatched[commentID] = struct{}{}
	return true
}

func (j *Job) isDispatched(commentID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.dispatched[commentID]
	return ok
}

// trackCall 登记一次在途模型调用的取消句柄
func (j *Job) trackCall(commentID string, cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inflight[commentID] = cancel
}

func (j *Job) untrackCall(commentID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.inflight, commentID)
}

// appendResult 入队一条结果；达到批量阈值时踢一下 flusher
func (j *Job) appendResult(result pendingResult, batchSize int) {
	j.mu.Lock()
	j.pending = append(j.pending, result)
	kick := len(j.pending) >= batchSize
	j.mu.Unlock()

	if kick {
		select {
		case j.flushKick <- struct{}{}:
		default:
		}
	}
}

// drainPending 原子取走最多 max 条待落库结果
func (j *Job) drainPending(max int) []pendingResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return nil
	}
	n := len(j.pending)
	if max > 0 && n > max {
		n = max
	}
	batch := make([]pendingResult, n)
	copy(batch, j.pending[:n])
	j.pending = j.pending[n:]
	return batch
}

func (j *Job) pendingCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// stop 幂等触发取消：中止在途调用并唤醒所有循环。
// 首次调用返回 true，之后返回 false。
func (j *Job) stop() bool {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return false
	}
	j.stopped = true
	cancels := make([]context.CancelFunc, 0, len(j.inflight))
	for _, c := range j.inflight {
		cancels = append(cancels, c)
	}
	j.mu.Unlock()

	j.cancel()
	for _, c := range cancels {
		c()
	}
	return true
}

// release 任务结束时释放资源
func (j *Job) release() {
	j.cancel()
	j.mu.Lock()
	j.pending = nil
	j.dispatched = nil
	j.inflight = nil
	j.mu.Unlock()
}

// Registry 按任务维护在跑的分析，替代源系统里按任务名散落的全局表
type Registry struct {
	mu   sync.Mutex
	jobs map[int64]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int64]*Job)}
}

// Register 注册一个新任务；同任务已有分析在跑时拒绝
func (r *Registry) Register(taskID, userID int64) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[taskID]; ok {
		return nil, ErrAnalysisRunning
	}
	job := newJob(taskID, userID)
	r.jobs[taskID] = job
	return job, nil
}

// Get 查询在跑任务
func (r *Registry) Get(taskID int64) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[taskID]
	return job, ok
}

// Cancel 触发取消信号。仅当 (task, user) 对应的任务存在且
// 尚未被取消过时返回 true，重复调用返回 false。
func (r *Registry) Cancel(taskID, userID int64) bool {
	r.mu.Lock()
	job, ok := r.jobs[taskID]
	r.mu.Unlock()
	if !ok || job.UserID != userID {
		return false
	}
	return job.stop()
}

// Remove 任务结束后摘除并释放
func (r *Registry) Remove(taskID int64) {
	r.mu.Lock()
	job, ok := r.jobs[taskID]
	delete(r.jobs, taskID)
	r.mu.Unlock()
	if ok {
		job.release()
	}
}

// Running 在跑任务数
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
