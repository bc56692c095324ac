package worker

import (
	"log"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/repository"
)

// ProgressPublisher 进度推送（Redis 发布，WebSocket 侧消费），可为 nil
type ProgressPublisher interface {
	PublishProgress(taskID, userID int64, completed int, total int64, state int)
}

// Tracker 进度循环：每个周期重算已完成/总数并持久化到步骤记录。
// running → finished 的状态翻转只由这里写入。
type Tracker struct {
	comments  *repository.CommentRepository
	steps     *repository.TaskStepRepository
	publisher ProgressPublisher
	cfg       *config.AnalysisConfig
}

func NewTracker(comments *repository.CommentRepository, steps *repository.TaskStepRepository, publisher ProgressPublisher, cfg *config.AnalysisConfig) *Tracker {
	return &Tracker{comments: comments, steps: steps, publisher: publisher, cfg: cfg}
}

// Run 进度循环，直到完成、任务取消或编排器通知收尾
func (t *Tracker) Run(job *Job, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.ProgressInterval())
	defer ticker.Stop()

	for {
		select {
		case <-job.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if finished := t.tick(job); finished {
				return
			}
		}
	}
}

// tick 重算一次进度并写库，返回是否已全部完成
func (t *Tracker) tick(job *Job) bool {
	total, err := t.comments.CountByTaskID(job.TaskID)
	if err != nil {
		log.Printf("Task %d: progress count total failed: %v", job.TaskID, err)
		return false
	}
	completed, err := t.comments.CountClassified(job.TaskID)
	if err != nil {
		log.Printf("Task %d: progress count classified failed: %v", job.TaskID, err)
		return false
	}

	if total == 0 {
		return false
	}

	state := model.StepStateRunning
	if completed >= total {
		state = model.StepStateFinished
	}
	progress := int(completed)

	if err := t.steps.UpdateStatus(job.TaskID, model.StepAnalysis, &state, &progress, nil); err != nil {
		log.Printf("Task %d: progress write failed: %v", job.TaskID, err)
	}

	if t.publisher != nil {
		t.publisher.PublishProgress(job.TaskID, job.UserID, progress, total, state)
	}

	return completed >= total
}
