package worker

import (
	"log"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/repository"
)

// Flusher 周期性把待落库的分析结果批量写回评论表，
// 把存储延迟从分析热路径上摘下来
type Flusher struct {
	comments *repository.CommentRepository
	cfg      *config.AnalysisConfig
}

func NewFlusher(comments *repository.CommentRepository, cfg *config.AnalysisConfig) *Flusher {
	return &Flusher{comments: comments, cfg: cfg}
}

// Run 刷盘循环：定时或被踢（待刷数达到批量阈值）时刷一批；
// stop 关闭后做最后一轮全量刷盘再退出，保证已算出的结果不丢
func (f *Flusher) Run(job *Job, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.FlushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			f.drainAll(job)
			return
		case <-job.flushKick:
			f.flushOnce(job)
		case <-ticker.C:
			f.flushOnce(job)
		}
	}
}

// flushOnce 取走最多一个批量并写库。写失败只记日志、
// 丢弃该批（损失上界为批量大小），不阻塞后续刷盘。
func (f *Flusher) flushOnce(job *Job) int {
	batch := job.drainPending(f.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}

	updates := make([]repository.ResultUpdate, len(batch))
	for i, r := range batch {
		updates[i] = repository.ResultUpdate{CommentID: r.CommentID, Result: r.Result}
	}

	if err := f.comments.BatchUpdateResults(job.TaskID, updates); err != nil {
		log.Printf("Task %d: batch write of %d results failed, batch dropped: %v",
			job.TaskID, len(batch), err)
		return 0
	}
	return len(batch)
}

func (f *Flusher) drainAll(job *Job) {
	for job.pendingCount() > 0 {
		if f.flushOnce(job) == 0 && job.pendingCount() > 0 {
			// 写库持续失败时放弃剩余批次，避免停不下来
			log.Printf("Task %d: final drain gave up with %d results pending", job.TaskID, job.pendingCount())
			return
		}
	}
}
