package worker

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
	"github.com/qs3c/insight_go_server/internal/pkg/llm"
	"github.com/qs3c/insight_go_server/internal/repository"
)

var (
	ErrTaskNotFound  = errors.New("任务不存在或无权访问")
	ErrInvalidRubric = errors.New("输出字段不能为空且字段名不能重复")
)

// Exporter 把任务的全部评论生成导出文件，返回本地路径
type Exporter interface {
	BuildArtifact(task *model.Task, comments []*model.Comment) (string, error)
}

// Uploader 上传导出文件，返回可访问的 URL
type Uploader interface {
	Upload(filePath string) (string, error)
}

// Orchestrator 分析任务编排器：为每个任务拉起分析主循环、
// 工作池、进度循环和批量刷盘循环，并负责取消与收尾
type Orchestrator struct {
	registry *Registry
	tasks    *repository.TaskRepository
	steps    *repository.TaskStepRepository
	comments *repository.CommentRepository

	primary   llm.Classifier
	fallback  llm.Classifier
	exporter  Exporter
	uploader  Uploader
	publisher ProgressPublisher

	cfg *config.Config
}

func NewOrchestrator(
	registry *Registry,
	tasks *repository.TaskRepository,
	steps *repository.TaskStepRepository,
	comments *repository.CommentRepository,
	primary llm.Classifier,
	fallback llm.Classifier,
	exporter Exporter,
	uploader Uploader,
	publisher ProgressPublisher,
	cfg *config.Config,
) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		tasks:     tasks,
		steps:     steps,
		comments:  comments,
		primary:   primary,
		fallback:  fallback,
		exporter:  exporter,
		uploader:  uploader,
		publisher: publisher,
		cfg:       cfg,
	}
}

// StartAnalysis 校验任务归属与输出字段，确保分析步骤记录存在，
// 注册取消信号后异步启动运行，立即返回任务 ID
func (o *Orchestrator) StartAnalysis(userID int64, req *dto.AnalysisRequest) (int64, error) {
	if err := validateRubric(req.OutputFields); err != nil {
		return 0, err
	}

	task, err := o.tasks.GetByID(req.TaskID, userID)
	if err != nil {
		return 0, ErrTaskNotFound
	}

	if _, err := o.steps.GetOrCreate(task.ID, model.StepAnalysis); err != nil {
		return 0, err
	}

	job, err := o.registry.Register(task.ID, userID)
	if err != nil {
		return 0, err
	}

	go o.run(job, task, req)

	return task.ID, nil
}

// StopAnalysis 触发取消信号。仅当找到在跑任务且首次触发时返回 true。
// stopped 状态由运行协程在各循环退出后统一落库。
func (o *Orchestrator) StopAnalysis(taskID, userID int64) bool {
	return o.registry.Cancel(taskID, userID)
}

// run 一次分析运行的完整生命周期
func (o *Orchestrator) run(job *Job, task *model.Task, req *dto.AnalysisRequest) {
	defer o.registry.Remove(job.TaskID)

	log.Printf("Task %d: analysis started (user %d, %d output fields)",
		job.TaskID, job.UserID, len(req.OutputFields))

	pool := NewPool(o.primary, o.fallback, &o.cfg.Analysis, time.Duration(o.cfg.LLM.TimeoutSeconds)*time.Second)
	flusher := NewFlusher(o.comments, &o.cfg.Analysis)
	tracker := NewTracker(o.comments, o.steps, o.publisher, &o.cfg.Analysis)

	var loops sync.WaitGroup
	flushStop := make(chan struct{})
	progressDone := make(chan struct{})

	loops.Add(2)
	go func() {
		defer loops.Done()
		flusher.Run(job, flushStop)
	}()
	go func() {
		defer loops.Done()
		tracker.Run(job, progressDone)
	}()

	o.dispatchLoop(job, pool, req)

	// 先等在途分析收尾，再让 flusher 做最后一轮刷盘，
	// 保证进度统计能看到全部已算出的结果
	pool.Wait()
	close(flushStop)
	close(progressDone)
	loops.Wait()

	o.finalize(job, task)
}

// dispatchLoop 主循环：反复拉取未分析评论并派发。
// 爬虫可能还在并发写入，所以一轮派发完不能算结束；
// 连续两次拉到空批次才认定没有新评论了。
func (o *Orchestrator) dispatchLoop(job *Job, pool *Pool, req *dto.AnalysisRequest) {
	sawEmpty := false

	for {
		if job.Cancelled() {
			return
		}

		comments, err := o.comments.ListUnclassified(job.TaskID)
		if err != nil {
			log.Printf("Task %d: fetch unclassified failed: %v", job.TaskID, err)
			if !sleepCtx(job.Context(), o.cfg.Analysis.PollInterval()) {
				return
			}
			continue
		}

		// 已派发但还没刷盘的评论仍是 NULL，会被再次拉出来，靠派发表去重
		fresh := comments[:0]
		for _, c := range comments {
			if !job.isDispatched(c.CommentID) {
				fresh = append(fresh, c)
			}
		}

		if len(fresh) == 0 {
			if sawEmpty {
				// 复查过一轮仍没有新评论，结束派发
				return
			}
			sawEmpty = true
			if !sleepCtx(job.Context(), o.cfg.Analysis.PollInterval()) {
				return
			}
			continue
		}
		sawEmpty = false

		for _, c := range fresh {
			if job.Cancelled() {
				return
			}
			pool.Submit(job, c, req.AnalysisRequest, req.OutputFields)
		}

		if !sleepCtx(job.Context(), o.cfg.Analysis.PollInterval()) {
			return
		}
	}
}

// finalize 收尾：取消则落 stopped；正常完成则导出、上传并落 finished。
// 任何一步失败都只记日志，尽力把终态写进步骤记录。
func (o *Orchestrator) finalize(job *Job, task *model.Task) {
	completed, err := o.comments.CountClassified(job.TaskID)
	if err != nil {
		log.Printf("Task %d: finalize count failed: %v", job.TaskID, err)
	}
	progress := int(completed)

	if job.Cancelled() {
		state := model.StepStateStopped
		if err := o.steps.UpdateStatus(job.TaskID, model.StepAnalysis, &state, &progress, nil); err != nil {
			log.Printf("Task %d: failed to mark step stopped: %v", job.TaskID, err)
		}
		log.Printf("Task %d: analysis stopped at %d classified", job.TaskID, progress)
		return
	}

	total, err := o.comments.CountByTaskID(job.TaskID)
	if err != nil {
		log.Printf("Task %d: finalize total count failed: %v", job.TaskID, err)
		return
	}
	if total == 0 {
		log.Printf("Task %d: no comments to analyze", job.TaskID)
		return
	}

	var url string
	all, err := o.comments.ListByTaskID(job.TaskID)
	if err != nil {
		log.Printf("Task %d: fetch comments for export failed: %v", job.TaskID, err)
	} else if o.exporter != nil && o.uploader != nil {
		path, err := o.exporter.BuildArtifact(task, all)
		if err != nil {
			log.Printf("Task %d: export failed: %v", job.TaskID, err)
		} else {
			url, err = o.uploader.Upload(path)
			if err != nil {
				log.Printf("Task %d: upload failed: %v", job.TaskID, err)
				url = ""
			}
		}
	}

	state := model.StepStateFinished
	progress = int(total)
	var urlPtr *string
	if url != "" {
		urlPtr = &url
	}
	if err := o.steps.UpdateStatus(job.TaskID, model.StepAnalysis, &state, &progress, urlPtr); err != nil {
		log.Printf("Task %d: failed to mark step finished: %v", job.TaskID, err)
	}
	log.Printf("Task %d: analysis finished, %d comments classified, url=%s", job.TaskID, progress, url)
}

func validateRubric(fields []dto.OutputField) error {
	if len(fields) == 0 {
		return ErrInvalidRubric
	}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Key == "" {
			return ErrInvalidRubric
		}
		if _, ok := seen[f.Key]; ok {
			return ErrInvalidRubric
		}
		seen[f.Key] = struct{}{}
	}
	return nil
}
