package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qs3c/insight_go_server/config"
	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
	"github.com/qs3c/insight_go_server/internal/pkg/llm"
)

// 判定字段与理由字段的兜底取值
const (
	defaultVerdict = "不确定"
	defaultReason  = "分析失败， 格式错误"
	defaultOther   = "无"
)

var (
	verdictFieldKeys = map[string]struct{}{
		"意向客户":            {},
		"intent_customer": {},
		"verdict":         {},
	}
	reasonFieldKeys = map[string]struct{}{
		"分析理由":   {},
		"reason": {},
	}
)

// Pool 有界并发的评论分析执行池。
// 每条派发的评论都恰好产出一条结果入队，除非任务被取消。
type Pool struct {
	primary  llm.Classifier
	fallback llm.Classifier
	cfg      *config.AnalysisConfig
	timeout  time.Duration

	slots chan struct{}
	wg    sync.WaitGroup
}

func NewPool(primary, fallback llm.Classifier, cfg *config.AnalysisConfig, timeout time.Duration) *Pool {
	return &Pool{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		timeout:  timeout,
		slots:    make(chan struct{}, cfg.Workers),
	}
}

// Submit 派发一条评论。已派发过或已有结果的评论直接跳过；
// 槽位占满时阻塞，直到有空槽或任务取消。
func (p *Pool) Submit(job *Job, comment *model.Comment, analysisRequest string, fields []dto.OutputField) {
	if comment.Classified() {
		return
	}
	if !job.markDispatched(comment.CommentID) {
		return
	}

	select {
	case p.slots <- struct{}{}:
	case <-job.Context().Done():
		return
	}

	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.slots
			p.wg.Done()
		}()

		result, outcome, abandoned := p.classify(job, comment, analysisRequest, fields)
		if abandoned {
			// 取消时放弃该评论，不写结果，重启任务后重新分析
			return
		}
		job.appendResult(pendingResult{
			CommentID: comment.CommentID,
			Result:    result,
			Outcome:   outcome,
		}, p.cfg.BatchSize)
	}()
}

// Wait 等待所有在途分析结束
func (p *Pool) Wait() {
	p.wg.Wait()
}

// classify 三段式流水线：主通道重试 → 兜底通道 → 默认结果。
// abandoned 为 true 表示因取消而放弃。
func (p *Pool) classify(job *Job, comment *model.Comment, analysisRequest string, fields []dto.OutputField) (model.JSONMap, Outcome, bool) {
	messages := llm.BuildMessages(analysisRequest, fields, comment)

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if job.Cancelled() {
			return nil, 0, true
		}

		result, err := p.callOnce(job, p.primary, comment.CommentID, messages)
		if err == nil {
			return fillMissingFields(result, fields), OutcomeSuccess, false
		}
		log.Printf("Task %d comment %s: attempt %d/%d via %s failed: %v",
			job.TaskID, comment.CommentID, attempt, p.cfg.MaxRetries, p.primary.Name(), err)

		if attempt < p.cfg.MaxRetries {
			if !sleepCtx(job.Context(), p.cfg.RetryBackoff()) {
				return nil, 0, true
			}
		}
	}

	if job.Cancelled() {
		return nil, 0, true
	}

	if p.fallback != nil {
		result, err := p.callOnce(job, p.fallback, comment.CommentID, messages)
		if err == nil {
			return fillMissingFields(result, fields), OutcomeFallback, false
		}
		log.Printf("Task %d comment %s: fallback via %s failed: %v",
			job.TaskID, comment.CommentID, p.fallback.Name(), err)
	}

	if job.Cancelled() {
		return nil, 0, true
	}

	return DefaultResult(fields), OutcomeDefaulted, false
}

// callOnce 带超时发起一次模型调用并解析 JSON 结果，
// 调用期间的取消句柄登记到任务，便于 stop 时中止在途请求
func (p *Pool) callOnce(job *Job, classifier llm.Classifier, commentID string, messages []llm.Message) (model.JSONMap, error) {
	callCtx, cancel := context.WithTimeout(job.Context(), p.timeout)
	job.trackCall(commentID, cancel)
	defer func() {
		job.untrackCall(commentID)
		cancel()
	}()

	raw, err := classifier.Classify(callCtx, messages)
	if err != nil {
		return nil, err
	}
	return llm.ParseResult(raw)
}

// DefaultResult 按输出字段合成兜底结果：判定字段给"不确定"，
// 理由字段给失败说明，其余给"无"
func DefaultResult(fields []dto.OutputField) model.JSONMap {
	result := make(model.JSONMap, len(fields))
	for _, field := range fields {
		result[field.Key] = defaultFieldValue(field.Key)
	}
	return result
}

func defaultFieldValue(key string) string {
	if _, ok := verdictFieldKeys[key]; ok {
		return defaultVerdict
	}
	if _, ok := reasonFieldKeys[key]; ok {
		return defaultReason
	}
	return defaultOther
}

// fillMissingFields 保证结果覆盖全部输出字段，缺失的按字段类型补默认值
func fillMissingFields(result model.JSONMap, fields []dto.OutputField) model.JSONMap {
	for _, field := range fields {
		if _, ok := result[field.Key]; !ok {
			result[field.Key] = defaultFieldValue(field.Key)
		}
	}
	return result
}

// sleepCtx 可被取消打断的等待；正常睡满返回 true
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
