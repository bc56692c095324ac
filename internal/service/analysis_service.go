package service

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
	"github.com/qs3c/insight_go_server/internal/model/dto"
	"github.com/qs3c/insight_go_server/internal/repository"
	"github.com/qs3c/insight_go_server/internal/worker"
)

var (
	ErrModuleNotFound = errors.New("分析模板不存在")
)

type AnalysisService struct {
	orchestrator *worker.Orchestrator
	taskRepo     *repository.TaskRepository
	stepRepo     *repository.TaskStepRepository
	commentRepo  *repository.CommentRepository
	moduleRepo   *repository.AnalysisModuleRepository
}

func NewAnalysisService(
	orchestrator *worker.Orchestrator,
	taskRepo *repository.TaskRepository,
	stepRepo *repository.TaskStepRepository,
	commentRepo *repository.CommentRepository,
	moduleRepo *repository.AnalysisModuleRepository,
) *AnalysisService {
	return &AnalysisService{
		orchestrator: orchestrator,
		taskRepo:     taskRepo,
		stepRepo:     stepRepo,
		commentRepo:  commentRepo,
		moduleRepo:   moduleRepo,
	}
}

// Start 发起分析
func (s *AnalysisService) Start(userID int64, req *dto.AnalysisRequest) (*dto.StartAnalysisResponse, error) {
	taskID, err := s.orchestrator.StartAnalysis(userID, req)
	if err != nil {
		return nil, err
	}
	return &dto.StartAnalysisResponse{TaskID: taskID}, nil
}

// Stop 停止分析。首次触发返回 true，重复停止或任务不在跑返回 false
func (s *AnalysisService) Stop(userID, taskID int64) bool {
	return s.orchestrator.StopAnalysis(taskID, userID)
}

// Progress 查询分析进度。响应字段沿用前端既有约定：
// num 已完成、sum 总数、state 步骤状态、ic_num 意向客户数、url 完成后的导出地址
func (s *AnalysisService) Progress(userID, taskID int64) (*dto.ProgressResponse, error) {
	if _, err := s.taskRepo.GetByID(taskID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, worker.ErrTaskNotFound
		}
		return nil, err
	}

	total, err := s.commentRepo.CountByTaskID(taskID)
	if err != nil {
		return nil, err
	}
	icNum, err := s.commentRepo.CountIntentCustomers(taskID)
	if err != nil {
		return nil, err
	}

	resp := &dto.ProgressResponse{
		Sum:   total,
		State: model.StepStateInitial,
		ICNum: icNum,
	}

	step, err := s.stepRepo.GetByTaskAndType(taskID, model.StepAnalysis)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 还没发起过分析，进度为 0
			return resp, nil
		}
		return nil, err
	}

	resp.Num = step.Progress
	resp.State = step.State
	if step.State == model.StepStateFinished {
		resp.URL = step.URL
	}
	return resp, nil
}

// Comments 分页查询评论，分析结果字段平铺合并进每条记录
func (s *AnalysisService) Comments(userID, taskID int64, offset, count int) (*dto.CommentListResponse, error) {
	if _, err := s.taskRepo.GetByID(taskID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, worker.ErrTaskNotFound
		}
		return nil, err
	}

	if count <= 0 || count > 100 {
		count = 20
	}
	if offset < 0 {
		offset = 0
	}

	total, err := s.commentRepo.CountByTaskID(taskID)
	if err != nil {
		return nil, err
	}
	comments, err := s.commentRepo.ListPage(taskID, offset, count)
	if err != nil {
		return nil, err
	}

	items := make([]dto.CommentItem, len(comments))
	for i, c := range comments {
		items[i] = buildCommentItem(c)
	}

	return &dto.CommentListResponse{
		CommentList: items,
		Total:       total,
		Offset:      offset,
		Count:       count,
	}, nil
}

// buildCommentItem 评论本体字段 + 分析结果字段平铺。
// 意向客户判定以镜像列为准，没有分析结果时显示“不确定”
func buildCommentItem(c *model.Comment) dto.CommentItem {
	item := dto.CommentItem{
		"comment_id":     c.CommentID,
		"platform":       c.Platform,
		"source_id":      c.SourceID,
		"nickname":       c.Nickname,
		"ip_location":    c.IPLocation,
		"user_signature": c.UserSignature,
		"content":        c.Content,
		"create_time":    c.CreateTime,
	}

	for key, value := range c.ExtraData {
		item[key] = value
	}

	if c.IntentCustomer != "" {
		item["意向客户"] = c.IntentCustomer
	} else if _, ok := item["意向客户"]; !ok {
		item["意向客户"] = "不确定"
	}
	return item
}

// CreateModule 创建分析模板
func (s *AnalysisService) CreateModule(userID int64, req *dto.AnalysisModuleRequest) (*model.AnalysisModule, error) {
	module := &model.AnalysisModule{
		UserID:              userID,
		ServiceIntroduction: req.ServiceIntroduction,
		CustomerDescription: req.CustomerDescription,
	}
	if req.Default != nil {
		module.IsDefault = *req.Default
	}
	if err := s.moduleRepo.Create(module); err != nil {
		return nil, err
	}
	if module.IsDefault {
		// 复用 Update 的事务，取消其他模板的默认标记
		if err := s.moduleRepo.Update(module); err != nil {
			return nil, err
		}
	}
	return module, nil
}

// ListModules 获取用户的分析模板
func (s *AnalysisService) ListModules(userID int64) ([]*model.AnalysisModule, error) {
	return s.moduleRepo.ListByUserID(userID)
}

// UpdateModule 更新分析模板
func (s *AnalysisService) UpdateModule(userID int64, req *dto.AnalysisModuleRequest) (*model.AnalysisModule, error) {
	module, err := s.moduleRepo.GetByID(req.ID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModuleNotFound
		}
		return nil, err
	}

	module.ServiceIntroduction = req.ServiceIntroduction
	module.CustomerDescription = req.CustomerDescription
	if req.Default != nil {
		module.IsDefault = *req.Default
	}

	if err := s.moduleRepo.Update(module); err != nil {
		return nil, err
	}
	return module, nil
}

// DeleteModule 删除分析模板
func (s *AnalysisService) DeleteModule(userID, moduleID int64) error {
	err := s.moduleRepo.Delete(moduleID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrModuleNotFound
	}
	return err
}
