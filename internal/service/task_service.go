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
	ErrTaskNotFound = errors.New("任务不存在")
	ErrTaskRunning  = errors.New("任务正在分析中，请先停止")
)

type TaskService struct {
	taskRepo *repository.TaskRepository
	stepRepo *repository.TaskStepRepository
	registry *worker.Registry
}

func NewTaskService(
	taskRepo *repository.TaskRepository,
	stepRepo *repository.TaskStepRepository,
	registry *worker.Registry,
) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		stepRepo: stepRepo,
		registry: registry,
	}
}

// Create 创建爬取任务，并初始化爬虫步骤记录
func (s *TaskService) Create(userID int64, req *dto.CreateTaskRequest) (*dto.TaskItem, error) {
	task := &model.Task{
		UserID:   userID,
		Platform: req.Platform,
		Keyword:  req.Keyword,
	}
	if err := s.taskRepo.Create(task); err != nil {
		return nil, err
	}
	if _, err := s.stepRepo.GetOrCreate(task.ID, model.StepCrawler); err != nil {
		return nil, err
	}

	return &dto.TaskItem{
		TaskID:     task.ID,
		Platform:   task.Platform,
		Keyword:    task.Keyword,
		CreateTime: task.CreateTime,
	}, nil
}

// List 分页获取任务列表，附带各步骤状态
func (s *TaskService) List(userID int64, offset, count int) (*dto.TaskListResponse, error) {
	if count <= 0 || count > 100 {
		count = 20
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.taskRepo.ListByUserID(userID, offset, count)
	if err != nil {
		return nil, err
	}

	items := make([]dto.TaskItem, len(tasks))
	for i, t := range tasks {
		items[i] = dto.TaskItem{
			TaskID:     t.ID,
			Platform:   t.Platform,
			Keyword:    t.Keyword,
			CreateTime: t.CreateTime,
		}

		steps, err := s.stepRepo.ListByTaskID(t.ID)
		if err != nil {
			return nil, err
		}
		for _, step := range steps {
			items[i].Steps = append(items[i].Steps, dto.TaskStepItem{
				StepType: step.StepType,
				State:    step.State,
				Progress: step.Progress,
				URL:      step.URL,
			})
		}
	}

	return &dto.TaskListResponse{
		Tasks:  items,
		Total:  total,
		Offset: offset,
		Count:  count,
	}, nil
}

// Delete 删除任务及其步骤和评论。任务在分析中时拒绝删除
func (s *TaskService) Delete(userID, taskID int64) error {
	if _, err := s.taskRepo.GetByID(taskID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTaskNotFound
		}
		return err
	}

	if _, running := s.registry.Get(taskID); running {
		return ErrTaskRunning
	}

	return s.taskRepo.DeleteWithSteps(taskID)
}
