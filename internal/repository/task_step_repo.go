package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
)

type TaskStepRepository struct {
	db *gorm.DB
}

func NewTaskStepRepository(db *gorm.DB) *TaskStepRepository {
	return &TaskStepRepository{db: db}
}

// GetByTaskAndType 获取某任务某阶段的步骤记录
func (r *TaskStepRepository) GetByTaskAndType(taskID int64, stepType int) (*model.TaskStep, error) {
	var step model.TaskStep
	err := r.db.Where("task_id = ? AND step_type = ?", taskID, stepType).First(&step).Error
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// GetOrCreate 获取步骤记录，不存在则以 initial 状态创建
func (r *TaskStepRepository) GetOrCreate(taskID int64, stepType int) (*model.TaskStep, error) {
	step, err := r.GetByTaskAndType(taskID, stepType)
	if err == nil {
		return step, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	step = &model.TaskStep{
		TaskID:     taskID,
		StepType:   stepType,
		State:      model.StepStateInitial,
		Progress:   0,
		CreateTime: time.Now().Unix(),
	}
	if err := r.db.Create(step).Error; err != nil {
		return nil, err
	}
	return step, nil
}

// UpdateStatus 部分更新步骤记录，nil 表示该字段不变
func (r *TaskStepRepository) UpdateStatus(taskID int64, stepType int, state *int, progress *int, url *string) error {
	updates := map[string]interface{}{
		"update_time": time.Now().Unix(),
	}
	if state != nil {
		updates["state"] = *state
	}
	if progress != nil {
		updates["progress"] = *progress
	}
	if url != nil {
		updates["url"] = *url
	}

	return r.db.Model(&model.TaskStep{}).
		Where("task_id = ? AND step_type = ?", taskID, stepType).
		Updates(updates).Error
}

// ListByTaskID 获取任务的全部步骤
func (r *TaskStepRepository) ListByTaskID(taskID int64) ([]*model.TaskStep, error) {
	var steps []*model.TaskStep
	err := r.db.Where("task_id = ?", taskID).Order("step_type ASC").Find(&steps).Error
	return steps, err
}

// ListRunningByType 获取处于 running 状态的某类步骤，用于进程重启后的残留回收
func (r *TaskStepRepository) ListRunningByType(stepType int) ([]*model.TaskStep, error) {
	var steps []*model.TaskStep
	err := r.db.Where("step_type = ? AND state = ?", stepType, model.StepStateRunning).Find(&steps).Error
	return steps, err
}
