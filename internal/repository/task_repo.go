package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create 创建任务
func (r *TaskRepository) Create(task *model.Task) error {
	if task.CreateTime == 0 {
		task.CreateTime = time.Now().Unix()
	}
	return r.db.Create(task).Error
}

// GetByID 按任务 ID + 用户 ID 获取任务，用于归属校验
func (r *TaskRepository) GetByID(taskID, userID int64) (*model.Task, error) {
	var task model.Task
	err := r.db.Where("id = ? AND user_id = ?", taskID, userID).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByUserID 按创建时间倒序分页获取任务
func (r *TaskRepository) ListByUserID(userID int64, offset, count int) ([]*model.Task, int64, error) {
	var tasks []*model.Task
	var total int64

	query := r.db.Model(&model.Task{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("create_time DESC").Offset(offset).Limit(count).Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// DeleteWithSteps 删除任务及其步骤和评论
func (r *TaskRepository) DeleteWithSteps(taskID int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Delete(&model.TaskStep{}).Error; err != nil {
			return err
		}
		if err := tx.Where("task_id = ?", taskID).Delete(&model.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Task{}, taskID).Error
	})
}
