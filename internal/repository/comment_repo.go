package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
)

// 识别为主判定字段（意向客户）的键名
var verdictKeys = []string{"意向客户", "intent_customer"}

// ResultUpdate 一条待落库的分析结果
type ResultUpdate struct {
	CommentID string
	Result    model.JSONMap
}

type CommentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

// Create 写入评论（爬虫侧使用）
func (r *CommentRepository) Create(comment *model.Comment) error {
	return r.db.Create(comment).Error
}

// CountByTaskID 任务评论总数
func (r *CommentRepository) CountByTaskID(taskID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Comment{}).Where("task_id = ?", taskID).Count(&count).Error
	return count, err
}

// CountClassified 已有分析结果的评论数
func (r *CommentRepository) CountClassified(taskID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Comment{}).
		Where("task_id = ? AND extra_data IS NOT NULL", taskID).
		Count(&count).Error
	return count, err
}

// CountIntentCustomers 意向客户数
func (r *CommentRepository) CountIntentCustomers(taskID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Comment{}).
		Where("task_id = ? AND intent_customer = ?", taskID, "是").
		Count(&count).Error
	return count, err
}

// ListUnclassified 拉取尚无分析结果的评论
func (r *CommentRepository) ListUnclassified(taskID int64) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := r.db.Where("task_id = ? AND extra_data IS NULL", taskID).Find(&comments).Error
	return comments, err
}

// ListByTaskID 任务全部评论，按评论时间倒序
func (r *CommentRepository) ListByTaskID(taskID int64) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := r.db.Where("task_id = ?", taskID).Order("create_time DESC").Find(&comments).Error
	return comments, err
}

// ListPage 评论分页
func (r *CommentRepository) ListPage(taskID int64, offset, count int) ([]*model.Comment, error) {
	var comments []*model.Comment
	err := r.db.Where("task_id = ?", taskID).
		Order("create_time DESC").Offset(offset).Limit(count).
		Find(&comments).Error
	return comments, err
}

// GetByCommentID 按业务评论 ID 获取
func (r *CommentRepository) GetByCommentID(taskID int64, commentID string) (*model.Comment, error) {
	var comment model.Comment
	err := r.db.Where("task_id = ? AND comment_id = ?", taskID, commentID).First(&comment).Error
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// UpdateResult 回填单条评论的分析结果，同时镜像主判定字段
func (r *CommentRepository) UpdateResult(taskID int64, commentID string, result model.JSONMap) error {
	updates := map[string]interface{}{
		"extra_data":     result,
		"last_modify_ts": time.Now().Unix(),
	}
	if verdict := extractVerdict(result); verdict != "" {
		updates["intent_customer"] = verdict
	}
	return r.db.Model(&model.Comment{}).
		Where("task_id = ? AND comment_id = ?", taskID, commentID).
		Updates(updates).Error
}

// BatchUpdateResults 一个事务内批量回填分析结果
func (r *CommentRepository) BatchUpdateResults(taskID int64, updates []ResultUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().Unix()
		for _, u := range updates {
			fields := map[string]interface{}{
				"extra_data":     u.Result,
				"last_modify_ts": now,
			}
			if verdict := extractVerdict(u.Result); verdict != "" {
				fields["intent_customer"] = verdict
			}
			if err := tx.Model(&model.Comment{}).
				Where("task_id = ? AND comment_id = ?", taskID, u.CommentID).
				Updates(fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func extractVerdict(result model.JSONMap) string {
	for _, key := range verdictKeys {
		if v, ok := result[key]; ok && v != "" {
			return v
		}
	}
	return ""
}
