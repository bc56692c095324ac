package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
)

type AnalysisModuleRepository struct {
	db *gorm.DB
}

func NewAnalysisModuleRepository(db *gorm.DB) *AnalysisModuleRepository {
	return &AnalysisModuleRepository{db: db}
}

// Create 创建分析模板
func (r *AnalysisModuleRepository) Create(module *model.AnalysisModule) error {
	if module.CreateTime == 0 {
		module.CreateTime = time.Now().Unix()
	}
	return r.db.Create(module).Error
}

// GetByID 按 ID + 用户获取模板
func (r *AnalysisModuleRepository) GetByID(id, userID int64) (*model.AnalysisModule, error) {
	var module model.AnalysisModule
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&module).Error
	if err != nil {
		return nil, err
	}
	return &module, nil
}

// ListByUserID 获取用户全部模板
func (r *AnalysisModuleRepository) ListByUserID(userID int64) ([]*model.AnalysisModule, error) {
	var modules []*model.AnalysisModule
	err := r.db.Where("user_id = ?", userID).Order("create_time DESC").Find(&modules).Error
	return modules, err
}

// Update 更新模板；设为默认时取消同用户其他模板的默认标记
func (r *AnalysisModuleRepository) Update(module *model.AnalysisModule) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if module.IsDefault {
			if err := tx.Model(&model.AnalysisModule{}).
				Where("user_id = ? AND id != ?", module.UserID, module.ID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		module.UpdateTime = time.Now().Unix()
		return tx.Save(module).Error
	})
}

// Delete 删除模板
func (r *AnalysisModuleRepository) Delete(id, userID int64) error {
	result := r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&model.AnalysisModule{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
