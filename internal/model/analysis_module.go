package model

// AnalysisModule 用户保存的分析模板（业务介绍 + 客户画像）
type AnalysisModule struct {
	ID                  int64  `gorm:"primaryKey" json:"id"`
	UserID              int64  `gorm:"not null;index" json:"user_id"`
	ServiceIntroduction string `gorm:"type:text" json:"service_introduction"`
	CustomerDescription string `gorm:"type:text" json:"customer_description"`
	IsDefault           bool   `gorm:"default:false" json:"default"`
	CreateTime          int64  `gorm:"not null" json:"create_time"`
	UpdateTime          int64  `json:"update_time"`
}

func (AnalysisModule) TableName() string {
	return "analysis_modules"
}
