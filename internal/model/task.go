package model

type Task struct {
	ID         int64  `gorm:"primaryKey" json:"task_id"`
	UserID     int64  `gorm:"not null;index" json:"user_id"`
	Platform   string `gorm:"size:10;not null" json:"platform"` // dy, xhs
	Keyword    string `gorm:"size:200;not null" json:"keyword"`
	CreateTime int64  `gorm:"not null" json:"create_time"`
}

func (Task) TableName() string {
	return "tasks"
}
