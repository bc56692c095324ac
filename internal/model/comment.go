package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap 可空 JSON 字段。nil 表示数据库中的 NULL，
// 评论是否已完成分析就以该字段是否为 NULL 判定。
type JSONMap map[string]string

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
	return json.Unmarshal(data, m)
}

// Comment 各平台评论的统一存储行，由爬虫写入、分析任务回填
type Comment struct {
	ID            int64   `gorm:"primaryKey" json:"id"`
	TaskID        int64   `gorm:"not null;index;index:idx_task_comment,unique" json:"task_id"`
	CommentID     string  `gorm:"size:64;not null;index:idx_task_comment,unique" json:"comment_id"`
	Platform      string  `gorm:"size:10;not null" json:"platform"`
	SourceID      string  `gorm:"size:64" json:"source_id"` // 抖音视频 aweme_id / 小红书笔记 note_id
	SecUID        string  `gorm:"size:128" json:"sec_uid"`
	Nickname      string  `gorm:"size:100" json:"nickname"`
	IPLocation    string  `gorm:"size:50" json:"ip_location"`
	UserSignature string  `gorm:"size:500" json:"user_signature"`
	Content       string  `gorm:"type:text" json:"content"`
	CreateTime    int64   `json:"create_time"`
	ExtraData     JSONMap `gorm:"type:json" json:"extra_data,omitempty"`
	IntentCustomer string `gorm:"size:50;index" json:"intent_customer,omitempty"`
	LastModifyTs  int64   `json:"last_modify_ts"`
}

func (Comment) TableName() string {
	return "comments"
}

// Classified 是否已有分析结果
func (c *Comment) Classified() bool {
	return c.ExtraData != nil
}
