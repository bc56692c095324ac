package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/insight_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", time.Now().UnixNano()%100000),
		Email:        &email,
		PasswordHash: &passwordHash,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// TestTask 创建测试任务
func TestTask(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Task)) *model.Task {
	t.Helper()

	task := &model.Task{
		UserID:     userID,
		Platform:   "dy",
		Keyword:    "装修",
		CreateTime: time.Now().Unix(),
	}

	for _, opt := range opts {
		opt(task)
	}

	if err := db.Create(task).Error; err != nil {
		t.Fatalf("Failed to create test task: %v", err)
	}

	return task
}

// WithPlatform 设置任务平台
func WithPlatform(platform string) func(*model.Task) {
	return func(task *model.Task) {
		task.Platform = platform
	}
}

// TestStep 创建测试步骤
func TestStep(t *testing.T, db *gorm.DB, taskID int64, stepType, state int) *model.TaskStep {
	t.Helper()

	step := &model.TaskStep{
		TaskID:     taskID,
		StepType:   stepType,
		State:      state,
		CreateTime: time.Now().Unix(),
	}

	if err := db.Create(step).Error; err != nil {
		t.Fatalf("Failed to create test step: %v", err)
	}

	return step
}

// TestComment 创建测试评论
func TestComment(t *testing.T, db *gorm.DB, taskID int64, commentID string, opts ...func(*model.Comment)) *model.Comment {
	t.Helper()

	comment := &model.Comment{
		TaskID:     taskID,
		CommentID:  commentID,
		Platform:   "dy",
		SourceID:   "7000000000000000001",
		Nickname:   "测试用户",
		IPLocation: "浙江",
		Content:    "请问全包多少钱一平",
		CreateTime: time.Now().Unix(),
	}

	for _, opt := range opts {
		opt(comment)
	}

	if err := db.Create(comment).Error; err != nil {
		t.Fatalf("Failed to create test comment: %v", err)
	}

	return comment
}

// WithResult 设置评论的分析结果
func WithResult(result model.JSONMap) func(*model.Comment) {
	return func(c *model.Comment) {
		c.ExtraData = result
		if v, ok := result["意向客户"]; ok {
			c.IntentCustomer = v
		}
	}
}

// WithContent 设置评论内容
func WithContent(content string) func(*model.Comment) {
	return func(c *model.Comment) {
		c.Content = content
	}
}
