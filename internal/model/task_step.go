package model

// 任务步骤类型
const (
	StepCrawler  = 1
	StepAnalysis = 2
	StepMarket   = 3
)

// 任务步骤状态
const (
	StepStateInitial  = 1
	StepStateRunning  = 2
	StepStateFinished = 3
	StepStateDeleted  = 4
	StepStateStopped  = 5
)

var stepStateNames = map[int]string{
	StepStateInitial:  "initial",
	StepStateRunning:  "running",
	StepStateFinished: "finished",
	StepStateDeleted:  "deleted",
	StepStateStopped:  "stopped",
}

// StepStateName 状态枚举转字符串，未知值返回 unknown
func StepStateName(state int) string {
	if name, ok := stepStateNames[state]; ok {
		return name
	}
	return "unknown"
}

type TaskStep struct {
	ID         int64  `gorm:"primaryKey" json:"step_id"`
	TaskID     int64  `gorm:"not null;index:idx_task_step,unique" json:"task_id"`
	StepType   int    `gorm:"not null;index:idx_task_step,unique" json:"step_type"`
	State      int    `gorm:"not null;default:1" json:"state"`
	Progress   int    `gorm:"not null;default:0" json:"progress"`
	URL        string `gorm:"size:500" json:"url,omitempty"`
	CreateTime int64  `gorm:"not null" json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

func (TaskStep) TableName() string {
	return "task_steps"
}
