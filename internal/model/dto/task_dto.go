package dto

// CreateTaskRequest 创建爬取任务
type CreateTaskRequest struct {
	Platform string `json:"platform" binding:"required,oneof=dy xhs"`
	Keyword  string `json:"keyword" binding:"required"`
}

// TaskItem 任务列表项
type TaskItem struct {
	TaskID     int64          `json:"task_id,string"`
	Platform   string         `json:"platform"`
	Keyword    string         `json:"keyword"`
	CreateTime int64          `json:"create_time"`
	Steps      []TaskStepItem `json:"steps,omitempty"`
}

// TaskStepItem 任务步骤状态
type TaskStepItem struct {
	StepType int    `json:"step_type"`
	State    int    `json:"state"`
	Progress int    `json:"progress"`
	URL      string `json:"url,omitempty"`
}

// TaskListResponse 任务分页响应
type TaskListResponse struct {
	Tasks  []TaskItem `json:"tasks"`
	Total  int64      `json:"total"`
	Offset int        `json:"offset"`
	Count  int        `json:"count"`
}
