package dto

// OutputField 分析结果的一个输出字段：字段名 + 自然语言说明
type OutputField struct {
	Key         string `json:"key" binding:"required"`
	Explanation string `json:"explanation"`
}

// AnalysisRequest 发起分析的请求体
type AnalysisRequest struct {
	TaskID          int64         `json:"task_id,string" binding:"required"`
	AnalysisRequest string        `json:"analysis_request" binding:"required"`
	OutputFields    []OutputField `json:"output_fields" binding:"required"`
}

// StopAnalysisRequest 停止分析的请求体
type StopAnalysisRequest struct {
	TaskID int64 `json:"task_id,string" binding:"required"`
}

// StartAnalysisResponse 发起分析的响应
type StartAnalysisResponse struct {
	TaskID int64 `json:"task_id,string"`
}

// ProgressResponse 进度查询响应，字段名沿用前端既有约定
type ProgressResponse struct {
	Num    int    `json:"num"`              // 已完成数
	Sum    int64  `json:"sum"`              // 总数
	State  int    `json:"state"`            // 步骤状态枚举
	ICNum  int64  `json:"ic_num"`           // 意向客户数
	URL    string `json:"url,omitempty"`    // 完成后的导出文件地址
}

// CommentItem 评论列表项，分析结果字段平铺合并进来
type CommentItem map[string]interface{}

// CommentListResponse 评论分页响应
type CommentListResponse struct {
	CommentList []CommentItem `json:"comment_list"`
	Total       int64         `json:"total"`
	Offset      int           `json:"offset"`
	Count       int           `json:"count"`
}

// AnalysisModuleRequest 分析模板的创建/更新请求
type AnalysisModuleRequest struct {
	ID                  int64  `json:"id"`
	ServiceIntroduction string `json:"service_introduction"`
	CustomerDescription string `json:"customer_description"`
	Default             *bool  `json:"default"`
}
