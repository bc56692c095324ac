package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/insight_go_server/internal/api/middleware"
	"github.com/qs3c/insight_go_server/internal/model/dto"
	"github.com/qs3c/insight_go_server/internal/pkg/response"
	"github.com/qs3c/insight_go_server/internal/service"
	"github.com/qs3c/insight_go_server/internal/worker"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService: analysisService,
	}
}

// Start 发起分析
// POST /api/v1/analysis
func (h *AnalysisHandler) Start(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.analysisService.Start(userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrAnalysisRunning):
			response.ConflictError(c, err.Error())
		case errors.Is(err, worker.ErrTaskNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, worker.ErrInvalidRubric):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "分析已启动", resp)
}

// Stop 停止分析
// POST /api/v1/stop_analysis
func (h *AnalysisHandler) Stop(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.StopAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	stopped := h.analysisService.Stop(userID, req.TaskID)
	response.Success(c, gin.H{"stopped": stopped})
}

// Progress 查询分析进度
// GET /api/v1/progress?task_id=xxx
func (h *AnalysisHandler) Progress(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	taskID, err := strconv.ParseInt(c.Query("task_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务ID")
		return
	}

	resp, err := h.analysisService.Progress(userID, taskID)
	if err != nil {
		if errors.Is(err, worker.ErrTaskNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, resp)
}

// Comments 分页查询评论及分析结果
// GET /api/v1/comments?task_id=xxx&offset=0&count=20
func (h *AnalysisHandler) Comments(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	taskID, err := strconv.ParseInt(c.Query("task_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务ID")
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	count, _ := strconv.Atoi(c.DefaultQuery("count", "20"))

	resp, err := h.analysisService.Comments(userID, taskID, offset, count)
	if err != nil {
		if errors.Is(err, worker.ErrTaskNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, resp)
}

// CreateModule 创建分析模板
// POST /api/v1/analysis_modules
func (h *AnalysisHandler) CreateModule(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.AnalysisModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	module, err := h.analysisService.CreateModule(userID, &req)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "创建成功", module)
}

// ListModules 获取分析模板列表
// GET /api/v1/analysis_modules
func (h *AnalysisHandler) ListModules(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	modules, err := h.analysisService.ListModules(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gin.H{"modules": modules})
}

// UpdateModule 更新分析模板
// PUT /api/v1/analysis_modules/:id
func (h *AnalysisHandler) UpdateModule(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	moduleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的模板ID")
		return
	}

	var req dto.AnalysisModuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	req.ID = moduleID

	module, err := h.analysisService.UpdateModule(userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrModuleNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, module)
}

// DeleteModule 删除分析模板
// DELETE /api/v1/analysis_modules/:id
func (h *AnalysisHandler) DeleteModule(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	moduleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的模板ID")
		return
	}

	if err := h.analysisService.DeleteModule(userID, moduleID); err != nil {
		if errors.Is(err, service.ErrModuleNotFound) {
			response.NotFoundError(c, err.Error())
		} else {
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "删除成功", nil)
}
