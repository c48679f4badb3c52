package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"agentdeck/internal/dto"
	"agentdeck/internal/response"
	"agentdeck/log"
	apperrors "agentdeck/pkg/errors"
)

func (h *Handler) CreateRun(c *gin.Context) {
	var req dto.CreateRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.GetLogger().Error("CreateRun ShouldBindJSON err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}

	run, err := h.Service.CreateRun(c.Request.Context(), c.Param("orgId"), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, run)
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.Service.GetRun(c.Request.Context(), c.Param("orgId"), c.Param("runId"))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, run)
}

func (h *Handler) ListRuns(c *gin.Context) {
	response.Success(c, h.Service.ListRuns(c.Param("orgId")))
}

func (h *Handler) ResumeRun(c *gin.Context) {
	var req dto.ResumeRunReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}

	child, err := h.Service.ResumeRun(c.Request.Context(), c.Param("orgId"), c.Param("runId"), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, child)
}

func (h *Handler) StopRun(c *gin.Context) {
	run, err := h.Service.StopRun(c.Request.Context(), c.Param("orgId"), c.Param("runId"))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, run)
}

func (h *Handler) DeleteRun(c *gin.Context) {
	if err := h.Service.DeleteRun(c.Param("orgId"), c.Param("runId")); err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, nil)
}

func (h *Handler) SyncOrganization(c *gin.Context) {
	state, err := h.Service.SyncOrganization(c.Request.Context(), c.Param("orgId"))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, state)
}

func (h *Handler) GetSyncState(c *gin.Context) {
	response.Success(c, h.Service.SyncState(c.Param("orgId")))
}
