package handler

import (
	"github.com/gin-gonic/gin"

	"agentdeck/internal/dto"
	"agentdeck/internal/response"
	apperrors "agentdeck/pkg/errors"
)

func (h *Handler) SearchGithub(c *gin.Context) {
	var req dto.GithubSearchReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}

	result, err := h.Service.SearchGithub(c.Request.Context(), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) SearchNpm(c *gin.Context) {
	var req dto.NpmSearchReq
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "Invalid parameters", err))
		return
	}

	packages, err := h.Service.SearchNpm(c.Request.Context(), req)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, packages)
}
