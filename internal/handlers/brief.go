package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/services"
)

type BriefHandler struct {
	log    *logger.Logger
	briefs services.BriefService
}

func NewBriefHandler(baseLog *logger.Logger, briefs services.BriefService) *BriefHandler {
	return &BriefHandler{
		log:    baseLog.With("handler", "BriefHandler"),
		briefs: briefs,
	}
}

type createBriefRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *BriefHandler) Create(c *gin.Context) {
	var req createBriefRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, err))
		return
	}
	brief, err := h.briefs.Create(c.Request.Context(), req.Text)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, brief)
}

func (h *BriefHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid brief id")))
		return
	}
	brief, err := h.briefs.Get(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}

func (h *BriefHandler) Parse(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid brief id")))
		return
	}
	brief, err := h.briefs.Parse(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, brief)
}
