package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelkit/reelkit-backend/internal/apierr"
	"github.com/reelkit/reelkit-backend/internal/logger"
	"github.com/reelkit/reelkit-backend/internal/services"
	"github.com/reelkit/reelkit-backend/internal/types"
)

type GenerationHandler struct {
	log         *logger.Logger
	generations services.GenerationService
}

func NewGenerationHandler(baseLog *logger.Logger, generations services.GenerationService) *GenerationHandler {
	return &GenerationHandler{
		log:         baseLog.With("handler", "GenerationHandler"),
		generations: generations,
	}
}

type startBatchRequest struct {
	BriefID     uuid.UUID `json:"brief_id" binding:"required"`
	TargetCount int       `json:"target_count" binding:"required"`
}

func (h *GenerationHandler) Start(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, err))
		return
	}
	batch, err := h.generations.StartBatch(c.Request.Context(), req.BriefID, req.TargetCount)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

func (h *GenerationHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid batch id")))
		return
	}
	detail, err := h.generations.GetBatch(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (h *GenerationHandler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid batch id")))
		return
	}
	if err := h.generations.CancelBatch(c.Request.Context(), id); err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (h *GenerationHandler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid batch id")))
		return
	}
	batch, err := h.generations.RetryFailed(c.Request.Context(), id)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}

type reviewRequest struct {
	State types.ReviewState `json:"state" binding:"required"`
}

func (h *GenerationHandler) Review(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid item id")))
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, err))
		return
	}
	item, err := h.generations.ReviewItem(c.Request.Context(), id, req.State)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type iterateRequest struct {
	TargetCount     int    `json:"target_count" binding:"required"`
	VariationIntent string `json:"variation_intent"`
}

func (h *GenerationHandler) Iterate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, fmt.Errorf("invalid item id")))
		return
	}
	var req iterateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, h.log, apierr.New(http.StatusBadRequest, apierr.CodeValidationError, err))
		return
	}
	batch, err := h.generations.CreateIteration(c.Request.Context(), id, req.TargetCount, req.VariationIntent)
	if err != nil {
		RespondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, batch)
}
