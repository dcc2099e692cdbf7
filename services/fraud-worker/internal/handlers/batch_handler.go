package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/utils"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/internal/ingestion"
	"go.uber.org/zap"
)

// BatchRequest carries queue-shaped messages. A body may be the transaction
// object itself or a JSON string holding it, as queue envelopes deliver it.
type BatchRequest struct {
	Messages []BatchMessage `json:"messages" binding:"required,min=1,dive"`
}

type BatchMessage struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body" binding:"required"`
}

type BatchHandler struct {
	logger       *zap.Logger
	handler      ingestion.BatchHandler
	maxBatchSize int
}

func NewBatchHandler(logger *zap.Logger, handler ingestion.BatchHandler, maxBatchSize int) *BatchHandler {
	return &BatchHandler{logger: logger, handler: handler, maxBatchSize: maxBatchSize}
}

// RegisterRoutes registers batch routes on the provided router group.
func (h *BatchHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/batches", h.ProcessBatch)
}

// ProcessBatch runs the messages through the pipeline and answers 200 with the
// batch summary, including when some messages failed.
func (h *BatchHandler) ProcessBatch(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		h.abort(c, "", pkg.NewAppError(pkg.ErrServerCode, "missing trace id", err))
		return
	}

	var req BatchRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		h.abort(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid request body", err))
		return
	}
	if h.maxBatchSize > 0 && len(req.Messages) > h.maxBatchSize {
		h.abort(c, traceID, pkg.NewAppError(pkg.ErrInvalidInputCode,
			fmt.Sprintf("batch holds %d messages, limit is %d", len(req.Messages), h.maxBatchSize), nil))
		return
	}

	msgs := make([]ingestion.Message, len(req.Messages))
	for i, m := range req.Messages {
		id := m.ID
		if id == "" {
			id = uuid.NewString()
		}
		msgs[i] = ingestion.Message{ID: id, Body: unwrapBody(m.Body)}
	}

	result := h.handler.HandleBatch(c.Request.Context(), msgs)
	h.logger.Info("http_batch_processed",
		zap.String(pkg.TraceId, traceID),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	c.JSON(http.StatusOK, result)
}

func (h *BatchHandler) abort(c *gin.Context, traceID string, err error) {
	resp := pkg.ToErrorResponse(h.logger, traceID, err)
	c.AbortWithStatusJSON(resp.Status, resp)
}

// unwrapBody returns the inner document when body is a JSON string.
func unwrapBody(body json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return []byte(s)
	}
	return body
}
