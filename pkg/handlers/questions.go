package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/pipeline"
)

// maxQuestionLength caps the question text accepted by the API.
const maxQuestionLength = 4000

// Answerer runs questions through the pipeline.
type Answerer interface {
	Run(ctx context.Context, question string) (*pipeline.Result, error)
	Metrics() *correction.Metrics
}

// AskQuestionRequest is the body of POST /api/questions.
type AskQuestionRequest struct {
	Question string `json:"question"`
}

// QuestionsHandler answers natural-language questions over HTTP.
type QuestionsHandler struct {
	answerer  Answerer
	questions *prometheus.CounterVec
	logger    *zap.Logger
}

// NewQuestionsHandler creates a QuestionsHandler. Question outcomes are counted in reg
// when it is non-nil.
func NewQuestionsHandler(answerer Answerer, reg prometheus.Registerer, logger *zap.Logger) *QuestionsHandler {
	h := &QuestionsHandler{answerer: answerer, logger: logger.Named("questions")}
	if reg != nil {
		h.questions = promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_questions_total",
				Help: "Total number of questions answered, by terminal reason",
			},
			[]string{"reason", "resolved"},
		)
	}
	return h
}

// RegisterRoutes registers the questions handler's routes on the given mux.
func (h *QuestionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/questions", h.Ask)
	mux.HandleFunc("GET /api/correction-metrics", h.CorrectionMetrics)
}

// Ask handles POST /api/questions
func (h *QuestionsHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(question) > maxQuestionLength {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is too long"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.answerer.Run(r.Context(), question)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Info("Question abandoned", zap.Error(err))
		if err := ErrorResponse(w, status, "cancelled", "The request was cancelled before the question was answered"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if h.questions != nil {
		resolved := "false"
		if result.QueryResolved {
			resolved = "true"
		}
		h.questions.WithLabelValues(string(result.Reason), resolved).Inc()
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: result}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CorrectionMetrics handles GET /api/correction-metrics
func (h *QuestionsHandler) CorrectionMetrics(w http.ResponseWriter, r *http.Request) {
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: h.answerer.Metrics().Summary()}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
