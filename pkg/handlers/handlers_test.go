package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-text2sql/pkg/config"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/correction"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/models"
	"github.com/ekaya-inc/ekaya-text2sql/pkg/pipeline"
)

type mockAnswerer struct {
	RunFunc   func(ctx context.Context, question string) (*pipeline.Result, error)
	metrics   *correction.Metrics
	questions []string
}

func (m *mockAnswerer) Run(ctx context.Context, question string) (*pipeline.Result, error) {
	m.questions = append(m.questions, question)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, question)
	}
	return &pipeline.Result{
		QuestionID:    "q-1",
		SQL:           "SELECT name FROM secure_employee LIMIT 100",
		Columns:       []string{"name"},
		Rows:          []map[string]any{{"name": "Ada"}},
		RowCount:      1,
		QueryResolved: true,
		Reason:        pipeline.ReasonAnswered,
		Explanation:   pipeline.Explanation(pipeline.ReasonAnswered),
	}, nil
}

func (m *mockAnswerer) Metrics() *correction.Metrics {
	if m.metrics == nil {
		m.metrics = correction.NewMetrics(nil)
	}
	return m.metrics
}

type mockTester struct {
	err error
}

func (m *mockTester) TestConnection(ctx context.Context) error { return m.err }

func newMux(answerer Answerer) (*http.ServeMux, *QuestionsHandler) {
	mux := http.NewServeMux()
	reg := NewRegistry()
	h := NewQuestionsHandler(answerer, reg, zap.NewNop())
	h.RegisterRoutes(mux)
	RegisterMetricsRoute(mux, reg)
	return mux, h
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestQuestionsHandler_Ask(t *testing.T) {
	answerer := &mockAnswerer{}
	mux, h := newMux(answerer)

	req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader(`{"question": "  List employees "}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"List employees"}, answerer.questions)

	var body struct {
		Success bool            `json:"success"`
		Data    pipeline.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.True(t, body.Data.QueryResolved)
	assert.Equal(t, pipeline.ReasonAnswered, body.Data.Reason)
	assert.Equal(t, 1, body.Data.RowCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.questions.WithLabelValues("answered", "true")))
}

func TestQuestionsHandler_UnresolvedIsStillOK(t *testing.T) {
	answerer := &mockAnswerer{
		RunFunc: func(ctx context.Context, question string) (*pipeline.Result, error) {
			return &pipeline.Result{
				QuestionID:  "q-2",
				Reason:      pipeline.ReasonNoTables,
				Explanation: pipeline.Explanation(pipeline.ReasonNoTables),
				Columns:     []string{},
				Rows:        []map[string]any{},
			}, nil
		},
	}
	mux, _ := newMux(answerer)

	req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader(`{"question": "How many ships"}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"query_resolved":false`)
	assert.Contains(t, body, pipeline.Explanation(pipeline.ReasonNoTables))
}

func TestQuestionsHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"question":`},
		{name: "missing question", body: `{}`},
		{name: "blank question", body: `{"question": "   "}`},
		{name: "too long", body: `{"question": "` + strings.Repeat("a", maxQuestionLength+1) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answerer := &mockAnswerer{}
			mux, _ := newMux(answerer)

			req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, "invalid_request", resp.Error)
			assert.Empty(t, answerer.questions)
		})
	}
}

func TestQuestionsHandler_Cancelled(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{err: context.Canceled, status: http.StatusServiceUnavailable},
		{err: context.DeadlineExceeded, status: http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			answerer := &mockAnswerer{
				RunFunc: func(ctx context.Context, question string) (*pipeline.Result, error) {
					return nil, tt.err
				},
			}
			mux, _ := newMux(answerer)

			req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader(`{"question": "List employees"}`))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "cancelled", decodeResponse(t, rec).Error)
		})
	}
}

func TestQuestionsHandler_CorrectionMetrics(t *testing.T) {
	answerer := &mockAnswerer{}
	answerer.Metrics().Record(models.ErrorKindGroupByViolation, correction.OutcomeDeterministicSuccess)
	answerer.Metrics().Record(models.ErrorKindUnknownColumn, correction.OutcomeFailure)
	mux, _ := newMux(answerer)

	req := httptest.NewRequest(http.MethodGet, "/api/correction-metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data correction.Summary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 2, body.Data.TotalAttempts)
	assert.InDelta(t, 0.5, body.Data.DeterministicRatio, 0.001)
}

func TestMetricsRoute(t *testing.T) {
	mux, _ := newMux(&mockAnswerer{})

	// One answered question so the counter has a sample
	req := httptest.NewRequest(http.MethodPost, "/api/questions", strings.NewReader(`{"question": "List employees"}`))
	mux.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "text2sql_questions_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestHealthHandler_Health(t *testing.T) {
	cfg := &config.Config{Version: "test-version", Env: "test"}

	tests := []struct {
		name       string
		db         ConnectionTester
		wantStatus int
		want       HealthResponse
	}{
		{name: "no datasource", db: nil, wantStatus: http.StatusOK, want: HealthResponse{Status: "ok"}},
		{name: "reachable", db: &mockTester{}, wantStatus: http.StatusOK, want: HealthResponse{Status: "ok", Datasource: "ok"}},
		{name: "unreachable", db: &mockTester{err: errors.New("dial tcp: connection refused")}, wantStatus: http.StatusServiceUnavailable, want: HealthResponse{Status: "degraded", Datasource: "unreachable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(cfg, tt.db, zap.NewNop())

			rec := httptest.NewRecorder()
			handler.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{Version: "1.2.3", Env: "test"}
	cfg.Datasource.Type = "mysql"
	handler := NewHealthHandler(cfg, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got PingResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, "1.2.3", got.Version)
	assert.Equal(t, "ekaya-text2sql", got.Service)
	assert.Equal(t, "test", got.Environment)
	assert.Equal(t, "mysql", got.Dialect)
	assert.NotEmpty(t, got.GoVersion)
}
