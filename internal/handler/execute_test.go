package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/auth"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/handler"
	"github.com/sakif/pyrun-jupyter/internal/model"
	sqliteRepo "github.com/sakif/pyrun-jupyter/internal/repository/sqlite"
	"github.com/sakif/pyrun-jupyter/internal/service"
)

// MockExecutor stands in for a kernel so handlers can be tested without a
// Jupyter server.
type MockExecutor struct {
	CapturedReq executor.ExecutionRequest
	ReturnRes   *executor.ExecutionResult
	ReturnErr   error
}

func (m *MockExecutor) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	m.CapturedReq = req
	return m.ReturnRes, m.ReturnErr
}

// newTestRouter wires the handlers the way the server does, minus auth.
func newTestRouter(t *testing.T, exec executor.Executor, subject string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	db, err := sqliteRepo.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runs := service.NewRunService(exec, db, "python3", logger)
	executeHandler := handler.NewExecuteHandler(runs, logger)
	runHandler := handler.NewRunHandler(runs, logger)

	r := chi.NewRouter()
	if subject != "" {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(auth.WithSubject(req.Context(), subject)))
			})
		})
	}
	r.Post("/api/execute", executeHandler.HandleExecute)
	r.Get("/api/runs", runHandler.HandleList)
	r.Get("/api/runs/{id}", runHandler.HandleGetByID)
	r.Delete("/api/runs/{id}", runHandler.HandleDelete)
	return r
}

func postExecute(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestExecuteHandler_HandleExecute(t *testing.T) {
	t.Run("valid execution", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &executor.ExecutionResult{
				Stdout:   "Training for 5 epochs\n",
				Duration: 100 * time.Millisecond,
			},
		}
		h := newTestRouter(t, mockExec, "alice")

		rr := postExecute(t, h, `{"code":"print(f'Training for {epochs} epochs')","params":{"epochs":5,"lr":0.01},"timeoutSeconds":2.5}`)

		assert.Equal(t, http.StatusOK, rr.Code)

		var run model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunSucceeded, run.Status)
		assert.Equal(t, "Training for 5 epochs\n", run.Stdout)
		assert.Equal(t, "alice", run.Subject)
		assert.Equal(t, int64(100), run.DurationMS)

		assert.Equal(t, 2500*time.Millisecond, mockExec.CapturedReq.Timeout)
		require.Len(t, mockExec.CapturedReq.Params, 2)
		assert.Equal(t, "epochs", mockExec.CapturedReq.Params[0].Name)
		assert.Equal(t, int64(5), mockExec.CapturedReq.Params[0].Value)
	})

	t.Run("remote exception is a 200", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &executor.ExecutionResult{
				HasError:       true,
				ErrorName:      "NameError",
				ErrorMessage:   "name 'undefined_variable' is not defined",
				ErrorTraceback: []string{"Traceback"},
			},
		}
		h := newTestRouter(t, mockExec, "")

		rr := postExecute(t, h, `{"code":"print(undefined_variable)"}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		var run model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.Equal(t, model.RunFailed, run.Status)
		assert.Equal(t, "NameError", run.ErrorName)
	})

	t.Run("timeout is a 200", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &executor.ExecutionResult{HasError: true, Abort: executor.AbortTimeout},
		}
		h := newTestRouter(t, mockExec, "")

		rr := postExecute(t, h, `{"code":"while True: pass","timeoutSeconds":0.01}`)

		assert.Equal(t, http.StatusOK, rr.Code)
		var run model.Run
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
		assert.Equal(t, model.RunTimedOut, run.Status)
		assert.Empty(t, run.ErrorName)
	})

	tests := []struct {
		name       string
		body       string
		exec       *MockExecutor
		wantStatus int
		wantError  string
	}{
		{name: "invalid request body", body: `{"invalid_json":`, exec: &MockExecutor{}, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{name: "empty code", body: `{"code":""}`, exec: &MockExecutor{}, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{name: "negative timeout", body: `{"code":"1","timeoutSeconds":-1}`, exec: &MockExecutor{}, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{name: "params not an object", body: `{"code":"1","params":[1]}`, exec: &MockExecutor{}, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{
			name:       "unencodable parameter",
			body:       `{"code":"1","params":{"class":1}}`,
			exec:       &MockExecutor{ReturnErr: apperror.ParameterEncoding("class", "not a valid identifier")},
			wantStatus: http.StatusBadRequest,
			wantError:  "parameter_error",
		},
		{
			name:       "kernel unavailable",
			body:       `{"code":"1"}`,
			exec:       &MockExecutor{ReturnErr: apperror.ContextCreation("python3", errors.New("connection refused"))},
			wantStatus: http.StatusBadGateway,
			wantError:  "kernel_unavailable",
		},
		{
			name:       "unexpected failure",
			body:       `{"code":"1"}`,
			exec:       &MockExecutor{ReturnErr: errors.New("boom")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, tt.exec, "")

			rr := postExecute(t, h, tt.body)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}

	t.Run("lost channel reports the partial run", func(t *testing.T) {
		mockExec := &MockExecutor{
			ReturnRes: &executor.ExecutionResult{Stdout: "half", HasError: true, Abort: executor.AbortDisconnected},
			ReturnErr: apperror.Channel("k1", errors.New("connection reset")),
		}
		h := newTestRouter(t, mockExec, "")

		rr := postExecute(t, h, `{"code":"long()"}`)

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		var resp handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "kernel_channel_error", resp.Error)
		assert.NotEmpty(t, resp.RunID)
	})
}
