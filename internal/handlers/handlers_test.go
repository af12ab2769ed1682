package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/config"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/inference"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/middleware"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/nn"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/training"
)

const testWidth = 16

type stubRunner struct {
	err error
}

func (r stubRunner) Retrain(context.Context, string) (*training.Result, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &training.Result{Version: "1.1", ModelName: "model_cnn_lstm_v1_1", TrainedRows: 4}, nil
}

type testServer struct {
	engine  *gin.Engine
	db      *gorm.DB
	journal *journal.Journal
}

func newTestServer(t *testing.T, runner training.Runner, serverCfg config.ServerConfig) *testServer {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := database.OpenSQLite(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	store, err := artifacts.NewLocalStore(filepath.Join(dir, "model"))
	require.NoError(t, err)
	net, err := nn.BuildCNNLSTM(testWidth, 5, 1)
	require.NoError(t, err)
	staged, err := store.Stage(ctx, "model_cnn_lstm_v1_1.gob", net.Save)
	require.NoError(t, err)
	require.NoError(t, staged.Commit(ctx))
	require.NoError(t, db.Create(&models.TrainedModel{Version: "1.1", FilePath: staged.Location(), UserID: "seed"}).Error)

	j, err := journal.Open(filepath.Join(dir, "journal"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	vocab, err := ml.NewVocabulary(
		[]string{"0", "1", "2", "3", "4"},
		[]string{"Normal", "Supraventricular", "Ventricular", "Fusion", "Unknown"},
	)
	require.NoError(t, err)
	cache, err := inference.NewModelCache(store, 2)
	require.NoError(t, err)

	jwtService := service.NewJWTService(config.JWTConfig{
		Secret:          "handler-test",
		AccessTokenExp:  time.Minute,
		RefreshTokenExp: time.Hour,
		Issuer:          "test",
	})
	userService := service.NewUserService(repository.NewUserRepository(db), jwtService)

	pool := training.NewPool(runner, 1, 2)
	pool.Start()
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	rt := &Router{
		Auth: NewAuthHandlers(userService, jwtService, false),
		Patients: NewPatientHandlers(service.NewPatientService(db,
			vocab.AbnormalNames("Normal"),
			[]string{"Supraventricular", "Ventricular", "Fusion"},
		)),
		Model: NewModelHandlers(
			inference.NewService(db, cache, ml.NewSchema(testWidth), vocab, nil),
			repository.NewModelRepository(db),
			store,
			pool,
			j,
		),
		Health: NewHealthHandler(db),
		JWT:    middleware.NewJWTMiddleware(jwtService, userService),
	}
	serverCfg.Mode = gin.TestMode
	return &testServer{engine: rt.SetupRoutes(serverCfg), db: db, journal: j}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) postJSON(t *testing.T, path string, v any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	h := map[string]string{"Content-Type": "application/json"}
	for k, val := range headers {
		h[k] = val
	}
	return s.do(t, http.MethodPost, path, bytes.NewReader(data), h)
}

func (s *testServer) token(t *testing.T) map[string]string {
	t.Helper()
	return s.tokenAs(t, "doc@example.com", models.RoleDoctor)
}

func (s *testServer) tokenAs(t *testing.T, email, role string) map[string]string {
	t.Helper()
	w := s.postJSON(t, "/auth/register", models.RegisterRequest{Email: email, Password: "password123", Role: role}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return map[string]string{"Authorization": "Bearer " + resp.AccessToken}
}

func multipartBody(t *testing.T, fields map[string]string, fileName, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func featureCSV(extra []string, tails ...[]string) string {
	var b strings.Builder
	header := make([]string, testWidth)
	for i := range header {
		header[i] = strconv.Itoa(i)
	}
	b.WriteString(strings.Join(append(header, extra...), ",") + "\n")
	for r, tail := range tails {
		row := make([]string, testWidth)
		for i := range row {
			row[i] = fmt.Sprintf("%.3f", float64((r+i)%7)/7)
		}
		b.WriteString(strings.Join(append(row, tail...), ",") + "\n")
	}
	return b.String()
}

func TestAuthEndpoints(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{})

	auth := s.token(t)

	w := s.postJSON(t, "/auth/register", models.RegisterRequest{Email: "doc@example.com", Password: "password123"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.postJSON(t, "/auth/login", models.LoginRequest{Email: "doc@example.com", Password: "nope-nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.postJSON(t, "/auth/login", models.LoginRequest{Email: "doc@example.com", Password: "password123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, refreshCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(cookies[0])
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w = s.do(t, http.MethodGet, "/auth/me", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "doc@example.com")

	w = s.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPatientEndpoints(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{})

	w := s.postJSON(t, "/patients", map[string]any{"name": "Anna", "birth_date": "1980-05-01"}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.PatientResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotNil(t, created.BirthDate)
	assert.Equal(t, "1980-05-01", *created.BirthDate)

	w = s.postJSON(t, "/patients", map[string]any{"gender": "Male"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.postJSON(t, "/patients", map[string]any{"name": "Bad", "gender": "Robot"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, fmt.Sprintf("/patients/%d/status", created.ID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"Normal"`)

	w = s.do(t, http.MethodGet, "/patients/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/patients/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, ct := multipartBody(t, nil, "patients.csv", "name,gender\nBob,Male\n,Female\nCarl,\n")
	w = s.do(t, http.MethodPost, "/patients/bulk-upload", body, map[string]string{"Content-Type": ct})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.BulkUploadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Skipped)

	w = s.do(t, http.MethodGet, "/patients/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.DashboardStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats.TotalPatients)
}

func TestPatientsRequireAuthWhenConfigured(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{PatientsRequireAuth: true})

	w := s.do(t, http.MethodGet, "/patients", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/patients", nil, s.token(t))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPredictEndpoint(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{UploadLimitBytes: 1 << 20})
	auth := s.token(t)

	csv := featureCSV([]string{"type", "record"}, []string{"0", "100"}, []string{"2", "101"})
	body, ct := multipartBody(t, map[string]string{"model_name": "latest"}, "beats.csv", csv)
	w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct, "Authorization": auth["Authorization"]})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		ModelUsed   string                    `json:"model_used"`
		Predictions []inference.RowPrediction `json:"predictions"`
		Accuracy    *float64                  `json:"accuracy"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "model_cnn_lstm_v1_1", resp.ModelUsed)
	assert.Len(t, resp.Predictions, 2)
	assert.NotNil(t, resp.Accuracy)

	w = s.do(t, http.MethodGet, "/model/model-performance", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	var perf []models.ModelPerformance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &perf))
	require.Len(t, perf, 1)
	assert.Equal(t, 2, perf[0].Samples)

	t.Run("unauthenticated", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"model_name": "latest"}, "beats.csv", csv)
		w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown model", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"model_name": "model_cnn_lstm_v9_9"}, "beats.csv", csv)
		w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct, "Authorization": auth["Authorization"]})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("schema mismatch", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"model_name": "latest"}, "beats.csv", "a,b,c\n1,2,3\n")
		w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct, "Authorization": auth["Authorization"]})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("patient required", func(t *testing.T) {
		body, ct := multipartBody(t, map[string]string{"model_name": "latest"}, "beats.csv", featureCSV(nil, nil))
		w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct, "Authorization": auth["Authorization"]})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing model name", func(t *testing.T) {
		body, ct := multipartBody(t, nil, "beats.csv", csv)
		w := s.do(t, http.MethodPost, "/model/predict", body, map[string]string{"Content-Type": ct, "Authorization": auth["Authorization"]})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w = s.do(t, http.MethodGet, "/model/models", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"models":["model_cnn_lstm_v1_1"]}`, w.Body.String())
}

func TestRetrainEndpoint(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{})
	auth := s.tokenAs(t, "admin@example.com", models.RoleAdmin)

	w := s.do(t, http.MethodPost, "/model/retrain", nil, auth)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"version":"1.1"`)

	w = s.do(t, http.MethodPost, "/model/retrain?async=true", nil, auth)
	require.Equal(t, http.StatusAccepted, w.Code)
	var view training.JobView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/model/retrain/jobs/"+view.ID, nil, auth)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), string(training.JobSucceeded))
	}, 2*time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodGet, "/model/retrain/jobs/nope", nil, auth)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/model/training-runs/1.1", nil, auth)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, s.journal.Put(&journal.Report{Version: "1.1", FinishedAt: time.Now()}))
	w = s.do(t, http.MethodGet, "/model/training-runs/latest", nil, auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":"1.1"`)
}

func TestRetrainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("assemble: %w", ml.ErrNoValidData), http.StatusBadRequest},
		{training.ErrVersionConflict, http.StatusConflict},
		{errors.New("disk exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			s := newTestServer(t, stubRunner{err: tc.err}, config.ServerConfig{})
			w := s.do(t, http.MethodPost, "/model/retrain", nil, s.tokenAs(t, "admin@example.com", models.RoleAdmin))
			assert.Equal(t, tc.code, w.Code)
			if tc.code == http.StatusInternalServerError {
				assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
			}
		})
	}
}

func TestRetrainRequiresAdmin(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{})

	doctor := s.token(t)
	w := s.do(t, http.MethodPost, "/model/retrain", nil, doctor)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// просмотр заданий доступен любому врачу
	w = s.do(t, http.MethodGet, "/model/retrain/jobs", nil, doctor)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/model/retrain", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSCredentialsNeedExplicitOrigins(t *testing.T) {
	open := corsConfig(nil)
	assert.True(t, open.AllowAllOrigins)
	assert.False(t, open.AllowCredentials)
	assert.False(t, corsConfig([]string{"*"}).AllowCredentials)

	strict := corsConfig([]string{"https://ward.example.com"})
	assert.False(t, strict.AllowAllOrigins)
	assert.True(t, strict.AllowCredentials)

	s := newTestServer(t, stubRunner{}, config.ServerConfig{CORSOrigins: []string{"https://ward.example.com"}})
	w := s.do(t, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://ward.example.com"})
	assert.Equal(t, "https://ward.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	s = newTestServer(t, stubRunner{}, config.ServerConfig{})
	w = s.do(t, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://ward.example.com"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, stubRunner{}, config.ServerConfig{})

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "arrhythmia_http_request_duration_seconds")
}
