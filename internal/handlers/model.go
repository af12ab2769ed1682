package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/inference"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/middleware"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/training"
)

type ModelHandlers struct {
	inference *inference.Service
	models    *repository.ModelRepository
	store     artifacts.Store
	pool      *training.Pool
	journal   *journal.Journal
}

func NewModelHandlers(
	inf *inference.Service,
	modelRepo *repository.ModelRepository,
	store artifacts.Store,
	pool *training.Pool,
	j *journal.Journal,
) *ModelHandlers {
	return &ModelHandlers{
		inference: inf,
		models:    modelRepo,
		store:     store,
		pool:      pool,
		journal:   j,
	}
}

// Predict
// @Summary Классификация ударов из CSV
// @Description Заголовок CSV: 0..W-1, опционально type (разметка) и record (пациент).
// @Description Без колонки record нужен patient_id.
// @Tags model
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param model_name formData string true "Имя модели, версия или latest"
// @Param file formData file true "CSV с признаками"
// @Param patient_id formData int false "Пациент для строк без record"
// @Success 200 {object} inference.PredictOutput
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse "Модель не найдена"
// @Router /model/predict [post]
func (h *ModelHandlers) Predict(c *gin.Context) {
	modelName := strings.TrimSpace(c.PostForm("model_name"))
	if modelName == "" {
		badRequest(c, "missing model_name in form data", nil)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "no file part", err)
		return
	}
	if !strings.HasSuffix(strings.ToLower(fh.Filename), ".csv") {
		badRequest(c, "invalid file type; only CSV allowed", nil)
		return
	}

	in := inference.PredictInput{
		UserID:    middleware.UserID(c),
		ModelName: modelName,
	}
	if raw := strings.TrimSpace(c.PostForm("patient_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			badRequest(c, "invalid patient_id", err)
			return
		}
		pid := uint(id)
		in.PatientID = &pid
	}

	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read file", err)
		return
	}
	defer f.Close()
	in.CSV = f

	out, err := h.inference.Predict(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "Prediction successful",
		"model_used":       out.ModelUsed,
		"predictions":      out.Predictions,
		"skipped":          out.Skipped,
		"skipped_rows":     out.SkippedRows,
		"warnings":         out.Warnings,
		"accuracy":         out.Accuracy,
		"confusion_matrix": out.ConfusionMatrix,
		"labels":           out.Labels,
		"performance_id":   out.PerformanceID,
	})
}

// ListModels
// @Summary Доступные модели
// @Tags model
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string][]string
// @Router /model/models [get]
func (h *ModelHandlers) ListModels(c *gin.Context) {
	names, err := h.store.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := lo.FilterMap(names, func(name string, _ int) (string, bool) {
		if !strings.HasSuffix(name, artifacts.ModelExt) {
			return "", false
		}
		return strings.TrimSuffix(name, artifacts.ModelExt), true
	})
	sort.Strings(out)
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// ListVersions
// @Summary Зарегистрированные версии моделей
// @Tags model
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.TrainedModel
// @Router /model/versions [get]
func (h *ModelHandlers) ListVersions(c *gin.Context) {
	trained, err := h.models.ListTrained(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trained)
}

// ListPerformance
// @Summary История метрик моделей
// @Tags model
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.ModelPerformance
// @Router /model/model-performance [get]
func (h *ModelHandlers) ListPerformance(c *gin.Context) {
	perf, err := h.models.ListPerformance(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// GetPerformance
// @Summary Метрики одного прогона
// @Tags model
// @Produce json
// @Security BearerAuth
// @Param id path int true "ID записи"
// @Success 200 {object} models.ModelPerformance
// @Failure 404 {object} models.ErrorResponse
// @Router /model/model-performance/{id} [get]
func (h *ModelHandlers) GetPerformance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	perf, err := h.models.GetPerformance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, perf)
}

// Retrain
// @Summary Переобучение модели на размеченных ударах
// @Description По умолчанию ждет завершения. С async=true возвращает 202 и id задания.
// @Tags model
// @Produce json
// @Security BearerAuth
// @Param async query bool false "Не ждать завершения"
// @Success 200 {object} training.Result
// @Success 202 {object} training.JobView
// @Failure 400 {object} models.ErrorResponse "Нет валидных размеченных данных"
// @Failure 403 {object} models.ErrorResponse "Только для admin"
// @Failure 409 {object} models.ErrorResponse "Конфликт версий"
// @Failure 503 {object} models.ErrorResponse "Очередь переполнена"
// @Router /model/retrain [post]
func (h *ModelHandlers) Retrain(c *gin.Context) {
	job, err := h.pool.Submit(middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		c.JSON(http.StatusAccepted, job.View())
		return
	}

	res, err := job.Wait(c.Request.Context())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// клиент ушел, задание продолжает выполняться в пуле
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Model retrained",
		"job_id":  job.ID,
		"result":  res,
	})
}

// GetJob
// @Summary Статус задания переобучения
// @Tags model
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID задания"
// @Success 200 {object} training.JobView
// @Failure 404 {object} models.ErrorResponse
// @Router /model/retrain/jobs/{id} [get]
func (h *ModelHandlers) GetJob(c *gin.Context) {
	job, err := h.pool.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.View())
}

// ListJobs
// @Summary Задания переобучения
// @Tags model
// @Produce json
// @Security BearerAuth
// @Success 200 {array} training.JobView
// @Router /model/retrain/jobs [get]
func (h *ModelHandlers) ListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.List())
}

// TrainingRun
// @Summary Отчет о прогоне обучения
// @Tags model
// @Produce json
// @Security BearerAuth
// @Param version path string true "Версия, например 1.3, или latest"
// @Success 200 {object} journal.Report
// @Failure 404 {object} models.ErrorResponse
// @Router /model/training-runs/{version} [get]
func (h *ModelHandlers) TrainingRun(c *gin.Context) {
	version := c.Param("version")
	var (
		report *journal.Report
		err    error
	)
	if version == inference.LatestModel {
		report, err = h.journal.Latest()
	} else {
		report, err = h.journal.Get(version)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
