package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/artifacts"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/inference"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/ml"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/training"
)

var (
	badRequestErrors = []error{
		ml.ErrSchemaMismatch,
		ml.ErrNoValidData,
		inference.ErrPatientRequired,
		inference.ErrEmptyBatch,
		service.ErrInvalidPatient,
		service.ErrInvalidUpload,
		service.ErrInvalidPassword,
	}
	unauthorizedErrors = []error{
		service.ErrInvalidCredentials,
		service.ErrInvalidRefreshToken,
		service.ErrUserNotFound,
	}
	notFoundErrors = []error{
		inference.ErrModelNotFound,
		inference.ErrPatientNotFound,
		service.ErrPatientNotFound,
		service.ErrHeartbeatNotFound,
		training.ErrJobUnknown,
		journal.ErrNotFound,
		artifacts.ErrNotFound,
	}
	conflictErrors = []error{
		service.ErrEmailTaken,
		service.ErrRecordTaken,
		training.ErrVersionConflict,
	}
	unavailableErrors = []error{
		training.ErrQueueFull,
		training.ErrPoolClosed,
	}
)

func statusFor(err error) int {
	is := func(targets []error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}
	switch {
	case is(badRequestErrors):
		return http.StatusBadRequest
	case is(unauthorizedErrors):
		return http.StatusUnauthorized
	case is(notFoundErrors), database.IsNotFound(err):
		return http.StatusNotFound
	case is(conflictErrors):
		return http.StatusConflict
	case is(unavailableErrors):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError пишет ответ по типу ошибки; текст 500 наружу не отдается
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(status, models.ErrorResponse{Error: "internal server error"})
		return
	}
	slog.Warn("Request rejected",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", status,
		"error", err,
	)
	c.JSON(status, models.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := models.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}
