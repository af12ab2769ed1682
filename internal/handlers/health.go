package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/database"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
)

// HealthResponse состояние сервиса
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`
	Service   string    `json:"service" example:"Arrhythmia Classifier"`
	Database  string    `json:"database" example:"ok"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// HealthCheck
// @Summary Проверка состояния сервиса
// @Tags monitoring
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Service:   "Arrhythmia Classifier",
		Database:  "ok",
		Timestamp: time.Now().UTC(),
	}
	if err := database.HealthCheck(h.db); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// limitBody ограничивает размер тела запроса (загрузки CSV)
func limitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "route not found"})
}
