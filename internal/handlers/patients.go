package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
)

type PatientHandlers struct {
	s *service.PatientService
}

func NewPatientHandlers(s *service.PatientService) *PatientHandlers {
	return &PatientHandlers{s: s}
}

// Create
// @Summary Создание пациента
// @Tags patients
// @Accept json
// @Produce json
// @Param request body models.CreatePatientRequest true "Данные пациента"
// @Success 201 {object} models.PatientResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse "record_id уже занят"
// @Router /patients [post]
func (h *PatientHandlers) Create(c *gin.Context) {
	var req models.CreatePatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid patient data", err)
		return
	}
	p, err := h.s.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p.Response())
}

// List
// @Summary Список пациентов
// @Tags patients
// @Produce json
// @Success 200 {array} models.PatientResponse
// @Router /patients [get]
func (h *PatientHandlers) List(c *gin.Context) {
	patients, err := h.s.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(patients, func(p models.Patient, _ int) models.PatientResponse {
		return p.Response()
	}))
}

// Get
// @Summary Карточка пациента
// @Tags patients
// @Produce json
// @Param id path int true "ID пациента"
// @Success 200 {object} models.PatientResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /patients/{id} [get]
func (h *PatientHandlers) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.s.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Response())
}

// Status
// @Summary Статус пациента (аритмия / норма)
// @Tags patients
// @Produce json
// @Param id path int true "ID пациента"
// @Success 200 {object} models.PatientStatus
// @Failure 404 {object} models.ErrorResponse
// @Router /patients/{id}/status [get]
func (h *PatientHandlers) Status(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	status, err := h.s.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Heartbeats
// @Summary Удары пациента
// @Tags patients
// @Produce json
// @Param id path int true "ID пациента"
// @Success 200 {array} models.Heartbeat
// @Failure 404 {object} models.ErrorResponse
// @Router /patients/{id}/heartbeats [get]
func (h *PatientHandlers) Heartbeats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	beats, err := h.s.Heartbeats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, beats)
}

// Heartbeat
// @Summary Один удар пациента
// @Tags patients
// @Produce json
// @Param id path int true "ID пациента"
// @Param hid path int true "ID удара"
// @Success 200 {object} models.Heartbeat
// @Failure 404 {object} models.ErrorResponse
// @Router /patients/{id}/heartbeats/{hid} [get]
func (h *PatientHandlers) Heartbeat(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	hid, ok := pathID(c, "hid")
	if !ok {
		return
	}
	hb, err := h.s.Heartbeat(c.Request.Context(), id, hid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hb)
}

// Stats
// @Summary Сводка для дашборда
// @Tags patients
// @Produce json
// @Success 200 {object} models.DashboardStats
// @Router /patients/stats [get]
func (h *PatientHandlers) Stats(c *gin.Context) {
	stats, err := h.s.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// BulkUpload
// @Summary Загрузка пациентов из CSV
// @Description Колонки name, gender, birth_date, contact_info, record. Строки без имени пропускаются.
// @Tags patients
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV файл"
// @Success 200 {object} models.BulkUploadResult
// @Failure 400 {object} models.ErrorResponse
// @Router /patients/bulk-upload [post]
func (h *PatientHandlers) BulkUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "cannot read file", err)
		return
	}
	defer f.Close()

	res, err := h.s.BulkImport(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name, err)
		return 0, false
	}
	return uint(id), true
}
