package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/models"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
)

type Tools struct {
	Patients *service.PatientService
	Models   *repository.ModelRepository
	Journal  *journal.Journal
}

type DashboardStatsInput struct{}

type PatientStatusInput struct {
	PatientID uint `json:"patient_id" jsonschema:"Numeric patient id"`
}

type ListModelsInput struct{}

type ListModelPerformanceInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Return only the N most recent records (0 = all)"`
}

type GetTrainingRunInput struct {
	Version string `json:"version" jsonschema:"Model version such as 1.3, or latest"`
}

func (t *Tools) DashboardStats(ctx context.Context, _ *mcp.CallToolRequest, _ DashboardStatsInput) (*mcp.CallToolResult, any, error) {
	stats, err := t.Patients.Stats(ctx)
	if err != nil {
		return toolError("Failed to load stats: %v", err), nil, nil
	}
	return toolJSON(stats)
}

func (t *Tools) PatientStatus(ctx context.Context, _ *mcp.CallToolRequest, input PatientStatusInput) (*mcp.CallToolResult, any, error) {
	if input.PatientID == 0 {
		return toolError("patient_id is required"), nil, nil
	}
	status, err := t.Patients.Status(ctx, input.PatientID)
	if errors.Is(err, service.ErrPatientNotFound) {
		return toolError("Patient %d not found", input.PatientID), nil, nil
	}
	if err != nil {
		return toolError("Failed to load patient status: %v", err), nil, nil
	}
	return toolJSON(status)
}

func (t *Tools) ListModels(ctx context.Context, _ *mcp.CallToolRequest, _ ListModelsInput) (*mcp.CallToolResult, any, error) {
	trained, err := t.Models.ListTrained(ctx)
	if err != nil {
		return toolError("Failed to list models: %v", err), nil, nil
	}
	if trained == nil {
		trained = []models.TrainedModel{}
	}
	return toolJSON(trained)
}

func (t *Tools) ListModelPerformance(ctx context.Context, _ *mcp.CallToolRequest, input ListModelPerformanceInput) (*mcp.CallToolResult, any, error) {
	perf, err := t.Models.ListPerformance(ctx)
	if err != nil {
		return toolError("Failed to list model performance: %v", err), nil, nil
	}
	if input.Limit > 0 && len(perf) > input.Limit {
		perf = perf[:input.Limit]
	}
	if perf == nil {
		perf = []models.ModelPerformance{}
	}
	return toolJSON(perf)
}

func (t *Tools) GetTrainingRun(_ context.Context, _ *mcp.CallToolRequest, input GetTrainingRunInput) (*mcp.CallToolResult, any, error) {
	var (
		report *journal.Report
		err    error
	)
	if input.Version == "" || input.Version == "latest" {
		report, err = t.Journal.Latest()
	} else {
		report, err = t.Journal.Get(input.Version)
	}
	if errors.Is(err, journal.ErrNotFound) {
		return toolError("No training run for version %q", input.Version), nil, nil
	}
	if err != nil {
		return toolError("Failed to read training journal: %v", err), nil, nil
	}
	return toolJSON(report)
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}

func toolJSON(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError("Failed to marshal result: %v", err), nil, nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil, nil
}
