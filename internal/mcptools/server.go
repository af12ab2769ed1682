// Package mcptools MCP-сервер только для чтения: сводка, статусы пациентов,
// версии моделей и их метрики.
package mcptools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/WKolasaa/ArrhythmiaClassifier/internal/journal"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/repository"
	"github.com/WKolasaa/ArrhythmiaClassifier/internal/service"
)

const Version = "1.0.0"

// New создает MCP сервер со всеми инструментами
func New(patients *service.PatientService, modelRepo *repository.ModelRepository, j *journal.Journal) *mcp.Server {
	t := &Tools{Patients: patients, Models: modelRepo, Journal: j}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "arrhythmia-classifier",
		Version: Version,
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "dashboard_stats",
		Description: "Totals for the dashboard: patients, heartbeats and classified arrhythmias",
	}, t.DashboardStats)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "patient_status",
		Description: "Arrhythmic/Normal status of a patient with the most common predicted class",
	}, t.PatientStatus)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_models",
		Description: "Trained model versions, newest first",
	}, t.ListModels)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_model_performance",
		Description: "Accuracy and confusion matrices of labelled prediction runs",
	}, t.ListModelPerformance)

	if j != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "get_training_run",
			Description: "Training report of a model version (history, excluded rows)",
		}, t.GetTrainingRun)
	}

	return srv
}
