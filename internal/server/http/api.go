package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/retinascope/internal/backend"
	"github.com/ekisa-team/retinascope/internal/model"
	"github.com/ekisa-team/retinascope/internal/preprocess"
	"github.com/ekisa-team/retinascope/internal/service"
	"github.com/ekisa-team/retinascope/internal/severity"
)

type (
	GradeResponseDTO struct {
		ModelID        string                    `json:"model_id"`
		Label          string                    `json:"label" doc:"Predicted class label"`
		Index          int                       `json:"index" doc:"Index of the predicted class in the model output"`
		Confidence     float64                   `json:"confidence" doc:"Highest probability times 100"`
		ConfidenceText string                    `json:"confidence_text" doc:"Confidence with two decimals"`
		Class          severity.Class            `json:"class"`
		Probabilities  map[string]float32        `json:"probabilities"`
		Metadata       *backend.ResponseMetadata `json:"metadata,omitempty"`
	}
)

type (
	GradeInput struct {
		RawBody huma.MultipartFormFiles[struct {
			File    huma.FormFile `form:"file" contentType:"image/*,application/octet-stream" required:"true"`
			ModelID string        `form:"model_id"`
		}]
	}

	GradeOutput struct {
		Body GradeResponseDTO
	}

	ListModelsOutput struct {
		Body struct {
			Models []model.Info `json:"models"`
		}
	}

	ListClassesInput struct {
		ModelID string `query:"model_id" doc:"Model to describe, the default model when empty"`
	}

	ListClassesOutput struct {
		Body struct {
			Classes []severity.Class `json:"classes"`
		}
	}

	HealthOutput struct {
		Status int
		Body   struct {
			Status string `json:"status" enum:"ok,degraded"`
			Ready  bool   `json:"ready" doc:"Whether the default model is loaded"`
		}
	}
)

// GradingHandler handles the JSON grading API.
type GradingHandler struct {
	service *service.Grading
}

// NewGradingHandler creates a new GradingHandler instance and registers its operations.
func NewGradingHandler(api huma.API, service *service.Grading, maxUploadBytes int64) *GradingHandler {
	h := &GradingHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID:   "grade",
		Method:        http.MethodPost,
		Path:          "/api/v1/grade",
		Summary:       "Grade diabetic retinopathy severity of a retina image",
		Tags:          []string{"grading"},
		MaxBodyBytes:  maxUploadBytes,
		DefaultStatus: http.StatusOK,
	}, h.handleGrade)

	huma.Register(api, huma.Operation{
		OperationID: "list-models",
		Method:      http.MethodGet,
		Path:        "/api/v1/models",
		Summary:     "List configured models and their status",
		Tags:        []string{"models"},
	}, h.handleListModels)

	huma.Register(api, huma.Operation{
		OperationID: "list-classes",
		Method:      http.MethodGet,
		Path:        "/api/v1/classes",
		Summary:     "List severity classes in model output order",
		Tags:        []string{"models"},
	}, h.handleListClasses)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Report whether the default model can serve requests",
		Tags:        []string{"health"},
	}, h.handleHealth)

	return h
}

// handleGrade handles the grade operation.
func (h *GradingHandler) handleGrade(ctx context.Context, input *GradeInput) (*GradeOutput, error) {
	formData := input.RawBody.Data()
	file := formData.File

	if !file.IsSet {
		return nil, huma.Error400BadRequest("image file is required", nil)
	}

	image, err := io.ReadAll(file)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read image file", err)
	}

	res, err := h.service.Grade(ctx, formData.ModelID, image)
	if err != nil {
		return nil, gradeError(err)
	}

	return &GradeOutput{
		Body: GradeResponseDTO{
			ModelID:        res.ModelID,
			Label:          res.Prediction.Label(),
			Index:          res.Prediction.Index,
			Confidence:     res.Prediction.Confidence,
			ConfidenceText: res.Prediction.ConfidenceString(),
			Class:          res.Prediction.Class,
			Probabilities:  res.Prediction.Scores(res.Labels),
			Metadata:       res.Metadata,
		},
	}, nil
}

// handleListModels handles the list-models operation.
func (h *GradingHandler) handleListModels(_ context.Context, _ *struct{}) (*ListModelsOutput, error) {
	out := &ListModelsOutput{}
	out.Body.Models = h.service.Models()
	return out, nil
}

// handleListClasses handles the list-classes operation.
func (h *GradingHandler) handleListClasses(_ context.Context, input *ListClassesInput) (*ListClassesOutput, error) {
	classes, err := h.service.Classes(input.ModelID)
	if err != nil {
		return nil, huma.Error404NotFound("model not found", err)
	}

	out := &ListClassesOutput{}
	out.Body.Classes = classes
	return out, nil
}

// handleHealth handles the health operation.
func (h *GradingHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	out := &HealthOutput{Status: http.StatusOK}
	out.Body.Status = "ok"
	out.Body.Ready = h.service.Ready()

	if !out.Body.Ready {
		out.Status = http.StatusServiceUnavailable
		out.Body.Status = "degraded"
	}

	return out, nil
}

// gradeError maps grading failures onto HTTP errors.
func gradeError(err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return huma.Error404NotFound("model not found", err)
	case errors.Is(err, preprocess.ErrTooLarge):
		return huma.NewError(http.StatusRequestEntityTooLarge, "image too large", err)
	case errors.Is(err, preprocess.ErrDecode):
		return huma.Error422UnprocessableEntity("invalid image", err)
	case errors.Is(err, model.ErrNotReady), errors.Is(err, backend.ErrClosed):
		return huma.Error503ServiceUnavailable("model is not loaded", err)
	default:
		return huma.Error500InternalServerError("failed to grade image", err)
	}
}
