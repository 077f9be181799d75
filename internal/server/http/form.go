package http

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/ekisa-team/retinascope/internal/preprocess"
	"github.com/ekisa-team/retinascope/internal/service"
	"github.com/ekisa-team/retinascope/internal/severity"
	"github.com/ekisa-team/retinascope/internal/uploads"
)

// Response bodies of the upload form. Clients match on the exact text.
const (
	msgNoFilePart     = "No file part"
	msgNoSelectedFile = "No selected file"
	msgSomethingWrong = "Something went wrong"
)

const multipartMemoryBytes = 8 << 20

var (
	errNoFilePart     = errors.New("request has no file part")
	errNoSelectedFile = errors.New("no file selected")
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// indexPage is the data of the upload form and result page.
type indexPage struct {
	Prediction string
	Confidence string
	Filename   string
	Class      *severity.Class
}

// FormHandler serves the upload form, its result page and stored uploads.
type FormHandler struct {
	service *service.Grading
	store   *uploads.Store
}

// NewFormHandler creates a new FormHandler instance and registers its routes on mux.
func NewFormHandler(mux *http.ServeMux, service *service.Grading, store *uploads.Store) *FormHandler {
	h := &FormHandler{service: service, store: store}

	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /uploads/{filename}", h.handleUpload)
	mux.HandleFunc("GET /dashboard", h.handleDashboard)

	return h
}

func (h *FormHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, "index.html", indexPage{})
}

func (h *FormHandler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	h.render(w, "dashboard.html", nil)
}

// handlePredict grades the uploaded file with the default model, stores the
// upload and renders the result page.
func (h *FormHandler) handlePredict(w http.ResponseWriter, r *http.Request) {
	fh, err := formFile(r)
	switch {
	case errors.Is(err, errNoFilePart):
		writeText(w, http.StatusBadRequest, msgNoFilePart)
		return
	case errors.Is(err, errNoSelectedFile):
		writeText(w, http.StatusBadRequest, msgNoSelectedFile)
		return
	case err != nil:
		slog.Warn("Failed to parse upload form", "error", err)
		writeText(w, statusFor(err), msgSomethingWrong)
		return
	}

	f, err := fh.Open()
	if err != nil {
		slog.Error("Failed to open uploaded file", "error", err)
		writeText(w, http.StatusInternalServerError, msgSomethingWrong)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Failed to read uploaded file", "error", err)
		writeText(w, http.StatusInternalServerError, msgSomethingWrong)
		return
	}

	name, err := h.store.Save(fh.Filename, data)
	if err != nil {
		slog.Error("Failed to store upload", "error", err)
		writeText(w, http.StatusInternalServerError, msgSomethingWrong)
		return
	}

	res, err := h.service.Grade(r.Context(), "", data)
	if err != nil {
		slog.Error("Failed to grade upload", "filename", fh.Filename, "stored_as", name, "error", err)
		writeText(w, statusFor(err), msgSomethingWrong)
		return
	}

	slog.Info("Upload graded",
		"model_id", res.ModelID,
		"label", res.Prediction.Label(),
		"confidence", res.Prediction.ConfidenceString(),
		"stored_as", name)

	class := res.Prediction.Class
	h.render(w, "index.html", indexPage{
		Prediction: res.Prediction.Label(),
		Confidence: res.Prediction.ConfidenceString(),
		Filename:   name,
		Class:      &class,
	})
}

// handleUpload serves a stored upload by name.
func (h *FormHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	path, err := h.store.Path(r.PathValue("filename"))
	switch {
	case errors.Is(err, uploads.ErrInvalidName):
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	case errors.Is(err, uploads.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		slog.Error("Failed to resolve upload", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	http.ServeFile(w, r, path)
}

func (h *FormHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to render template", "template", name, "error", err)
	}
}

// formFile returns the "file" part of a multipart request. A part sent with
// an empty filename, which is what browsers submit when nothing was chosen,
// is parsed as a plain value and reported as errNoSelectedFile.
func formFile(r *http.Request) (*multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, errNoFilePart
		}
		return nil, err
	}

	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		if files[0].Filename == "" {
			return nil, errNoSelectedFile
		}
		return files[0], nil
	}

	if _, ok := r.MultipartForm.Value["file"]; ok {
		return nil, errNoSelectedFile
	}

	return nil, errNoFilePart
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, preprocess.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, preprocess.ErrDecode):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeText writes msg as the whole body, without the trailing newline http.Error adds.
func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}
