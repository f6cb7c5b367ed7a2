package handlers

import (
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/tumor-api/internal/pipeline"
	"github.com/Brownie44l1/tumor-api/internal/upload"
)

// PredictionHeader carries the predicted label on a successful response.
const PredictionHeader = "X-Prediction"

var errUploadTooLarge = errors.New("upload too large")

// Endpoint binds a pipeline to the route it is served on.
type Endpoint struct {
	Route    string
	Pipeline *pipeline.Pipeline
}

// PredictRequest is the metadata sent along with a scan. It is not used for
// inference.
type PredictRequest struct {
	PatientName string
	ScanType    string
}

type Handler struct {
	store     *upload.Store
	endpoints []Endpoint
	device    string
	logger    *zap.Logger
}

func NewHandler(store *upload.Store, endpoints []Endpoint, device string, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		endpoints: endpoints,
		device:    device,
		logger:    logger.Named("handlers"),
	}
}

type modelInfo struct {
	Task   string   `json:"task"`
	Route  string   `json:"route"`
	Labels []string `json:"labels"`
}

func (h *Handler) Health(c *gin.Context) {
	models := make([]modelInfo, 0, len(h.endpoints))
	for _, ep := range h.endpoints {
		task := ep.Pipeline.Task()
		models = append(models, modelInfo{Task: task.Name, Route: ep.Route, Labels: task.Labels})
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"device": h.device,
		"models": models,
	})
}

// Preflight answers cross-origin permission checks with an empty 200.
func (h *Handler) Preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Status(http.StatusOK)
}

// Predict stores the uploaded scan, runs the endpoint's pipeline and replies
// with the overlay PNG and the label in PredictionHeader. The stored file is
// removed whatever the outcome. Every response allows any origin, with or
// without an Origin header on the request.
func (h *Handler) Predict(ep Endpoint) gin.HandlerFunc {
	task := ep.Pipeline.Task().Name

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")

		req, header, err := parsePredictForm(c)
		if err != nil {
			h.respondError(c, task, err)
			return
		}

		file, err := header.Open()
		if err != nil {
			h.respondError(c, task, errors.Wrap(err, "open upload"))
			return
		}
		defer file.Close()

		// Save
		path, err := h.store.Save(file, header.Filename)
		if err != nil {
			h.respondError(c, task, err)
			return
		}
		defer h.store.Remove(path)

		fields := []zap.Field{
			zap.String("filename", header.Filename),
			zap.Int64("size", header.Size),
			zap.String("scan_type", req.ScanType),
		}
		if mtype, err := mimetype.DetectFile(path); err == nil {
			fields = append(fields, zap.String("mime", mtype.String()))
		}

		// Predict and render
		result, err := ep.Pipeline.Run(c.Request.Context(), path)
		if err != nil {
			h.respondError(c, task, err, fields...)
			return
		}

		h.logger.Info("prediction", append(fields, zap.String("task", task), zap.String("label", result.Label))...)

		c.Header(PredictionHeader, result.Label)
		c.Header("Access-Control-Expose-Headers", PredictionHeader)
		c.Data(http.StatusOK, "image/png", result.PNG)
	}
}

// Uploaded serves a stored upload by name.
func (h *Handler) Uploaded(c *gin.Context) {
	path, err := h.store.Path(c.Param("filename"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	if mtype, err := mimetype.DetectFile(path); err == nil {
		c.Header("Content-Type", mtype.String())
	}
	c.File(path)
}

// parsePredictForm extracts the "file" part and the optional metadata. A
// part named "file" with an empty filename arrives as a plain form value.
func parsePredictForm(c *gin.Context) (*PredictRequest, *multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, errUploadTooLarge
		}
		return nil, nil, upload.ErrNoFile
	}

	files := form.File["file"]
	if len(files) == 0 {
		if _, ok := form.Value["file"]; ok {
			return nil, nil, upload.ErrNoSelectedFile
		}
		return nil, nil, upload.ErrNoFile
	}
	if files[0].Filename == "" {
		return nil, nil, upload.ErrNoSelectedFile
	}

	return &PredictRequest{
		PatientName: c.DefaultPostForm("patientName", "Unknown"),
		ScanType:    c.DefaultPostForm("scanType", "CT scan"),
	}, files[0], nil
}

func (h *Handler) respondError(c *gin.Context, task string, err error, fields ...zap.Field) {
	status, message := http.StatusInternalServerError, err.Error()

	switch {
	case errors.Is(err, upload.ErrNoFile):
		status, message = http.StatusBadRequest, "No file provided"
	case errors.Is(err, upload.ErrNoSelectedFile):
		status, message = http.StatusBadRequest, "No selected file"
	case errors.Is(err, upload.ErrExtensionNotAllowed):
		status, message = http.StatusBadRequest, "File type not allowed"
	case errors.Is(err, errUploadTooLarge):
		status, message = http.StatusRequestEntityTooLarge, "File too large"
	}

	fields = append(fields, zap.String("task", task), zap.Int("status", status), zap.Error(err))
	if status >= http.StatusInternalServerError {
		h.logger.Error("prediction failed", fields...)
	} else {
		h.logger.Info("rejected upload", fields...)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
