package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"
	"lung-screening-service/internal/protocol"
	"lung-screening-service/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRequestTimeout bounds analysis, save and saved-record calls when
// no timeout is configured.
const DefaultRequestTimeout = 30 * time.Second

// RequestTimeoutFor returns a request timeout that leaves an analysis
// taking analysisDelay the full DefaultRequestTimeout on top.
func RequestTimeoutFor(analysisDelay time.Duration) time.Duration {
	if analysisDelay < 0 {
		analysisDelay = 0
	}
	return analysisDelay + DefaultRequestTimeout
}

type ExaminationHandler struct {
	lifecycle services.LifecycleServiceContract
	logger    *zap.Logger
	timeout   time.Duration
}

// NewExaminationHandler builds the handler. A zero timeout means
// DefaultRequestTimeout.
func NewExaminationHandler(ls services.LifecycleServiceContract, logger *zap.Logger, timeout time.Duration) *ExaminationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &ExaminationHandler{
		lifecycle: ls,
		logger:    logger.Named("http"),
		timeout:   timeout,
	}
}

func (h *ExaminationHandler) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

func (h *ExaminationHandler) Start(c *fiber.Ctx) error {
	exam, err := h.lifecycle.Start()
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(exam)
}

func (h *ExaminationHandler) Current(c *fiber.Ctx) error {
	resp, ok := h.lifecycle.Current()
	if !ok {
		return h.fail(c, services.ErrNoActiveExamination)
	}
	return c.JSON(resp)
}

func (h *ExaminationHandler) Protocol(c *fiber.Ctx) error {
	return c.JSON(h.lifecycle.Protocol())
}

func (h *ExaminationHandler) SubmitPatientForm(c *fiber.Ctx) error {
	var req dtos.PatientFormRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	exam, err := h.lifecycle.SubmitPatientForm(req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(exam)
}

func (h *ExaminationHandler) SelectMethod(c *fiber.Ctx) error {
	var req dtos.SelectMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	method := entities.AcquisitionMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	if err := h.lifecycle.SelectAcquisitionMethod(method); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.lifecycle.Protocol())
}

func (h *ExaminationHandler) SelectSite(c *fiber.Ctx) error {
	var req dtos.SelectSiteRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	site, ok := protocol.ParseSite(req.Site)
	if !ok {
		site = protocol.Site(req.Site)
	}
	if err := h.lifecycle.SelectSite(site); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(h.lifecycle.Protocol())
}

func (h *ExaminationHandler) CaptureImage(c *fiber.Ctx) error {
	var req dtos.CaptureImageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	label, ok := entities.ParseLungFeature(req.Label)
	if !ok {
		return h.fail(c, &services.ValidationError{Fields: []services.FieldError{{Field: "label", Reason: "is not a known lung feature"}}})
	}
	img, err := h.lifecycle.CaptureImage(req.URI, label)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(img)
}

func (h *ExaminationHandler) UploadImages(c *fiber.Ctx) error {
	var req dtos.UploadImagesRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	imgs, err := h.lifecycle.UploadImages(req.URIs)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(imgs)
}

func (h *ExaminationHandler) DeleteImage(c *fiber.Ctx) error {
	imageID, err := uuid.Parse(c.Params("imageId"))
	if err != nil {
		return h.badParam(c, "imageId", err)
	}
	if err := h.lifecycle.DeleteImage(imageID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExaminationHandler) RequestAnalysis(c *fiber.Ctx) error {
	var req dtos.AnalysisRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return h.badBody(c, err)
		}
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if _, err := h.lifecycle.RequestAnalysis(ctx, req.Override); err != nil {
		return h.fail(c, err)
	}
	resp, _ := h.lifecycle.Current()
	return c.JSON(resp)
}

func (h *ExaminationHandler) RetryCapture(c *fiber.Ctx) error {
	if err := h.lifecycle.RetryCapture(); err != nil {
		return h.fail(c, err)
	}
	resp, _ := h.lifecycle.Current()
	return c.JSON(resp)
}

func (h *ExaminationHandler) AddNote(c *fiber.Ctx) error {
	var req dtos.NoteRequest
	if err := c.BodyParser(&req); err != nil {
		return h.badBody(c, err)
	}
	exam, err := h.lifecycle.AddNote(req.Note)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(exam)
}

// Export queues the document export; the location lands on the examination
// once the export job completes.
func (h *ExaminationHandler) Export(c *fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	exportID, examinationID, err := h.lifecycle.Export(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	resp := dtos.ExportStatusResponse{
		ExportID:      exportID,
		ExaminationID: examinationID.String(),
		Status:        "PENDING",
		Message:       "export queued",
	}
	h.logger.Info("export queued", zap.String("exportId", exportID), zap.String("examinationId", resp.ExaminationID))
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *ExaminationHandler) Save(c *fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	exam, err := h.lifecycle.Save(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(exam)
}

func (h *ExaminationHandler) Discard(c *fiber.Ctx) error {
	if err := h.lifecycle.Discard(); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExaminationHandler) ListSaved(c *fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	exams, err := h.lifecycle.ListSaved(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(exams)
}

func (h *ExaminationHandler) FindSaved(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.badParam(c, "id", err)
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	exam, err := h.lifecycle.FindSaved(ctx, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(exam)
}

func (h *ExaminationHandler) DeleteSaved(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return h.badParam(c, "id", err)
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.lifecycle.DeleteSaved(ctx, id); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExaminationHandler) DeleteAllSaved(c *fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.lifecycle.DeleteAllSaved(ctx); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ExaminationHandler) badBody(c *fiber.Ctx, err error) error {
	h.logger.Debug("unparseable request body", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusBadRequest).JSON(dtos.ErrorResponse{
		Error: "could not parse request body: " + err.Error(),
		Code:  "BAD_REQUEST",
	})
}

func (h *ExaminationHandler) badParam(c *fiber.Ctx, name string, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(dtos.ErrorResponse{
		Error: name + " must be a UUID: " + err.Error(),
		Code:  "BAD_REQUEST",
	})
}

// fail writes err as an ErrorResponse with the status its kind maps to.
func (h *ExaminationHandler) fail(c *fiber.Ctx, err error) error {
	status, code := classify(err)
	resp := dtos.ErrorResponse{Error: err.Error(), Code: code}

	var verr *services.ValidationError
	if errors.As(err, &verr) {
		resp.Details = verr.Details()
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	}
	return c.Status(status).JSON(resp)
}

func classify(err error) (int, string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return fiber.StatusUnprocessableEntity, "VALIDATION_FAILED"
	case errors.Is(err, services.ErrNoActiveExamination):
		return fiber.StatusNotFound, "NO_ACTIVE_EXAMINATION"
	case errors.Is(err, repositories.ErrExaminationNotFound):
		return fiber.StatusNotFound, "EXAMINATION_NOT_FOUND"
	case errors.Is(err, services.ErrImageNotFound):
		return fiber.StatusNotFound, "IMAGE_NOT_FOUND"
	case errors.Is(err, services.ErrInvalidTransition):
		return fiber.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, services.ErrOperationInFlight):
		return fiber.StatusConflict, "OPERATION_IN_FLIGHT"
	case errors.Is(err, services.ErrSuperseded):
		return fiber.StatusConflict, "SUPERSEDED"
	case errors.Is(err, services.ErrProtocolIncomplete):
		return fiber.StatusUnprocessableEntity, "PROTOCOL_INCOMPLETE"
	case errors.Is(err, services.ErrUnknownSite):
		return fiber.StatusUnprocessableEntity, "UNKNOWN_SITE"
	case errors.Is(err, services.ErrNoSiteSelected):
		return fiber.StatusUnprocessableEntity, "NO_SITE_SELECTED"
	case errors.Is(err, services.ErrAcquisitionMethod):
		return fiber.StatusUnprocessableEntity, "ACQUISITION_METHOD"
	case errors.Is(err, services.ErrExportUnavailable):
		return fiber.StatusServiceUnavailable, "EXPORT_UNAVAILABLE"
	case errors.Is(err, services.ErrAnalysisFailed):
		return fiber.StatusInternalServerError, "ANALYSIS_FAILED"
	case errors.Is(err, services.ErrPersistence):
		return fiber.StatusInternalServerError, "PERSISTENCE_FAILED"
	default:
		return fiber.StatusInternalServerError, "INTERNAL"
	}
}

// ErrorHandler renders errors that escape the route handlers, such as
// unknown routes, in the same shape as handler errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "INTERNAL"
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		status = ferr.Code
		code = strings.ToUpper(strings.ReplaceAll(ferr.Message, " ", "_"))
	}
	return c.Status(status).JSON(dtos.ErrorResponse{Error: err.Error(), Code: code})
}

func RegisterExaminationRoutes(app *fiber.App, h *ExaminationHandler) {
	exams := app.Group("/examinations")
	exams.Post("/", h.Start)
	exams.Get("/", h.ListSaved)
	exams.Delete("/", h.DeleteAllSaved)

	current := exams.Group("/current")
	current.Get("/", h.Current)
	current.Get("/protocol", h.Protocol)
	current.Post("/patient", h.SubmitPatientForm)
	current.Post("/method", h.SelectMethod)
	current.Post("/site", h.SelectSite)
	current.Post("/images", h.CaptureImage)
	current.Post("/uploads", h.UploadImages)
	current.Delete("/images/:imageId", h.DeleteImage)
	current.Post("/analysis", h.RequestAnalysis)
	current.Post("/retry", h.RetryCapture)
	current.Post("/note", h.AddNote)
	current.Post("/export", h.Export)
	current.Post("/save", h.Save)
	current.Post("/discard", h.Discard)

	exams.Get("/:id", h.FindSaved)
	exams.Delete("/:id", h.DeleteSaved)
}
