package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lung-screening-service/internal/adapters"
	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"
	"lung-screening-service/internal/fhir/mappers"
	"lung-screening-service/internal/protocol"
	"lung-screening-service/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// --- memRepository ---
var _ repositories.ExaminationRepositoryContract = (*memRepository)(nil)

type memRepository struct {
	AppendFunc      func(ctx context.Context, exam *entities.Examination) error
	AppendCallCount int32

	mu    sync.Mutex
	saved []*entities.Examination
}

func (m *memRepository) Append(ctx context.Context, exam *entities.Examination) error {
	atomic.AddInt32(&m.AppendCallCount, 1)
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, exam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := exam.Clone()
	m.saved = append(m.saved, &cp)
	return nil
}

func (m *memRepository) ListAll(ctx context.Context) ([]*entities.Examination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entities.Examination{}, m.saved...), nil
}

func (m *memRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.saved {
		if e.ExaminationID == id {
			m.saved = append(m.saved[:i], m.saved[i+1:]...)
			return nil
		}
	}
	return repositories.ErrExaminationNotFound
}

func (m *memRepository) DeleteAll(ctx context.Context) error {
	m.mu.Lock()
	m.saved = nil
	m.mu.Unlock()
	return nil
}

// --- fixedAnalyzer ---
type fixedAnalyzer struct {
	ComputeFunc func(ctx context.Context, images []entities.CapturedImage) (services.AnalysisResult, error)
}

func (a *fixedAnalyzer) Compute(ctx context.Context, images []entities.CapturedImage) (services.AnalysisResult, error) {
	if a.ComputeFunc != nil {
		return a.ComputeFunc(ctx, images)
	}
	return services.AnalysisResult{
		TBRisk:            55,
		UltrAiSign:        55,
		UltrAi:            30,
		FeatureScores:     map[entities.LungFeature]float64{entities.FeaturePleuralEffusion: 7},
		RecommendedAction: services.RecommendedAction(services.RiskMedium),
	}, nil
}

type testServer struct {
	app  *fiber.App
	repo *memRepository
}

type serverOptions struct {
	exporter services.ExportServiceContract
	timeout  time.Duration
}

func newTestServer(t *testing.T, analyzer services.Analyzer) *testServer {
	t.Helper()
	return newTestServerWith(t, analyzer, serverOptions{})
}

func newTestServerWith(t *testing.T, analyzer services.Analyzer, opts serverOptions) *testServer {
	t.Helper()
	if analyzer == nil {
		analyzer = &fixedAnalyzer{}
	}
	repo := &memRepository{}
	logger := zaptest.NewLogger(t)
	ls, err := services.NewLifecycleService(repo, analyzer, opts.exporter, logger, services.LifecycleOptions{UserID: 1})
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterExaminationRoutes(app, NewExaminationHandler(ls, logger, opts.timeout))
	return &testServer{app: app, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func patientForm() dtos.PatientFormRequest {
	return dtos.PatientFormRequest{
		Name:                      "Grace Hopper",
		Age:                       "44",
		Location:                  "Ward 2",
		SymptomHouseholdTBContact: "No",
		SymptomCough:              "Yes",
		SymptomCoughDuration:      "1-3 weeks",
		SymptomNightSweats:        "No",
		SymptomFever:              "Yes",
		SymptomWeightLoss:         "No",
	}
}

func (s *testServer) toCapturing(t *testing.T, method string) {
	t.Helper()
	status, _ := s.do(t, http.MethodPost, "/examinations", nil)
	require.Equal(t, http.StatusCreated, status)
	status, body := s.do(t, http.MethodPost, "/examinations/current/patient", patientForm())
	require.Equal(t, http.StatusOK, status, string(body))
	status, body = s.do(t, http.MethodPost, "/examinations/current/method", dtos.SelectMethodRequest{Method: method})
	require.Equal(t, http.StatusOK, status, string(body))
}

func (s *testServer) toResult(t *testing.T) {
	t.Helper()
	s.toCapturing(t, "upload")
	uris := make([]string, protocol.SiteCount())
	for i := range uris {
		uris[i] = fmt.Sprintf("file:///g/%d.jpg", i)
	}
	status, body := s.do(t, http.MethodPost, "/examinations/current/uploads", dtos.UploadImagesRequest{URIs: uris})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = s.do(t, http.MethodPost, "/examinations/current/analysis", nil)
	require.Equal(t, http.StatusOK, status, string(body))
}

func TestExaminationHandler_NoActiveExamination(t *testing.T) {
	s := newTestServer(t, nil)

	status, body := s.do(t, http.MethodGet, "/examinations/current", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NO_ACTIVE_EXAMINATION", decode[dtos.ErrorResponse](t, body).Code)

	status, _ = s.do(t, http.MethodPost, "/examinations/current/discard", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestExaminationHandler_CaptureFlowThroughSave(t *testing.T) {
	s := newTestServer(t, nil)
	s.toCapturing(t, "Capture")

	for _, site := range protocol.ListSites() {
		status, body := s.do(t, http.MethodPost, "/examinations/current/site", dtos.SelectSiteRequest{Site: string(site)})
		require.Equal(t, http.StatusOK, status, string(body))
		status, body = s.do(t, http.MethodPost, "/examinations/current/images", dtos.CaptureImageRequest{URI: "file:///" + string(site)})
		require.Equal(t, http.StatusCreated, status, string(body))
		assert.Equal(t, site, decode[entities.CapturedImage](t, body).Site)
	}

	status, body := s.do(t, http.MethodGet, "/examinations/current/protocol", nil)
	require.Equal(t, http.StatusOK, status)
	view := decode[dtos.ProtocolView](t, body)
	assert.True(t, view.AllCaptured)
	assert.Equal(t, protocol.SiteCount(), view.CapturedCount)

	status, body = s.do(t, http.MethodPost, "/examinations/current/analysis", dtos.AnalysisRequest{})
	require.Equal(t, http.StatusOK, status, string(body))
	resp := decode[dtos.ExaminationResponse](t, body)
	assert.Equal(t, "result", resp.State)
	assert.Equal(t, "medium", resp.RiskCategory)
	assert.Equal(t, 55.0, resp.Examination.TBRisk)

	status, body = s.do(t, http.MethodPost, "/examinations/current/note", dtos.NoteRequest{Note: "follow up"})
	require.Equal(t, http.StatusOK, status, string(body))

	status, body = s.do(t, http.MethodPost, "/examinations/current/save", nil)
	require.Equal(t, http.StatusCreated, status, string(body))
	saved := decode[entities.Examination](t, body)
	assert.Equal(t, "follow up", saved.Note)

	status, body = s.do(t, http.MethodGet, "/examinations", nil)
	require.Equal(t, http.StatusOK, status)
	list := decode[[]entities.Examination](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, saved.ExaminationID, list[0].ExaminationID)

	status, body = s.do(t, http.MethodGet, "/examinations/"+saved.ExaminationID.String(), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Grace Hopper", decode[entities.Examination](t, body).PatientName)

	status, _ = s.do(t, http.MethodGet, "/examinations/current", nil)
	assert.Equal(t, http.StatusNotFound, status, "save returns to idle")
}

func TestExaminationHandler_ValidationAndTransitionErrors(t *testing.T) {
	s := newTestServer(t, nil)
	status, _ := s.do(t, http.MethodPost, "/examinations", nil)
	require.Equal(t, http.StatusCreated, status)

	form := patientForm()
	form.Age = "old"
	form.SymptomFever = "maybe"
	status, body := s.do(t, http.MethodPost, "/examinations/current/patient", form)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	errResp := decode[dtos.ErrorResponse](t, body)
	assert.Equal(t, "VALIDATION_FAILED", errResp.Code)
	assert.Len(t, errResp.Details, 2)

	status, body = s.do(t, http.MethodPost, "/examinations/current/site", dtos.SelectSiteRequest{Site: "QAID"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", decode[dtos.ErrorResponse](t, body).Code)

	status, _ = s.do(t, http.MethodPost, "/examinations/current/patient", patientForm())
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodPost, "/examinations/current/method", dtos.SelectMethodRequest{Method: "scanner"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ACQUISITION_METHOD", decode[dtos.ErrorResponse](t, body).Code)

	status, _ = s.do(t, http.MethodPost, "/examinations/current/method", dtos.SelectMethodRequest{Method: "capture"})
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(t, http.MethodPost, "/examinations/current/site", dtos.SelectSiteRequest{Site: "ZZZ"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "UNKNOWN_SITE", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodPost, "/examinations/current/images", dtos.CaptureImageRequest{URI: "file:///a"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "NO_SITE_SELECTED", decode[dtos.ErrorResponse](t, body).Code)

	status, _ = s.do(t, http.MethodPost, "/examinations/current/site", dtos.SelectSiteRequest{Site: "qaid"})
	require.Equal(t, http.StatusOK, status)
	status, body = s.do(t, http.MethodPost, "/examinations/current/images", dtos.CaptureImageRequest{URI: "file:///a", Label: "bogus"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_FAILED", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodPost, "/examinations/current/analysis", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "PROTOCOL_INCOMPLETE", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodPost, "/examinations/current/analysis", dtos.AnalysisRequest{Override: true})
	assert.Equal(t, http.StatusOK, status, string(body))
}

func TestExaminationHandler_DeleteImage(t *testing.T) {
	s := newTestServer(t, nil)
	s.toCapturing(t, "capture")
	status, _ := s.do(t, http.MethodPost, "/examinations/current/site", dtos.SelectSiteRequest{Site: "QPIG"})
	require.Equal(t, http.StatusOK, status)
	status, body := s.do(t, http.MethodPost, "/examinations/current/images", dtos.CaptureImageRequest{URI: "file:///p"})
	require.Equal(t, http.StatusCreated, status)
	img := decode[entities.CapturedImage](t, body)

	status, _ = s.do(t, http.MethodDelete, "/examinations/current/images/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodDelete, "/examinations/current/images/"+img.ImageID.String(), nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = s.do(t, http.MethodDelete, "/examinations/current/images/"+img.ImageID.String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "IMAGE_NOT_FOUND", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodGet, "/examinations/current/protocol", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Zero(t, decode[dtos.ProtocolView](t, body).CapturedCount)
}

func TestExaminationHandler_AnalysisFailureAndRetry(t *testing.T) {
	s := newTestServer(t, &fixedAnalyzer{ComputeFunc: func(context.Context, []entities.CapturedImage) (services.AnalysisResult, error) {
		return services.AnalysisResult{}, errors.New("model offline")
	}})
	s.toCapturing(t, "upload")
	status, _ := s.do(t, http.MethodPost, "/examinations/current/uploads", dtos.UploadImagesRequest{URIs: []string{"file:///1"}})
	require.Equal(t, http.StatusCreated, status)

	status, body := s.do(t, http.MethodPost, "/examinations/current/analysis", dtos.AnalysisRequest{Override: true})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "ANALYSIS_FAILED", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodPost, "/examinations/current/retry", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "capturing", decode[dtos.ExaminationResponse](t, body).State)
}

func TestExaminationHandler_SavePersistenceFailure(t *testing.T) {
	s := newTestServer(t, nil)
	s.repo.AppendFunc = func(context.Context, *entities.Examination) error { return errors.New("read-only file system") }
	s.toResult(t)

	status, body := s.do(t, http.MethodPost, "/examinations/current/save", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "PERSISTENCE_FAILED", decode[dtos.ErrorResponse](t, body).Code)

	status, body = s.do(t, http.MethodGet, "/examinations/current", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "result", decode[dtos.ExaminationResponse](t, body).State)
}

func TestExaminationHandler_ExportWithoutExporter(t *testing.T) {
	s := newTestServer(t, nil)
	s.toResult(t)

	status, body := s.do(t, http.MethodPost, "/examinations/current/export", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "EXPORT_UNAVAILABLE", decode[dtos.ErrorResponse](t, body).Code)
}

func TestExaminationHandler_ExportReportsActiveExamination(t *testing.T) {
	logger := zaptest.NewLogger(t)
	queue := adapters.NewInMemoryQueueAdapter(logger)
	t.Cleanup(func() { queue.Close() })
	dir := t.TempDir()
	sharer, err := adapters.NewFileDocumentSharer(dir, logger)
	require.NoError(t, err)
	exporter, err := services.NewExportService(services.DocumentRendererFunc(mappers.MapExaminationToFHIR), sharer, queue, logger)
	require.NoError(t, err)

	s := newTestServerWith(t, nil, serverOptions{exporter: exporter})
	s.toResult(t)
	status, body := s.do(t, http.MethodGet, "/examinations/current", nil)
	require.Equal(t, http.StatusOK, status)
	current := decode[dtos.ExaminationResponse](t, body)
	require.NotNil(t, current.Examination)

	status, body = s.do(t, http.MethodPost, "/examinations/current/export", nil)
	require.Equal(t, http.StatusAccepted, status, string(body))
	resp := decode[dtos.ExportStatusResponse](t, body)
	assert.NotEmpty(t, resp.ExportID)
	assert.Equal(t, "PENDING", resp.Status)
	assert.Equal(t, current.Examination.ExaminationID.String(), resp.ExaminationID)
}

func TestRequestTimeoutFor(t *testing.T) {
	assert.Equal(t, 75*time.Second, RequestTimeoutFor(45*time.Second))
	assert.Equal(t, DefaultRequestTimeout, RequestTimeoutFor(0))
	assert.Equal(t, DefaultRequestTimeout, RequestTimeoutFor(-time.Second))
}

func TestExaminationHandler_RequestTimeoutBoundsAnalysis(t *testing.T) {
	const delay = 150 * time.Millisecond

	s := newTestServerWith(t, services.NewMockAnalyzer(1, delay, nil), serverOptions{timeout: 20 * time.Millisecond})
	s.toCapturing(t, "upload")
	uris := make([]string, protocol.SiteCount())
	for i := range uris {
		uris[i] = fmt.Sprintf("file:///g/%d.jpg", i)
	}
	status, body := s.do(t, http.MethodPost, "/examinations/current/uploads", dtos.UploadImagesRequest{URIs: uris})
	require.Equal(t, http.StatusCreated, status, string(body))
	status, body = s.do(t, http.MethodPost, "/examinations/current/analysis", nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "ANALYSIS_FAILED", decode[dtos.ErrorResponse](t, body).Code)

	// A timeout derived from the analysis delay lets the same analysis finish.
	s = newTestServerWith(t, services.NewMockAnalyzer(1, delay, nil), serverOptions{timeout: RequestTimeoutFor(delay)})
	s.toResult(t)
	status, body = s.do(t, http.MethodGet, "/examinations/current", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "result", decode[dtos.ExaminationResponse](t, body).State)
}

func TestExaminationHandler_DiscardAndSavedRecords(t *testing.T) {
	s := newTestServer(t, nil)
	s.toResult(t)
	status, _ := s.do(t, http.MethodPost, "/examinations/current/discard", nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Zero(t, atomic.LoadInt32(&s.repo.AppendCallCount))

	s.toResult(t)
	status, body := s.do(t, http.MethodPost, "/examinations/current/save", nil)
	require.Equal(t, http.StatusCreated, status)
	saved := decode[entities.Examination](t, body)

	status, _ = s.do(t, http.MethodGet, "/examinations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(t, http.MethodGet, "/examinations/xyz", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, http.MethodDelete, "/examinations/"+saved.ExaminationID.String(), nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body = s.do(t, http.MethodDelete, "/examinations/"+saved.ExaminationID.String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "EXAMINATION_NOT_FOUND", decode[dtos.ErrorResponse](t, body).Code)

	status, _ = s.do(t, http.MethodDelete, "/examinations", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, body = s.do(t, http.MethodGet, "/examinations", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]entities.Examination](t, body))
}

func TestExaminationHandler_BadBodyAndUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)
	status, _ := s.do(t, http.MethodPost, "/examinations", nil)
	require.Equal(t, http.StatusCreated, status)

	req := httptest.NewRequest(http.MethodPost, "/examinations/current/patient", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	status, body := s.do(t, http.MethodGet, "/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, decode[dtos.ErrorResponse](t, body).Code)
}
