package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"
	"lung-screening-service/internal/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// LifecycleOptions carries the values stamped on every new examination.
type LifecycleOptions struct {
	UserID int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// LifecycleServiceImpl implements LifecycleServiceContract. It is the only
// owner of the record store and the capture tracker, and keeps them in
// step: whenever the store is created or cleared the tracker is reset.
type LifecycleServiceImpl struct {
	repo     repositories.ExaminationRepositoryContract
	analyzer Analyzer
	exporter ExportServiceContract
	logger   *zap.Logger
	opts     LifecycleOptions

	store   *ExaminationStore
	tracker *protocol.Tracker
	// permit admits one analysis or save at a time.
	permit *semaphore.Weighted

	mu           sync.Mutex
	state        State
	selectedSite protocol.Site
	// generation changes whenever the active examination is replaced or
	// dropped; async steps compare it to detect they were superseded.
	generation uint64
	// saving is set while Save has a snapshot out with the repository;
	// every other write to the record is rejected until it returns.
	saving         bool
	cancelAnalysis context.CancelFunc
}

var _ LifecycleServiceContract = (*LifecycleServiceImpl)(nil)

// NewLifecycleService wires the controller. exporter may be nil, in which
// case Export reports ErrExportUnavailable.
func NewLifecycleService(
	repo repositories.ExaminationRepositoryContract,
	analyzer Analyzer,
	exporter ExportServiceContract,
	logger *zap.Logger,
	opts LifecycleOptions,
) (*LifecycleServiceImpl, error) {
	if repo == nil {
		return nil, errors.New("lifecycle: examination repository is required")
	}
	if analyzer == nil {
		return nil, errors.New("lifecycle: analyzer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LifecycleServiceImpl{
		repo:     repo,
		analyzer: analyzer,
		exporter: exporter,
		logger:   logger.Named("lifecycle"),
		opts:     opts,
		store:    NewExaminationStore(),
		tracker:  protocol.NewTracker(),
		permit:   semaphore.NewWeighted(1),
		state:    StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (s *LifecycleServiceImpl) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the active examination with its state. Once a result is
// available the risk category and summary are filled in.
func (s *LifecycleServiceImpl) Current() (dtos.ExaminationResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exam, ok := s.store.Read()
	if !ok {
		return dtos.ExaminationResponse{State: string(s.state)}, false
	}
	resp := dtos.ExaminationResponse{State: string(s.state), Examination: &exam}
	if s.state == StateResult {
		resp.RiskCategory = string(CategorizeRisk(exam.TBRisk))
		resp.Summary = Summary(exam.TBRisk, exam.RecommendedAction)
	}
	return resp, true
}

// Protocol returns the live capture markers grouped for display, with the
// number of images behind each marker.
func (s *LifecycleServiceImpl) Protocol() dtos.ProtocolView {
	s.mu.Lock()
	defer s.mu.Unlock()

	exam, _ := s.store.Read()
	counts := make(map[protocol.Site]int)
	for _, img := range exam.Images {
		if img.Site != "" {
			counts[img.Site]++
		}
	}

	view := dtos.ProtocolView{
		SelectedSite:  s.selectedSite,
		Method:        exam.ImageAcquisitionMethod,
		CapturedCount: s.tracker.CapturedCount(),
		RequiredCount: protocol.SiteCount(),
		ImageCount:    len(exam.Images),
		AllCaptured:   s.protocolComplete(exam),
	}
	for _, g := range protocol.Groups() {
		gv := dtos.GroupView{Group: g}
		for _, m := range s.tracker.MarkersFor(g) {
			gv.Markers = append(gv.Markers, dtos.MarkerView{Marker: m, ImageCount: counts[m.Site]})
		}
		view.Groups = append(view.Groups, gv)
	}
	return view
}

// Start opens a new examination. An examination already in progress is
// abandoned, and a running analysis on it is cancelled.
func (s *LifecycleServiceImpl) Start() (entities.Examination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saving {
		return entities.Examination{}, fmt.Errorf("start: %w", ErrOperationInFlight)
	}
	if s.state != StateIdle {
		s.logger.Info("abandoning active examination", zap.String("state", string(s.state)))
	}
	s.dropActiveLocked()

	exam := s.store.Create(ExaminationSeed{UserID: s.opts.UserID, Date: s.opts.Now()})
	s.state = StateDataEntry
	s.logger.Info("examination started", zap.String("examinationId", exam.ExaminationID.String()))
	return exam, nil
}

// SubmitPatientForm validates the patient form and moves on to capture.
func (s *LifecycleServiceImpl) SubmitPatientForm(form dtos.PatientFormRequest) (entities.Examination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("submit patient form", StateDataEntry); err != nil {
		return entities.Examination{}, err
	}
	patch, err := ParsePatientForm(form)
	if err != nil {
		return entities.Examination{}, err
	}
	s.store.Patch(patch)
	s.state = StateCapturing

	exam, _ := s.store.Read()
	s.logger.Info("patient form accepted", zap.String("examinationId", exam.ExaminationID.String()))
	return exam, nil
}

// SelectAcquisitionMethod chooses capture or upload. The method can be
// changed freely until the first image is acquired.
func (s *LifecycleServiceImpl) SelectAcquisitionMethod(method entities.AcquisitionMethod) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("select acquisition method", StateCapturing); err != nil {
		return err
	}
	if !method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrAcquisitionMethod, method)
	}
	exam, _ := s.store.Read()
	if exam.ImageAcquisitionMethod == method {
		return nil
	}
	if len(exam.Images) > 0 {
		return fmt.Errorf("%w: images were already acquired by %s", ErrAcquisitionMethod, exam.ImageAcquisitionMethod)
	}
	s.store.Patch(dtos.ExaminationPatch{ImageAcquisitionMethod: &method})
	s.logger.Debug("acquisition method selected", zap.String("method", string(method)))
	return nil
}

// SelectSite sets the site the next captured image is attributed to.
func (s *LifecycleServiceImpl) SelectSite(site protocol.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("select site", StateCapturing); err != nil {
		return err
	}
	if !protocol.Contains(site) {
		return fmt.Errorf("%w: %q", ErrUnknownSite, site)
	}
	s.selectedSite = site
	return nil
}

// CaptureImage records one ultrasound image for the selected site and marks the
// site as captured.
func (s *LifecycleServiceImpl) CaptureImage(uri string, label entities.LungFeature) (entities.CapturedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("capture image", StateCapturing); err != nil {
		return entities.CapturedImage{}, err
	}
	exam, _ := s.store.Read()
	if exam.ImageAcquisitionMethod != entities.AcquisitionCapture {
		return entities.CapturedImage{}, fmt.Errorf("%w: capture requires the capture method", ErrAcquisitionMethod)
	}
	if s.selectedSite == "" {
		return entities.CapturedImage{}, ErrNoSiteSelected
	}
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return entities.CapturedImage{}, &ValidationError{Fields: []FieldError{{Field: "uri", Reason: "is required"}}}
	}

	img := entities.NewCapturedImage(uri, s.selectedSite, label, s.opts.Now())
	images := append(exam.Images, img)
	s.store.Patch(dtos.ExaminationPatch{Images: &images})
	s.tracker.MarkCaptured(img.Site, true)

	s.logger.Debug("image captured",
		zap.String("site", string(img.Site)),
		zap.Int("capturedSites", s.tracker.CapturedCount()))
	return img, nil
}

// UploadImages appends gallery images. Uploaded images carry no site and do
// not touch the capture markers.
func (s *LifecycleServiceImpl) UploadImages(uris []string) ([]entities.CapturedImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("upload images", StateCapturing); err != nil {
		return nil, err
	}
	exam, _ := s.store.Read()
	if exam.ImageAcquisitionMethod != entities.AcquisitionUpload {
		return nil, fmt.Errorf("%w: upload requires the upload method", ErrAcquisitionMethod)
	}
	if len(uris) == 0 {
		return nil, &ValidationError{Fields: []FieldError{{Field: "uris", Reason: "must not be empty"}}}
	}
	verr := &ValidationError{}
	for i, uri := range uris {
		if strings.TrimSpace(uri) == "" {
			verr.add(fmt.Sprintf("uris[%d]", i), "is required")
		}
	}
	if !verr.empty() {
		return nil, verr
	}

	now := s.opts.Now()
	added := make([]entities.CapturedImage, 0, len(uris))
	for _, uri := range uris {
		added = append(added, entities.NewCapturedImage(strings.TrimSpace(uri), "", "", now))
	}
	images := append(exam.Images, added...)
	s.store.Patch(dtos.ExaminationPatch{Images: &images})
	s.logger.Debug("images uploaded", zap.Int("added", len(added)), zap.Int("total", len(images)))
	return added, nil
}

// DeleteImage removes one image. Removing the last image of a site clears
// that site's marker.
func (s *LifecycleServiceImpl) DeleteImage(imageID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("delete image", StateCapturing); err != nil {
		return err
	}
	exam, _ := s.store.Read()
	idx := -1
	for i, img := range exam.Images {
		if img.ImageID == imageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrImageNotFound, imageID)
	}

	removed := exam.Images[idx]
	images := append(exam.Images[:idx:idx], exam.Images[idx+1:]...)
	s.store.Patch(dtos.ExaminationPatch{Images: &images})

	if removed.Site != "" {
		remaining, _ := s.store.Read()
		if len(remaining.ImagesForSite(removed.Site)) == 0 {
			s.tracker.MarkCaptured(removed.Site, false)
		}
	}
	return nil
}

// RequestAnalysis runs the risk analyzer over the acquired images. Unless
// override is set the protocol must be complete. The analyzer runs without
// the controller lock held; if the examination is replaced or discarded
// meanwhile the result is dropped and ErrSuperseded returned.
func (s *LifecycleServiceImpl) RequestAnalysis(ctx context.Context, override bool) (entities.Examination, error) {
	s.mu.Lock()
	if err := s.requireLocked("request analysis", StateCapturing); err != nil {
		s.mu.Unlock()
		return entities.Examination{}, err
	}
	exam, _ := s.store.Read()
	if !override && !s.protocolComplete(exam) {
		s.mu.Unlock()
		return entities.Examination{}, s.incompleteError(exam)
	}
	if !s.permit.TryAcquire(1) {
		s.mu.Unlock()
		return entities.Examination{}, fmt.Errorf("request analysis: %w", ErrOperationInFlight)
	}
	defer s.permit.Release(1)

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancelAnalysis = cancel
	s.state = StateAnalyzing
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("analysis started",
		zap.String("examinationId", exam.ExaminationID.String()),
		zap.Int("images", len(exam.Images)),
		zap.Bool("override", override))
	result, err := s.analyzer.Compute(actx, exam.Images)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		s.logger.Info("analysis result dropped", zap.String("examinationId", exam.ExaminationID.String()))
		return entities.Examination{}, ErrSuperseded
	}
	s.cancelAnalysis = nil
	if err != nil {
		s.state = StateFailed
		s.logger.Warn("analysis failed", zap.String("examinationId", exam.ExaminationID.String()), zap.Error(err))
		return entities.Examination{}, fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
	}

	features := result.FeatureScores
	s.store.Patch(dtos.ExaminationPatch{
		TBRisk:             &result.TBRisk,
		UltrAiSign:         &result.UltrAiSign,
		UltrAi:             &result.UltrAi,
		LungFeatureResults: &features,
		RecommendedAction:  &result.RecommendedAction,
	})
	s.state = StateResult

	done, _ := s.store.Read()
	s.logger.Info("analysis completed",
		zap.String("examinationId", done.ExaminationID.String()),
		zap.Float64("tbRisk", done.TBRisk),
		zap.String("category", string(CategorizeRisk(done.TBRisk))))
	return done, nil
}

// RetryCapture returns from a failed analysis to capture.
func (s *LifecycleServiceImpl) RetryCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("retry capture", StateFailed); err != nil {
		return err
	}
	s.state = StateCapturing
	return nil
}

// AddNote sets the free-text note on an analysed examination.
func (s *LifecycleServiceImpl) AddNote(note string) (entities.Examination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireLocked("add note", StateResult); err != nil {
		return entities.Examination{}, err
	}
	if s.saving {
		return entities.Examination{}, fmt.Errorf("add note: %w", ErrOperationInFlight)
	}
	s.store.Patch(dtos.ExaminationPatch{Note: &note})
	exam, _ := s.store.Read()
	return exam, nil
}

// Export queues the analysed examination for document export and returns
// the export id together with the id of the examination it covers. The
// export location is written back only if the same examination is still
// active, and not being saved, when the export finishes.
func (s *LifecycleServiceImpl) Export(ctx context.Context) (string, uuid.UUID, error) {
	s.mu.Lock()
	if err := s.requireLocked("export", StateResult); err != nil {
		s.mu.Unlock()
		return "", uuid.Nil, err
	}
	if s.saving {
		s.mu.Unlock()
		return "", uuid.Nil, fmt.Errorf("export: %w", ErrOperationInFlight)
	}
	exam, _ := s.store.Read()
	s.mu.Unlock()

	if s.exporter == nil {
		return "", uuid.Nil, ErrExportUnavailable
	}
	exportID, err := s.exporter.InitiateExport(ctx, exam, s.recordExportLocation)
	if err != nil {
		return "", uuid.Nil, err
	}
	return exportID, exam.ExaminationID, nil
}

func (s *LifecycleServiceImpl) recordExportLocation(examinationID uuid.UUID, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exam, ok := s.store.Read()
	if !ok || exam.ExaminationID != examinationID {
		s.logger.Info("export finished for an examination that is no longer active",
			zap.String("examinationId", examinationID.String()),
			zap.String("location", location))
		return
	}
	if s.saving {
		// The snapshot is already with the repository and the record is
		// dropped once the save returns.
		s.logger.Warn("export location arrived during save and was not recorded",
			zap.String("examinationId", examinationID.String()),
			zap.String("location", location))
		return
	}
	s.store.Patch(dtos.ExaminationPatch{PdfURLSrc: &location})
	s.logger.Info("export location recorded",
		zap.String("examinationId", examinationID.String()),
		zap.String("location", location))
}

// Save appends the analysed examination to the repository and returns to
// idle. On a repository error nothing in memory changes and the error wraps
// ErrPersistence.
func (s *LifecycleServiceImpl) Save(ctx context.Context) (entities.Examination, error) {
	s.mu.Lock()
	if err := s.requireLocked("save", StateResult); err != nil {
		s.mu.Unlock()
		return entities.Examination{}, err
	}
	if !s.permit.TryAcquire(1) {
		s.mu.Unlock()
		return entities.Examination{}, fmt.Errorf("save: %w", ErrOperationInFlight)
	}
	defer s.permit.Release(1)
	exam, _ := s.store.Read()
	gen := s.generation
	s.saving = true
	s.mu.Unlock()

	err := s.repo.Append(ctx, &exam)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if s.generation != gen {
		return entities.Examination{}, ErrSuperseded
	}
	if err != nil {
		s.logger.Error("saving examination failed",
			zap.String("examinationId", exam.ExaminationID.String()), zap.Error(err))
		return entities.Examination{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.dropActiveLocked()
	s.logger.Info("examination saved", zap.String("examinationId", exam.ExaminationID.String()))
	return exam, nil
}

// Discard drops the active examination from any state. A running analysis
// is cancelled; a running save blocks discard.
func (s *LifecycleServiceImpl) Discard() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return ErrNoActiveExamination
	}
	if s.saving {
		return fmt.Errorf("discard: %w", ErrOperationInFlight)
	}
	exam, _ := s.store.Read()
	s.dropActiveLocked()
	s.logger.Info("examination discarded", zap.String("examinationId", exam.ExaminationID.String()))
	return nil
}

// ListSaved returns every saved examination in save order.
func (s *LifecycleServiceImpl) ListSaved(ctx context.Context) ([]*entities.Examination, error) {
	exams, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return exams, nil
}

// FindSaved returns the first saved examination with the given id.
func (s *LifecycleServiceImpl) FindSaved(ctx context.Context, examinationID uuid.UUID) (*entities.Examination, error) {
	exams, err := s.ListSaved(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range exams {
		if e.ExaminationID == examinationID {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", examinationID, repositories.ErrExaminationNotFound)
}

// DeleteSaved removes a saved examination.
func (s *LifecycleServiceImpl) DeleteSaved(ctx context.Context, examinationID uuid.UUID) error {
	err := s.repo.DeleteByID(ctx, examinationID)
	switch {
	case err == nil:
		s.logger.Info("saved examination deleted", zap.String("examinationId", examinationID.String()))
		return nil
	case errors.Is(err, repositories.ErrExaminationNotFound):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

// DeleteAllSaved empties the repository.
func (s *LifecycleServiceImpl) DeleteAllSaved(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.logger.Info("all saved examinations deleted")
	return nil
}

// dropActiveLocked cancels any analysis, clears the store, resets the
// tracker and returns to idle.
func (s *LifecycleServiceImpl) dropActiveLocked() {
	if s.cancelAnalysis != nil {
		s.cancelAnalysis()
		s.cancelAnalysis = nil
	}
	s.generation++
	s.store.Clear()
	s.tracker.Initialize()
	s.selectedSite = ""
	s.state = StateIdle
}

func (s *LifecycleServiceImpl) requireLocked(event string, want State) error {
	if s.state == want {
		return nil
	}
	if s.state == StateIdle {
		return ErrNoActiveExamination
	}
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, event, s.state)
}

// protocolComplete reports whether analysis may run without an override:
// every site captured on the capture path, at least one image per site on
// the upload path.
func (s *LifecycleServiceImpl) protocolComplete(exam entities.Examination) bool {
	switch exam.ImageAcquisitionMethod {
	case entities.AcquisitionCapture:
		return s.tracker.IsAllCaptured()
	case entities.AcquisitionUpload:
		return len(exam.Images) >= protocol.SiteCount()
	default:
		return false
	}
}

func (s *LifecycleServiceImpl) incompleteError(exam entities.Examination) error {
	switch exam.ImageAcquisitionMethod {
	case entities.AcquisitionUpload:
		return fmt.Errorf("%w: %d of %d images uploaded", ErrProtocolIncomplete, len(exam.Images), protocol.SiteCount())
	case entities.AcquisitionCapture:
		return fmt.Errorf("%w: %d of %d sites captured", ErrProtocolIncomplete, s.tracker.CapturedCount(), protocol.SiteCount())
	default:
		return fmt.Errorf("%w: no acquisition method selected", ErrProtocolIncomplete)
	}
}
