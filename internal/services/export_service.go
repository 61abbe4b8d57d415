package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"lung-screening-service/internal/adapters"
	"lung-screening-service/internal/domain/entities"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ExaminationExportQueue = "examination_export_jobs"

// ExportFormat is the document format written by the default renderer.
const ExportFormat = "FHIR-R4"

// ExportServiceImpl implements ExportServiceContract over a QueueAdapter.
type ExportServiceImpl struct {
	renderer     DocumentRenderer
	sharer       DocumentSharer
	queueAdapter adapters.QueueAdapter
	logger       *zap.Logger

	serviceCtx    context.Context
	serviceCancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]ExportCallback
}

// NewExportService creates an export service. Start must be called before
// queued jobs are processed.
func NewExportService(
	renderer DocumentRenderer,
	sharer DocumentSharer,
	queueAdapter adapters.QueueAdapter,
	logger *zap.Logger,
) (*ExportServiceImpl, error) {
	if renderer == nil || sharer == nil || queueAdapter == nil {
		return nil, errors.New("export: renderer, sharer and queue adapter are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ExportServiceImpl{
		renderer:      renderer,
		sharer:        sharer,
		queueAdapter:  queueAdapter,
		logger:        logger.Named("export"),
		serviceCtx:    ctx,
		serviceCancel: cancel,
		pending:       make(map[string]ExportCallback),
	}, nil
}

// Start begins consuming export jobs.
func (s *ExportServiceImpl) Start(ctx context.Context) error {
	if err := s.queueAdapter.StartConsuming(s.serviceCtx, ExaminationExportQueue, s.handleExportJob); err != nil {
		return fmt.Errorf("export: start consumer for %s: %w", ExaminationExportQueue, err)
	}
	s.logger.Info("export consumer started", zap.String("queue", ExaminationExportQueue))
	return nil
}

// Stop halts the consumer. Jobs still queued are not processed and their
// callbacks are dropped.
func (s *ExportServiceImpl) Stop(ctx context.Context) error {
	s.serviceCancel()
	err := s.queueAdapter.StopConsuming(ctx, ExaminationExportQueue)

	s.mu.Lock()
	dropped := len(s.pending)
	s.pending = make(map[string]ExportCallback)
	s.mu.Unlock()
	if dropped > 0 {
		s.logger.Warn("export callbacks dropped on stop", zap.Int("droppedCallbacks", dropped))
	}

	if err != nil {
		return fmt.Errorf("export: stop consumer: %w", err)
	}
	s.logger.Info("export consumer stopped")
	return nil
}

// ExportJobData is the payload of one export job on the queue.
type ExportJobData struct {
	ExportID      string          `json:"exportId"`
	ExaminationID string          `json:"examinationId"`
	DocumentName  string          `json:"documentName"`
	Format        string          `json:"format"`
	Document      json.RawMessage `json:"document"`
}

// InitiateExport renders exam and queues it for sharing.
func (s *ExportServiceImpl) InitiateExport(ctx context.Context, exam entities.Examination, onDone ExportCallback) (string, error) {
	doc, err := s.renderer.Render(exam)
	if err != nil {
		return "", fmt.Errorf("export: render examination %s: %w", exam.ExaminationID, err)
	}

	exportID := uuid.New().String()
	job := ExportJobData{
		ExportID:      exportID,
		ExaminationID: exam.ExaminationID.String(),
		DocumentName:  exam.ExaminationID.String() + ".json",
		Format:        ExportFormat,
		Document:      doc,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("export: encode job: %w", err)
	}

	if onDone != nil {
		s.mu.Lock()
		s.pending[exportID] = onDone
		s.mu.Unlock()
	}
	if err := s.queueAdapter.Publish(ctx, ExaminationExportQueue, payload); err != nil {
		s.takeCallback(exportID)
		return "", fmt.Errorf("export: enqueue job: %w", err)
	}

	s.logger.Info("export queued",
		zap.String("exportId", exportID),
		zap.String("examinationId", job.ExaminationID),
		zap.Int("bytes", len(doc)))
	return exportID, nil
}

func (s *ExportServiceImpl) handleExportJob(ctx context.Context, data []byte) error {
	var job ExportJobData
	if err := json.Unmarshal(data, &job); err != nil {
		s.logger.Error("malformed export job", zap.Error(err), zap.Int("bytes", len(data)))
		return fmt.Errorf("export: decode job: %w", err)
	}
	onDone := s.takeCallback(job.ExportID)

	examID, err := uuid.Parse(job.ExaminationID)
	if err != nil {
		s.logger.Error("export job with invalid examination id", zap.String("exportId", job.ExportID), zap.Error(err))
		return fmt.Errorf("export: examination id: %w", err)
	}

	location, err := s.sharer.Share(ctx, job.DocumentName, job.Document)
	if err != nil {
		s.logger.Error("sharing export failed",
			zap.String("exportId", job.ExportID),
			zap.String("examinationId", job.ExaminationID),
			zap.Error(err))
		return fmt.Errorf("export: share %s: %w", job.DocumentName, err)
	}

	s.logger.Info("export shared",
		zap.String("exportId", job.ExportID),
		zap.String("examinationId", job.ExaminationID),
		zap.String("location", location))
	if onDone != nil {
		onDone(examID, location)
	}
	return nil
}

func (s *ExportServiceImpl) takeCallback(exportID string) ExportCallback {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb := s.pending[exportID]
	delete(s.pending, exportID)
	return cb
}
