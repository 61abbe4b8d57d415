package services

import (
	"context"
	"sync"
	"sync/atomic"

	"lung-screening-service/internal/adapters"
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"

	"github.com/google/uuid"
)

// --- MockExaminationRepository ---
var _ repositories.ExaminationRepositoryContract = (*MockExaminationRepository)(nil)

// MockExaminationRepository keeps appended examinations in memory unless a
// Func field overrides the behaviour.
type MockExaminationRepository struct {
	AppendFunc     func(ctx context.Context, exam *entities.Examination) error
	ListAllFunc    func(ctx context.Context) ([]*entities.Examination, error)
	DeleteByIDFunc func(ctx context.Context, id uuid.UUID) error
	DeleteAllFunc  func(ctx context.Context) error

	AppendCallCount  int32
	ListAllCallCount int32

	mu    sync.Mutex
	saved []*entities.Examination
}

func (m *MockExaminationRepository) Append(ctx context.Context, exam *entities.Examination) error {
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

func (m *MockExaminationRepository) ListAll(ctx context.Context) ([]*entities.Examination, error) {
	atomic.AddInt32(&m.ListAllCallCount, 1)
	if m.ListAllFunc != nil {
		return m.ListAllFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*entities.Examination{}, m.saved...), nil
}

func (m *MockExaminationRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	if m.DeleteByIDFunc != nil {
		return m.DeleteByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.saved[:0]
	for _, e := range m.saved {
		if e.ExaminationID != id {
			kept = append(kept, e)
		}
	}
	removed := len(m.saved) - len(kept)
	m.saved = kept
	if removed == 0 {
		return repositories.ErrExaminationNotFound
	}
	return nil
}

func (m *MockExaminationRepository) DeleteAll(ctx context.Context) error {
	if m.DeleteAllFunc != nil {
		return m.DeleteAllFunc(ctx)
	}
	m.mu.Lock()
	m.saved = nil
	m.mu.Unlock()
	return nil
}

// --- StubAnalyzer ---

// StubAnalyzer returns a fixed high-risk result unless ComputeFunc is set.
type StubAnalyzer struct {
	ComputeFunc      func(ctx context.Context, images []entities.CapturedImage) (AnalysisResult, error)
	ComputeCallCount int32
}

func (s *StubAnalyzer) Compute(ctx context.Context, images []entities.CapturedImage) (AnalysisResult, error) {
	atomic.AddInt32(&s.ComputeCallCount, 1)
	if s.ComputeFunc != nil {
		return s.ComputeFunc(ctx, images)
	}
	return fixedResult(80), nil
}

func fixedResult(risk float64) AnalysisResult {
	return AnalysisResult{
		TBRisk:            risk,
		UltrAiSign:        risk,
		UltrAi:            risk / 2,
		FeatureScores:     map[entities.LungFeature]float64{entities.FeatureDryLung: 12},
		RecommendedAction: RecommendedAction(CategorizeRisk(risk)),
	}
}

// --- MockQueueAdapter ---
var _ adapters.QueueAdapter = (*MockQueueAdapter)(nil)

type MockQueueAdapter struct {
	PublishFunc        func(ctx context.Context, queueName string, jobData []byte) error
	StartConsumingFunc func(ctx context.Context, queueName string, handler adapters.JobHandler) error
	StopConsumingFunc  func(ctx context.Context, queueName string) error

	PublishedMessages map[string][][]byte
	mu                sync.Mutex
	Handlers          map[string]adapters.JobHandler
}

func NewMockQueueAdapter() *MockQueueAdapter {
	return &MockQueueAdapter{
		PublishedMessages: make(map[string][][]byte),
		Handlers:          make(map[string]adapters.JobHandler),
	}
}

func (m *MockQueueAdapter) Publish(ctx context.Context, queueName string, jobData []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, queueName, jobData)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishedMessages[queueName] = append(m.PublishedMessages[queueName], jobData)
	return nil
}

func (m *MockQueueAdapter) StartConsuming(ctx context.Context, queueName string, handler adapters.JobHandler) error {
	if m.StartConsumingFunc != nil {
		return m.StartConsumingFunc(ctx, queueName, handler)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[queueName] = handler
	return nil
}

func (m *MockQueueAdapter) StopConsuming(ctx context.Context, queueName string) error {
	if m.StopConsumingFunc != nil {
		return m.StopConsumingFunc(ctx, queueName)
	}
	return nil
}

// Deliver hands every published message of queueName to its handler.
func (m *MockQueueAdapter) Deliver(ctx context.Context, queueName string) []error {
	m.mu.Lock()
	msgs := m.PublishedMessages[queueName]
	m.PublishedMessages[queueName] = nil
	handler := m.Handlers[queueName]
	m.mu.Unlock()

	var errs []error
	for _, msg := range msgs {
		errs = append(errs, handler(ctx, msg))
	}
	return errs
}

// --- MockDocumentSharer ---
type MockDocumentSharer struct {
	ShareFunc      func(ctx context.Context, name string, content []byte) (string, error)
	ShareCallCount int32

	mu     sync.Mutex
	Shared map[string][]byte
}

func (m *MockDocumentSharer) Share(ctx context.Context, name string, content []byte) (string, error) {
	atomic.AddInt32(&m.ShareCallCount, 1)
	if m.ShareFunc != nil {
		return m.ShareFunc(ctx, name, content)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Shared == nil {
		m.Shared = make(map[string][]byte)
	}
	m.Shared[name] = content
	return "mem://" + name, nil
}
