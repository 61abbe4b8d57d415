package services

import (
	"context"

	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/protocol"

	"github.com/google/uuid"
)

// State is the lifecycle state of the examination controller.
type State string

const (
	StateIdle      State = "idle"
	StateDataEntry State = "data_entry"
	StateCapturing State = "capturing"
	StateAnalyzing State = "analyzing"
	StateResult    State = "result"
	StateFailed    State = "failed"
)

// LifecycleServiceContract drives one examination at a time from patient
// data entry through capture and analysis to save or discard, and exposes
// the saved examinations.
type LifecycleServiceContract interface {
	State() State
	// Current returns the active examination view, or false when idle.
	Current() (dtos.ExaminationResponse, bool)
	Protocol() dtos.ProtocolView

	Start() (entities.Examination, error)
	SubmitPatientForm(form dtos.PatientFormRequest) (entities.Examination, error)
	SelectAcquisitionMethod(method entities.AcquisitionMethod) error
	SelectSite(site protocol.Site) error
	CaptureImage(uri string, label entities.LungFeature) (entities.CapturedImage, error)
	UploadImages(uris []string) ([]entities.CapturedImage, error)
	DeleteImage(imageID uuid.UUID) error
	RequestAnalysis(ctx context.Context, override bool) (entities.Examination, error)
	RetryCapture() error
	AddNote(note string) (entities.Examination, error)
	Export(ctx context.Context) (exportID string, examinationID uuid.UUID, err error)
	Save(ctx context.Context) (entities.Examination, error)
	Discard() error

	ListSaved(ctx context.Context) ([]*entities.Examination, error)
	FindSaved(ctx context.Context, examinationID uuid.UUID) (*entities.Examination, error)
	DeleteSaved(ctx context.Context, examinationID uuid.UUID) error
	DeleteAllSaved(ctx context.Context) error
}
