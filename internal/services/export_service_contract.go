package services

import (
	"context"

	"lung-screening-service/internal/domain/entities"

	"github.com/google/uuid"
)

// ExportCallback receives the location an exported document was shared to.
type ExportCallback func(examinationID uuid.UUID, location string)

// ExportServiceContract renders examinations as documents and shares them
// in the background.
type ExportServiceContract interface {
	Start(ctx context.Context) error // starts the queue consumer
	Stop(ctx context.Context) error

	// InitiateExport renders exam and queues it for sharing. onDone, if not
	// nil, runs after the document has been shared; it is never called on
	// failure.
	InitiateExport(ctx context.Context, exam entities.Examination, onDone ExportCallback) (exportID string, err error)
}

// DocumentRenderer turns an examination into a shareable document.
type DocumentRenderer interface {
	Render(exam entities.Examination) ([]byte, error)
}

// DocumentRendererFunc adapts a plain function to DocumentRenderer.
type DocumentRendererFunc func(exam entities.Examination) ([]byte, error)

// Render calls f(exam).
func (f DocumentRendererFunc) Render(exam entities.Examination) ([]byte, error) { return f(exam) }

// DocumentSharer publishes a rendered document and returns where it can be
// found.
type DocumentSharer interface {
	Share(ctx context.Context, name string, content []byte) (location string, err error)
}
