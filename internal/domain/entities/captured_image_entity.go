package entities

import (
	"time"

	"github.com/google/uuid"

	"lung-screening-service/internal/protocol"
)

// CapturedImage is one ultrasound frame acquired during an examination.
// Site is empty for uploaded images, which carry no site attribution.
type CapturedImage struct {
	ImageID uuid.UUID     `json:"imageId"`
	Date    time.Time     `json:"date"`
	URI     string        `json:"uri"`
	Site    protocol.Site `json:"keySite,omitempty"`
	Label   LungFeature   `json:"label,omitempty"`
}

// NewCapturedImage builds an image with a fresh identifier. A zero date is
// replaced with now.
func NewCapturedImage(uri string, site protocol.Site, label LungFeature, date time.Time) CapturedImage {
	if date.IsZero() {
		date = time.Now()
	}
	return CapturedImage{
		ImageID: uuid.New(),
		Date:    date,
		URI:     uri,
		Site:    site,
		Label:   label,
	}
}
