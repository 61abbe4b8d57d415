package entities

import (
	"time"

	"github.com/google/uuid"

	"lung-screening-service/internal/protocol"
)

// AcquisitionMethod records how the images of an examination were obtained.
type AcquisitionMethod string

const (
	AcquisitionCapture AcquisitionMethod = "capture" // live (mock) device capture, site by site
	AcquisitionUpload  AcquisitionMethod = "upload"  // gallery selection, no site attribution
)

// Valid reports whether m is a known acquisition method.
func (m AcquisitionMethod) Valid() bool {
	return m == AcquisitionCapture || m == AcquisitionUpload
}

// Examination is a single screening of one patient: demographics, symptoms,
// the ultrasound images acquired for the protocol, and the risk analysis.
type Examination struct {
	ExaminationID uuid.UUID `json:"examinationId"`
	PatientID     uuid.UUID `json:"patientId"`
	UserID        int       `json:"userId"`
	Date          time.Time `json:"date"`

	PatientName         string `json:"patientName"`
	PatientAge          int    `json:"patientAge"`
	PatientLocalisation string `json:"patientLocalisation"`

	SymptomCough              bool          `json:"symptomCough"`
	SymptomCoughDuration      CoughDuration `json:"symptomCoughDuration"`
	SymptomHouseholdTBContact bool          `json:"symptomHouseholdTBContact"`
	SymptomWeightLoss         bool          `json:"symptomWeightLoss"`
	SymptomNightSweats        bool          `json:"symptomNightSweats"`
	SymptomFever              bool          `json:"symptomFever"`

	Images []CapturedImage `json:"images"`

	TBRisk             float64                 `json:"tbRisk"`     // percent
	UltrAiSign         float64                 `json:"ultrAiSign"` // percent
	UltrAi             float64                 `json:"ultrAi"`     // percent
	LungFeatureResults map[LungFeature]float64 `json:"lungFeatureResults,omitempty"`
	RecommendedAction  string                  `json:"recommendedAction"`
	Note               string                  `json:"note"`

	PdfURLSrc              string            `json:"pdfUrlSrc"`
	ImageAcquisitionMethod AcquisitionMethod `json:"imageAcquisitionMethod,omitempty"`
}

// Clone returns a deep copy so callers never share the image slice or the
// feature map with the owner of the original.
func (e Examination) Clone() Examination {
	out := e
	if e.Images != nil {
		out.Images = make([]CapturedImage, len(e.Images))
		copy(out.Images, e.Images)
	}
	if e.LungFeatureResults != nil {
		out.LungFeatureResults = make(map[LungFeature]float64, len(e.LungFeatureResults))
		for k, v := range e.LungFeatureResults {
			out.LungFeatureResults[k] = v
		}
	}
	return out
}

// ImagesForSite returns the images attributed to one site, in insertion order.
func (e Examination) ImagesForSite(site protocol.Site) []CapturedImage {
	var out []CapturedImage
	for _, img := range e.Images {
		if img.Site == site {
			out = append(out, img)
		}
	}
	return out
}
