package mappers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lung-screening-service/internal/domain/entities"

	"github.com/google/uuid"
)

const (
	loincSystem = "http://loinc.org"
	ucumSystem  = "http://unitsofmeasure.org"
)

// FHIRHumanName represents a FHIR HumanName data type.
type FHIRHumanName struct {
	Use   string   `json:"use,omitempty"` // usual | official | temp | nickname | anonymous | old | maiden
	Text  string   `json:"text,omitempty"`
	Given []string `json:"given,omitempty"`
}

// FHIRAddress carries the free-text patient location.
type FHIRAddress struct {
	Text string `json:"text,omitempty"`
}

// FHIRPatientResource is a minimal R4 Patient.
type FHIRPatientResource struct {
	ResourceType string          `json:"resourceType"` // "Patient"
	ID           string          `json:"id,omitempty"`
	Name         []FHIRHumanName `json:"name,omitempty"`
	Address      []FHIRAddress   `json:"address,omitempty"`
}

type FHIRCoding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type FHIRCodeableConcept struct {
	Coding []FHIRCoding `json:"coding,omitempty"`
	Text   string       `json:"text,omitempty"`
}

type FHIRReference struct {
	Reference string `json:"reference"`
}

type FHIRQuantity struct {
	Value  float64 `json:"value"`
	Unit   string  `json:"unit,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// FHIRObservationResource is a minimal R4 Observation with exactly one of
// the value fields set.
type FHIRObservationResource struct {
	ResourceType      string              `json:"resourceType"` // "Observation"
	ID                string              `json:"id"`
	Status            string              `json:"status"`
	Code              FHIRCodeableConcept `json:"code"`
	Subject           FHIRReference       `json:"subject"`
	EffectiveDateTime string              `json:"effectiveDateTime,omitempty"`
	ValueBoolean      *bool               `json:"valueBoolean,omitempty"`
	ValueString       string              `json:"valueString,omitempty"`
	ValueQuantity     *FHIRQuantity       `json:"valueQuantity,omitempty"`
}

type FHIRAttachment struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// FHIRMediaResource is a minimal R4 Media for one ultrasound image.
type FHIRMediaResource struct {
	ResourceType    string               `json:"resourceType"` // "Media"
	ID              string               `json:"id"`
	Status          string               `json:"status"`
	Subject         FHIRReference        `json:"subject"`
	CreatedDateTime string               `json:"createdDateTime,omitempty"`
	BodySite        *FHIRCodeableConcept `json:"bodySite,omitempty"`
	Content         FHIRAttachment       `json:"content"`
}

type FHIRDiagnosticReportMedia struct {
	Comment string        `json:"comment,omitempty"`
	Link    FHIRReference `json:"link"`
}

// FHIRDiagnosticReportResource carries the screening conclusion.
type FHIRDiagnosticReportResource struct {
	ResourceType      string                      `json:"resourceType"` // "DiagnosticReport"
	ID                string                      `json:"id"`
	Status            string                      `json:"status"`
	Code              FHIRCodeableConcept         `json:"code"`
	Subject           FHIRReference               `json:"subject"`
	EffectiveDateTime string                      `json:"effectiveDateTime,omitempty"`
	Result            []FHIRReference             `json:"result,omitempty"`
	Media             []FHIRDiagnosticReportMedia `json:"media,omitempty"`
	Conclusion        string                      `json:"conclusion,omitempty"`
}

type FHIRBundleEntry struct {
	FullURL  string `json:"fullUrl"`
	Resource any    `json:"resource"`
}

// FHIRBundle is an R4 collection Bundle.
type FHIRBundle struct {
	ResourceType string            `json:"resourceType"` // "Bundle"
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Timestamp    string            `json:"timestamp"`
	Entry        []FHIRBundleEntry `json:"entry"`
}

// MapExaminationToFHIR renders a finished examination as an R4 Bundle: the
// Patient, one Observation per symptom and score, one Media per image and a
// DiagnosticReport tying them together.
func MapExaminationToFHIR(exam entities.Examination) ([]byte, error) {
	bundle, err := BuildExaminationBundle(exam)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error marshalling FHIR bundle to JSON: %w", err)
	}
	return raw, nil
}

// BuildExaminationBundle is MapExaminationToFHIR without the encoding.
func BuildExaminationBundle(exam entities.Examination) (*FHIRBundle, error) {
	if exam.ExaminationID == uuid.Nil {
		return nil, errors.New("examination id is required for FHIR mapping")
	}
	if strings.TrimSpace(exam.PatientName) == "" {
		return nil, errors.New("patient name is required for FHIR mapping")
	}

	effective := exam.Date.UTC().Format(time.RFC3339)
	patientRef := FHIRReference{Reference: "Patient/" + exam.PatientID.String()}

	patient := FHIRPatientResource{
		ResourceType: "Patient",
		ID:           exam.PatientID.String(),
		Name:         []FHIRHumanName{{Use: "official", Text: exam.PatientName, Given: []string{exam.PatientName}}},
	}
	if exam.PatientLocalisation != "" {
		patient.Address = []FHIRAddress{{Text: exam.PatientLocalisation}}
	}

	bundle := &FHIRBundle{
		ResourceType: "Bundle",
		ID:           exam.ExaminationID.String(),
		Type:         "collection",
		Timestamp:    effective,
	}
	bundle.add(patient.ID, patient)

	newObs := func(code FHIRCodeableConcept) FHIRObservationResource {
		return FHIRObservationResource{
			ResourceType:      "Observation",
			ID:                uuid.NewSHA1(exam.ExaminationID, []byte(code.Text)).String(),
			Status:            "final",
			Code:              code,
			Subject:           patientRef,
			EffectiveDateTime: effective,
		}
	}
	boolObs := func(text string, v bool) FHIRObservationResource {
		o := newObs(FHIRCodeableConcept{Text: text})
		o.ValueBoolean = &v
		return o
	}
	percentObs := func(code FHIRCodeableConcept, v float64) FHIRObservationResource {
		o := newObs(code)
		o.ValueQuantity = &FHIRQuantity{Value: v, Unit: "%", System: ucumSystem, Code: "%"}
		return o
	}

	age := newObs(FHIRCodeableConcept{
		Coding: []FHIRCoding{{System: loincSystem, Code: "30525-0", Display: "Age"}},
		Text:   "Age",
	})
	age.ValueQuantity = &FHIRQuantity{Value: float64(exam.PatientAge), Unit: "a", System: ucumSystem, Code: "a"}
	duration := newObs(FHIRCodeableConcept{Text: "Cough duration"})
	duration.ValueString = string(exam.SymptomCoughDuration)

	symptoms := []FHIRObservationResource{
		age,
		boolObs("Cough", exam.SymptomCough),
		duration,
		boolObs("Household TB contact", exam.SymptomHouseholdTBContact),
		boolObs("Weight loss", exam.SymptomWeightLoss),
		boolObs("Night sweats", exam.SymptomNightSweats),
		boolObs("Fever", exam.SymptomFever),
	}
	for _, o := range symptoms {
		bundle.add(o.ID, o)
	}

	scores := []FHIRObservationResource{
		percentObs(FHIRCodeableConcept{Text: "TB risk"}, exam.TBRisk),
		percentObs(FHIRCodeableConcept{Text: "UltrAi"}, exam.UltrAi),
		percentObs(FHIRCodeableConcept{Text: "UltrAi sign"}, exam.UltrAiSign),
	}
	for _, f := range entities.LungFeatures() {
		if v, ok := exam.LungFeatureResults[f]; ok {
			scores = append(scores, percentObs(FHIRCodeableConcept{Text: string(f)}, v))
		}
	}
	report := FHIRDiagnosticReportResource{
		ResourceType: "DiagnosticReport",
		ID:           uuid.NewSHA1(exam.ExaminationID, []byte("report")).String(),
		Status:       "final",
		Code: FHIRCodeableConcept{
			Text: "Lung ultrasound tuberculosis screening",
		},
		Subject:           patientRef,
		EffectiveDateTime: effective,
		Conclusion:        conclusion(exam),
	}
	for _, o := range scores {
		bundle.add(o.ID, o)
		report.Result = append(report.Result, FHIRReference{Reference: "Observation/" + o.ID})
	}

	for _, img := range exam.Images {
		m := FHIRMediaResource{
			ResourceType:    "Media",
			ID:              img.ImageID.String(),
			Status:          "completed",
			Subject:         patientRef,
			CreatedDateTime: img.Date.UTC().Format(time.RFC3339),
			Content:         FHIRAttachment{URL: img.URI},
		}
		if img.Site != "" {
			m.BodySite = &FHIRCodeableConcept{Text: string(img.Site)}
		}
		bundle.add(m.ID, m)
		report.Media = append(report.Media, FHIRDiagnosticReportMedia{
			Comment: string(img.Label),
			Link:    FHIRReference{Reference: "Media/" + m.ID},
		})
	}

	bundle.add(report.ID, report)
	return bundle, nil
}

func (b *FHIRBundle) add(id string, resource any) {
	b.Entry = append(b.Entry, FHIRBundleEntry{
		FullURL:  "urn:uuid:" + id,
		Resource: resource,
	})
}

func conclusion(exam entities.Examination) string {
	parts := []string{fmt.Sprintf("TB risk %.1f%%.", exam.TBRisk)}
	if exam.RecommendedAction != "" {
		parts = append(parts, "Recommended action: "+exam.RecommendedAction)
	}
	if exam.Note != "" {
		parts = append(parts, "Note: "+exam.Note)
	}
	return strings.Join(parts, " ")
}
