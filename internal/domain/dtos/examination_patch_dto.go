package dtos

import (
	"lung-screening-service/internal/domain/entities"
)

// ExaminationPatch is a partial update of the active examination. Nil fields
// are left untouched; a non-nil field replaces the stored value wholesale
// (Images replaces the whole list, LungFeatureResults the whole map).
// Identity fields are not patchable.
type ExaminationPatch struct {
	PatientName         *string
	PatientAge          *int
	PatientLocalisation *string

	SymptomCough              *bool
	SymptomCoughDuration      *entities.CoughDuration
	SymptomHouseholdTBContact *bool
	SymptomWeightLoss         *bool
	SymptomNightSweats        *bool
	SymptomFever              *bool

	Images *[]entities.CapturedImage

	TBRisk             *float64
	UltrAiSign         *float64
	UltrAi             *float64
	LungFeatureResults *map[entities.LungFeature]float64
	RecommendedAction  *string
	Note               *string

	PdfURLSrc              *string
	ImageAcquisitionMethod *entities.AcquisitionMethod
}
