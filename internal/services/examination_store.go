package services

import (
	"sync"
	"time"

	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"

	"github.com/google/uuid"
)

// ExaminationSeed carries the values stamped on a new examination.
type ExaminationSeed struct {
	UserID int
	Date   time.Time
}

// ExaminationStore is the singleton slot holding the active examination.
// Values go in and out as deep copies, so callers cannot mutate the stored
// record except through Patch.
type ExaminationStore struct {
	mu     sync.RWMutex
	active *entities.Examination
}

// NewExaminationStore returns an empty store.
func NewExaminationStore() *ExaminationStore {
	return &ExaminationStore{}
}

// Create installs a new active examination with fresh identifiers and
// zeroed analysis fields. Any previous record is abandoned.
func (s *ExaminationStore) Create(seed ExaminationSeed) entities.Examination {
	date := seed.Date
	if date.IsZero() {
		date = time.Now()
	}
	exam := &entities.Examination{
		ExaminationID:        uuid.New(),
		PatientID:            uuid.New(),
		UserID:               seed.UserID,
		Date:                 date,
		SymptomCoughDuration: entities.CoughUnknown,
		Images:               []entities.CapturedImage{},
	}

	s.mu.Lock()
	s.active = exam
	s.mu.Unlock()
	return exam.Clone()
}

// Patch merges the non-nil fields of p into the active examination and
// reports whether one was present.
func (s *ExaminationStore) Patch(p dtos.ExaminationPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return false
	}
	applyPatch(s.active, p)
	return true
}

// Read returns a copy of the active examination, or false when there is
// none.
func (s *ExaminationStore) Read() (entities.Examination, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return entities.Examination{}, false
	}
	return s.active.Clone(), true
}

// Clear drops the active examination.
func (s *ExaminationStore) Clear() {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

func applyPatch(e *entities.Examination, p dtos.ExaminationPatch) {
	if p.PatientName != nil {
		e.PatientName = *p.PatientName
	}
	if p.PatientAge != nil {
		e.PatientAge = *p.PatientAge
	}
	if p.PatientLocalisation != nil {
		e.PatientLocalisation = *p.PatientLocalisation
	}
	if p.SymptomCough != nil {
		e.SymptomCough = *p.SymptomCough
	}
	if p.SymptomCoughDuration != nil {
		e.SymptomCoughDuration = *p.SymptomCoughDuration
	}
	if p.SymptomHouseholdTBContact != nil {
		e.SymptomHouseholdTBContact = *p.SymptomHouseholdTBContact
	}
	if p.SymptomWeightLoss != nil {
		e.SymptomWeightLoss = *p.SymptomWeightLoss
	}
	if p.SymptomNightSweats != nil {
		e.SymptomNightSweats = *p.SymptomNightSweats
	}
	if p.SymptomFever != nil {
		e.SymptomFever = *p.SymptomFever
	}
	if p.Images != nil {
		e.Images = append([]entities.CapturedImage(nil), (*p.Images)...)
		if e.Images == nil {
			e.Images = []entities.CapturedImage{}
		}
	}
	if p.TBRisk != nil {
		e.TBRisk = *p.TBRisk
	}
	if p.UltrAiSign != nil {
		e.UltrAiSign = *p.UltrAiSign
	}
	if p.UltrAi != nil {
		e.UltrAi = *p.UltrAi
	}
	if p.LungFeatureResults != nil {
		results := make(map[entities.LungFeature]float64, len(*p.LungFeatureResults))
		for k, v := range *p.LungFeatureResults {
			results[k] = v
		}
		e.LungFeatureResults = results
	}
	if p.RecommendedAction != nil {
		e.RecommendedAction = *p.RecommendedAction
	}
	if p.Note != nil {
		e.Note = *p.Note
	}
	if p.PdfURLSrc != nil {
		e.PdfURLSrc = *p.PdfURLSrc
	}
	if p.ImageAcquisitionMethod != nil {
		e.ImageAcquisitionMethod = *p.ImageAcquisitionMethod
	}
}
