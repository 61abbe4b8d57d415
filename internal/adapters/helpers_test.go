package adapters

import (
	"time"

	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/protocol"

	"github.com/google/uuid"
)

func sampleExamination(name string) *entities.Examination {
	date := time.Date(2024, time.March, 4, 10, 30, 0, 0, time.UTC)
	return &entities.Examination{
		ExaminationID:        uuid.New(),
		PatientID:            uuid.New(),
		UserID:               1,
		Date:                 date,
		PatientName:          name,
		PatientAge:           42,
		PatientLocalisation:  "Lausanne",
		SymptomCough:         true,
		SymptomCoughDuration: entities.CoughLong,
		SymptomFever:         true,
		Images: []entities.CapturedImage{
			entities.NewCapturedImage("file:///img/1.png", protocol.SiteQAID, entities.FeatureDryLung, date),
			entities.NewCapturedImage("file:///img/2.png", "", "", date),
		},
		TBRisk:     81,
		UltrAiSign: 81,
		UltrAi:     12,
		LungFeatureResults: map[entities.LungFeature]float64{
			entities.FeatureDryLung:         10,
			entities.FeaturePleuralEffusion: 55,
		},
		RecommendedAction:      "Start treatment.",
		Note:                   "follow up in two weeks",
		ImageAcquisitionMethod: entities.AcquisitionCapture,
	}
}
