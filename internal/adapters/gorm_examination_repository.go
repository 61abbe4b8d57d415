package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/domain/repositories"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenGorm opens a database for the sqlite or postgres driver. For sqlite
// dsn is a file path whose parent directory is created if missing.
func OpenGorm(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("gorm: create sqlite dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.New(postgres.Config{DriverName: "postgres", DSN: dsn})
	default:
		return nil, fmt.Errorf("gorm: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open %s: %w", driver, err)
	}
	return db, nil
}

// examinationRecord is the row layout of a saved examination. Seq keeps
// insertion order; ExaminationID is indexed but not unique because the
// repository does not deduplicate.
type examinationRecord struct {
	Seq           uint      `gorm:"primaryKey;autoIncrement"`
	ExaminationID string    `gorm:"type:varchar(36);index;not null"`
	PatientID     string    `gorm:"type:varchar(36);not null"`
	UserID        int       `gorm:"not null"`
	Date          time.Time `gorm:"not null"`

	PatientName         string
	PatientAge          int
	PatientLocalisation string

	SymptomCough              bool
	SymptomCoughDuration      string
	SymptomHouseholdTBContact bool
	SymptomWeightLoss         bool
	SymptomNightSweats        bool
	SymptomFever              bool

	Images datatypes.JSON

	TBRisk             float64
	UltrAiSign         float64
	UltrAi             float64
	LungFeatureResults datatypes.JSON
	RecommendedAction  string
	Note               string `gorm:"type:text"`

	PdfURLSrc              string
	ImageAcquisitionMethod string

	CreatedAt time.Time
}

func (examinationRecord) TableName() string { return "examinations" }

func toRecord(e *entities.Examination) (*examinationRecord, error) {
	images, err := json.Marshal(e.Images)
	if err != nil {
		return nil, fmt.Errorf("encode images: %w", err)
	}
	var features datatypes.JSON
	if e.LungFeatureResults != nil {
		if features, err = json.Marshal(e.LungFeatureResults); err != nil {
			return nil, fmt.Errorf("encode feature scores: %w", err)
		}
	}
	return &examinationRecord{
		ExaminationID:             e.ExaminationID.String(),
		PatientID:                 e.PatientID.String(),
		UserID:                    e.UserID,
		Date:                      e.Date,
		PatientName:               e.PatientName,
		PatientAge:                e.PatientAge,
		PatientLocalisation:       e.PatientLocalisation,
		SymptomCough:              e.SymptomCough,
		SymptomCoughDuration:      string(e.SymptomCoughDuration),
		SymptomHouseholdTBContact: e.SymptomHouseholdTBContact,
		SymptomWeightLoss:         e.SymptomWeightLoss,
		SymptomNightSweats:        e.SymptomNightSweats,
		SymptomFever:              e.SymptomFever,
		Images:                    images,
		TBRisk:                    e.TBRisk,
		UltrAiSign:                e.UltrAiSign,
		UltrAi:                    e.UltrAi,
		LungFeatureResults:        features,
		RecommendedAction:         e.RecommendedAction,
		Note:                      e.Note,
		PdfURLSrc:                 e.PdfURLSrc,
		ImageAcquisitionMethod:    string(e.ImageAcquisitionMethod),
	}, nil
}

func (r *examinationRecord) toEntity() (*entities.Examination, error) {
	examID, err := uuid.Parse(r.ExaminationID)
	if err != nil {
		return nil, fmt.Errorf("examination id: %w", err)
	}
	patientID, err := uuid.Parse(r.PatientID)
	if err != nil {
		return nil, fmt.Errorf("patient id: %w", err)
	}
	e := &entities.Examination{
		ExaminationID:             examID,
		PatientID:                 patientID,
		UserID:                    r.UserID,
		Date:                      r.Date,
		PatientName:               r.PatientName,
		PatientAge:                r.PatientAge,
		PatientLocalisation:       r.PatientLocalisation,
		SymptomCough:              r.SymptomCough,
		SymptomCoughDuration:      entities.CoughDuration(r.SymptomCoughDuration),
		SymptomHouseholdTBContact: r.SymptomHouseholdTBContact,
		SymptomWeightLoss:         r.SymptomWeightLoss,
		SymptomNightSweats:        r.SymptomNightSweats,
		SymptomFever:              r.SymptomFever,
		Images:                    []entities.CapturedImage{},
		TBRisk:                    r.TBRisk,
		UltrAiSign:                r.UltrAiSign,
		UltrAi:                    r.UltrAi,
		RecommendedAction:         r.RecommendedAction,
		Note:                      r.Note,
		PdfURLSrc:                 r.PdfURLSrc,
		ImageAcquisitionMethod:    entities.AcquisitionMethod(r.ImageAcquisitionMethod),
	}
	if len(r.Images) > 0 {
		if err := json.Unmarshal(r.Images, &e.Images); err != nil {
			return nil, fmt.Errorf("decode images: %w", err)
		}
		if e.Images == nil {
			e.Images = []entities.CapturedImage{}
		}
	}
	if len(r.LungFeatureResults) > 0 && string(r.LungFeatureResults) != "null" {
		if err := json.Unmarshal(r.LungFeatureResults, &e.LungFeatureResults); err != nil {
			return nil, fmt.Errorf("decode feature scores: %w", err)
		}
	}
	return e, nil
}

// GormExaminationRepository stores saved examinations through GORM.
type GormExaminationRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ repositories.ExaminationRepositoryContract = (*GormExaminationRepository)(nil)

// NewGormExaminationRepository migrates the examinations table and returns
// the repository.
func NewGormExaminationRepository(db *gorm.DB, logger *zap.Logger) (*GormExaminationRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&examinationRecord{}); err != nil {
		return nil, fmt.Errorf("gorm: migrate examinations: %w", err)
	}
	return &GormExaminationRepository{db: db, logger: logger.Named("gorm-repository")}, nil
}

// Append inserts exam as a new row.
func (r *GormExaminationRepository) Append(ctx context.Context, exam *entities.Examination) error {
	rec, err := toRecord(exam)
	if err != nil {
		return fmt.Errorf("gorm: append %s: %w", exam.ExaminationID, err)
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("gorm: append %s: %w", exam.ExaminationID, err)
	}
	r.logger.Debug("examination appended", zap.String("examinationId", rec.ExaminationID), zap.Uint("seq", rec.Seq))
	return nil
}

// ListAll returns every row in insertion order.
func (r *GormExaminationRepository) ListAll(ctx context.Context) ([]*entities.Examination, error) {
	var recs []examinationRecord
	if err := r.db.WithContext(ctx).Order("seq asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("gorm: list examinations: %w", err)
	}
	out := make([]*entities.Examination, 0, len(recs))
	for i := range recs {
		e, err := recs[i].toEntity()
		if err != nil {
			return nil, fmt.Errorf("gorm: row %d: %w", recs[i].Seq, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteByID removes every row carrying examinationID.
func (r *GormExaminationRepository) DeleteByID(ctx context.Context, examinationID uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("examination_id = ?", examinationID.String()).
		Delete(&examinationRecord{})
	if res.Error != nil {
		return fmt.Errorf("gorm: delete %s: %w", examinationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", examinationID, repositories.ErrExaminationNotFound)
	}
	return nil
}

// DeleteAll removes every row.
func (r *GormExaminationRepository) DeleteAll(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&examinationRecord{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete all: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *GormExaminationRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
