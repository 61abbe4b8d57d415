package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"lung-screening-service/internal/domain/entities"

	"go.uber.org/zap"
)

// Risk category thresholds, in percent.
const (
	HighRiskThreshold   = 75.0
	MediumRiskThreshold = 40.0
)

// RiskCategory buckets a TB risk percentage.
type RiskCategory string

const (
	RiskHigh   RiskCategory = "high"
	RiskMedium RiskCategory = "medium"
	RiskLow    RiskCategory = "low"
)

var recommendedActions = map[RiskCategory]string{
	RiskHigh:   "Start treatment.",
	RiskMedium: "Conduct further analysis.",
	RiskLow:    "Nothing to do at this stage.",
}

// CategorizeRisk maps a percentage onto its category. Both thresholds are
// inclusive lower bounds.
func CategorizeRisk(risk float64) RiskCategory {
	switch {
	case risk >= HighRiskThreshold:
		return RiskHigh
	case risk >= MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RecommendedAction returns the action text for a category.
func RecommendedAction(c RiskCategory) string {
	return recommendedActions[c]
}

// Summary renders the one-sentence result shown to the operator.
func Summary(risk float64, action string) string {
	return fmt.Sprintf(
		"Lung ultrasound analysis completed. AI-based interpretation suggests a %s TB risk (%.1f%%). Recommended action: %s",
		CategorizeRisk(risk), risk, action)
}

// AnalysisResult is the output of one risk analysis.
type AnalysisResult struct {
	TBRisk            float64
	UltrAiSign        float64
	UltrAi            float64
	FeatureScores     map[entities.LungFeature]float64
	RecommendedAction string
}

// Analyzer scores the images of an examination. Implementations must honour
// ctx cancellation.
type Analyzer interface {
	Compute(ctx context.Context, images []entities.CapturedImage) (AnalysisResult, error)
}

// MockAnalyzer produces uniformly random integer scores in [0,100] after a
// fixed delay. It stands in until a real model is available.
type MockAnalyzer struct {
	mu     sync.Mutex
	rng    *rand.Rand
	delay  time.Duration
	logger *zap.Logger
}

// NewMockAnalyzer builds a mock analyzer. A zero seed seeds from the clock.
func NewMockAnalyzer(seed int64, delay time.Duration, logger *zap.Logger) *MockAnalyzer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockAnalyzer{
		rng:    rand.New(rand.NewSource(seed)),
		delay:  delay,
		logger: logger,
	}
}

// Compute waits for the configured delay and returns random scores.
func (a *MockAnalyzer) Compute(ctx context.Context, images []entities.CapturedImage) (AnalysisResult, error) {
	a.logger.Debug("mock analysis started", zap.Int("images", len(images)), zap.Duration("delay", a.delay))

	if a.delay > 0 {
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return AnalysisResult{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return AnalysisResult{}, err
	}

	a.mu.Lock()
	ultrAi := a.score()
	ultrAiSign := a.score()
	features := make(map[entities.LungFeature]float64, len(entities.LungFeatures()))
	for _, f := range entities.LungFeatures() {
		features[f] = a.score()
	}
	a.mu.Unlock()

	risk := max(ultrAi, ultrAiSign)
	return AnalysisResult{
		TBRisk:            risk,
		UltrAiSign:        ultrAiSign,
		UltrAi:            ultrAi,
		FeatureScores:     features,
		RecommendedAction: RecommendedAction(CategorizeRisk(risk)),
	}, nil
}

func (a *MockAnalyzer) score() float64 {
	return float64(a.rng.Intn(101))
}
