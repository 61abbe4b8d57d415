package entities

import "strings"

// CoughDuration is how long the patient has been coughing.
type CoughDuration string

const (
	CoughShort   CoughDuration = "1 week or less"
	CoughMedium  CoughDuration = "1 to 2 weeks"
	CoughLong    CoughDuration = "2 weeks or more"
	CoughUnknown CoughDuration = "UNKNOWN"
)

// coughAliases maps the patient form's option labels onto durations.
var coughAliases = map[string]CoughDuration{
	"less than 1 week":  CoughShort,
	"1-3 weeks":         CoughMedium,
	"more than 3 weeks": CoughLong,
	"unknown":           CoughUnknown,
}

// ParseCoughDuration accepts either a canonical value or a form label.
func ParseCoughDuration(value string) (CoughDuration, bool) {
	v := strings.TrimSpace(value)
	for _, d := range []CoughDuration{CoughShort, CoughMedium, CoughLong, CoughUnknown} {
		if strings.EqualFold(v, string(d)) {
			return d, true
		}
	}
	d, ok := coughAliases[strings.ToLower(v)]
	return d, ok
}

// LungFeature is a labelled ultrasound finding scored by the analysis.
type LungFeature string

const (
	FeatureDryLung                 LungFeature = "Dry Lung (A-lines)"
	FeatureInterstitialBLines      LungFeature = "Interstitial Syndrome with B-lines"
	FeatureConfluentBLines         LungFeature = "Confluent B-lines"
	FeatureSubpleuralConsolidation LungFeature = "Subpleural consolidations of <1 cm or irregular/broken pleural line"
	FeatureConsolidation           LungFeature = "Consolidations ≥1cm"
	FeaturePleuralEffusion         LungFeature = "Pleural effusion"
)

// LungFeatures lists every scored finding in report order.
func LungFeatures() []LungFeature {
	return []LungFeature{
		FeatureDryLung,
		FeatureInterstitialBLines,
		FeatureConfluentBLines,
		FeatureSubpleuralConsolidation,
		FeatureConsolidation,
		FeaturePleuralEffusion,
	}
}

// ParseLungFeature matches a feature label case-insensitively. The empty
// string is accepted and means "no label".
func ParseLungFeature(value string) (LungFeature, bool) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", true
	}
	for _, f := range LungFeatures() {
		if strings.EqualFold(v, string(f)) {
			return f, true
		}
	}
	return "", false
}
