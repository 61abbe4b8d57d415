package dtos

// PatientFormRequest is the raw patient form as entered by the operator.
// Yes/no answers arrive as "Yes" or "No"; age arrives as text.
type PatientFormRequest struct {
	Name     string `json:"name"`
	Age      string `json:"age"`
	Location string `json:"location"`

	SymptomHouseholdTBContact string `json:"symptomHouseholdTBContact"`
	SymptomCough              string `json:"symptomCough"`
	SymptomCoughDuration      string `json:"symptomCoughDuration"`
	SymptomNightSweats        string `json:"symptomNightSweats"`
	SymptomFever              string `json:"symptomFever"`
	SymptomWeightLoss         string `json:"symptomWeightLoss"`
}
