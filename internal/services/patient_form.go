package services

import (
	"strconv"
	"strings"

	"lung-screening-service/internal/domain/dtos"
	"lung-screening-service/internal/domain/entities"
)

const maxPatientAge = 150

// ParsePatientForm turns the raw form into a patch of demographic and
// symptom fields. Every field is required; all problems are reported at
// once in a *ValidationError.
func ParsePatientForm(req dtos.PatientFormRequest) (dtos.ExaminationPatch, error) {
	verr := &ValidationError{}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		verr.add("name", "is required")
	}
	location := strings.TrimSpace(req.Location)
	if location == "" {
		verr.add("location", "is required")
	}

	var age int
	switch raw := strings.TrimSpace(req.Age); {
	case raw == "":
		verr.add("age", "is required")
	default:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxPatientAge {
			verr.add("age", "must be a whole number between 0 and 150")
		}
		age = n
	}

	contact := parseYesNo(verr, "symptomHouseholdTBContact", req.SymptomHouseholdTBContact)
	cough := parseYesNo(verr, "symptomCough", req.SymptomCough)
	sweats := parseYesNo(verr, "symptomNightSweats", req.SymptomNightSweats)
	fever := parseYesNo(verr, "symptomFever", req.SymptomFever)
	weightLoss := parseYesNo(verr, "symptomWeightLoss", req.SymptomWeightLoss)

	var duration entities.CoughDuration
	if strings.TrimSpace(req.SymptomCoughDuration) == "" {
		verr.add("symptomCoughDuration", "is required")
	} else if d, ok := entities.ParseCoughDuration(req.SymptomCoughDuration); ok {
		duration = d
	} else {
		verr.add("symptomCoughDuration", "is not a known duration")
	}

	if !verr.empty() {
		return dtos.ExaminationPatch{}, verr
	}
	return dtos.ExaminationPatch{
		PatientName:               &name,
		PatientAge:                &age,
		PatientLocalisation:       &location,
		SymptomCough:              &cough,
		SymptomCoughDuration:      &duration,
		SymptomHouseholdTBContact: &contact,
		SymptomWeightLoss:         &weightLoss,
		SymptomNightSweats:        &sweats,
		SymptomFever:              &fever,
	}, nil
}

func parseYesNo(verr *ValidationError, field, value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes":
		return true
	case "no":
		return false
	case "":
		verr.add(field, "is required")
	default:
		verr.add(field, "must be Yes or No")
	}
	return false
}
