package dtos

import (
	"lung-screening-service/internal/domain/entities"
	"lung-screening-service/internal/protocol"
)

// ExaminationResponse is the active examination with its lifecycle state.
type ExaminationResponse struct {
	State        string                `json:"state"`
	Examination  *entities.Examination `json:"examination,omitempty"`
	RiskCategory string                `json:"riskCategory,omitempty"`
	Summary      string                `json:"summary,omitempty"`
}

// MarkerView is a protocol marker plus the number of images behind it.
type MarkerView struct {
	protocol.Marker
	ImageCount int `json:"imageCount"`
}

// GroupView is one torso outline with its markers.
type GroupView struct {
	Group   protocol.Group `json:"group"`
	Markers []MarkerView   `json:"markers"`
}

// ProtocolView is the live capture protocol of the active examination.
type ProtocolView struct {
	Groups        []GroupView                `json:"groups"`
	SelectedSite  protocol.Site              `json:"selectedSite,omitempty"`
	Method        entities.AcquisitionMethod `json:"method,omitempty"`
	CapturedCount int                        `json:"capturedCount"`
	RequiredCount int                        `json:"requiredCount"`
	ImageCount    int                        `json:"imageCount"`
	AllCaptured   bool                       `json:"allCaptured"`
}

// ExportStatusResponse acknowledges a queued export.
type ExportStatusResponse struct {
	ExportID      string `json:"exportId"`
	ExaminationID string `json:"examinationId"`
	Status        string `json:"status"` // PENDING once queued
	Message       string `json:"message,omitempty"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}
