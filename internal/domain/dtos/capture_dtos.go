package dtos

// SelectMethodRequest chooses how images will be acquired.
type SelectMethodRequest struct {
	Method string `json:"method"` // "capture" or "upload"
}

// SelectSiteRequest chooses the site the next captured image belongs to.
type SelectSiteRequest struct {
	Site string `json:"site"`
}

// CaptureImageRequest records one device capture for the selected site.
type CaptureImageRequest struct {
	URI   string `json:"uri"`
	Label string `json:"label,omitempty"`
}

// UploadImagesRequest adds gallery images without site attribution.
type UploadImagesRequest struct {
	URIs []string `json:"uris"`
}

// AnalysisRequest asks for the risk analysis. Override confirms proceeding
// with an incomplete protocol.
type AnalysisRequest struct {
	Override bool `json:"override"`
}

// NoteRequest sets the free-text note of the examination.
type NoteRequest struct {
	Note string `json:"note"`
}
