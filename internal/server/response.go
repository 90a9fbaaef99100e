package server

import (
	"encoding/json"
	"net/http"

	"github.com/acm19/squash/internal/logger"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// FileResponse reports one batch member.
type FileResponse struct {
	OriginalName  string `json:"originalName"`
	OptimizedName string `json:"optimizedName,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
	UploadURL     string `json:"uploadUrl"`
	SizeBefore    int64  `json:"sizeBefore"`
	SizeAfter     int64  `json:"sizeAfter,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ZipResponse points at the archive of a batch.
type ZipResponse struct {
	URL       string `json:"url"`
	MirrorURL string `json:"mirrorUrl,omitempty"`
}

// UploadResponse is the body of a successful POST /api/images.
type UploadResponse struct {
	Files []FileResponse `json:"files"`
	Zip   *ZipResponse   `json:"zip,omitempty"`
}

// AreaResponse describes the content of one storage area.
type AreaResponse struct {
	Files int    `json:"files"`
	Bytes int64  `json:"bytes"`
	Size  string `json:"size"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string       `json:"status"`
	Codec    string       `json:"codec"`
	Incoming AreaResponse `json:"incoming"`
	Outgoing AreaResponse `json:"outgoing"`
}

func ResponseError(w http.ResponseWriter, statusCode int, message string) {
	ResponseJSON(w, statusCode, ErrorResponse{Message: message})
}

func ResponseJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}
