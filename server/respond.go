package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/docparse/docparse"
	"github.com/hazyhaar/docparse/horosafe"
	"github.com/hazyhaar/docparse/shield"
)

// Error codes of the JSON error envelope.
const (
	CodeUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeProcessingFailed   = "PROCESSING_FAILED"
	CodeProcessingTimeout  = "PROCESSING_TIMEOUT"
	CodeProcessingCanceled = "PROCESSING_CANCELLED"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
	CodeInvalidMaxPages    = "INVALID_MAX_PAGES"
	CodeNoFile             = "NO_FILE"
	CodeURLProcessing      = "URL_PROCESSING_ERROR"
)

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, `{"success":false,"error":"An internal error occurred.","error_code":"INTERNAL_SERVER_ERROR"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, code int, errorCode, msg string) {
	writeJSON(w, code, errorBody{
		Success:   false,
		Error:     msg,
		ErrorCode: errorCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writeExtraction sends ext as a downloadable JSON file named after the
// source document.
func writeExtraction(w http.ResponseWriter, ext *docparse.Extraction, filename string, elapsed time.Duration) {
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName(filename)+`"`)
	w.Header().Set("X-Processing-Time", strconv.FormatFloat(elapsed.Seconds(), 'f', 3, 64))
	writeJSON(w, http.StatusOK, ext)
}

// downloadName returns "<safe stem>_converted.json".
func downloadName(filename string) string {
	return horosafe.SanitizeFilename(filename) + "_converted.json"
}

// extractionStatus maps a pipeline error onto an HTTP status and code.
func extractionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, CodeProcessingTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, CodeProcessingCanceled
	}
	switch docparse.KindOf(err) {
	case docparse.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType, CodeUnsupportedFormat
	case docparse.KindTooLarge:
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case docparse.KindExtractionFailed:
		return http.StatusUnprocessableEntity, CodeProcessingFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeExtractionError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := extractionStatus(err)
	shield.GetLogger(r.Context()).Info("extraction rejected", "status", status, "error_code", code, "error", err)
	writeError(w, status, code, docparse.PublicMessage(err))
}
