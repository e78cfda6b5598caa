package server

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/docparse/docparse"
	"github.com/hazyhaar/docparse/horosafe"
	"github.com/hazyhaar/docparse/shield"
)

// multipartMemory is the part of a multipart body kept in memory; the
// rest spills to temporary files.
const multipartMemory = 8 << 20

// defaultURLFilename is used when neither the URL nor the response names
// the document.
const defaultURLFilename = "document.pdf"

// Public messages of the request validation errors.
const (
	msgInvalidMaxPages = "max_pages must be a positive integer."
	msgNoFile          = "No file provided."
	msgNoURL           = "file_url is required."
	msgFetchURL        = "Failed to process document from URL."
)

var errInvalidMaxPages = errors.New("invalid max_pages")

type healthResponse struct {
	Status        string   `json:"status"`
	Timestamp     string   `json:"timestamp"`
	Version       string   `json:"version"`
	MaxFileSizeMB int      `json:"max_file_size_mb"`
	Formats       []string `json:"formats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Timestamp:     s.now().UTC().Format(time.RFC3339),
		Version:       Version,
		MaxFileSizeMB: s.cfg.MaxFileMB,
		Formats:       docparse.SupportedFormats(),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formats":    docparse.SupportedFormats(),
		"mime_types": docparse.SupportedMIMETypes(),
	})
}

// handleUpload extracts the multipart field "file".
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := shield.GetLogger(r.Context())

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isBodyTooLarge(err) {
			writeTooLarge(w)
			return
		}
		log.Info("upload: bad multipart body", "error", err)
		writeError(w, http.StatusBadRequest, CodeNoFile, msgNoFile)
		return
	}
	defer r.MultipartForm.RemoveAll()

	maxPages, err := parseMaxPages(r.FormValue("max_pages"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidMaxPages, msgInvalidMaxPages)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil || header.Filename == "" {
		writeError(w, http.StatusBadRequest, CodeNoFile, msgNoFile)
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxFileBytes() {
		writeTooLarge(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProcessTimeout)
	defer cancel()

	ext, err := s.pipe.ExtractReader(ctx, file, header.Filename, header.Header.Get("Content-Type"), docparse.Options{MaxPages: maxPages})
	if err != nil {
		s.writeExtractionError(w, r, err)
		return
	}
	writeExtraction(w, ext, header.Filename, time.Since(start))
}

// handleProcessURL fetches the form field "file_url" and extracts it.
func (s *Server) handleProcessURL(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := shield.GetLogger(r.Context())

	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if isBodyTooLarge(err) {
			writeTooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, CodeURLProcessing, msgFetchURL)
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	maxPages, err := parseMaxPages(r.PostFormValue("max_pages"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidMaxPages, msgInvalidMaxPages)
		return
	}
	rawURL := strings.TrimSpace(r.PostFormValue("file_url"))
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, CodeURLProcessing, msgNoURL)
		return
	}
	if err := s.urlPolicy.Check(r.Context(), rawURL); err != nil {
		log.Warn("process-url: rejected URL", "error", err)
		writeError(w, http.StatusBadRequest, CodeURLProcessing, msgFetchURL)
		return
	}

	fetchCtx, cancelFetch := context.WithTimeout(r.Context(), s.cfg.URLFetch.Timeout)
	defer cancelFetch()
	resp, data, err := horosafe.Fetch(fetchCtx, s.fetch, rawURL, s.cfg.MaxFileBytes())
	if err != nil {
		if errors.Is(err, horosafe.ErrTooLarge) {
			writeTooLarge(w)
			return
		}
		log.Warn("process-url: fetch failed", "error", err)
		writeError(w, http.StatusBadRequest, CodeURLProcessing, msgFetchURL)
		return
	}
	filename := urlFilename(rawURL, resp.Header.Get("Content-Disposition"))
	log.Info("process-url: fetched", "filename", filename, "bytes", len(data))

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ProcessTimeout)
	defer cancel()

	ext, err := s.pipe.Extract(ctx, docparse.Source{
		Name:        filename,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        data,
	}, docparse.Options{MaxPages: maxPages})
	if err != nil {
		s.writeExtractionError(w, r, err)
		return
	}
	writeExtraction(w, ext, filename, time.Since(start))
}

// parseMaxPages accepts "" (no limit) or a positive integer.
func parseMaxPages(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errInvalidMaxPages
	}
	return n, nil
}

// urlFilename names a fetched document: the last URL path segment when it
// has an extension, else the Content-Disposition filename, else
// defaultURLFilename.
func urlFilename(rawURL, contentDisposition string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "/" && name != "." && path.Ext(name) != "" {
			return name
		}
	}
	if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
		if name := path.Base(strings.ReplaceAll(params["filename"], "\\", "/")); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return defaultURLFilename
}

// isBodyTooLarge reports whether err comes from shield.MaxBody. Some
// mime/multipart paths drop the error chain, hence the text match.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

func writeTooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, docparse.PublicMessage(&docparse.Error{Kind: docparse.KindTooLarge}))
}
