package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/chatsync/internal/blob"
	"github.com/go-chi/chi/v5"
)

type FileHandler struct {
	blobs *blob.Store
}

func NewFileHandler(blobs *blob.Store) *FileHandler {
	return &FileHandler{blobs: blobs}
}

type FileUploadResponse struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// Upload takes a multipart form with a "file" field.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.blobs.MaxSize
	if limit <= 0 {
		limit = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	contentType := strings.TrimSpace(strings.Split(header.Header.Get("Content-Type"), ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = strings.Split(http.DetectContentType(data), ";")[0]
	}
	url, err := h.blobs.Upload(r.Context(), data, contentType)
	if err != nil {
		writeErr(w, "files.Upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, FileUploadResponse{
		URL:         url,
		FileName:    filepath.Base(header.Filename),
		FileSize:    int64(len(data)),
		ContentType: contentType,
	})
}

func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	h.blobs.Serve(w, r, filepath.Base(chi.URLParam(r, "name")))
}
