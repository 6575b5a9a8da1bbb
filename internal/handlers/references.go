package handlers

import (
	"io"
	"net/http"

	"stratis-backend/internal/logger"
	"stratis-backend/internal/services"
)

type documentSaver interface {
	Save(filename string, r io.Reader) (string, error)
}

type ReferenceHandler struct {
	docs documentSaver
	log  *logger.Logger
}

func NewReferenceHandler(docs documentSaver, log *logger.Logger) *ReferenceHandler {
	return &ReferenceHandler{docs: docs, log: log}
}

// Upload stores a reference document. The returned document_id goes into a
// later generation request.
func (h *ReferenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, services.MaxReferenceUploadBytes+1<<20)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "File is too large or the upload is malformed", r))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "A file is required"}, r))
		return
	}
	defer file.Close()

	if header.Size > services.MaxReferenceUploadBytes {
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", "Validation failed",
			map[string]string{"file": "File must be 20MB or smaller"}, r))
		return
	}

	id, err := h.docs.Save(header.Filename, file)
	if err != nil {
		if _, ok := err.(*services.ValidationError); !ok {
			h.log.Error("Failed to store reference document", "error", err)
		}
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"document_id": id,
		"filename":    header.Filename,
	})
}
