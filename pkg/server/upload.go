package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/normalize"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/types"
)

// multipartOverhead is the slack allowed on top of the file size for the
// multipart framing.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	FileID    string         `json:"file_id"`
	Filename  string         `json:"filename"`
	FileType  types.FileType `json:"file_type"`
	RowCount  int            `json:"row_count"`
	Columns   []string       `json:"columns"`
	SizeBytes int64          `json:"file_size_bytes"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, fmt.Sprintf("file exceeds the %d byte limit", s.maxUploadBytes), errCodeInvalidUpload, http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "missing multipart file field", errCodeInvalidUpload, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeJSONError(w, "No filename provided", errCodeInvalidUpload, http.StatusBadRequest)
		return
	}
	fileType := types.FileType(strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), ".")))
	if !fileType.Valid() {
		writeJSONError(
			w,
			fmt.Sprintf("Unsupported file format: %s. Only CSV and JSON are supported.", fileType),
			errCodeInvalidUpload,
			http.StatusBadRequest,
		)
		return
	}
	if header.Size > s.maxUploadBytes {
		writeJSONError(w, fmt.Sprintf("file exceeds the %d byte limit", s.maxUploadBytes), errCodeInvalidUpload, http.StatusRequestEntityTooLarge)
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read upload", slog.Any("error", err))
		writeJSONError(w, "failed to read uploaded file", errCodeInvalidUpload, http.StatusBadRequest)
		return
	}

	table, err := normalize.Read(bytes.NewReader(content), fileType)
	if err != nil {
		writeJSONError(w, fmt.Sprintf("Invalid %s format: %v", strings.ToUpper(string(fileType)), err), errCodeInvalidUpload, http.StatusBadRequest)
		return
	}

	meta := types.UploadMeta{
		FileType:  fileType,
		RowCount:  len(table.Rows),
		Columns:   table.Columns,
		SizeBytes: int64(len(content)),
	}
	id, err := s.uploads.Save(ctx, content, header.Filename, meta)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save upload", slog.String("filename", header.Filename), slog.Any("error", err))
		writeJSONError(w, "failed to store uploaded file", errCodeInternal, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Status:    "success",
		Message:   "File uploaded and stored successfully",
		FileID:    id,
		Filename:  header.Filename,
		FileType:  fileType,
		RowCount:  meta.RowCount,
		Columns:   meta.Columns,
		SizeBytes: meta.SizeBytes,
	})
}

type cleanupResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	FilesRemoved   int    `json:"files_removed"`
	OrphansRemoved int    `json:"orphans_removed"`
	FilesRemaining int    `json:"files_remaining"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.uploads.Sweep(ctx, s.uploads.MaxAge())
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "cleanup failed", slog.Any("error", err))
		writeJSONError(w, "Cleanup failed", errCodeInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{
		Status:         "success",
		Message:        "Cleanup completed",
		FilesRemoved:   res.Removed,
		OrphansRemoved: res.Orphans,
		FilesRemaining: res.Remaining,
	})
}

func (s *Server) handleListUploads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	files, err := s.uploads.List(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list uploads", slog.Any("error", err))
		writeJSONError(w, "failed to list uploads", errCodeInternal, http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []types.UploadedFile{}
	}
	writeJSON(w, http.StatusOK, struct {
		Uploads []types.UploadedFile `json:"uploads"`
	}{files})
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	file, err := s.uploads.Info(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrUploadNotFound) {
			writeJSONError(w, "upload not found", errCodeNotFound, http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to get upload", slog.String("fileID", id), slog.Any("error", err))
		writeJSONError(w, "failed to get upload", errCodeInternal, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, file)
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	ok, err := s.uploads.Delete(ctx, id)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete upload", slog.String("fileID", id), slog.Any("error", err))
		writeJSONError(w, "failed to delete upload", errCodeInternal, http.StatusInternalServerError)
		return
	}
	if !ok {
		writeJSONError(w, "upload not found", errCodeNotFound, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
