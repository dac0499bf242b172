package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-scanner/internal/batch"
	"github.com/zombor/receipt-scanner/internal/receipt"
)

const (
	// Phone photos run large, so allow 50MB per image
	maxFileSize = int64(50 << 20)
	// Multipart parts beyond this spill to temporary files
	maxFormMemory = int64(32 << 20)
	maxBatchSize  = int64(500 << 20)
)

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// batchError maps controller precondition errors to HTTP responses
func batchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrRunActive):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, batch.ErrEmptyTitle),
		errors.Is(err, batch.ErrNoFiles),
		errors.Is(err, batch.ErrNothingToRun),
		errors.Is(err, batch.ErrNothingToRetry):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Batch operation failed", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// detectContentType prefers the part's declared type and falls back to the extension
func detectContentType(header *multipart.FileHeader) string {
	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(header.Filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func readFile(header *multipart.FileHeader) (batch.File, error) {
	if header.Size > maxFileSize {
		return batch.File{}, fmt.Errorf("%s is too large. Maximum size is 50MB", header.Filename)
	}

	f, err := header.Open()
	if err != nil {
		return batch.File{}, fmt.Errorf("opening %s: %w", header.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return batch.File{}, fmt.Errorf("reading %s: %w", header.Filename, err)
	}

	return batch.File{
		Name:        header.Filename,
		ContentType: detectContentType(header),
		Data:        data,
	}, nil
}

// handleSubmitBatch loads the uploaded images as a new batch
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchSize)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "Batch is too large. Please upload fewer images at a time.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]batch.File, 0, len(headers))
	for _, header := range headers {
		f, err := readFile(header)
		if err != nil {
			slog.Error("Error reading uploaded file", "filename", header.Filename, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		files = append(files, f)
	}

	controller := s.batches.Open(ownerFrom(r))
	if err := controller.SubmitBatch(files, r.FormValue("title")); err != nil {
		batchError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, controller.State())
}

// handleRunBatch starts processing the current batch in the background
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	controller := s.batches.Open(ownerFrom(r))
	if err := controller.Start(r.Context()); err != nil {
		batchError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, controller.State())
}

// handleRetryBatch queues the files that failed in the last run
func (s *Server) handleRetryBatch(w http.ResponseWriter, r *http.Request) {
	controller := s.batches.Open(ownerFrom(r))
	if _, err := controller.RetryFailed(); err != nil {
		batchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, controller.State())
}

func (s *Server) handleCurrentBatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.batches.Open(ownerFrom(r)).State())
}

func (s *Server) handleClearBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.batches.Open(ownerFrom(r)).Clear(); err != nil {
		batchError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBatchEvents streams ledger changes as server-sent events. The first
// event is the full current state.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	controller := s.batches.Open(ownerFrom(r))
	updates, cancel := controller.Watch()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "state", controller.State()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				// Controller closed (sign-out)
				return
			}
			if err := writeEvent(w, "update", u); err != nil {
				slog.Warn("Error writing event", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// handleLogout tears down the caller's batch controller. The session stays
// persisted and is restored on the next request.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.batches.Close(ownerFrom(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleListReceipts returns the caller's receipts, optionally filtered by
// status and batch title
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := receipt.ReceiptFilter{
		Status: receipt.Status(query.Get("status")),
		Batch:  strings.TrimSpace(query.Get("batch")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, "Invalid status", http.StatusBadRequest)
		return
	}

	records, err := s.receipts.ListReceipts(r.Context(), ownerFrom(r), filter)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	// Ensure we always return an array, not nil
	if records == nil {
		records = []*receipt.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleListReceiptBatches returns the batch titles the caller has saved receipts under
func (s *Server) handleListReceiptBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.receipts.ListBatches(r.Context(), ownerFrom(r))
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if batches == nil {
		batches = []*receipt.BatchSummary{}
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleUpdateReceipt saves corrected fields for a receipt and returns it
// with its new status
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var fields receipt.Candidate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFormMemory)).Decode(&fields); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	record, err := s.receipts.UpdateReceipt(r.Context(), ownerFrom(r), r.PathValue("id"), &fields)
	if err != nil {
		receiptError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	record, err := s.receipts.GetReceipt(r.Context(), ownerFrom(r), r.PathValue("id"))
	if err != nil {
		receiptError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// handleGetReceiptFile returns the image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.receipts.GetReceiptFile(r.Context(), ownerFrom(r), r.PathValue("id"))
	if err != nil {
		receiptError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt and its image
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.receipts.DeleteReceipt(r.Context(), ownerFrom(r), r.PathValue("id")); err != nil {
		receiptError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleFile serves an image from local storage
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.receipts.GetFile(r.Context(), ownerFrom(r), r.PathValue("path"))
	if err != nil {
		receiptError(w, err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

func receiptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, receipt.ErrNotFound):
		writeError(w, "Receipt not found", http.StatusNotFound)
	case errors.Is(err, receipt.ErrFileNotFound):
		writeError(w, "File not found", http.StatusNotFound)
	default:
		slog.Error("Receipt operation failed", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
