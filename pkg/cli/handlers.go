package cli

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/metrics"
	"github.com/mchmarny/photoguard/pkg/moderation"
	"github.com/mchmarny/photoguard/pkg/upload"
)

const (
	photoFormField  = "photo"
	multipartMemory = 32 << 20
	classifyMaxBody = 32 << 20

	headerModerationStatus = "X-Moderation-Status"
	headerContentWarning   = "X-Content-Warning"
)

type classifyRequest struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, upload.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, data.ErrNotFound):
		writeError(w, http.StatusNotFound, "photo not found")
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryParamInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Error("error converting query string to int", "value", v, "error", err)
		return def
	}

	if i < 1 {
		return def
	}

	return i
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func classifyAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, classifyMaxBody)

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeServiceError(w, err)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Data == "" {
			writeError(w, http.StatusBadRequest, "data required")
			return
		}

		res := cfg.Classifier().AnalyzeBase64(req.Data, req.MimeType)
		metrics.RecordClassification(sourceBase64, res)
		writeJSON(w, http.StatusOK, newScanResult(sourceBase64, res))
	}
}

func uploadAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := cfg.Uploads()
		if err != nil {
			writeServiceError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, svc.MaxSize()+multipartMemory)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeServiceError(w, err)
				return
			}
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}

		f, hdr, err := r.FormFile(photoFormField)
		if err != nil {
			writeError(w, http.StatusBadRequest, "photo file required")
			return
		}
		defer f.Close()

		b, err := io.ReadAll(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading photo")
			return
		}

		res, err := svc.Upload(r.Context(), &upload.Request{
			Owner:          r.FormValue("owner"),
			Kind:           r.FormValue("kind"),
			ConversationID: r.FormValue("conversationId"),
			ContentType:    hdr.Header.Get("Content-Type"),
			Data:           b,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		writeJSON(w, status, res)
	}
}

func listAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		crit := &data.PhotoCriteria{
			Owner:          q.Get("owner"),
			ConversationID: q.Get("conversationId"),
			Limit:          queryParamInt(r, "limit", data.ListLimitDefault),
		}

		if k := q.Get("kind"); k != "" {
			kind, err := data.ParseKind(k)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			crit.Kind = kind
		}

		if s := q.Get("status"); s != "" {
			status, err := moderation.ParseStatus(s)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			crit.Status = string(status)
		}

		list, err := data.ListPhotos(cfg.DB, crit)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, list)
	}
}

func photoAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := data.GetPhoto(cfg.DB, r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// contentAPIHandler serves the photo bytes. Moderation metadata travels in
// headers so the display layer can decide to blur before rendering.
func contentAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := cfg.Uploads()
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p, b, err := svc.Content(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		w.Header().Set("Content-Type", p.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(b)))
		w.Header().Set(headerModerationStatus, string(p.Moderation.ModerationStatus))
		if warn := p.Moderation.Warning(); warn != "" {
			w.Header().Set(headerContentWarning, warn)
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(b); err != nil {
			slog.Error("failed to write photo content", "id", p.ID, "error", err)
		}
	}
}

func rescanAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := cfg.Uploads()
		if err != nil {
			writeServiceError(w, err)
			return
		}

		p, err := svc.Rescan(r.Context(), r.PathValue("id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func deleteAPIHandler(cfg *appConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := cfg.Uploads()
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if err := svc.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
