// Package upload implements the photo upload path: every photo is classified
// before its reference and moderation metadata are persisted.
package upload

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mchmarny/photoguard/pkg/data"
	"github.com/mchmarny/photoguard/pkg/metrics"
	"github.com/mchmarny/photoguard/pkg/moderation"
	"github.com/mchmarny/photoguard/pkg/sensitivity"
	"github.com/mchmarny/photoguard/pkg/store"
)

const (
	MaxSizeDefault int64 = 10 * 1024 * 1024

	sourceUpload = "upload"
	sourceRescan = "rescan"
)

// ErrInvalidRequest is returned for uploads rejected before any side effect.
var ErrInvalidRequest = errors.New("invalid upload request")

// Request is a single photo upload.
type Request struct {
	Owner          string
	Kind           string
	ConversationID string
	ContentType    string
	Data           []byte
}

// Result is the stored photo and whether it already existed.
type Result struct {
	Photo     *data.Photo `json:"photo" yaml:"photo"`
	Duplicate bool        `json:"duplicate" yaml:"duplicate"`
}

// Service stores photos with their moderation metadata.
type Service struct {
	db         *sql.DB
	store      store.Store
	classifier *sensitivity.Classifier
	maxSize    int64
}

// NewService creates an upload service. A maxSize of 0 uses MaxSizeDefault.
func NewService(db *sql.DB, st store.Store, c *sensitivity.Classifier, maxSize int64) (*Service, error) {
	if db == nil {
		return nil, errors.New("database required")
	}
	if st == nil {
		return nil, errors.New("object store required")
	}
	if c == nil {
		c = sensitivity.Default()
	}
	if maxSize <= 0 {
		maxSize = MaxSizeDefault
	}
	return &Service{db: db, store: st, classifier: c, maxSize: maxSize}, nil
}

// MaxSize returns the largest accepted photo in bytes.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

func (s *Service) validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: request required", ErrInvalidRequest)
	}

	req.Owner = strings.TrimSpace(req.Owner)
	if req.Owner == "" {
		return fmt.Errorf("%w: owner required", ErrInvalidRequest)
	}

	kind, err := data.ParseKind(req.Kind)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	req.Kind = kind

	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.Kind == data.KindMessage && req.ConversationID == "" {
		return fmt.Errorf("%w: conversation required for message photos", ErrInvalidRequest)
	}
	if req.Kind == data.KindProfile {
		req.ConversationID = ""
	}

	if len(req.Data) == 0 {
		return fmt.Errorf("%w: empty photo", ErrInvalidRequest)
	}
	if int64(len(req.Data)) > s.maxSize {
		return fmt.Errorf("%w: photo size %d exceeds limit %d", ErrInvalidRequest, len(req.Data), s.maxSize)
	}

	ct := strings.ToLower(strings.TrimSpace(req.ContentType))
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(req.Data)
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if _, ok := store.Extension(ct); !ok {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidRequest, ct)
	}
	req.ContentType = ct

	return nil
}

// Upload classifies the photo, stores its bytes and records it with the
// derived moderation metadata. Identical content uploaded again by the same
// owner to the same destination returns the existing record.
func (s *Service) Upload(ctx context.Context, req *Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		metrics.RecordUploadError("validate")
		return nil, err
	}

	sum := sha256.Sum256(req.Data)
	sha := hex.EncodeToString(sum[:])

	existing, err := data.FindPhotoByHash(s.db, req.Owner, req.Kind, req.ConversationID, sha)
	if err == nil {
		slog.Debug("duplicate photo", "id", existing.ID, "owner", req.Owner)
		return &Result{Photo: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		metrics.RecordUploadError("lookup")
		return nil, fmt.Errorf("looking up photo by hash: %w", err)
	}

	res := s.classifier.AnalyzeBytes(req.Data)
	metrics.RecordClassification(sourceUpload, res)
	meta := moderation.FromResult(res)

	id := uuid.NewString()
	p := &data.Photo{
		ID:             id,
		Owner:          req.Owner,
		Kind:           req.Kind,
		ConversationID: req.ConversationID,
		ObjectKey:      store.ObjectKey(req.Owner, req.Kind, id, req.ContentType),
		ContentType:    req.ContentType,
		Size:           int64(len(req.Data)),
		SHA256:         sha,
		Moderation:     meta,
	}

	if err := s.store.Put(ctx, p.ObjectKey, p.ContentType, req.Data); err != nil {
		metrics.RecordUploadError("store")
		return nil, fmt.Errorf("storing photo bytes: %w", err)
	}

	if err := data.SavePhoto(s.db, p); err != nil {
		metrics.RecordUploadError("save")
		if delErr := s.store.Delete(ctx, p.ObjectKey); delErr != nil {
			slog.Error("failed to remove orphaned object", "key", p.ObjectKey, "error", delErr)
		}
		return nil, fmt.Errorf("saving photo record: %w", err)
	}

	metrics.RecordUpload(p.Kind, string(meta.ModerationStatus))
	slog.Info("photo stored",
		"id", p.ID,
		"owner", p.Owner,
		"kind", p.Kind,
		"status", meta.ModerationStatus,
		"score", meta.Score,
	)

	return &Result{Photo: p}, nil
}

// Content returns the stored photo and its bytes.
func (s *Service) Content(ctx context.Context, id string) (*data.Photo, []byte, error) {
	p, err := data.GetPhoto(s.db, id)
	if err != nil {
		return nil, nil, err
	}

	b, err := s.store.Get(ctx, p.ObjectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("reading photo %s bytes: %w", id, err)
	}

	return p, b, nil
}

// Rescan classifies a stored photo again and updates its moderation metadata.
func (s *Service) Rescan(ctx context.Context, id string) (*data.Photo, error) {
	p, b, err := s.Content(ctx, id)
	if err != nil {
		return nil, err
	}

	res := s.classifier.AnalyzeBytes(b)
	metrics.RecordClassification(sourceRescan, res)
	meta := moderation.FromResult(res)

	if err := data.UpdateModeration(s.db, id, meta); err != nil {
		return nil, fmt.Errorf("updating photo %s moderation: %w", id, err)
	}

	if meta.ModerationStatus != p.Moderation.ModerationStatus {
		slog.Info("photo moderation changed",
			"id", id,
			"from", p.Moderation.ModerationStatus,
			"to", meta.ModerationStatus,
		)
	}

	return data.GetPhoto(s.db, id)
}

// RescanSummary counts the outcome of a bulk rescan.
type RescanSummary struct {
	Scanned int `json:"scanned" yaml:"scanned"`
	Flagged int `json:"flagged" yaml:"flagged"`
	Changed int `json:"changed" yaml:"changed"`
	Failed  int `json:"failed" yaml:"failed"`
}

// RescanAll rescans all photos matching the criteria. Individual failures
// are counted and logged, they don't stop the run.
func (s *Service) RescanAll(ctx context.Context, c *data.PhotoCriteria) (*RescanSummary, error) {
	list, err := data.ListPhotos(s.db, c)
	if err != nil {
		return nil, fmt.Errorf("listing photos: %w", err)
	}

	sum := &RescanSummary{}
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		updated, err := s.Rescan(ctx, p.ID)
		if err != nil {
			slog.Error("failed to rescan photo", "id", p.ID, "error", err)
			sum.Failed++
			continue
		}

		sum.Scanned++
		if updated.Moderation.ModerationStatus == moderation.StatusFlagged {
			sum.Flagged++
		}
		if updated.Moderation.ModerationStatus != p.Moderation.ModerationStatus {
			sum.Changed++
		}
	}

	return sum, nil
}

// Delete removes the photo bytes and its record.
func (s *Service) Delete(ctx context.Context, id string) error {
	p, err := data.GetPhoto(s.db, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, p.ObjectKey); err != nil && !errors.Is(err, store.ErrObjectNotFound) {
		return fmt.Errorf("deleting photo %s bytes: %w", id, err)
	}

	if err := data.DeletePhoto(s.db, id); err != nil {
		return fmt.Errorf("deleting photo %s record: %w", id, err)
	}

	slog.Info("photo deleted", "id", id, "owner", p.Owner)
	return nil
}
