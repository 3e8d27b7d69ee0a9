package data

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mchmarny/photoguard/pkg/moderation"
)

const (
	KindProfile = "profile"
	KindMessage = "message"

	ListLimitDefault = 100
	timeFormat       = "2006-01-02T15:04:05Z"

	photoColumns = `id, owner, kind, conversation_id, object_key, content_type, size, sha256,
		moderation_status, content_warning, score, created_at, updated_at`

	insertPhotoSQL = `INSERT INTO photo (` + photoColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectPhotoSQL = `SELECT ` + photoColumns + ` FROM photo WHERE id = ?`

	selectPhotoByHashSQL = `SELECT ` + photoColumns + ` FROM photo
		WHERE owner = ? AND kind = ? AND conversation_id = ? AND sha256 = ?
	`

	selectPhotosSQL = `SELECT ` + photoColumns + ` FROM photo
		WHERE owner = COALESCE(?, owner)
		  AND kind = COALESCE(?, kind)
		  AND conversation_id = COALESCE(?, conversation_id)
		  AND moderation_status = COALESCE(?, moderation_status)
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	updateModerationSQL = `UPDATE photo
		SET moderation_status = ?, content_warning = ?, score = ?, updated_at = ?
		WHERE id = ?
	`

	deletePhotoSQL = `DELETE FROM photo WHERE id = ?`
)

// Kinds lists the supported photo kinds.
var Kinds = []string{KindProfile, KindMessage}

// Photo is a stored image reference with its moderation metadata.
type Photo struct {
	ID             string              `json:"id" yaml:"id"`
	Owner          string              `json:"owner" yaml:"owner"`
	Kind           string              `json:"kind" yaml:"kind"`
	ConversationID string              `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	ObjectKey      string              `json:"objectKey" yaml:"objectKey"`
	ContentType    string              `json:"contentType" yaml:"contentType"`
	Size           int64               `json:"size" yaml:"size"`
	SHA256         string              `json:"sha256" yaml:"sha256"`
	Moderation     moderation.Metadata `json:"moderation" yaml:"moderation"`
	CreatedAt      time.Time           `json:"createdAt" yaml:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt" yaml:"updatedAt"`
}

// PhotoCriteria filters photo listings. Empty fields match everything.
type PhotoCriteria struct {
	Owner          string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Kind           string `json:"kind,omitempty" yaml:"kind,omitempty"`
	ConversationID string `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	Status         string `json:"status,omitempty" yaml:"status,omitempty"`
	Limit          int    `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// ParseKind validates the photo kind.
func ParseKind(s string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if !Contains(Kinds, k) {
		return "", fmt.Errorf("unsupported photo kind: %q", s)
	}
	return k, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*Photo, error) {
	var (
		p                Photo
		status           string
		warning          sql.NullString
		created, updated string
	)

	if err := row.Scan(&p.ID, &p.Owner, &p.Kind, &p.ConversationID, &p.ObjectKey,
		&p.ContentType, &p.Size, &p.SHA256, &status, &warning, &p.Moderation.Score,
		&created, &updated); err != nil {
		return nil, err
	}

	p.Moderation.ModerationStatus = moderation.Status(status)
	if warning.Valid {
		w := warning.String
		p.Moderation.ContentWarning = &w
	}

	var err error
	if p.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	if p.UpdatedAt, err = time.Parse(timeFormat, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updated, err)
	}

	return &p, nil
}

// SavePhoto inserts a new photo record.
func SavePhoto(db *sql.DB, p *Photo) error {
	if db == nil {
		return errDBNotInitialized
	}
	if p == nil {
		return errors.New("photo required")
	}
	if p.ID == "" || p.Owner == "" || p.ObjectKey == "" {
		return fmt.Errorf("id: %s, owner: %s, object key: %s are all required", p.ID, p.Owner, p.ObjectKey)
	}
	if _, err := ParseKind(p.Kind); err != nil {
		return err
	}
	if p.Moderation.ModerationStatus == "" {
		p.Moderation.ModerationStatus = moderation.StatusPending
	}

	now := time.Now().UTC().Truncate(time.Second)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	stmt, err := db.Prepare(insertPhotoSQL)
	if err != nil {
		return fmt.Errorf("preparing photo insert statement: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.Exec(p.ID, p.Owner, p.Kind, p.ConversationID, p.ObjectKey,
		p.ContentType, p.Size, p.SHA256, string(p.Moderation.ModerationStatus),
		p.Moderation.ContentWarning, p.Moderation.Score,
		p.CreatedAt.UTC().Format(timeFormat), p.UpdatedAt.UTC().Format(timeFormat)); err != nil {
		return fmt.Errorf("inserting photo %s: %w", p.ID, err)
	}

	return nil
}

// GetPhoto returns the photo with the given ID or ErrNotFound.
func GetPhoto(db *sql.DB, id string) (*Photo, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	p, err := scanPhoto(db.QueryRow(selectPhotoSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("photo %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("selecting photo %s: %w", id, err)
	}

	return p, nil
}

// FindPhotoByHash returns a previously stored photo with identical content
// for the same owner and destination, or ErrNotFound.
func FindPhotoByHash(db *sql.DB, owner, kind, conversationID, sha string) (*Photo, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	p, err := scanPhoto(db.QueryRow(selectPhotoByHashSQL, owner, kind, conversationID, sha))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("selecting photo by hash: %w", err)
	}

	return p, nil
}

// ListPhotos returns photos matching the criteria, newest first.
func ListPhotos(db *sql.DB, c *PhotoCriteria) ([]*Photo, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if c == nil {
		c = &PhotoCriteria{}
	}

	limit := c.Limit
	if limit <= 0 {
		limit = ListLimitDefault
	}

	rows, err := db.Query(selectPhotosSQL, optional(c.Owner), optional(c.Kind),
		optional(c.ConversationID), optional(c.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting photos: %w", err)
	}
	defer rows.Close()

	list := make([]*Photo, 0)
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning photo row: %w", err)
		}
		list = append(list, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating photo rows: %w", err)
	}

	return list, nil
}

// UpdateModeration replaces the moderation metadata of a photo.
func UpdateModeration(db *sql.DB, id string, m moderation.Metadata) error {
	if db == nil {
		return errDBNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting moderation tx: %w", err)
	}

	now := time.Now().UTC().Format(timeFormat)
	res, err := tx.Exec(updateModerationSQL, string(m.ModerationStatus), m.ContentWarning, m.Score, now, id)
	if err != nil {
		rollbackTransaction(tx)
		return fmt.Errorf("updating moderation of photo %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		rollbackTransaction(tx)
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing moderation tx: %w", err)
	}

	return nil
}

// DeletePhoto removes the photo record.
func DeletePhoto(db *sql.DB, id string) error {
	if db == nil {
		return errDBNotInitialized
	}

	res, err := db.Exec(deletePhotoSQL, id)
	if err != nil {
		return fmt.Errorf("deleting photo %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("photo %s: %w", id, ErrNotFound)
	}

	return nil
}
