package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/audit"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/dbtypes"
	"github.com/archivum/docflow/pkg/httputil"
	"github.com/archivum/docflow/pkg/notify"
	"github.com/archivum/docflow/pkg/storage"
)

// AddVersionInput describes an upload.
type AddVersionInput struct {
	DocumentID  string
	Filename    string
	ContentType string
	Body        io.Reader
	Uploader    authz.Actor
	Note        string
}

// VersionComparison summarises the difference between two versions.
type VersionComparison struct {
	From        VersionRecord
	To          VersionRecord
	SizeDelta   int64
	AgeDelta    time.Duration
	SameContent bool
	SameFile    bool
}

// VersionStore maintains the version sequence of each document and its
// single active version.
type VersionStore struct {
	db    *gorm.DB
	files storage.FileStorage
	audit *audit.Store
	opts  *options

	// background tracks tagging goroutines started after uploads.
	background sync.WaitGroup
}

// NewVersionStore creates a new VersionStore.
func NewVersionStore(db *gorm.DB, files storage.FileStorage, auditStore *audit.Store, opts ...Option) *VersionStore {
	return &VersionStore{db: db, files: files, audit: auditStore, opts: buildOptions(opts)}
}

// Wait blocks until background work started by AddVersion has finished.
func (s *VersionStore) Wait() { s.background.Wait() }

// AddVersion stores a new payload as the next version and makes it active.
// The payload is written inside the transaction, so a storage failure rolls
// the version record back and the previous version stays active.
func (s *VersionStore) AddVersion(ctx context.Context, in AddVersionInput) (*VersionRecord, error) {
	filename := cleanFilename(in.Filename)
	switch {
	case in.DocumentID == "":
		return nil, apperr.Validation("document id is required")
	case filename == "":
		return nil, apperr.Validation("filename is required")
	case in.Uploader.ID == "":
		return nil, apperr.Validation("uploader is required")
	case in.Body == nil:
		return nil, apperr.Validation("payload is required")
	}

	now := s.opts.now()
	var (
		version *VersionRecord
		doc     *DocumentRecord
		written string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if doc, err = loadDocument(tx, in.DocumentID); err != nil {
			return err
		}
		prevActive := doc.ActiveVersionID
		seq := doc.LastVersionSeq + 1
		version = &VersionRecord{
			ID:          uuid.New().String(),
			DocumentID:  doc.ID,
			Sequence:    seq,
			Filename:    filename,
			ContentType: in.ContentType,
			UploadedBy:  in.Uploader.ID,
			Note:        in.Note,
			Active:      true,
			CreatedAt:   now,
		}
		version.FileKey = path.Join("documents", doc.ID, version.ID, filename)

		if err := bumpRevision(tx, doc, map[string]any{
			"active_version_id": version.ID,
			"last_version_seq":  seq,
		}, now); err != nil {
			return err
		}
		if err := tx.Model(&VersionRecord{}).
			Where("document_id = ? AND active = ?", doc.ID, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate versions: %w", err)
		}

		hash := sha256.New()
		// A failed write may still leave part of the object behind.
		written = version.FileKey
		n, err := s.files.Write(ctx, version.FileKey, io.TeeReader(in.Body, hash))
		if err != nil {
			return apperr.Storage(err, "persist payload for %s v%d", doc.ID, seq)
		}
		version.SizeBytes = n
		version.Checksum = hex.EncodeToString(hash.Sum(nil))

		if err := tx.Create(version).Error; err != nil {
			return fmt.Errorf("create version: %w", err)
		}
		doc.ActiveVersionID = version.ID
		doc.LastVersionSeq = seq

		return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventVersionAdded,
			Actor:      in.Uploader.ID,
			ActorRole:  string(in.Uploader.Role),
			DocumentID: doc.ID,
			EntityType: "version",
			EntityID:   version.ID,
			Action:     "add_version",
			OldValue:   dbtypes.Map{"activeVersionId": prevActive},
			NewValue: dbtypes.Map{
				"activeVersionId": version.ID,
				"sequence":        seq,
				"sizeBytes":       n,
			},
		})
	})
	if err != nil {
		if written != "" {
			if delErr := s.files.Delete(context.WithoutCancel(ctx), written); delErr != nil {
				s.opts.logger.Warn("failed to remove payload of rolled back version", "key", written, "error", delErr)
			}
		}
		return nil, err
	}

	s.opts.metrics.VersionCreated()
	s.notifyDepartment(ctx, doc, version)
	s.tagInBackground(doc.ID, version)
	return version, nil
}

// RestoreVersion makes versionID active again. The version that was active
// is first copied into a new inactive version so the restore loses nothing.
func (s *VersionStore) RestoreVersion(ctx context.Context, versionID string, actor authz.Actor) (*VersionRecord, error) {
	target, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	exists, err := s.files.Exists(ctx, target.FileKey)
	if err != nil {
		return nil, apperr.Storage(err, "check payload of version %s", versionID)
	}
	if !exists {
		return nil, apperr.InvalidState("payload of version %d is missing", target.Sequence)
	}

	now := s.opts.now()
	var snapshot *VersionRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current VersionRecord
		if err := tx.First(target, "id = ?", versionID).Error; err != nil {
			return fmt.Errorf("reload version: %w", err)
		}
		if target.Active {
			return apperr.InvalidState("version %d is already active", target.Sequence)
		}
		doc, err := loadDocument(tx, target.DocumentID)
		if err != nil {
			return err
		}
		seq := doc.LastVersionSeq
		err = tx.Where("document_id = ? AND active = ?", doc.ID, true).First(&current).Error
		switch {
		case err == nil:
			seq++
			snapshot = &VersionRecord{
				ID:           uuid.New().String(),
				DocumentID:   doc.ID,
				Sequence:     seq,
				FileKey:      current.FileKey,
				Filename:     current.Filename,
				ContentType:  current.ContentType,
				SizeBytes:    current.SizeBytes,
				Checksum:     current.Checksum,
				UploadedBy:   actor.ID,
				Note:         fmt.Sprintf("snapshot of v%d before restoring v%d", current.Sequence, target.Sequence),
				SnapshotOfID: current.ID,
				CreatedAt:    now,
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("get active version: %w", err)
		}

		if err := bumpRevision(tx, doc, map[string]any{
			"active_version_id": target.ID,
			"last_version_seq":  seq,
		}, now); err != nil {
			return err
		}
		if snapshot != nil {
			if err := tx.Create(snapshot).Error; err != nil {
				return fmt.Errorf("create restore snapshot: %w", err)
			}
		}
		if err := tx.Model(&VersionRecord{}).
			Where("document_id = ? AND active = ?", doc.ID, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate versions: %w", err)
		}
		if err := tx.Model(&VersionRecord{}).Where("id = ?", target.ID).Update("active", true).Error; err != nil {
			return fmt.Errorf("activate version: %w", err)
		}
		target.Active = true

		ev := &audit.EventRecord{
			EventType:  audit.EventVersionRestored,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: doc.ID,
			EntityType: "version",
			EntityID:   target.ID,
			Action:     "restore_version",
			OldValue:   dbtypes.Map{"activeVersionId": current.ID},
			NewValue:   dbtypes.Map{"activeVersionId": target.ID, "sequence": target.Sequence},
		}
		if snapshot != nil {
			ev.Metadata = dbtypes.Map{"snapshotVersionId": snapshot.ID, "snapshotSequence": snapshot.Sequence}
		}
		return s.audit.WithTx(tx).Append(ctx, ev)
	})
	if err != nil {
		return nil, err
	}
	if snapshot != nil {
		s.opts.metrics.VersionCreated()
	}
	return target, nil
}

// DeleteVersion removes an inactive version. The payload is removed after
// commit unless another version (a restore snapshot) still references it.
func (s *VersionStore) DeleteVersion(ctx context.Context, versionID string, actor authz.Actor) error {
	var (
		v          VersionRecord
		orphanFile bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&v, "id = ?", versionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("version %s not found", versionID)
		}
		if err != nil {
			return fmt.Errorf("get version: %w", err)
		}
		if v.Active {
			return apperr.Conflict("version %d is active and cannot be deleted", v.Sequence)
		}
		doc, err := loadDocument(tx, v.DocumentID)
		if err != nil {
			return err
		}
		if err := bumpRevision(tx, doc, nil, s.opts.now()); err != nil {
			return err
		}
		res := tx.Where("id = ? AND active = ?", v.ID, false).Delete(&VersionRecord{})
		if res.Error != nil {
			return fmt.Errorf("delete version: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("version %s changed concurrently", v.ID)
		}

		var refs int64
		if err := tx.Model(&VersionRecord{}).Where("file_key = ?", v.FileKey).Count(&refs).Error; err != nil {
			return fmt.Errorf("count payload references: %w", err)
		}
		orphanFile = refs == 0

		return s.audit.WithTx(tx).Append(ctx, &audit.EventRecord{
			EventType:  audit.EventVersionDeleted,
			Actor:      actor.ID,
			ActorRole:  string(actor.Role),
			DocumentID: doc.ID,
			EntityType: "version",
			EntityID:   v.ID,
			Action:     "delete_version",
			OldValue:   dbtypes.Map{"sequence": v.Sequence, "fileKey": v.FileKey},
		})
	})
	if err != nil {
		return err
	}
	if orphanFile {
		if err := s.files.Delete(ctx, v.FileKey); err != nil {
			s.opts.logger.Warn("failed to remove payload of deleted version",
				"versionID", v.ID, "key", v.FileKey, "error", err)
		}
	}
	return nil
}

// GetVersion returns one version.
func (s *VersionStore) GetVersion(ctx context.Context, versionID string) (*VersionRecord, error) {
	var v VersionRecord
	err := s.db.WithContext(ctx).First(&v, "id = ?", versionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("version %s not found", versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &v, nil
}

// ActiveVersion returns the active version of a document.
func (s *VersionStore) ActiveVersion(ctx context.Context, documentID string) (*VersionRecord, error) {
	var v VersionRecord
	err := s.db.WithContext(ctx).Where("document_id = ? AND active = ?", documentID, true).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("document %s has no active version", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active version: %w", err)
	}
	return &v, nil
}

// ListVersions returns a document's versions newest first. pageToken is the
// sequence number of the last version of the previous page.
func (s *VersionStore) ListVersions(ctx context.Context, documentID string, pageSize int, pageToken string) ([]VersionRecord, string, int, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadDocument(db, documentID); err != nil {
		return nil, "", 0, err
	}
	pageSize = httputil.ClampPageSize(pageSize)

	var total int64
	if err := db.Model(&VersionRecord{}).Where("document_id = ?", documentID).Count(&total).Error; err != nil {
		return nil, "", 0, fmt.Errorf("count versions: %w", err)
	}

	query := db.Where("document_id = ?", documentID).Order("sequence DESC").Limit(pageSize + 1)
	if pageToken != "" {
		seq, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", 0, apperr.Validation("invalid page token")
		}
		query = query.Where("sequence < ?", seq)
	}

	var versions []VersionRecord
	if err := query.Find(&versions).Error; err != nil {
		return nil, "", 0, fmt.Errorf("list versions: %w", err)
	}
	var next string
	if len(versions) > pageSize {
		next = seqToken(versions[pageSize-1].Sequence)
		versions = versions[:pageSize]
	}
	return versions, next, int(total), nil
}

// CompareVersions compares two versions of the same document.
func (s *VersionStore) CompareVersions(ctx context.Context, fromID, toID string) (*VersionComparison, error) {
	from, err := s.GetVersion(ctx, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.GetVersion(ctx, toID)
	if err != nil {
		return nil, err
	}
	if from.DocumentID != to.DocumentID {
		return nil, apperr.Validation("versions belong to different documents")
	}
	return &VersionComparison{
		From:        *from,
		To:          *to,
		SizeDelta:   to.SizeBytes - from.SizeBytes,
		AgeDelta:    to.CreatedAt.Sub(from.CreatedAt),
		SameContent: from.Checksum != "" && from.Checksum == to.Checksum,
		SameFile:    from.FileKey == to.FileKey,
	}, nil
}

// OpenVersion returns the payload of a version after checking that actor
// may read the document. Every attempt is recorded as a download.
func (s *VersionStore) OpenVersion(ctx context.Context, versionID string, actor authz.Actor) (io.ReadCloser, *VersionRecord, error) {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}
	dl := Download{
		UserID:     actor.ID,
		DocumentID: v.DocumentID,
		VersionID:  v.ID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		At:         s.opts.now(),
	}
	defer func() { s.recordDownload(ctx, dl) }()

	doc, err := loadDocument(s.db.WithContext(ctx), v.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	ok, err := canRead(ctx, s.db, s.opts, actor, doc)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.Unauthorized("no access to document %s", doc.ID)
	}
	rc, err := s.files.Open(ctx, v.FileKey)
	if errors.Is(err, storage.ErrNotExist) {
		return nil, nil, apperr.InvalidState("payload of version %d is missing", v.Sequence)
	}
	if err != nil {
		return nil, nil, apperr.Storage(err, "open payload of version %s", v.ID)
	}
	dl.Success = true
	return rc, v, nil
}

func (s *VersionStore) recordDownload(ctx context.Context, d Download) {
	if s.opts.downloads == nil || d.UserID == "" {
		return
	}
	if err := s.opts.downloads.RecordDownload(context.WithoutCancel(ctx), d); err != nil {
		s.opts.logger.Warn("failed to record download", "versionID", d.VersionID, "error", err)
	}
}

func (s *VersionStore) notifyDepartment(ctx context.Context, doc *DocumentRecord, v *VersionRecord) {
	if doc.Department == "" {
		return
	}
	to, err := s.opts.directory.ForDepartment(ctx, doc.Company, doc.Department)
	if err != nil {
		s.opts.logger.Warn("failed to resolve department recipients", "documentID", doc.ID, "error", err)
		return
	}
	if len(to) == 0 {
		return
	}
	s.opts.notifier.Notify(ctx, notify.Message{
		Kind:    "version_added",
		To:      to,
		Subject: fmt.Sprintf("New version of %q", doc.Title),
		Body: fmt.Sprintf("Version %d of %q (%s) was uploaded by %s.\n\n%s",
			v.Sequence, doc.Title, v.Filename, v.UploadedBy, v.Note),
	})
	s.opts.metrics.NotificationQueued("version_added")
}

// textContentTypes are payloads sent to the tagger as-is.
var textContentTypes = []string{"text/", "application/json", "application/xml"}

func isText(contentType string) bool {
	for _, p := range textContentTypes {
		if strings.HasPrefix(contentType, p) {
			return true
		}
	}
	return false
}

// tagInBackground classifies a text payload and merges the tags into the
// document. Failures are logged; the upload has already succeeded.
func (s *VersionStore) tagInBackground(documentID string, v *VersionRecord) {
	if s.opts.tagger == nil || !isText(v.ContentType) {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.cfg.TaggingTimeout)
		defer cancel()
		if err := s.tagVersion(ctx, documentID, v); err != nil {
			s.opts.logger.Warn("document tagging skipped", "documentID", documentID, "versionID", v.ID, "error", err)
		}
	}()
}

func (s *VersionStore) tagVersion(ctx context.Context, documentID string, v *VersionRecord) error {
	rc, err := s.files.Open(ctx, v.FileKey)
	if err != nil {
		return err
	}
	text, err := io.ReadAll(io.LimitReader(rc, s.opts.cfg.TaggingMaxBytes))
	_ = rc.Close()
	if err != nil {
		return err
	}
	tags, err := s.opts.tagger.Tags(ctx, string(text))
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := loadDocument(tx, documentID)
		if err != nil {
			return err
		}
		merged := append(dbtypes.StringSlice(nil), doc.Tags...)
		for _, t := range tags {
			if !merged.ContainsFold(t) {
				merged = append(merged, t)
			}
		}
		return tx.Model(&DocumentRecord{}).Where("id = ?", documentID).Update("tags", merged).Error
	})
}

func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
