package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archivum/docflow/pkg/apperr"
	"github.com/archivum/docflow/pkg/authz"
	"github.com/archivum/docflow/pkg/httputil"
)

// Handlers serves the document, version and approval step API.
type Handlers struct {
	Documents *DocumentStore
	Versions  *VersionStore
	Steps     *StepEngine
	// MaxUploadBytes bounds multipart uploads.
	MaxUploadBytes int64
}

// DocumentResponse is the API representation of a document.
type DocumentResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Company         string   `json:"company,omitempty"`
	Department      string   `json:"department,omitempty"`
	OwnerID         string   `json:"ownerId"`
	ActiveVersionID string   `json:"activeVersionId,omitempty"`
	ApprovalStatus  string   `json:"approvalStatus"`
	AdminApproved   bool     `json:"adminApproved"`
	CEOApproved     bool     `json:"ceoApproved"`
	Visibility      string   `json:"visibility"`
	Tags            []string `json:"tags"`
	ExpiresAt       string   `json:"expiresAt,omitempty"`
	CreatedAt       string   `json:"createdAt"`
	UpdatedAt       string   `json:"updatedAt"`
}

func toDocumentResponse(d DocumentRecord) DocumentResponse {
	tags := []string(d.Tags)
	if tags == nil {
		tags = []string{}
	}
	return DocumentResponse{
		ID:              d.ID,
		Title:           d.Title,
		Company:         d.Company,
		Department:      d.Department,
		OwnerID:         d.OwnerID,
		ActiveVersionID: d.ActiveVersionID,
		ApprovalStatus:  string(d.ApprovalStatus),
		AdminApproved:   d.AdminApproved,
		CEOApproved:     d.CEOApproved,
		Visibility:      string(d.Visibility),
		Tags:            tags,
		ExpiresAt:       httputil.FormatTime(d.ExpiresAt),
		CreatedAt:       httputil.FormatTime(&d.CreatedAt),
		UpdatedAt:       httputil.FormatTime(&d.UpdatedAt),
	}
}

// VersionResponse is the API representation of a version.
type VersionResponse struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	Sequence     int    `json:"sequence"`
	Filename     string `json:"filename"`
	ContentType  string `json:"contentType,omitempty"`
	SizeBytes    int64  `json:"sizeBytes"`
	Checksum     string `json:"checksum,omitempty"`
	UploadedBy   string `json:"uploadedBy"`
	Note         string `json:"note,omitempty"`
	Active       bool   `json:"active"`
	SnapshotOfID string `json:"snapshotOfId,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func toVersionResponse(v VersionRecord) VersionResponse {
	return VersionResponse{
		ID:           v.ID,
		DocumentID:   v.DocumentID,
		Sequence:     v.Sequence,
		Filename:     v.Filename,
		ContentType:  v.ContentType,
		SizeBytes:    v.SizeBytes,
		Checksum:     v.Checksum,
		UploadedBy:   v.UploadedBy,
		Note:         v.Note,
		Active:       v.Active,
		SnapshotOfID: v.SnapshotOfID,
		CreatedAt:    httputil.FormatTime(&v.CreatedAt),
	}
}

// StepResponse is the API representation of an approval step.
type StepResponse struct {
	ID           string `json:"id"`
	DocumentID   string `json:"documentId"`
	Round        int    `json:"round"`
	Position     int    `json:"position"`
	Name         string `json:"name"`
	RequiredRole string `json:"requiredRole,omitempty"`
	Status       string `json:"status"`
	AutoApproval bool   `json:"autoApproval"`
	Method       string `json:"method,omitempty"`
	ActorID      string `json:"actorId,omitempty"`
	Note         string `json:"note,omitempty"`
	ResolvedAt   string `json:"resolvedAt,omitempty"`
	Active       bool   `json:"active"`
	Access       string `json:"access,omitempty"`
}

func toStepResponse(s StepRecord) StepResponse {
	return StepResponse{
		ID:           s.ID,
		DocumentID:   s.DocumentID,
		Round:        s.Round,
		Position:     s.Position,
		Name:         s.Name,
		RequiredRole: s.RequiredRole,
		Status:       string(s.Status),
		AutoApproval: s.AutoApproval,
		Method:       string(s.Method),
		ActorID:      s.ActorID,
		Note:         s.Note,
		ResolvedAt:   httputil.FormatTime(s.ResolvedAt),
	}
}

func actorOf(r *http.Request) authz.Actor {
	a, _ := authz.ActorFromContext(r.Context())
	return a
}

// CreateDocumentRequest is the body of POST /documents.
type CreateDocumentRequest struct {
	Title      string     `json:"title"`
	Department string     `json:"department"`
	Visibility Visibility `json:"visibility"`
	Tags       []string   `json:"tags"`
	ExpiresAt  *time.Time `json:"expiresAt"`
}

// CreateDocument handles POST /documents. The document belongs to the
// caller's company; department defaults to the caller's.
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	actor := actorOf(r)
	dept := req.Department
	if dept == "" {
		dept = actor.Department
	}
	doc, err := h.Documents.Create(r.Context(), DocumentInput{
		Title:      req.Title,
		Company:    actor.Company,
		Department: dept,
		Visibility: req.Visibility,
		Tags:       req.Tags,
		ExpiresAt:  req.ExpiresAt,
	}, actor)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toDocumentResponse(*doc))
}

// ListDocuments handles GET /documents.
// Query params: department, ownerId, approvalStatus, pageSize, pageToken
// Results are limited to documents the caller can read.
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	q := r.URL.Query()
	filter := DocumentFilter{
		Department:     q.Get("department"),
		OwnerID:        q.Get("ownerId"),
		ApprovalStatus: ApprovalStatus(q.Get("approvalStatus")),
	}
	if !authz.IsOverride(actor.Role, h.Documents.opts.overrides) {
		filter.Company = actor.Company
	}
	pageSize, pageToken := httputil.PageParams(r)
	docs, next, total, err := h.Documents.List(r.Context(), filter, pageSize, pageToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		ok, err := h.Documents.CanRead(r.Context(), actor, &docs[i])
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if ok {
			items = append(items, toDocumentResponse(docs[i]))
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"documents":     items,
		"nextPageToken": next,
		"totalSize":     total,
	})
}

// readableDocument loads the document in the URL and checks read access.
func (h *Handlers) readableDocument(r *http.Request) (*DocumentRecord, error) {
	doc, err := h.Documents.Get(r.Context(), chi.URLParam(r, "documentId"))
	if err != nil {
		return nil, err
	}
	ok, err := h.Documents.CanRead(r.Context(), actorOf(r), doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Unauthorized("no access to document %s", doc.ID)
	}
	return doc, nil
}

func (h *Handlers) modifiableDocument(r *http.Request, id string) (*DocumentRecord, error) {
	doc, err := h.Documents.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !h.Documents.CanModify(actorOf(r), doc) {
		return nil, apperr.Unauthorized("only the owner may change document %s", doc.ID)
	}
	return doc, nil
}

// GetDocument handles GET /documents/{documentId}.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.readableDocument(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(*doc))
}

// UploadVersion handles POST /documents/{documentId}/versions as a
// multipart form with a "file" part and an optional "note" field.
func (h *Handlers) UploadVersion(w http.ResponseWriter, r *http.Request) {
	doc, err := h.modifiableDocument(r, chi.URLParam(r, "documentId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		httputil.WriteError(w, r, apperr.Validation("expected a multipart upload"))
		return
	}

	var note string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			httputil.WriteError(w, r, apperr.Validation("invalid multipart body: %v", err))
			return
		}
		switch part.FormName() {
		case "note":
			b, _ := io.ReadAll(io.LimitReader(part, 4<<10))
			note = strings.TrimSpace(string(b))
		case "file":
			contentType := part.Header.Get("Content-Type")
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			v, err := h.Versions.AddVersion(r.Context(), AddVersionInput{
				DocumentID:  doc.ID,
				Filename:    part.FileName(),
				ContentType: contentType,
				Body:        part,
				Uploader:    actorOf(r),
				Note:        note,
			})
			if err != nil {
				httputil.WriteError(w, r, err)
				return
			}
			httputil.WriteJSON(w, http.StatusCreated, toVersionResponse(*v))
			return
		}
	}
	httputil.WriteError(w, r, apperr.Validation("file part is required"))
}

// ListVersions handles GET /documents/{documentId}/versions.
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	doc, err := h.readableDocument(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	pageSize, pageToken := httputil.PageParams(r)
	versions, next, total, err := h.Versions.ListVersions(r.Context(), doc.ID, pageSize, pageToken)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]VersionResponse, len(versions))
	for i, v := range versions {
		items[i] = toVersionResponse(v)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"versions":      items,
		"nextPageToken": next,
		"totalSize":     total,
	})
}

// GetVersion handles GET /versions/{versionId}.
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.readableVersion(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVersionResponse(*v))
}

func (h *Handlers) readableVersion(r *http.Request) (*VersionRecord, error) {
	v, err := h.Versions.GetVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		return nil, err
	}
	doc, err := h.Documents.Get(r.Context(), v.DocumentID)
	if err != nil {
		return nil, err
	}
	ok, err := h.Documents.CanRead(r.Context(), actorOf(r), doc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Unauthorized("no access to document %s", doc.ID)
	}
	return v, nil
}

// DownloadVersion handles GET /versions/{versionId}/content.
func (h *Handlers) DownloadVersion(w http.ResponseWriter, r *http.Request) {
	rc, v, err := h.Versions.OpenVersion(r.Context(), chi.URLParam(r, "versionId"), actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	defer rc.Close()
	if v.ContentType != "" {
		w.Header().Set("Content-Type", v.ContentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", v.Filename))
	w.Header().Set("Content-Length", fmt.Sprint(v.SizeBytes))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

// RestoreVersion handles POST /versions/{versionId}/restore.
func (h *Handlers) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Versions.GetVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if _, err := h.modifiableDocument(r, v.DocumentID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	restored, err := h.Versions.RestoreVersion(r.Context(), v.ID, actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVersionResponse(*restored))
}

// DeleteVersion handles DELETE /versions/{versionId}.
func (h *Handlers) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.Versions.GetVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if _, err := h.modifiableDocument(r, v.DocumentID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := h.Versions.DeleteVersion(r.Context(), v.ID, actorOf(r)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompareVersions handles GET /versions/{versionId}/compare?with={otherId}.
func (h *Handlers) CompareVersions(w http.ResponseWriter, r *http.Request) {
	v, err := h.readableVersion(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	other := r.URL.Query().Get("with")
	if other == "" {
		httputil.WriteError(w, r, apperr.Validation("query parameter with is required"))
		return
	}
	cmp, err := h.Versions.CompareVersions(r.Context(), v.ID, other)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"from":        toVersionResponse(cmp.From),
		"to":          toVersionResponse(cmp.To),
		"sizeDelta":   cmp.SizeDelta,
		"ageSeconds":  int64(cmp.AgeDelta / time.Second),
		"sameContent": cmp.SameContent,
		"sameFile":    cmp.SameFile,
	})
}

// StartWorkflowRequest is the body of POST /documents/{documentId}/workflow.
// An empty step list starts the default chain.
type StartWorkflowRequest struct {
	Steps []StepSpec `json:"steps"`
}

// StartWorkflow handles POST /documents/{documentId}/workflow.
func (h *Handlers) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	doc, err := h.modifiableDocument(r, chi.URLParam(r, "documentId"))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var req StartWorkflowRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
	}
	specs := req.Steps
	if len(specs) == 0 {
		specs = DefaultFlow()
	}
	actor := actorOf(r)
	if _, err := h.Steps.StartWorkflow(r.Context(), doc.ID, specs, actor); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeSteps(w, r, doc.ID, http.StatusCreated)
}

// ListSteps handles GET /documents/{documentId}/steps. Steps the caller may
// not see are omitted.
func (h *Handlers) ListSteps(w http.ResponseWriter, r *http.Request) {
	doc, err := h.readableDocument(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	h.writeSteps(w, r, doc.ID, http.StatusOK)
}

func (h *Handlers) writeSteps(w http.ResponseWriter, r *http.Request, documentID string, status int) {
	views, err := h.Steps.ListSteps(r.Context(), documentID, actorOf(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	items := make([]StepResponse, len(views))
	for i, v := range views {
		items[i] = toStepResponse(v.StepRecord)
		items[i].Active = v.Active
		items[i].Access = string(v.Access)
	}
	httputil.WriteJSON(w, status, map[string]any{"steps": items})
}

// StepActionRequest is the body of the approve, reject and comment actions.
type StepActionRequest struct {
	Note string `json:"note"`
}

type stepActionFunc func(ctx context.Context, stepID string, actor authz.Actor, note string) (*StepRecord, error)

func stepAction(action stepActionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StepActionRequest
		if r.ContentLength != 0 {
			if err := httputil.DecodeJSON(r, &req); err != nil {
				httputil.WriteError(w, r, err)
				return
			}
		}
		step, err := action(r.Context(), chi.URLParam(r, "stepId"), actorOf(r), req.Note)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toStepResponse(*step))
	}
}
