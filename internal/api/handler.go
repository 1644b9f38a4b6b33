// Package api serves the calendar document REST surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jw6ventures/planner/internal/auth"
	"github.com/jw6ventures/planner/internal/calsync"
	httperrors "github.com/jw6ventures/planner/internal/http/errors"
	"github.com/jw6ventures/planner/internal/ics"
	"github.com/jw6ventures/planner/internal/store"
)

const (
	maxBodyBytes   = 4 << 20
	maxImportBytes = 10 << 20
)

// Syncer is the document engine behind the handlers.
type Syncer interface {
	Load(ctx context.Context, ownerID string) (*store.Document, error)
	Reconcile(ctx context.Context, ownerID string, events []store.Event, ranges []store.Range) (*store.Document, calsync.Outcome, error)
	PullSync(ctx context.Context, ownerID string) (*store.Document, calsync.Outcome, error)
	ClearEvents(ctx context.Context, ownerID string) (*store.Document, calsync.Outcome, error)
}

type Handler struct {
	sync        Syncer
	creds       store.CredentialRepository
	linkEnabled bool
	schema      schemaValidator
	newID       func() string
	now         func() time.Time
}

type schemaValidator func(body []byte) error

// NewHandler compiles the request schema; creds may be nil when linking is disabled.
func NewHandler(sync Syncer, creds store.CredentialRepository, linkEnabled bool) (*Handler, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Handler{
		sync:        sync,
		creds:       creds,
		linkEnabled: linkEnabled,
		schema:      func(body []byte) error { return validate(schema, body) },
		newID:       uuid.NewString,
		now:         time.Now,
	}, nil
}

type calendarBody struct {
	Events []store.Event `json:"events"`
	Ranges []store.Range `json:"ranges"`
}

type calendarResponse struct {
	Events   []store.Event    `json:"events"`
	Ranges   []store.Range    `json:"ranges"`
	Sync     *calsync.Outcome `json:"sync,omitempty"`
	Imported *int             `json:"imported,omitempty"`
}

type linkResponse struct {
	Enabled      bool   `json:"enabled"`
	Linked       bool   `json:"linked"`
	AccountEmail string `json:"accountEmail,omitempty"`
	CalendarID   string `json:"calendarId,omitempty"`
}

func respond(w http.ResponseWriter, doc *store.Document, out *calsync.Outcome) {
	resp := calendarResponse{Events: doc.Events, Ranges: doc.Ranges, Sync: out}
	if resp.Events == nil {
		resp.Events = []store.Event{}
	}
	if resp.Ranges == nil {
		resp.Ranges = []store.Range{}
	}
	httperrors.JSON(w, http.StatusOK, resp)
}

// GetCalendar handles GET /calendar.
func (h *Handler) GetCalendar(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	doc, err := h.sync.Load(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "load calendar")
		return
	}
	respond(w, doc, nil)
}

// PutCalendar handles PUT /calendar: the body is the client's complete view.
func (h *Handler) PutCalendar(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httperrors.Write(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		httperrors.BadRequestError(w, r, err, "could not read request body")
		return
	}
	if err := h.schema(body); err != nil {
		httperrors.BadRequestError(w, r, err, "request body does not match the calendar schema")
		return
	}
	var in calendarBody
	if err := json.Unmarshal(body, &in); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid calendar body")
		return
	}
	if err := checkUniqueIDs(in); err != nil {
		httperrors.BadRequestError(w, r, err, err.Error())
		return
	}

	owner, _ := auth.OwnerFromContext(r.Context())
	doc, out, err := h.sync.Reconcile(r.Context(), owner, in.Events, in.Ranges)
	if err != nil {
		httperrors.InternalError(w, r, err, "save calendar")
		return
	}
	respond(w, doc, &out)
}

// Sync handles POST /calendar/sync.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	doc, out, err := h.sync.PullSync(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "sync calendar")
		return
	}
	respond(w, doc, &out)
}

// ClearEvents handles DELETE /calendar/events.
func (h *Handler) ClearEvents(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	doc, out, err := h.sync.ClearEvents(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "clear events")
		return
	}
	respond(w, doc, &out)
}

// ExportICS handles GET /calendar.ics.
func (h *Handler) ExportICS(w http.ResponseWriter, r *http.Request) {
	owner, _ := auth.OwnerFromContext(r.Context())
	doc, err := h.sync.Load(r.Context(), owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "load calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	_, _ = io.WriteString(w, ics.Export(doc, h.now().UTC()))
}

// ImportICS handles POST /calendar/import with a multipart ics_file field.
// Imported events are appended and saved like any other client edit.
func (h *Handler) ImportICS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid multipart form")
		return
	}
	file, _, err := r.FormFile("ics_file")
	if err != nil {
		httperrors.BadRequestError(w, r, err, "ics_file is required")
		return
	}
	defer file.Close()

	imported, err := ics.Import(file, h.newID, h.now().UTC())
	if err != nil {
		httperrors.BadRequestError(w, r, err, fmt.Sprintf("could not import calendar: %v", err))
		return
	}

	ctx := r.Context()
	owner, _ := auth.OwnerFromContext(ctx)
	doc, err := h.sync.Load(ctx, owner)
	if err != nil {
		httperrors.InternalError(w, r, err, "load calendar")
		return
	}
	events := append(store.CloneEvents(doc.Events), imported...)
	saved, out, err := h.sync.Reconcile(ctx, owner, events, store.CloneRanges(doc.Ranges))
	if err != nil {
		httperrors.InternalError(w, r, err, "save imported events")
		return
	}
	httperrors.LogInfo(r, "calendar imported", "events", len(imported))
	n := len(imported)
	httperrors.JSON(w, http.StatusOK, calendarResponse{Events: saved.Events, Ranges: saved.Ranges, Sync: &out, Imported: &n})
}

// LinkStatus handles GET /calendar/link.
func (h *Handler) LinkStatus(w http.ResponseWriter, r *http.Request) {
	resp := linkResponse{Enabled: h.linkEnabled}
	if h.creds != nil {
		owner, _ := auth.OwnerFromContext(r.Context())
		cred, err := h.creds.Get(r.Context(), owner)
		if err != nil {
			httperrors.InternalError(w, r, err, "load remote credential")
			return
		}
		if cred != nil {
			resp.Linked = true
			resp.AccountEmail = cred.AccountEmail
			resp.CalendarID = cred.CalendarID
		}
	}
	httperrors.JSON(w, http.StatusOK, resp)
}

// checkUniqueIDs rejects bodies whose events or ranges repeat an id.
func checkUniqueIDs(in calendarBody) error {
	seen := make(map[string]struct{}, len(in.Events))
	for _, ev := range in.Events {
		if _, dup := seen[ev.ID]; dup {
			return fmt.Errorf("duplicate event id %q", ev.ID)
		}
		seen[ev.ID] = struct{}{}
	}
	clear(seen)
	for _, rg := range in.Ranges {
		if _, dup := seen[rg.ID]; dup {
			return fmt.Errorf("duplicate range id %q", rg.ID)
		}
		seen[rg.ID] = struct{}{}
	}
	return nil
}
