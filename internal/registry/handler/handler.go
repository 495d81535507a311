// Package handler is the thin HTTP layer over the registry services. It
// translates JSON payloads to domain requests and domain errors to HTTP
// statuses; business rules live in the services.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"civreg/internal/registry/audit"
	"civreg/internal/registry/merge"
	"civreg/internal/registry/models"
	"civreg/internal/registry/scoring"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/httputil"
)

// IdentityService is the slice of the identity core the handler exposes.
type IdentityService interface {
	Create(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error)
	Update(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error)
	Import(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error)
	Get(ctx context.Context, cuid id.CustomerID, contract *models.ServiceContract, query []scoring.QueryAttribute) (*models.Identity, scoring.Scores, error)
	GetByConnection(ctx context.Context, connID id.ConnectionID) (*models.Identity, error)
	SoftDelete(ctx context.Context, cuid id.CustomerID, author models.Author) error
	Purge(ctx context.Context, cuid id.CustomerID) error
}

// MergeService runs merges and cancellations.
type MergeService interface {
	Merge(ctx context.Context, req merge.Request) (*merge.Result, error)
	CancelMerge(ctx context.Context, masterCuid, secondaryCuid id.CustomerID, author models.Author) error
}

// AuditService reads the append-only trail.
type AuditService interface {
	ListByCustomer(ctx context.Context, cuid id.CustomerID) ([]audit.Event, error)
}

// SuspicionService exposes the suspicion worklist.
type SuspicionService interface {
	List(ctx context.Context) ([]*models.SuspiciousIdentity, error)
	Get(ctx context.Context, cuid id.CustomerID) (*models.SuspiciousIdentity, error)
	Lock(ctx context.Context, cuid id.CustomerID, author models.Author) (*models.SuspicionLock, error)
	Unlock(ctx context.Context, cuid id.CustomerID) error
	Exclude(ctx context.Context, a, b id.CustomerID, author models.Author) error
	Clear(ctx context.Context, cuid id.CustomerID) error
}

// Handler serves the registry API.
type Handler struct {
	logger     *slog.Logger
	identities IdentityService
	merges     MergeService
	suspicions SuspicionService
	audits     AuditService
}

// New wires the handler.
func New(identities IdentityService, merges MergeService, suspicions SuspicionService, audits AuditService, logger *slog.Logger) *Handler {
	return &Handler{
		logger:     logger,
		identities: identities,
		merges:     merges,
		suspicions: suspicions,
		audits:     audits,
	}
}

// Register mounts all registry routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/identities", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Post("/import", h.handleImport)
		r.Get("/by-connection/{connectionID}", h.handleGetByConnection)
		r.Route("/{customerID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Put("/", h.handleUpdate)
			r.Delete("/", h.handleSoftDelete)
			r.Post("/purge", h.handlePurge)
			r.Post("/score", h.handleScore)
			r.Get("/audit", h.handleAuditTrail)
		})
	})
	r.Post("/merges", h.handleMerge)
	r.Post("/merges/cancel", h.handleCancelMerge)
	h.registerSuspicions(r)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[ChangeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.identities.Create(r.Context(), body.toModel())
	if err != nil {
		h.logFailure(r.Context(), "create identity", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toMutationOutput(result))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[ChangeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req := body.toModel()
	req.CustomerID = id.CustomerID(chi.URLParam(r, "customerID"))
	result, err := h.identities.Update(r.Context(), req)
	if err != nil {
		h.logFailure(r.Context(), "update identity", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMutationOutput(result))
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[ChangeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.identities.Import(r.Context(), body.toModel())
	if err != nil {
		h.logFailure(r.Context(), "import identity", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMutationOutput(result))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	identity, scores, err := h.identities.Get(r.Context(), cuid, nil, nil)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"identity": toIdentityOutput(identity),
		"scores":   toScoresOutput(scores),
	})
}

// handleScore resolves the identity under a client contract and match query,
// returning the three score metrics alongside the record.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[ScoreRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	identity, scores, err := h.identities.Get(r.Context(), cuid, body.Contract.toModel(), body.queryAttributes())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"identity": toIdentityOutput(identity),
		"scores":   toScoresOutput(scores),
	})
}

func (h *Handler) handleGetByConnection(w http.ResponseWriter, r *http.Request) {
	connID := id.ConnectionID(chi.URLParam(r, "connectionID"))
	identity, err := h.identities.GetByConnection(r.Context(), connID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toIdentityOutput(identity))
}

func (h *Handler) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[struct {
		Author authorInput `json:"author"`
	}](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	if err := h.identities.SoftDelete(r.Context(), cuid, body.Author.toModel()); err != nil {
		h.logFailure(r.Context(), "soft delete identity", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	if err := h.identities.Purge(r.Context(), cuid); err != nil {
		h.logFailure(r.Context(), "purge identity", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	cuid := id.CustomerID(chi.URLParam(r, "customerID"))
	events, err := h.audits.ListByCustomer(r.Context(), cuid)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]auditEventOutput, 0, len(events))
	for _, event := range events {
		out = append(out, toAuditEventOutput(event))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[MergeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req := merge.Request{
		MasterCustomerID:    id.CustomerID(body.MasterCustomerID),
		SecondaryCustomerID: id.CustomerID(body.SecondaryCustomerID),
		RuleCode:            body.RuleCode,
		Author:              body.Author.toModel(),
	}
	for _, attr := range body.Attributes {
		req.Attributes = append(req.Attributes, models.IncomingAttribute{
			Key:       models.AttributeKey(attr.Key),
			Value:     attr.Value,
			Certifier: attr.Certifier,
			ExpiresAt: attr.ExpiresAt,
		})
	}
	result, err := h.merges.Merge(r.Context(), req)
	if err != nil {
		h.logFailure(r.Context(), "merge identities", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toMutationOutput(&models.MutationResult{
		Identity: result.Master,
		Report:   result.Report,
	}))
}

func (h *Handler) handleCancelMerge(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.DecodeJSON[MergeRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	err = h.merges.CancelMerge(r.Context(),
		id.CustomerID(body.MasterCustomerID), id.CustomerID(body.SecondaryCustomerID), body.Author.toModel())
	if err != nil {
		h.logFailure(r.Context(), "cancel merge", err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(ctx context.Context, op string, err error) {
	if h.logger == nil {
		return
	}
	// Client-side failures surface through the response; only unexpected ones
	// are worth a log line.
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed", "error", err)
	}
}
