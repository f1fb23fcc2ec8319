package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/stashsync/internal/db"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/services"
)

// Library is the local editing surface behind the item and prompt endpoints.
type Library interface {
	AddItem(ctx context.Context, in services.ItemInput) (*models.Item, error)
	EditItem(ctx context.Context, id models.UUID, p services.ItemPatch) (*models.Item, error)
	RemoveItem(ctx context.Context, id models.UUID) error
	GetItem(ctx context.Context, id models.UUID) (*models.Item, error)
	ListItems(ctx context.Context, filter db.ItemFilter) ([]*models.Item, error)

	AddPrompt(ctx context.Context, in services.PromptInput) (*models.Prompt, error)
	EditPrompt(ctx context.Context, id models.UUID, p services.PromptPatch) (*models.Prompt, error)
	RemovePrompt(ctx context.Context, id models.UUID) error
	GetPrompt(ctx context.Context, id models.UUID) (*models.Prompt, error)
	ListPrompts(ctx context.Context) ([]*models.Prompt, error)

	Labels(ctx context.Context, kind models.LabelKind) ([]*models.Label, error)
}

// LibraryHandler handles item, prompt and label requests.
type LibraryHandler struct {
	lib Library
}

// NewLibraryHandler creates a new LibraryHandler.
func NewLibraryHandler(lib Library) *LibraryHandler {
	return &LibraryHandler{lib: lib}
}

// Routes mounts the library endpoints on r.
func (h *LibraryHandler) Routes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.ListItems)
		r.Post("/", h.CreateItem)
		r.Get("/{id}", h.GetItem)
		r.Patch("/{id}", h.UpdateItem)
		r.Delete("/{id}", h.DeleteItem)
	})
	r.Route("/prompts", func(r chi.Router) {
		r.Get("/", h.ListPrompts)
		r.Post("/", h.CreatePrompt)
		r.Get("/{id}", h.GetPrompt)
		r.Patch("/{id}", h.UpdatePrompt)
		r.Delete("/{id}", h.DeletePrompt)
	})
	r.Get("/labels/{kind}", h.ListLabels)
}

// ListItems handles GET /api/items?kind=task&page=1&per_page=20
func (h *LibraryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	items, err := h.lib.ListItems(r.Context(), db.ItemFilter{
		Kind:   models.ItemKind(r.URL.Query().Get("kind")),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	})
	if err != nil {
		respondAppError(w, err)
		return
	}
	if items == nil {
		items = []*models.Item{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":    items,
		"page":     page,
		"per_page": perPage,
	})
}

// CreateItem handles POST /api/items
func (h *LibraryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var in services.ItemInput
	if !decodeJSON(w, r, &in) {
		return
	}
	item, err := h.lib.AddItem(r.Context(), in)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetItem handles GET /api/items/{id}
func (h *LibraryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.lib.GetItem(r.Context(), idParam(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// UpdateItem handles PATCH /api/items/{id}
func (h *LibraryHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch services.ItemPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	item, err := h.lib.EditItem(r.Context(), idParam(r), patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// DeleteItem handles DELETE /api/items/{id}
func (h *LibraryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.RemoveItem(r.Context(), idParam(r)); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListPrompts handles GET /api/prompts
func (h *LibraryHandler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.lib.ListPrompts(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	if prompts == nil {
		prompts = []*models.Prompt{}
	}
	respondJSON(w, http.StatusOK, prompts)
}

// CreatePrompt handles POST /api/prompts
func (h *LibraryHandler) CreatePrompt(w http.ResponseWriter, r *http.Request) {
	var in services.PromptInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.lib.AddPrompt(r.Context(), in)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

// GetPrompt handles GET /api/prompts/{id}
func (h *LibraryHandler) GetPrompt(w http.ResponseWriter, r *http.Request) {
	p, err := h.lib.GetPrompt(r.Context(), idParam(r))
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// UpdatePrompt handles PATCH /api/prompts/{id}
func (h *LibraryHandler) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var patch services.PromptPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	p, err := h.lib.EditPrompt(r.Context(), idParam(r), patch)
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// DeletePrompt handles DELETE /api/prompts/{id}
func (h *LibraryHandler) DeletePrompt(w http.ResponseWriter, r *http.Request) {
	if err := h.lib.RemovePrompt(r.Context(), idParam(r)); err != nil {
		respondAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListLabels handles GET /api/labels/{kind}
func (h *LibraryHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.lib.Labels(r.Context(), models.LabelKind(chi.URLParam(r, "kind")))
	if err != nil {
		respondAppError(w, err)
		return
	}
	if labels == nil {
		labels = []*models.Label{}
	}
	respondJSON(w, http.StatusOK, labels)
}

func idParam(r *http.Request) models.UUID {
	return models.UUID(chi.URLParam(r, "id"))
}
