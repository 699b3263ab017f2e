package transport

import (
	"net/http"
	"net/url"

	"storefront-catalog/internal/domain"
	"storefront-catalog/internal/middleware"
	"storefront-catalog/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CategoryHandler serves the employee category management routes and the
// storefront catalog reads.
type CategoryHandler struct {
	categories service.CategoryService
	products   service.ProductService
	logger     *zap.Logger
}

// NewCategoryHandler creates a new CategoryHandler
func NewCategoryHandler(categories service.CategoryService, products service.ProductService, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{
		categories: categories,
		products:   products,
		logger:     logger.Named("category_handler"),
	}
}

// RegisterRoutes mounts the employee routes under /category behind guard and
// the storefront routes under /api/catalog.
func (h *CategoryHandler) RegisterRoutes(r chi.Router, guard ...func(http.Handler) http.Handler) {
	r.Route("/category", func(r chi.Router) {
		r.Use(guard...)

		r.Get("/", h.GetTree)

		r.Post("/{main}", h.CreateMainCategory)
		r.Delete("/{main}", h.DeleteMainCategory)

		r.Post("/{main}/{category}", h.CreateCategory)
		r.Delete("/{main}/{category}", h.DeleteCategory)

		r.Get("/{main}/{category}/{subcategory}", h.GetSubcategory)
		r.Post("/{main}/{category}/{subcategory}", h.CreateSubcategory)
		r.Delete("/{main}/{category}/{subcategory}", h.DeleteSubcategory)
		r.Post("/{main}/{category}/{subcategory}/update", h.UpdateSubcategory)
	})

	r.Route("/api/catalog/categories", func(r chi.Router) {
		r.Get("/", h.GetStorefrontTree)
		r.Get("/{main}/{category}/{subcategory}", h.GetStorefrontSubcategory)
		r.Get("/{main}/{category}/{subcategory}/products", h.ListStorefrontProducts)
	})
}

// pathParam returns the decoded route segment; names may contain spaces or slashes.
// chi matches on RawPath when it is set and on the already decoded Path otherwise,
// so only RawPath segments still need unescaping.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if r.URL.RawPath == "" {
		return raw
	}
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func categoryKey(r *http.Request) domain.CategoryKey {
	return domain.CategoryKey{
		Main:     pathParam(r, "main"),
		Category: pathParam(r, "category"),
	}
}

func subcategoryKey(r *http.Request) domain.SubcategoryKey {
	return domain.SubcategoryKey{
		Main:        pathParam(r, "main"),
		Category:    pathParam(r, "category"),
		Subcategory: pathParam(r, "subcategory"),
	}
}

// GetTree returns the whole catalog including deleted entries
func (h *CategoryHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.categories.GetTree(r.Context(), true)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, tree)
}

// GetSubcategory returns one subcategory including deleted specifications
func (h *CategoryHandler) GetSubcategory(w http.ResponseWriter, r *http.Request) {
	sub, err := h.categories.GetSubcategory(r.Context(), subcategoryKey(r), true)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, sub)
}

func (h *CategoryHandler) CreateMainCategory(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "main")
	if err := h.categories.CreateMainCategory(r.Context(), name); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, map[string]string{"main_category": name})
}

func (h *CategoryHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	key := categoryKey(r)
	if err := h.categories.CreateCategory(r.Context(), key); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, key)
}

func (h *CategoryHandler) CreateSubcategory(w http.ResponseWriter, r *http.Request) {
	key := subcategoryKey(r)
	if err := h.categories.CreateSubcategory(r.Context(), key); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, key)
}

func (h *CategoryHandler) DeleteMainCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.categories.DeleteMainCategory(r.Context(), pathParam(r, "main")); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CategoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.categories.DeleteCategory(r.Context(), categoryKey(r)); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CategoryHandler) DeleteSubcategory(w http.ResponseWriter, r *http.Request) {
	if err := h.categories.DeleteSubcategory(r.Context(), subcategoryKey(r)); err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSubcategory reconciles the subcategory with the submitted desired state
func (h *CategoryHandler) UpdateSubcategory(w http.ResponseWriter, r *http.Request) {
	var update domain.SubcategoryUpdate
	if err := middleware.DecodeAndValidate(r, &update); err != nil {
		h.logger.Debug("Subcategory update validation failed", zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return
	}

	res, err := h.categories.UpdateSubcategory(r.Context(), subcategoryKey(r), update)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, res)
}

// GetStorefrontTree returns the catalog without deleted entries
func (h *CategoryHandler) GetStorefrontTree(w http.ResponseWriter, r *http.Request) {
	tree, err := h.categories.GetTree(r.Context(), false)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, tree)
}

func (h *CategoryHandler) GetStorefrontSubcategory(w http.ResponseWriter, r *http.Request) {
	sub, err := h.categories.GetSubcategory(r.Context(), subcategoryKey(r), false)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, sub)
}

func (h *CategoryHandler) ListStorefrontProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context(), subcategoryKey(r), false)
	if err != nil {
		middleware.RespondWithServiceError(w, h.logger, err)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}
