package api

import (
	"net/http"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/shopspring/decimal"
)

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page := intParam(r, "page", 1, 1, 1<<20)
	pageSize := intParam(r, "page_size", store.DefaultProductPageSize, 1, store.MaxProductPageSize)

	result, err := store.ListProducts(r.Context(), s.db, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleFilterProducts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseProductFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := store.FilterProducts(r.Context(), s.db, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseProductFilter(r *http.Request) (store.ProductFilter, error) {
	q := r.URL.Query()
	filter := store.ProductFilter{
		Category:  strings.TrimSpace(q.Get("category")),
		Brand:     strings.TrimSpace(q.Get("brand")),
		Size:      strings.TrimSpace(q.Get("size")),
		Color:     strings.TrimSpace(q.Get("color")),
		Condition: strings.TrimSpace(q.Get("condition")),
		Page:      intParam(r, "page", 1, 1, 1<<20),
		PageSize:  intParam(r, "page_size", store.DefaultProductPageSize, 1, store.MaxProductPageSize),
	}

	var err error
	if filter.MinPrice, err = decimalParam(r, "minPrice"); err != nil {
		return filter, err
	}
	if filter.MaxPrice, err = decimalParam(r, "maxPrice"); err != nil {
		return filter, err
	}
	if filter.Sort, err = store.ParseSortField(q.Get("sortBy")); err != nil {
		return filter, err
	}
	if filter.Order, err = store.ParseSortOrder(q.Get("sortOrder")); err != nil {
		return filter, err
	}
	return filter, nil
}

func decimalParam(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, database.NewValidationError(key, "must be a number")
	}
	return &d, nil
}

func (s *Server) handleSearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := store.SearchProducts(r.Context(), s.db, r.URL.Query().Get("query"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	product, err := store.GetProduct(r.Context(), s.db, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in models.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := store.CreateProduct(r.Context(), s.db, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in models.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	product, err := store.UpdateProduct(r.Context(), s.db, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := store.DeleteProduct(r.Context(), s.db, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := store.ListBrands(r.Context(), s.db)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, brands)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := store.ListCategories(r.Context(), s.db)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
