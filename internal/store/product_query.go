package store

import (
	"fmt"
	"strings"

	"github.com/safar/storefront/internal/database"
	"github.com/shopspring/decimal"
)

type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByTitle     SortField = "title"
	SortByPrice     SortField = "price"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// sortColumns is the only source of column text that reaches ORDER BY.
var sortColumns = map[SortField]string{
	SortByCreatedAt: "created_at",
	SortByTitle:     "title",
	SortByPrice:     "price",
}

var sortDirections = map[SortOrder]string{
	SortAsc:  "ASC",
	SortDesc: "DESC",
}

const (
	DefaultProductPageSize = 24
	MaxProductPageSize     = 100
)

func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SortByCreatedAt, nil
	case "created_at", "createdat", "newest":
		return SortByCreatedAt, nil
	case "title":
		return SortByTitle, nil
	case "price":
		return SortByPrice, nil
	}
	return "", database.NewValidationError("sortBy", "must be one of title, price, created_at")
}

func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SortDesc, nil
	case "asc":
		return SortAsc, nil
	case "desc":
		return SortDesc, nil
	}
	return "", database.NewValidationError("sortOrder", "must be asc or desc")
}

// ProductFilter selects rows from product_details. Zero-valued fields do not
// narrow the result.
type ProductFilter struct {
	Category  string
	Brand     string
	Size      string
	Color     string
	Condition string
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
	Sort      SortField
	Order     SortOrder
	Page      int
	PageSize  int
}

func (f *ProductFilter) normalize() error {
	if f.Sort == "" {
		f.Sort = SortByCreatedAt
	}
	if _, ok := sortColumns[f.Sort]; !ok {
		return database.NewValidationError("sortBy", "unsupported column %q", f.Sort)
	}
	if f.Order == "" {
		f.Order = SortDesc
	}
	if _, ok := sortDirections[f.Order]; !ok {
		return database.NewValidationError("sortOrder", "unsupported direction %q", f.Order)
	}

	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		return database.NewValidationError("minPrice", "must not be negative")
	}
	if f.MaxPrice != nil && f.MaxPrice.IsNegative() {
		return database.NewValidationError("maxPrice", "must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return database.NewValidationError("minPrice", "must not exceed maxPrice")
	}

	f.Page, f.PageSize = normalizePage(f.Page, f.PageSize, DefaultProductPageSize, MaxProductPageSize)
	return nil
}

func (f ProductFilter) where() (string, []any) {
	var conds []string
	var args []any

	add := func(format string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}

	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Brand != "" {
		add("brand = $%d", f.Brand)
	}
	if f.Size != "" {
		add("$%d = ANY(sizes)", f.Size)
	}
	if f.Color != "" {
		add("$%d = ANY(colors)", f.Color)
	}
	if f.Condition != "" {
		add("$%d = ANY(conditions)", f.Condition)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// BuildFilterQuery returns the page query, the matching count query, and the
// arguments for each. Only placeholders and fixed column names appear in the
// SQL text.
func BuildFilterQuery(f ProductFilter) (query string, args []any, countQuery string, countArgs []any, err error) {
	if err := f.normalize(); err != nil {
		return "", nil, "", nil, err
	}
	query, args, countQuery, countArgs = buildFilterQuery(f)
	return query, args, countQuery, countArgs, nil
}

// buildFilterQuery expects f to be normalized already.
func buildFilterQuery(f ProductFilter) (query string, args []any, countQuery string, countArgs []any) {
	where, whereArgs := f.where()
	dir := sortDirections[f.Order]

	countQuery = "SELECT COUNT(*) FROM product_details " + where
	countArgs = whereArgs

	args = append(append([]any{}, whereArgs...), f.PageSize, (f.Page-1)*f.PageSize)
	query = fmt.Sprintf(`SELECT %s FROM product_details %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		productColumns, where, sortColumns[f.Sort], dir, dir, len(args)-1, len(args))

	return query, args, countQuery, countArgs
}

// escapeLike makes user input literal inside an ILIKE pattern.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
