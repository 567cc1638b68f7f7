package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/payment"
)

const maxBodyBytes = 1 << 20

var errRateLimited = errors.New("too many requests")

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes. Anything unrecognised is
// a 500.
func statusFor(err error) int {
	var verr *database.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, payment.ErrInvalidAmount),
		errors.Is(err, payment.ErrInvalidSignature),
		database.IsCheckViolation(err):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrForbidden),
		errors.Is(err, auth.ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrBrandNotFound),
		errors.Is(err, database.ErrCategoryNotFound),
		errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrSubscriberNotFound),
		database.IsForeignKeyViolation(err):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrPriceChanged),
		errors.Is(err, database.ErrOrderNotDeletable),
		errors.Is(err, database.ErrInvalidTransition),
		errors.Is(err, database.ErrOptimisticLockFailed),
		errors.Is(err, database.ErrLockTimeout),
		errors.Is(err, checkout.ErrIdempotencyKeyReused),
		database.IsUniqueViolation(err):
		return http.StatusConflict
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, payment.ErrProvider):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err for the client. Server-side failures are logged with
// the request id and the client only sees a fixed message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	resp := errorResponse{RequestID: requestIDFrom(r.Context())}

	var verr *database.ValidationError
	switch {
	case code == http.StatusInternalServerError:
		log.Printf("ERROR %s %s request_id=%s: %v", r.Method, r.URL.Path, resp.RequestID, err)
		resp.Error = "internal server error"
	case code == http.StatusBadGateway:
		log.Printf("WARN %s %s request_id=%s: %v", r.Method, r.URL.Path, resp.RequestID, err)
		resp.Error = "payment provider unavailable"
	case code == http.StatusUnauthorized:
		resp.Error = "unauthorized"
	case errors.As(err, &verr):
		resp.Error = verr.Error()
		resp.Field = verr.Field
	case database.IsUniqueViolation(err), database.IsForeignKeyViolation(err), database.IsCheckViolation(err):
		resp.Error = strings.ToLower(http.StatusText(code))
	default:
		resp.Error = err.Error()
	}

	writeJSON(w, code, resp)
}

func decodeJSON(r *http.Request, v any) error {
	return readJSONBody(r, v, false)
}

// decodeOptionalJSON leaves v untouched when the body is missing or blank,
// whatever Content-Length or Transfer-Encoding the client sent.
func decodeOptionalJSON(r *http.Request, v any) error {
	return readJSONBody(r, v, true)
}

func readJSONBody(r *http.Request, v any, optional bool) error {
	if r.Body == nil || r.Body == http.NoBody {
		if optional {
			return nil
		}
		return database.NewValidationError("body", "empty request body")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return database.NewValidationError("body", "unreadable")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		if optional {
			return nil
		}
		return database.NewValidationError("body", "empty request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return database.NewValidationError("body", "invalid JSON payload")
	}
	return nil
}

func intParam(r *http.Request, key string, def, min, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id < 1 {
		return 0, database.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}
