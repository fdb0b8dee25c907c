package httpx

import (
	"errors"
	"net/http"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrQuantityIntegrity):
		Problem(w, http.StatusUnprocessableEntity, "Quantity Integrity", err.Error())
	case errors.Is(err, shared.ErrUnbalancedVoucher):
		Problem(w, http.StatusUnprocessableEntity, "Unbalanced Voucher", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
