// Package shared holds the pieces every feature handler uses: request
// decoding and the network callback envelope.
package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	dErrors "mobility-bap/pkg/domain-errors"
	"mobility-bap/pkg/platform/httputil"
)

// MaxRequestBytes bounds a local API request body.
const MaxRequestBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeJSON reads a bounded JSON body into v and runs its validate tags.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxRequestBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeBadRequest, "request body is required")
		}
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	if err := validate.StructCtx(r.Context(), v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	return nil
}

// WriteError is httputil.WriteError, re-exported so handlers need one import.
func WriteError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}
