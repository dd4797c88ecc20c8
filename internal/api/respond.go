package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/apperr"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeAppError maps an error's kind to a status. Internal errors are logged
// and their details withheld.
func writeAppError(w http.ResponseWriter, r *http.Request, log *logrus.Entry, err error) {
	kind := apperr.KindOf(err)

	var ae *apperr.Error
	details := "internal error"
	if kind != apperr.Internal && errors.As(err, &ae) {
		details = ae.Message
	}

	if kind == apperr.Internal || kind == apperr.UpstreamUnavailable {
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}

	writeError(w, apperr.HTTPStatus(kind), kind.String(), details)
}

// decodeAndValidate reads a JSON body and applies its validate tags.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, apperr.InvalidInput.String(), formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Field()+" failed '"+e.Tag()+"'")
	}
	return strings.Join(msgs, ", ")
}
