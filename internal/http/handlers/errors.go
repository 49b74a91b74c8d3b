package handlers

import (
	"net/http"

	"github.com/yungbote/promptbridge-backend/internal/platform/apierr"
	"github.com/yungbote/promptbridge-backend/internal/platform/bubble"
)

// storeError maps a store or pipeline error onto the HTTP status for its kind.
func storeError(err error) *apierr.Error {
	kind := bubble.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case bubble.KindConfiguration:
		status = http.StatusInternalServerError
	case bubble.KindValidation:
		status = http.StatusUnprocessableEntity
	case bubble.KindUnauthorized:
		status = http.StatusUnauthorized
	case bubble.KindForbidden:
		status = http.StatusForbidden
	case bubble.KindNotFound:
		status = http.StatusNotFound
	}
	return apierr.New(status, string(kind), err)
}
