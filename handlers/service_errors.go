package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/botmesh/model-gateway/services"
	"github.com/botmesh/model-gateway/services/adapters"
	"github.com/botmesh/model-gateway/services/translate"
	"github.com/botmesh/model-gateway/utils"
)

// HandleOpenAIError writes a service error in the OpenAI dialect envelope.
func HandleOpenAIError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, message := errorStatus(err, logger)
	status, body := translate.MapToOpenAIError(status, message)
	if writeErr := utils.WriteJSON(w, status, body); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleAnthropicError writes a service error in the Anthropic dialect
// envelope. Capacity exhaustion surfaces as 529 overloaded_error.
func HandleAnthropicError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, message := errorStatus(err, logger)
	status, body := translate.MapToAnthropicError(status, message)
	if writeErr := utils.WriteJSON(w, status, body); writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleServiceError writes a service error in the management envelope. The
// operator routes use this; the model-serving routes use the dialect writers.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)

	switch {
	case services.IsValidationError(err), services.IsTranslationError(err):
		if writeErr := utils.WriteBadRequest(w, err.Error(), details); writeErr != nil {
			logger.Error("failed to write bad request response", zap.Error(writeErr))
		}

	case services.IsUnauthorizedError(err):
		if writeErr := utils.WriteUnauthorized(w, err.Error()); writeErr != nil {
			logger.Error("failed to write unauthorized response", zap.Error(writeErr))
		}

	case services.IsForbiddenError(err):
		if writeErr := utils.WriteForbidden(w, err.Error()); writeErr != nil {
			logger.Error("failed to write forbidden response", zap.Error(writeErr))
		}

	case services.IsNoProviderAvailable(err):
		if writeErr := utils.WriteServiceUnavailable(w, err.Error()); writeErr != nil {
			logger.Error("failed to write service unavailable response", zap.Error(writeErr))
		}

	case services.IsExternalError(err):
		if writeErr := utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse{
			Error:   "bad_gateway",
			Message: err.Error(),
		}); writeErr != nil {
			logger.Error("failed to write bad gateway response", zap.Error(writeErr))
		}

	default:
		logger.Error("internal server error", zap.Error(err))
		if writeErr := utils.WriteInternalServerError(w, "An internal error occurred"); writeErr != nil {
			logger.Error("failed to write internal error response", zap.Error(writeErr))
		}
	}
}

// errorStatus resolves a service error to the HTTP status and client message
// used before dialect mapping. Upstream provider rejections keep their
// original status; everything unrecognized collapses to a logged 500.
func errorStatus(err error, logger *zap.Logger) (int, string) {
	var provErr *adapters.ProviderError

	switch {
	case services.IsNoProviderAvailable(err):
		return http.StatusServiceUnavailable, err.Error()

	case services.IsValidationError(err), services.IsTranslationError(err):
		return http.StatusBadRequest, validationMessage(err)

	case services.IsUnauthorizedError(err):
		return http.StatusUnauthorized, domainMessage(err)

	case services.IsForbiddenError(err):
		return http.StatusForbidden, domainMessage(err)

	case errors.As(err, &provErr):
		status := provErr.HTTPStatus
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusBadGateway
		}
		return status, provErr.Message

	case services.IsExternalError(err):
		return http.StatusBadGateway, err.Error()

	default:
		logger.Error("internal server error", zap.Error(err))
		return http.StatusInternalServerError, "An internal error occurred"
	}
}

// domainMessage strips the internal type prefix a DomainError's Error()
// carries; clients see only the message text
func domainMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// validationMessage folds per-field details into the client message. The
// dialect envelopes carry a single message string, no structured field list.
func validationMessage(err error) string {
	message := domainMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		return message
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%v", details[k]))
	}
	return message + ": " + strings.Join(parts, "; ")
}
