package api

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/sca/application/errormapper"
	"psd2gateway/internal/sca/domain"
)

// tppMessagesKey holds the protocol messages in the envelope metadata.
const tppMessagesKey = "tppMessages"

// TppMessageBody is one entry of the protocol error response.
type TppMessageBody struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Text     string `json:"text,omitempty"`
}

// ErrorResponse is the protocol error response body.
type ErrorResponse struct {
	TppMessages []TppMessageBody `json:"tppMessages"`
}

var statusCategory = map[int]goerrors.Category{
	http.StatusBadRequest:          goerrors.CategoryBadInput,
	http.StatusUnauthorized:        goerrors.CategoryAuth,
	http.StatusForbidden:           goerrors.CategoryAuthz,
	http.StatusNotFound:            goerrors.CategoryNotFound,
	http.StatusMethodNotAllowed:    goerrors.CategoryOperation,
	http.StatusConflict:            goerrors.CategoryConflict,
	http.StatusServiceUnavailable:  goerrors.CategoryExternal,
	http.StatusInternalServerError: goerrors.CategoryInternal,
}

// holderError wraps a protocol error holder into the service envelope.
func holderError(holder *domain.ErrorHolder) *goerrors.Error {
	category, ok := statusCategory[holder.ErrorType.Status]
	if !ok {
		category = goerrors.CategoryBadInput
	}
	text := ""
	if len(holder.TppMessages) > 0 {
		text = holder.TppMessages[0].Text
	}
	if text == "" {
		text = errormapper.DefaultText(holder.Code())
	}
	return goerrors.New(text, category).
		WithCode(holder.ErrorType.Status).
		WithTextCode(string(holder.Code())).
		WithMetadata(map[string]any{
			"service":      string(holder.ErrorType.Service),
			tppMessagesKey: holder.TppMessages,
		})
}

// formatError is a malformed request rejected before reaching the engine.
func formatError(service domain.ServiceType, message string) *goerrors.Error {
	holder := domain.NewErrorHolder(service, domain.CodeFormatError, message)
	return holderError(holder)
}

// toServiceError converts whatever the engine returned into the envelope.
func toServiceError(err error) *goerrors.Error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	var holder *domain.ErrorHolder
	if errors.As(err, &holder) {
		return holderError(holder)
	}
	if errors.Is(err, domain.ErrOptimisticLock) {
		return goerrors.New("concurrent modification detected, please retry", goerrors.CategoryConflict).
			WithCode(http.StatusConflict).
			WithTextCode(string(domain.CodeStatusInvalid))
	}
	return goerrors.New(errormapper.DefaultText(domain.CodeInternalServerError), goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(string(domain.CodeInternalServerError))
}

// errorBody renders the envelope as protocol messages.
func errorBody(rich *goerrors.Error) ErrorResponse {
	if msgs, ok := rich.Metadata[tppMessagesKey].([]domain.TppMessage); ok && len(msgs) > 0 {
		out := make([]TppMessageBody, 0, len(msgs))
		for _, m := range msgs {
			text := m.Text
			if text == "" {
				text = errormapper.DefaultText(m.Code)
			}
			out = append(out, TppMessageBody{Category: "ERROR", Code: string(m.Code), Text: text})
		}
		return ErrorResponse{TppMessages: out}
	}
	return ErrorResponse{TppMessages: []TppMessageBody{{
		Category: "ERROR",
		Code:     rich.TextCode,
		Text:     rich.Message,
	}}}
}

// handleError writes err as a protocol error response.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	rich := toServiceError(err)
	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorContext(r.Context(), "Unhandled error", "error", err, "path", r.URL.Path)
	}
	h.writeJSON(w, status, errorBody(rich))
}
