package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// MessageErrorCode is a Berlin Group TPP message code.
type MessageErrorCode string

const (
	CodeFormatError           MessageErrorCode = "FORMAT_ERROR"
	CodeParameterNotSupported MessageErrorCode = "PARAMETER_NOT_SUPPORTED"
	CodeScaMethodUnknown      MessageErrorCode = "SCA_METHOD_UNKNOWN"
	CodePaymentFailed         MessageErrorCode = "PAYMENT_FAILED"
	CodePsuCredentialsInvalid MessageErrorCode = "PSU_CREDENTIALS_INVALID"
	CodeScaInvalid            MessageErrorCode = "SCA_INVALID"
	CodeUnauthorized          MessageErrorCode = "UNAUTHORIZED"
	CodeResourceUnknown403    MessageErrorCode = "RESOURCE_UNKNOWN_403"
	CodeConsentUnknown403     MessageErrorCode = "CONSENT_UNKNOWN_403"
	CodeResourceExpired403    MessageErrorCode = "RESOURCE_EXPIRED_403"
	CodeServiceBlocked        MessageErrorCode = "SERVICE_BLOCKED"
	CodeProductInvalid        MessageErrorCode = "PRODUCT_INVALID"
	CodeResourceUnknown404    MessageErrorCode = "RESOURCE_UNKNOWN_404"
	CodeServiceInvalid405     MessageErrorCode = "SERVICE_INVALID_405"
	CodeCancellationInvalid   MessageErrorCode = "CANCELLATION_INVALID"
	CodeStatusInvalid         MessageErrorCode = "STATUS_INVALID"
	CodeInternalServerError   MessageErrorCode = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable    MessageErrorCode = "SERVICE_UNAVAILABLE"
)

var messageCodeStatus = map[MessageErrorCode]int{
	CodeFormatError:           http.StatusBadRequest,
	CodeParameterNotSupported: http.StatusBadRequest,
	CodeScaMethodUnknown:      http.StatusBadRequest,
	CodePaymentFailed:         http.StatusBadRequest,
	CodePsuCredentialsInvalid: http.StatusUnauthorized,
	CodeScaInvalid:            http.StatusUnauthorized,
	CodeUnauthorized:          http.StatusUnauthorized,
	CodeResourceUnknown403:    http.StatusForbidden,
	CodeConsentUnknown403:     http.StatusForbidden,
	CodeResourceExpired403:    http.StatusForbidden,
	CodeServiceBlocked:        http.StatusForbidden,
	CodeProductInvalid:        http.StatusForbidden,
	CodeResourceUnknown404:    http.StatusNotFound,
	CodeServiceInvalid405:     http.StatusMethodNotAllowed,
	CodeCancellationInvalid:   http.StatusMethodNotAllowed,
	CodeStatusInvalid:         http.StatusConflict,
	CodeInternalServerError:   http.StatusInternalServerError,
	CodeServiceUnavailable:    http.StatusServiceUnavailable,
}

// ParseMessageErrorCode reports whether s is a known code.
func ParseMessageErrorCode(s string) (MessageErrorCode, bool) {
	code := MessageErrorCode(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := messageCodeStatus[code]
	return code, ok
}

// HTTPStatus returns the status class the code is reported with.
func (c MessageErrorCode) HTTPStatus() int {
	if status, ok := messageCodeStatus[c]; ok {
		return status
	}
	return http.StatusBadRequest
}

// ErrorType is a per-service error namespace such as PIS_401 or AIS_403.
type ErrorType struct {
	Service ServiceType
	Status  int
}

func (e ErrorType) String() string {
	return fmt.Sprintf("%s_%d", e.Service, e.Status)
}

// TppMessage is one entry of the protocol error body.
type TppMessage struct {
	Code   MessageErrorCode `json:"code"`
	Text   string           `json:"text,omitempty"`
	Params []string         `json:"params,omitempty"`
}

// ErrorHolder carries a protocol error. It is attached to a FAILED
// transition or returned on its own for validation refusals.
type ErrorHolder struct {
	ErrorType   ErrorType
	TppMessages []TppMessage
}

// NewErrorHolder builds a holder whose status is derived from code.
func NewErrorHolder(service ServiceType, code MessageErrorCode, text string, params ...string) *ErrorHolder {
	return &ErrorHolder{
		ErrorType:   ErrorType{Service: service, Status: code.HTTPStatus()},
		TppMessages: []TppMessage{{Code: code, Text: text, Params: params}},
	}
}

// Code returns the first message code.
func (h *ErrorHolder) Code() MessageErrorCode {
	if h == nil || len(h.TppMessages) == 0 {
		return ""
	}
	return h.TppMessages[0].Code
}

// Error implements [error].
func (h *ErrorHolder) Error() string {
	codes := make([]string, 0, len(h.TppMessages))
	for _, m := range h.TppMessages {
		codes = append(codes, string(m.Code))
	}
	return fmt.Sprintf("%s: %s", h.ErrorType, strings.Join(codes, ", "))
}
