// Package errormapper translates bank adapter failures into the TPP message
// taxonomy. Translation never fails: anything it does not recognise becomes
// FORMAT_ERROR.
package errormapper

import (
	"psd2gateway/internal/sca/domain"
	"psd2gateway/internal/sca/spi"
)

var defaultTexts = map[domain.MessageErrorCode]string{
	domain.CodeFormatError:           "Format of certain request fields are not matching the XS2A requirements",
	domain.CodeParameterNotSupported: "The parameter is not supported by the ASPSP",
	domain.CodeScaMethodUnknown:      "SCA method unknown or not available for this PSU",
	domain.CodePaymentFailed:         "The payment initiation has failed",
	domain.CodePsuCredentialsInvalid: "The PSU credentials are invalid",
	domain.CodeScaInvalid:            "The authentication data is invalid",
	domain.CodeUnauthorized:          "The request is not authorised",
	domain.CodeResourceUnknown403:    "The addressed resource is unknown relative to the TPP",
	domain.CodeConsentUnknown403:     "The consent is unknown relative to the TPP",
	domain.CodeResourceExpired403:    "The addressed resource is expired",
	domain.CodeServiceBlocked:        "The service is blocked for this PSU",
	domain.CodeProductInvalid:        "The addressed payment product is not available for this PSU",
	domain.CodeResourceUnknown404:    "The addressed resource is unknown",
	domain.CodeServiceInvalid405:     "The addressed service is not valid for the addressed resource",
	domain.CodeCancellationInvalid:   "The addressed payment is not cancellable",
	domain.CodeStatusInvalid:         "The addressed resource does not allow additional authorisation",
	domain.CodeInternalServerError:   "Internal server error",
	domain.CodeServiceUnavailable:    "The ASPSP service is not available",
}

// serviceRemap rewrites codes that do not exist in a service's namespace.
var serviceRemap = map[domain.ServiceType]map[domain.MessageErrorCode]domain.MessageErrorCode{
	domain.ServiceTypePIS: {
		domain.CodeConsentUnknown403: domain.CodeResourceUnknown403,
	},
	domain.ServiceTypeAIS: {
		domain.CodePaymentFailed:       domain.CodeFormatError,
		domain.CodeCancellationInvalid: domain.CodeFormatError,
		domain.CodeResourceUnknown403:  domain.CodeConsentUnknown403,
	},
}

// DefaultText returns the message sent to the TPP for code.
func DefaultText(code domain.MessageErrorCode) string {
	return defaultTexts[code]
}

// ToErrorHolder maps adapter errors into a holder for service. The error
// type status is taken from the first mapped code. Bank supplied texts are
// not forwarded.
func ToErrorHolder(errs []spi.Error, service domain.ServiceType) *domain.ErrorHolder {
	if len(errs) == 0 {
		return domain.NewErrorHolder(service, domain.CodeFormatError, DefaultText(domain.CodeFormatError))
	}

	messages := make([]domain.TppMessage, 0, len(errs))
	for _, e := range errs {
		code := MapCode(e.Code, service)
		messages = append(messages, domain.TppMessage{Code: code, Text: DefaultText(code)})
	}

	return &domain.ErrorHolder{
		ErrorType:   domain.ErrorType{Service: service, Status: messages[0].Code.HTTPStatus()},
		TppMessages: messages,
	}
}

// MapCode maps one adapter code into the namespace of service.
func MapCode(raw string, service domain.ServiceType) domain.MessageErrorCode {
	code, ok := domain.ParseMessageErrorCode(raw)
	if !ok {
		return domain.CodeFormatError
	}
	if remapped, ok := serviceRemap[service][code]; ok {
		return remapped
	}
	return code
}

// Holder builds a single-message holder with the default text for code.
func Holder(service domain.ServiceType, code domain.MessageErrorCode) *domain.ErrorHolder {
	mapped := MapCode(string(code), service)
	return domain.NewErrorHolder(service, mapped, DefaultText(mapped))
}
