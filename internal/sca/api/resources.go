package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/types"
	"psd2gateway/internal/sca/application"
	"psd2gateway/internal/sca/domain"
)

// CreatePaymentRequest is the JSON request body for initiating a payment.
type CreatePaymentRequest struct {
	PaymentType      string      `json:"paymentType"`
	PaymentProduct   string      `json:"paymentProduct"`
	InstructedAmount types.Money `json:"instructedAmount"`
	CreditorName     string      `json:"creditorName"`
	CreditorAccount  struct {
		IBAN string `json:"iban"`
	} `json:"creditorAccount"`
	Multilevel bool `json:"multilevelScaRequired"`
}

// PaymentResponse is the JSON response for a payment.
type PaymentResponse struct {
	PaymentID             string          `json:"paymentId"`
	TransactionStatus     string          `json:"transactionStatus"`
	PaymentType           string          `json:"paymentType,omitempty"`
	PaymentProduct        string          `json:"paymentProduct,omitempty"`
	InstructedAmount      *types.Money    `json:"instructedAmount,omitempty"`
	MultilevelScaRequired bool            `json:"multilevelScaRequired,omitempty"`
	Links                 map[string]Link `json:"_links,omitempty"`
}

// CreateConsentRequest is the JSON request body for an account access consent.
type CreateConsentRequest struct {
	RecurringIndicator bool   `json:"recurringIndicator"`
	ValidUntil         string `json:"validUntil"`
	FrequencyPerDay    int    `json:"frequencyPerDay"`
	Multilevel         bool   `json:"multilevelScaRequired"`
}

// ConsentResponse is the JSON response for a consent.
type ConsentResponse struct {
	ConsentID             string          `json:"consentId"`
	ConsentStatus         string          `json:"consentStatus"`
	RecurringIndicator    bool            `json:"recurringIndicator,omitempty"`
	ValidUntil            string          `json:"validUntil,omitempty"`
	FrequencyPerDay       int             `json:"frequencyPerDay,omitempty"`
	MultilevelScaRequired bool            `json:"multilevelScaRequired,omitempty"`
	Links                 map[string]Link `json:"_links,omitempty"`
}

// AspspStatusRequest is the bank's report on an out-of-band authorisation.
type AspspStatusRequest struct {
	ScaStatus string `json:"scaStatus"`
}

func paymentResponse(p *domain.Payment, full bool) PaymentResponse {
	resp := PaymentResponse{
		PaymentID:         p.ExternalID(),
		TransactionStatus: string(p.TransactionStatus()),
	}
	if full {
		amount := p.Amount()
		resp.PaymentType = string(p.PaymentType())
		resp.PaymentProduct = p.PaymentProduct()
		resp.InstructedAmount = &amount
		resp.MultilevelScaRequired = p.MultilevelScaRequired()
	}
	return resp
}

func consentResponse(c *domain.Consent, full bool) ConsentResponse {
	resp := ConsentResponse{
		ConsentID:     c.ExternalID(),
		ConsentStatus: string(c.ConsentStatus()),
	}
	if full {
		resp.RecurringIndicator = c.RecurringIndicator()
		resp.FrequencyPerDay = c.FrequencyPerDay()
		resp.MultilevelScaRequired = c.MultilevelScaRequired()
		if !c.ValidUntil().IsZero() {
			resp.ValidUntil = c.ValidUntil().Format(time.DateOnly)
		}
	}
	return resp
}

// CreatePayment handles POST /v1/payments.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, formatError(domain.ServiceTypePIS, "invalid request body"))
		return
	}
	if req.PaymentProduct == "" {
		h.handleError(w, r, formatError(domain.ServiceTypePIS, "paymentProduct is required"))
		return
	}
	paymentType := domain.PaymentType(req.PaymentType)
	if paymentType == "" {
		paymentType = domain.PaymentTypeSingle
	}

	payment, err := h.initiation.CreatePayment(ctx, application.CreatePaymentRequest{
		PaymentType:  paymentType,
		Product:      req.PaymentProduct,
		Amount:       req.InstructedAmount,
		CreditorName: req.CreditorName,
		CreditorIBAN: req.CreditorAccount.IBAN,
		Psu:          psuFromHeaders(r),
		Multilevel:   req.Multilevel,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := paymentResponse(payment, false)
	resp.Links = map[string]Link{
		"self":                           {Href: "/v1/payments/" + payment.ExternalID()},
		"status":                         {Href: "/v1/payments/" + payment.ExternalID() + "/status"},
		"startAuthorisation":             {Href: "/v1/payments/" + payment.ExternalID() + "/authorisations"},
		"startCancellationAuthorisation": {Href: "/v1/payments/" + payment.ExternalID() + "/cancellation-authorisations"},
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetPayment handles GET /v1/payments/{paymentId}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.initiation.GetPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, paymentResponse(payment, true))
}

// GetPaymentStatus handles GET /v1/payments/{paymentId}/status.
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	payment, err := h.initiation.GetPayment(r.Context(), r.PathValue("paymentId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"transactionStatus": string(payment.TransactionStatus())})
}

// CreateConsent handles POST /v1/consents.
func (h *Handler) CreateConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, formatError(domain.ServiceTypeAIS, "invalid request body"))
		return
	}

	var validUntil time.Time
	if req.ValidUntil != "" {
		d, err := time.Parse(time.DateOnly, req.ValidUntil)
		if err != nil {
			h.handleError(w, r, formatError(domain.ServiceTypeAIS, "validUntil must be a date"))
			return
		}
		// Valid through the whole named day.
		validUntil = d.Add(24*time.Hour - time.Second)
	}

	consent, err := h.initiation.CreateConsent(ctx, application.CreateConsentRequest{
		Psu:             psuFromHeaders(r),
		Recurring:       req.RecurringIndicator,
		ValidUntil:      validUntil,
		FrequencyPerDay: req.FrequencyPerDay,
		Multilevel:      req.Multilevel,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	resp := consentResponse(consent, false)
	resp.Links = map[string]Link{
		"self":               {Href: "/v1/consents/" + consent.ExternalID()},
		"status":             {Href: "/v1/consents/" + consent.ExternalID() + "/status"},
		"startAuthorisation": {Href: "/v1/consents/" + consent.ExternalID() + "/authorisations"},
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetConsent handles GET /v1/consents/{consentId}.
func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	consent, err := h.initiation.GetConsent(r.Context(), r.PathValue("consentId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, consentResponse(consent, true))
}

// GetConsentStatus handles GET /v1/consents/{consentId}/status.
func (h *Handler) GetConsentStatus(w http.ResponseWriter, r *http.Request) {
	consent, err := h.initiation.GetConsent(r.Context(), r.PathValue("consentId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"consentStatus": string(consent.ConsentStatus())})
}

// UpdateStatusFromAspsp handles POST /aspsp-api/v1/authorisations/{authorisationId}/status.
func (h *Handler) UpdateStatusFromAspsp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AspspStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, formatError(domain.ServiceTypePIS, "invalid request body"))
		return
	}
	status, ok := domain.ParseScaStatus(strings.TrimSpace(req.ScaStatus))
	if !ok {
		h.handleError(w, r, formatError(domain.ServiceTypePIS, "unknown scaStatus"))
		return
	}

	resp, err := h.authorisations.UpdateStatusFromAspsp(ctx, r.PathValue("authorisationId"), status)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	logging.InfoContext(ctx, "Authorisation settled by ASPSP",
		"authorisation_id", resp.AuthorisationID,
		"sca_status", resp.ScaStatus,
	)
	h.writeAuthorisation(w, r, http.StatusOK, resp)
}

// ListPaymentStatuses handles GET /aspsp-api/v1/payments/status?id=...
func (h *Handler) ListPaymentStatuses(w http.ResponseWriter, r *http.Request) {
	payments, err := h.initiation.ListPayments(r.Context(), r.URL.Query()["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, paymentResponse(p, false))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// ListConsentStatuses handles GET /aspsp-api/v1/consents/status?id=...
func (h *Handler) ListConsentStatuses(w http.ResponseWriter, r *http.Request) {
	consents, err := h.initiation.ListConsents(r.Context(), r.URL.Query()["id"])
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	out := make([]ConsentResponse, 0, len(consents))
	for _, c := range consents {
		out = append(out, consentResponse(c, false))
	}
	h.writeJSON(w, http.StatusOK, out)
}
