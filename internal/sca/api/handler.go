package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/sca/application"
	"psd2gateway/internal/sca/domain"
)

// Handler implements the HTTP handlers for the SCA gateway.
type Handler struct {
	authorisations *application.AuthorisationService
	initiation     *application.InitiationService
}

// NewHandler creates a new Handler.
func NewHandler(engine *application.Engine) *Handler {
	return &Handler{
		authorisations: engine.Authorisations,
		initiation:     engine.Initiation,
	}
}

// authorisationResource binds a sub-resource path to its authorisation type.
type authorisationResource struct {
	prefix   string
	authType domain.AuthorisationType
}

var authorisationResources = []authorisationResource{
	{prefix: "/v1/payments/{parentId}/authorisations", authType: domain.AuthorisationTypePISCreation},
	{prefix: "/v1/payments/{parentId}/cancellation-authorisations", authType: domain.AuthorisationTypePISCancellation},
	{prefix: "/v1/consents/{parentId}/authorisations", authType: domain.AuthorisationTypeAIS},
}

// RegisterRoutes registers the gateway routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	for _, res := range authorisationResources {
		mux.HandleFunc("POST "+res.prefix, h.StartAuthorisation(res.authType))
		mux.HandleFunc("GET "+res.prefix, h.ListAuthorisations(res.authType))
		mux.HandleFunc("PUT "+res.prefix+"/{authorisationId}", h.UpdatePsuData(res.authType))
		mux.HandleFunc("GET "+res.prefix+"/{authorisationId}", h.GetScaStatus(res.authType))
	}

	mux.HandleFunc("POST /v1/payments", h.CreatePayment)
	mux.HandleFunc("GET /v1/payments/{paymentId}", h.GetPayment)
	mux.HandleFunc("GET /v1/payments/{paymentId}/status", h.GetPaymentStatus)
	mux.HandleFunc("POST /v1/consents", h.CreateConsent)
	mux.HandleFunc("GET /v1/consents/{consentId}", h.GetConsent)
	mux.HandleFunc("GET /v1/consents/{consentId}/status", h.GetConsentStatus)

	mux.HandleFunc("POST /aspsp-api/v1/authorisations/{authorisationId}/status", h.UpdateStatusFromAspsp)
	mux.HandleFunc("GET /aspsp-api/v1/payments/status", h.ListPaymentStatuses)
	mux.HandleFunc("GET /aspsp-api/v1/consents/status", h.ListConsentStatuses)
}

// PsuDataBody carries the PSU password in update requests.
type PsuDataBody struct {
	Password string `json:"password"`
}

// StartAuthorisationRequest is the optional JSON body of a start request.
type StartAuthorisationRequest struct {
	PsuData *PsuDataBody `json:"psuData,omitempty"`
}

// UpdatePsuDataRequest is the JSON body of an update request.
type UpdatePsuDataRequest struct {
	PsuData                *PsuDataBody `json:"psuData,omitempty"`
	AuthenticationMethodID string       `json:"authenticationMethodId,omitempty"`
	ScaAuthenticationData  string       `json:"scaAuthenticationData,omitempty"`
}

// Link is a hypermedia reference.
type Link struct {
	Href string `json:"href"`
}

// AuthorisationResponse is the JSON response for start and update requests.
type AuthorisationResponse struct {
	AuthorisationID string                        `json:"authorisationId"`
	ScaStatus       string                        `json:"scaStatus"`
	ScaApproach     string                        `json:"scaApproach,omitempty"`
	PsuMessage      string                        `json:"psuMessage,omitempty"`
	ChosenScaMethod *domain.AuthenticationObject  `json:"chosenScaMethod,omitempty"`
	ScaMethods      []domain.AuthenticationObject `json:"scaMethods,omitempty"`
	ChallengeData   *domain.ChallengeData         `json:"challengeData,omitempty"`
	Links           map[string]Link               `json:"_links,omitempty"`
	TppMessages     []TppMessageBody              `json:"tppMessages,omitempty"`
}

// ScaStatusResponse is the JSON response for an SCA status read.
type ScaStatusResponse struct {
	ScaStatus string `json:"scaStatus"`
}

// AuthorisationListResponse lists the authorisation ids of a resource.
type AuthorisationListResponse struct {
	AuthorisationIDs []string `json:"authorisationIds"`
}

// StartAuthorisation handles POST {resource}/authorisations.
func (h *Handler) StartAuthorisation(authType domain.AuthorisationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		service := authType.ServiceType()

		var body StartAuthorisationRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			h.handleError(w, r, formatError(service, "invalid request body"))
			return
		}

		redirectPreferred, err := boolHeader(r, "TPP-Redirect-Preferred")
		if err != nil {
			h.handleError(w, r, formatError(service, "TPP-Redirect-Preferred must be a boolean"))
			return
		}
		decoupledPreferred, err := boolHeader(r, "TPP-Decoupled-Preferred")
		if err != nil {
			h.handleError(w, r, formatError(service, "TPP-Decoupled-Preferred must be a boolean"))
			return
		}

		req := application.CreateAuthorisationRequest{
			Type:               authType,
			ParentID:           r.PathValue("parentId"),
			Psu:                psuFromHeaders(r),
			RedirectPreferred:  redirectPreferred,
			DecoupledPreferred: decoupledPreferred,
		}
		if body.PsuData != nil {
			req.Password = body.PsuData.Password
		}

		resp, err := h.authorisations.CreateAuthorisation(ctx, req)
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		logging.InfoContext(ctx, "Authorisation started",
			"authorisation_id", resp.AuthorisationID,
			"type", authType,
			"approach", resp.ScaApproach,
		)
		h.writeAuthorisation(w, r, http.StatusCreated, resp)
	}
}

// UpdatePsuData handles PUT {resource}/authorisations/{authorisationId}.
func (h *Handler) UpdatePsuData(authType domain.AuthorisationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body UpdatePsuDataRequest
		if err := decodeOptionalBody(r, &body); err != nil {
			h.handleError(w, r, formatError(authType.ServiceType(), "invalid request body"))
			return
		}

		req := application.UpdatePsuDataRequest{
			Type:                   authType,
			ParentID:               r.PathValue("parentId"),
			AuthorisationID:        r.PathValue("authorisationId"),
			Psu:                    psuFromHeaders(r),
			AuthenticationMethodID: body.AuthenticationMethodID,
			ScaAuthenticationData:  body.ScaAuthenticationData,
		}
		if body.PsuData != nil {
			req.Password = body.PsuData.Password
		}

		resp, err := h.authorisations.UpdatePsuData(ctx, req)
		if err != nil {
			h.handleError(w, r, err)
			return
		}

		h.writeAuthorisation(w, r, http.StatusOK, resp)
	}
}

// GetScaStatus handles GET {resource}/authorisations/{authorisationId}.
func (h *Handler) GetScaStatus(authType domain.AuthorisationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := h.authorisations.GetScaStatus(r.Context(), authType, r.PathValue("parentId"), r.PathValue("authorisationId"))
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, ScaStatusResponse{ScaStatus: status.String()})
	}
}

// ListAuthorisations handles GET {resource}/authorisations.
func (h *Handler) ListAuthorisations(authType domain.AuthorisationType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := h.authorisations.GetAuthorisationIDs(r.Context(), authType, r.PathValue("parentId"))
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		h.writeJSON(w, http.StatusOK, AuthorisationListResponse{AuthorisationIDs: ids})
	}
}

// writeAuthorisation renders an engine response. A stage that failed at the
// bank is reported with the failure status and the authorisation body.
func (h *Handler) writeAuthorisation(w http.ResponseWriter, r *http.Request, status int, resp *application.AuthorisationResponse) {
	body := AuthorisationResponse{
		AuthorisationID: resp.AuthorisationID,
		ScaStatus:       resp.ScaStatus.String(),
		ScaApproach:     string(resp.ScaApproach),
		PsuMessage:      resp.PsuMessage,
		ChosenScaMethod: resp.ChosenScaMethod,
		ScaMethods:      resp.AvailableScaMethods,
		ChallengeData:   resp.ChallengeData,
		Links:           map[string]Link{"scaStatus": {Href: r.URL.Path}},
	}
	if r.Method == http.MethodPost {
		body.Links["scaStatus"] = Link{Href: strings.TrimSuffix(r.URL.Path, "/") + "/" + resp.AuthorisationID}
	}
	if resp.RedirectURI != "" {
		body.Links["scaRedirect"] = Link{Href: resp.RedirectURI}
	}
	if resp.ErrorHolder != nil {
		body.TppMessages = errorBody(holderError(resp.ErrorHolder)).TppMessages
		status = resp.ErrorHolder.ErrorType.Status
	}
	h.writeJSON(w, status, body)
}

// psuFromHeaders reads the PSU identification headers.
func psuFromHeaders(r *http.Request) domain.PsuIdData {
	return domain.PsuIdData{
		ID:              strings.TrimSpace(r.Header.Get("PSU-ID")),
		IDType:          strings.TrimSpace(r.Header.Get("PSU-ID-Type")),
		CorporateID:     strings.TrimSpace(r.Header.Get("PSU-Corporate-ID")),
		CorporateIDType: strings.TrimSpace(r.Header.Get("PSU-Corporate-ID-Type")),
		IPAddress:       strings.TrimSpace(r.Header.Get("PSU-IP-Address")),
	}
}

// boolHeader parses an optional boolean header. Absent headers return nil.
func boolHeader(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.Header.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeOptionalBody decodes a JSON body, accepting an empty one.
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
