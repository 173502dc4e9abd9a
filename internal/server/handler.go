/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kentakayama/consent-over-http/internal/agent"
	"github.com/kentakayama/consent-over-http/internal/authority"
	"github.com/kentakayama/consent-over-http/internal/domain"
	"github.com/kentakayama/consent-over-http/internal/domain/model"
	"github.com/kentakayama/consent-over-http/internal/qr"
)

const (
	maxRequestBodyBytes = 64 << 10

	contentTypeJSON    = "application/json"
	contentTypeCOSE    = "application/cose"
	contentTypeCOSEKey = "application/cose-key"
	contentTypeText    = "text/plain; charset=utf-8"
)

type handler struct {
	authority *authority.Authority
	mux       *http.ServeMux
	publicURL string
	qrSize    int
	now       func() time.Time
	logger    *log.Logger
}

type handlerOptions struct {
	publicURL string
	qrSize    int
	now       func() time.Time
	logger    *log.Logger
}

type responseSpec struct {
	status      int
	body        []byte
	contentType string
	headers     map[string]string
}

type createConsentRequest struct {
	Hours *float64 `json:"hours,omitempty"`
	Scope []string `json:"scope,omitempty"`
}

type createConsentResponse struct {
	ID      string                       `json:"id"`
	Token   string                       `json:"token"`
	QR      string                       `json:"qr"`
	Expires time.Time                    `json:"expires"`
	Scope   []string                     `json:"scope"`
	Agents  map[string]map[string]string `json:"agents"`
}

type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func newHandler(a *authority.Authority, opts handlerOptions) (*handler, error) {
	if a == nil {
		return nil, errors.New("server: authority is required")
	}
	if opts.qrSize <= 0 {
		opts.qrSize = qr.DefaultSize
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.logger == nil {
		opts.logger = log.Default()
	}
	h := &handler{
		authority: a,
		mux:       http.NewServeMux(),
		publicURL: strings.TrimSuffix(opts.publicURL, "/"),
		qrSize:    opts.qrSize,
		now:       opts.now,
		logger:    opts.logger,
	}
	h.mux.HandleFunc("POST /api/consent", h.createConsent)
	h.mux.HandleFunc("GET /api/consent/{id}", h.consentStatus)
	h.mux.HandleFunc("DELETE /api/consent/{id}", h.revokeConsent)
	h.mux.HandleFunc("POST /api/verify", h.verifyToken)
	h.mux.HandleFunc("GET /api/key", h.publicKey)
	h.mux.HandleFunc("GET /agent/{platform}/{capability}/{id}", h.agentPayload)
	return h, nil
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *handler) createConsent(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var req createConsentRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Printf("failed to parse consent request: %v", err)
			http.Error(w, "failed to parse consent request", http.StatusBadRequest)
			return
		}
	}

	// zero lets the authority apply its default lifetime
	var ttl time.Duration
	if req.Hours != nil {
		if *req.Hours <= 0 {
			http.Error(w, "hours must be positive", http.StatusBadRequest)
			return
		}
		ttl = time.Duration(*req.Hours * float64(time.Hour))
	}
	scope := model.FullScope()
	if len(req.Scope) > 0 {
		var err error
		if scope, err = model.NewScope(req.Scope...); err != nil {
			h.writeError(w, err)
			return
		}
	}

	issued, err := h.authority.Issue(r.Context(), scope, ttl)
	if err != nil {
		h.logger.Printf("failed to issue consent: %v", err)
		h.writeError(w, err)
		return
	}

	qrURL, err := qr.DataURL(issued.TokenText, h.qrSize)
	if err != nil {
		h.logger.Printf("failed to render QR code for consent %s: %v", issued.Consent.Claims.ID, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	claims := issued.Consent.Claims
	h.writeJSON(w, http.StatusCreated, createConsentResponse{
		ID:      claims.ID,
		Token:   issued.TokenText,
		QR:      qrURL,
		Expires: claims.ExpiresAt,
		Scope:   claims.Scope.Strings(),
		Agents:  h.agentLinks(r, claims),
	})
	h.logger.Printf("consent %s issued: scope=%v expires=%s", claims.ID, claims.Scope.Strings(), claims.ExpiresAt.Format(time.RFC3339))
}

// agentLinks maps each platform to the payload URL of every scoped capability.
func (h *handler) agentLinks(r *http.Request, c model.Claims) map[string]map[string]string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}

	links := make(map[string]map[string]string)
	for _, platform := range h.authority.Platforms() {
		perCapability := make(map[string]string, len(c.Scope))
		for _, capability := range c.Scope {
			perCapability[string(capability)] = base + "/agent/" +
				url.PathEscape(platform) + "/" +
				url.PathEscape(string(capability)) + "/" +
				url.PathEscape(c.ID)
		}
		links[platform] = perCapability
	}
	return links
}

func (h *handler) agentPayload(w http.ResponseWriter, r *http.Request) {
	platform := r.PathValue("platform")
	capability := model.Capability(r.PathValue("capability"))
	id := r.PathValue("id")

	payload, err := h.authority.Redeem(r.Context(), id, capability, platform, h.now())
	if err != nil {
		h.logger.Printf("declined agent request: %v", err)
		h.writeError(w, err)
		return
	}

	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        payload,
		contentType: contentTypeText,
		headers: map[string]string{
			"Content-Disposition": "attachment; filename=" + agent.Filename(platform, id),
		},
	})
}

func (h *handler) consentStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	status, err := h.authority.Status(r.Context(), id)
	if err != nil {
		h.logger.Printf("failed to read status of consent %s: %v", id, err)
		h.writeError(w, err)
		return
	}
	if status == model.StatusUnknown {
		http.NotFound(w, r)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{ID: id, Status: status.String()})
}

func (h *handler) revokeConsent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.authority.Revoke(r.Context(), id); err != nil {
		h.logger.Printf("failed to revoke consent: %v", err)
		h.writeError(w, err)
		return
	}
	h.logger.Printf("consent %s revoked", id)
	h.writeResponse(w, responseSpec{status: http.StatusNoContent})
}

// verifyToken accepts either the raw COSE_Sign1 bytes or their base64url text.
func (h *handler) verifyToken(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	var valid bool
	if r.Header.Get("Content-Type") == contentTypeCOSE {
		valid = h.authority.Verify(body)
	} else {
		valid = h.authority.VerifyString(strings.TrimSpace(string(body)))
	}
	h.writeJSON(w, http.StatusOK, verifyResponse{Valid: valid})
}

func (h *handler) publicKey(w http.ResponseWriter, _ *http.Request) {
	key, err := h.authority.PublicKey()
	if err != nil {
		h.logger.Printf("failed to encode public key: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, responseSpec{
		status:      http.StatusOK,
		body:        key,
		contentType: contentTypeCOSEKey,
	})
}

func (h *handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		h.logger.Printf("failed reading request body: %v", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if err := r.Body.Close(); err != nil {
		h.logger.Printf("failed closing request body: %v", err)
		http.Error(w, "failed to close request body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// statusFor maps domain errors to HTTP status codes. Tampering is reported
// apart from every client error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrTampered):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrScopeDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnknownPlatform):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidScope),
		errors.Is(err, domain.ErrInvalidTTL),
		errors.Is(err, domain.ErrInvalidClaims),
		errors.Is(err, domain.ErrMalformedToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	if status < http.StatusInternalServerError {
		msg = err.Error()
	}
	http.Error(w, msg, status)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("failed to encode response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeResponse(w, responseSpec{
		status:      status,
		body:        body,
		contentType: contentTypeJSON,
	})
}

func (h *handler) writeResponse(w http.ResponseWriter, spec responseSpec) {
	w.Header().Set("Server", "consentd")

	if len(spec.body) > 0 {
		for k, v := range defaultHeaders {
			w.Header().Set(k, v)
		}
		for k, v := range spec.headers {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", spec.contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(spec.body)))
		w.WriteHeader(spec.status)
		if _, err := w.Write(spec.body); err != nil {
			h.logger.Printf("failed writing response body: %v", err)
		}
		return
	}

	w.WriteHeader(spec.status)
}

var defaultHeaders = map[string]string{
	"Cache-Control":           "no-store",
	"X-Content-Type-Options":  "nosniff",
	"Content-Security-Policy": "default-src 'none'",
	"Referrer-Policy":         "no-referrer",
}
