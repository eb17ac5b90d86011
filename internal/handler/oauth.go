package handler

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/pulsefit/sync-server-go/internal/audit"
	apperrors "github.com/pulsefit/sync-server-go/internal/errors"
	"github.com/pulsefit/sync-server-go/internal/middleware"
	"github.com/pulsefit/sync-server-go/internal/service"
)

// popupTemplate posts the flow outcome to the opener window and closes the
// popup. targetOrigin is the origin captured when the flow started, so the
// message cannot leak to an unrelated opener.
var popupTemplate = template.Must(template.New("popup").Parse(`<!DOCTYPE html>
<html>
<head><title>Fitbit Connection</title></head>
<body>
<script>
if (window.opener) {
	window.opener.postMessage({{.Payload}}, {{.TargetOrigin}});
}
window.close();
</script>
<p>You can close this window.</p>
</body>
</html>`))

type OAuthHandler struct {
	connectService *service.ConnectService
}

func NewOAuthHandler(connectService *service.ConnectService) *OAuthHandler {
	return &OAuthHandler{connectService: connectService}
}

// Connect returns the provider consent URL for the authenticated user.
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	popup := r.URL.Query().Get("popup") == "1"
	origin := r.Header.Get("Origin")

	authURL, err := h.connectService.AuthorizeURL(r.Context(), user.ID, origin, popup)
	if err != nil {
		log.Error().Err(err).Str("userId", user.ID).Msg("failed to build authorization URL")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": authURL})
}

// Callback is the provider redirect target. It is unauthenticated; the state
// parameter is what binds the request to a user.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")
	providerError := query.Get("error")

	result, err := h.connectService.HandleCallback(r.Context(), code, state, providerError)
	if err != nil {
		h.finishCallback(w, r, result, err)
		return
	}

	h.finishCallback(w, r, result, nil)
}

// finishCallback answers the browser: a postMessage page for the popup flow,
// a redirect with a query indicator otherwise.
func (h *OAuthHandler) finishCallback(w http.ResponseWriter, r *http.Request, result *service.CallbackResult, flowErr error) {
	reason := ""
	if flowErr != nil {
		switch apperrors.GetCode(flowErr) {
		case apperrors.ErrCodeOAuthDenied:
			reason = "oauth_denied"
			audit.LogFromRequest(r, audit.Event{Type: audit.EventOAuthDenied})
		case apperrors.ErrCodeInvalidState, apperrors.ErrCodeMissingRequired:
			reason = "invalid_state"
			audit.LogFromRequest(r, audit.Event{Type: audit.EventStateRejected})
		case apperrors.ErrCodeUpstreamRateLimited:
			reason = "rate_limited"
		default:
			reason = "oauth_failed"
		}
		log.Warn().Err(flowErr).Str("reason", reason).Msg("oauth callback failed")
	}

	if result != nil && result.Popup {
		h.renderPopup(w, result.Origin, reason)
		return
	}

	if flowErr != nil {
		http.Redirect(w, r, h.connectService.FailureRedirectURL(reason), http.StatusFound)
		return
	}
	http.Redirect(w, r, h.connectService.SuccessRedirectURL(), http.StatusFound)
}

func (h *OAuthHandler) renderPopup(w http.ResponseWriter, origin, reason string) {
	payload := map[string]any{
		"source":    "fitbit-oauth",
		"connected": reason == "",
	}
	if reason != "" {
		payload["reason"] = reason
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		writeError(w, apperrors.Internal("Failed to render callback page"))
		return
	}

	targetOrigin := origin
	if targetOrigin == "" {
		// No origin was captured at connect time; restrict to same origin.
		targetOrigin = "/"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = popupTemplate.Execute(w, map[string]any{
		"Payload":      template.JS(payloadJSON),
		"TargetOrigin": targetOrigin,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to render popup callback page")
	}
}

// Status reports whether the user has an active provider connection.
func (h *OAuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	record, err := h.connectService.Status(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if record == nil {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connected":      true,
		"providerUserId": record.ProviderUserID,
		"scope":          record.Scope,
		"connectedAt":    formatTime(record.CreatedAt),
	})
}

// Disconnect deletes the token record and with it the connection.
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("Not authenticated"))
		return
	}

	if err := h.connectService.Disconnect(r.Context(), user.ID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
