package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/httputil"
	"github.com/avastusrada/permsync/pkg/observability"
)

const (
	headerWebhookSecret    = "X-Permsync-Secret"
	headerWebhookSignature = "X-Permsync-Signature"

	maxWebhookBody = 1 << 20 // 1 MiB
)

// handleWebhook returns the handler for one webhook endpoint. Both endpoints
// share the same validation and pipeline; the endpoint name only labels logs
// and metrics.
func (s *Server) handleWebhook(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := observability.FromContext(r.Context()).WithField("endpoint", endpoint)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			s.countWebhook(endpoint, "bad_request")
			httputil.WriteBadRequest(w, "failed to read request body")
			return
		}

		if !s.authenticateWebhook(r, body) {
			s.countWebhook(endpoint, "unauthorized")
			logger.WithField("client_ip", r.RemoteAddr).Warn("Webhook rejected: authentication failed")
			httputil.WriteUnauthorized(w, "invalid webhook credentials")
			return
		}

		payload, missing := parseWebhookPayload(body)
		if len(missing) > 0 {
			s.countWebhook(endpoint, "bad_request")
			httputil.WriteBadRequest(w, "missing or malformed fields: "+strings.Join(missing, ", "))
			return
		}

		outcome, err := s.opts.SyncService.ProcessSync(
			r.Context(),
			payload.Entity.ID,
			entu.Credential(payload.Token),
			payload.User.ID,
		)
		if err != nil {
			s.countWebhook(endpoint, "failed")
			logger.WithError(err).WithField("entity_id", payload.Entity.ID).Error("Webhook processing failed")
			httputil.WriteInternalError(w, fmt.Errorf("synchronization failed"))
			return
		}

		if outcome.Started {
			s.countWebhook(endpoint, "accepted")
		} else {
			s.countWebhook(endpoint, "coalesced")
		}
		httputil.WriteSuccess(w, WebhookResponse{
			Success:            true,
			PermissionsGranted: outcome.Granted,
		})
	}
}

// authenticateWebhook checks the shared secret or HMAC signature. With no
// secret configured the check fails closed unless insecure dev mode was set
// explicitly.
func (s *Server) authenticateWebhook(r *http.Request, body []byte) bool {
	if s.opts.InsecureDev {
		return true
	}
	var secret string
	if s.opts.Secrets != nil {
		secret = s.opts.Secrets.Current()
	}
	if secret == "" {
		return false
	}

	if sig := r.Header.Get(headerWebhookSignature); sig != "" {
		return verifySignature(body, sig, secret)
	}
	if plain := r.Header.Get(headerWebhookSecret); plain != "" {
		return subtle.ConstantTimeCompare([]byte(plain), []byte(secret)) == 1
	}
	return false
}

// parseWebhookPayload decodes the body and names every missing field so the
// sender's 400 is actionable.
func parseWebhookPayload(body []byte) (*WebhookPayload, []string) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, []string{"body (invalid JSON)"}
	}

	var missing []string
	if payload.Entity.ID == "" {
		missing = append(missing, "entity._id")
	}
	if payload.Token == "" {
		missing = append(missing, "token")
	}
	if len(missing) > 0 {
		return nil, missing
	}
	return &payload, nil
}

func (s *Server) countWebhook(endpoint, outcome string) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.WebhookEventsTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}

// verifySignature checks an HMAC-SHA256 signature in "sha256=<hex>" form.
func verifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
