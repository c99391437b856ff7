package handler

import (
	"encoding/json"
	"io"

	"fotofeed-core/internal/adapter/http/dto"
	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/apperror"
	"fotofeed-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderWebhookSignature carries the provider's HMAC-SHA256 signature of the
// raw request body, hex encoded.
const HeaderWebhookSignature = "X-Webhook-Signature"

// WebhookHandler receives provider event notifications. Providers deliver
// at-least-once; the ledger collapses redeliveries and the handler replies
// 200 for replays so the provider stops retrying.
type WebhookHandler struct {
	ledger  ports.EventLedger
	applier ports.EventApplier
	sigSvc  ports.SignatureService
	secrets map[string]string // provider name -> shared secret
	log     zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(
	ledger ports.EventLedger,
	applier ports.EventApplier,
	sigSvc ports.SignatureService,
	secrets map[string]string,
	log zerolog.Logger,
) *WebhookHandler {
	return &WebhookHandler{ledger: ledger, applier: applier, sigSvc: sigSvc, secrets: secrets, log: log}
}

// Receive handles POST /api/v1/webhooks/:provider.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := c.Param("provider")
	secret, ok := h.secrets[provider]
	if !ok {
		response.Error(c, apperror.ErrUnknownProvider(provider))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	// Providers sign the raw body, so verification happens before parsing.
	signature := c.GetHeader(HeaderWebhookSignature)
	if signature == "" || !h.sigSvc.Verify(secret, string(body), signature) {
		h.log.Warn().
			Str("provider", provider).
			Str("client_ip", c.ClientIP()).
			Msg("webhook signature rejected")
		response.Error(c, apperror.ErrInvalidSignature())
		return
	}

	var envelope dto.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		response.Error(c, apperror.Validation("malformed webhook body"))
		return
	}
	if envelope.ID == "" || envelope.Type == "" {
		response.Error(c, apperror.Validation("webhook body missing id or type"))
		return
	}

	result, err := h.ledger.Claim(c.Request.Context(), ports.ClaimRequest{
		Provider:          provider,
		EventID:           envelope.ID,
		EventType:         envelope.Type,
		SignatureVerified: true,
		Payload:           envelope.Data,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	if !result.ShouldProcess {
		// Replay. The provider contract treats duplicates as success.
		response.OK(c, gin.H{"status": string(result.Status), "replay": true})
		return
	}

	if err := h.applier.Apply(c.Request.Context(), envelope.Type, envelope.Data); err != nil {
		if markErr := h.ledger.MarkFailed(c.Request.Context(), result.EntryID, err.Error()); markErr != nil {
			h.log.Error().Err(markErr).
				Str("entry_id", result.EntryID.String()).
				Msg("failed to mark ledger entry failed")
		}
		// Non-2xx makes the provider redeliver; the failed entry is then
		// reclaimable.
		response.Error(c, apperror.ErrEventApplyFailed(err))
		return
	}

	if err := h.ledger.MarkProcessed(c.Request.Context(), result.EntryID); err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	response.OK(c, gin.H{"status": "PROCESSED", "entry_id": result.EntryID})
}
