// Webhook HTTP handler.
//
// This file exposes the gateway webhook endpoint:
//   - POST /stripe/webhook
//
// The raw body is read before any JSON binding because signature
// verification hashes the exact bytes Stripe sent. A failed signature is a
// 400 (the delivery is not ours), a processing failure is a 500 so the
// gateway retries, and everything else is acknowledged with
// {"received": true}.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StripeSignatureHeader carries the webhook signature Stripe computes over
// the request body.
const StripeSignatureHeader = "Stripe-Signature"

// HandleWebhook verifies and dispatches a gateway event.
func (h *Handlers) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unable to read request body")
		return
	}

	event, err := h.verifier.VerifyEvent(payload, c.GetHeader(StripeSignatureHeader))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidSignature, "webhook signature verification failed")
		return
	}

	if err := h.webhookSvc.ProcessEvent(c.Request.Context(), event); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, gin.H{"received": true})
}
