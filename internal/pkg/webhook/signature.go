package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/stripe/stripe-go/v79"
	stripewebhook "github.com/stripe/stripe-go/v79/webhook"
)

// VerifyStripeSignature checks the Stripe-Signature header over the raw
// body and returns the parsed event. Verification happens before any
// payload parsing.
func VerifyStripeSignature(payload []byte, signatureHeader, webhookSecret string) (*stripe.Event, error) {
	event, err := stripewebhook.ConstructEvent(payload, signatureHeader, webhookSecret)
	if err != nil {
		return nil, ErrBadSignature
	}
	return &event, nil
}

// VerifyEsimgoSignature checks the provisioning vendor's HMAC-SHA256 hex
// signature over the raw body.
func VerifyEsimgoSignature(payload []byte, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	decodedSig, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// SignEsimgoPayload computes the signature the vendor sends, used by tests
// and by the local webhook simulator.
func SignEsimgoPayload(payload []byte, webhookSecret string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
