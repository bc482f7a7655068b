package service

import "settlement-pipeline/pkg/webhooksig"

// HMACSignatureService implements ports.SignatureService over the shared
// webhooksig helpers, so the dispatcher and seller-side verification
// agree on one algorithm.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func (s *HMACSignatureService) Sign(secret string, payload []byte) string {
	return webhooksig.Sign(payload, secret)
}

// Verify compares in constant time.
func (s *HMACSignatureService) Verify(secret string, payload []byte, signature string) bool {
	return webhooksig.Verify(payload, signature, secret)
}
