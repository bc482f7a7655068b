package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// X402Version is the protocol version sent when a stored request omits it.
const X402Version = 1

var (
	// ErrMalformedRequest marks a stored facilitator request that can never
	// be sent. Retrying it would not help.
	ErrMalformedRequest = errors.New("malformed facilitator request")

	// ErrFacilitatorConfig marks a local configuration problem (missing
	// credentials, bad key). It is not a transport failure.
	ErrFacilitatorConfig = errors.New("facilitator configuration error")
)

// FacilitatorRequest is the verify/settle body. Payload and requirements are
// kept opaque so unknown scheme fields survive a round trip.
type FacilitatorRequest struct {
	X402Version         int             `json:"x402Version"`
	PaymentPayload      json.RawMessage `json:"paymentPayload"`
	PaymentRequirements json.RawMessage `json:"paymentRequirements"`
}

type requirementsHeader struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
}

// DecodeFacilitatorRequest parses a stored request. Any error wraps
// ErrMalformedRequest.
func DecodeFacilitatorRequest(raw []byte) (FacilitatorRequest, error) {
	var req FacilitatorRequest
	if len(raw) == 0 {
		return req, fmt.Errorf("%w: empty body", ErrMalformedRequest)
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if !isJSONObject(req.PaymentPayload) {
		return req, fmt.Errorf("%w: paymentPayload must be an object", ErrMalformedRequest)
	}
	if !isJSONObject(req.PaymentRequirements) {
		return req, fmt.Errorf("%w: paymentRequirements must be an object", ErrMalformedRequest)
	}
	var hdr requirementsHeader
	if err := json.Unmarshal(req.PaymentRequirements, &hdr); err != nil {
		return req, fmt.Errorf("%w: paymentRequirements: %v", ErrMalformedRequest, err)
	}
	if req.X402Version == 0 {
		req.X402Version = X402Version
	}
	return req, nil
}

// Network returns paymentRequirements.network, or "" when absent.
func (r FacilitatorRequest) Network() string {
	var hdr requirementsHeader
	if err := json.Unmarshal(r.PaymentRequirements, &hdr); err != nil {
		return ""
	}
	return hdr.Network
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// VerifyResult is either Valid or Invalid.
type VerifyResult interface {
	isVerifyResult()
	RawResponse() json.RawMessage
}

// Valid means the facilitator accepted the payment authorization.
type Valid struct {
	Payer  string
	TxHash string
	Raw    json.RawMessage
}

// Invalid is a well-formed rejection from verify.
type Invalid struct {
	Reason string
	Payer  string
	Raw    json.RawMessage
}

func (Valid) isVerifyResult() {}
func (Invalid) isVerifyResult() {}

func (v Valid) RawResponse() json.RawMessage {
	return v.Raw
}

func (v Invalid) RawResponse() json.RawMessage {
	return v.Raw
}

// SettleResult is either Settled or Rejected.
type SettleResult interface {
	isSettleResult()
	RawResponse() json.RawMessage
}

// Settled means the payment was executed; Transaction is the on-chain hash.
type Settled struct {
	Transaction string          `json:"transaction"`
	Network     string          `json:"network"`
	Payer       string          `json:"payer"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Rejected is a well-formed success:false answer from settle.
type Rejected struct {
	Reason  string
	Network string
	Payer   string
	Raw     json.RawMessage
}

func (Settled) isSettleResult() {}
func (Rejected) isSettleResult() {}

func (s Settled) RawResponse() json.RawMessage {
	return s.Raw
}

func (s Rejected) RawResponse() json.RawMessage {
	return s.Raw
}

// SupportedKind is one scheme/network pair a facilitator can settle.
type SupportedKind struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     string          `json:"network"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}
