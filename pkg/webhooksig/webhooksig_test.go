package webhooksig

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testSecret = "whsec_test"

func TestSign_Deterministic(t *testing.T) {
	payload := []byte(`{"event_type":"payment.succeeded"}`)

	sig1 := Sign(payload, testSecret)
	sig2 := Sign(payload, testSecret)

	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64, "hex encoded SHA-256 is 64 chars")
}

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	sig := Sign([]byte("what do ya want for nothing?"), "Jefe")
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", sig)
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"resource_id":"abc","payload":{"amount":"100"}}`)
	sig := Sign(payload, testSecret)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		secret    string
		want      bool
	}{
		{"round trip", payload, sig, testSecret, true},
		{"tampered payload", []byte(`{"resource_id":"abd","payload":{"amount":"100"}}`), sig, testSecret, false},
		{"wrong secret", payload, sig, "whsec_other", false},
		{"truncated signature", payload, sig[:10], testSecret, false},
		{"empty signature", payload, "", testSecret, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Verify(tt.payload, tt.signature, tt.secret))
		})
	}
}

func TestVerifyRequest(t *testing.T) {
	body := []byte(`{"event_type":"settlement.confirmed"}`)
	h := http.Header{}

	assert.False(t, VerifyRequest(h, body, testSecret), "missing header")

	h.Set(HeaderSignature, Sign(body, testSecret))
	assert.True(t, VerifyRequest(h, body, testSecret))
}
