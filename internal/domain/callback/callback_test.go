package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGatewayCallbackValidate(t *testing.T) {
	valid := GatewayCallback{ExternalTransactionID: "TX1", BookingRef: "SS-20250101-0007", Amount: 2500, Status: StatusSuccess}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *GatewayCallback)
	}{
		{"missing id", func(c *GatewayCallback) { c.ExternalTransactionID = " " }},
		{"missing booking", func(c *GatewayCallback) { c.BookingRef = "" }},
		{"zero amount", func(c *GatewayCallback) { c.Amount = 0 }},
		{"unknown status", func(c *GatewayCallback) { c.Status = "pending" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestDigestIgnoresReceivedAt(t *testing.T) {
	a := GatewayCallback{ExternalTransactionID: "TX1", BookingRef: "SS-20250101-0007", Amount: 2500, Status: StatusSuccess, ReceivedAt: time.Now()}
	b := a
	b.ReceivedAt = a.ReceivedAt.Add(time.Hour)
	assert.Equal(t, a.Digest(), b.Digest())

	c := a
	c.Amount = 2600
	assert.NotEqual(t, a.Digest(), c.Digest())

	d := a
	d.Status = StatusFailed
	assert.NotEqual(t, a.Digest(), d.Digest())
}

func TestNewReceipt(t *testing.T) {
	cb := &GatewayCallback{ExternalTransactionID: "TX1", BookingRef: "SS-20250101-0007", Amount: 2500, Status: StatusSuccess}
	r := NewReceipt(cb, time.Date(2025, 1, 1, 0, 0, 0, 999, time.UTC))
	assert.Equal(t, "TX1", r.ExternalTransactionID)
	assert.Equal(t, cb.Digest(), r.PayloadDigest)
	assert.Nil(t, r.AppliedAt)
	assert.Equal(t, 0, r.FirstSeenAt.Nanosecond())
}
