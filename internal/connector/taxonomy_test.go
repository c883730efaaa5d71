package connector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Category
	}{
		{401, CategoryAuth},
		{403, CategoryAuth},
		{429, CategoryRateLimit},
		{400, CategoryValidation},
		{404, CategoryValidation},
		{422, CategoryValidation},
		{500, CategoryNetwork},
		{503, CategoryNetwork},
		{0, CategoryUnknown},
		{302, CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MapProviderStatus(tc.status), "status %d", tc.status)
	}
}

func TestRedactSensitiveMessages(t *testing.T) {
	assert.Equal(t, redactedMessage, Redact("invalid access token for account"))
	assert.Equal(t, redactedMessage, Redact("Authorization header rejected"))
	assert.Equal(t, redactedMessage, Redact("BEARER credential expired"))
}

func TestRedactCapsLongMessages(t *testing.T) {
	long := strings.Repeat("x", 900)
	assert.Len(t, Redact(long), maxErrorLen)
}

func TestRedactPassesPlainMessages(t *testing.T) {
	assert.Equal(t, "post not found", Redact("post not found"))
}

func TestProviderErrorString(t *testing.T) {
	perr := &ProviderError{Provider: "gbp", Category: CategoryRateLimit, Message: "quota exceeded"}
	assert.Equal(t, "gbp: quota exceeded (rate_limit)", perr.Error())
}
