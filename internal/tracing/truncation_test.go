package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPII(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"A", "*"},
		{"Al", "A*"},
		{"Ale", "A*e"},
		{"alex@example.com", "al************om"},
	}
	for _, c := range cases {
		t.Run(c.in, func(t *testing.T) {
			assert.Equal(t, c.want, MaskPII(c.in))
		})
	}
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "abc...xyz", TruncateString("abcdefghijklmnopqrstuvwxyz", 9))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestSafeAttributeValueMasksSensitiveKeys(t *testing.T) {
	assert.Equal(t, "A**x", SafeAttributeValue("profile.name", "Alex", 100))
	assert.Equal(t, "State U", SafeAttributeValue("education.institution", "State U", 100))
}
