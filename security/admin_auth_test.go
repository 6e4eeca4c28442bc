// ABOUTME: Tests for admin authentication
// ABOUTME: Shared-token comparison and out-of-cluster ServiceAccount behavior

package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAdminToken(t *testing.T) {
	auth := NewAdminAuthenticator("the-admin-secret", nil)

	tests := []struct {
		name      string
		presented string
		expected  bool
	}{
		{"exact match", "the-admin-secret", true},
		{"wrong token", "not-the-secret", false},
		{"empty token", "", false},
		{"prefix only", "the-admin", false},
		{"match with trailing garbage", "the-admin-secretX", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.ValidateAdminToken(tt.presented))
		})
	}
}

func TestValidateAdminTokenUnconfigured(t *testing.T) {
	// An empty configured secret never authenticates, even against an
	// empty presented value.
	auth := NewAdminAuthenticator("", nil)
	assert.False(t, auth.ValidateAdminToken(""))
	assert.False(t, auth.ValidateAdminToken("anything"))
}

func TestValidateServiceAccountTokenOutOfCluster(t *testing.T) {
	auth := NewAdminAuthenticator("the-admin-secret", nil)

	// Without the in-cluster CA, ServiceAccount verification is disabled.
	_, err := auth.ValidateServiceAccountToken("some-jwt")
	assert.Error(t, err)
}
