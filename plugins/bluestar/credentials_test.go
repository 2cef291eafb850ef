package bluestar

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCredentialsRoundTrip(t *testing.T) {
	resp := loginResponse{
		Session: "S1",
		MI:      base64.StdEncoding.EncodeToString([]byte("endpoint::AKIA123::secret456::tok789")),
	}

	creds, err := extractCredentials(resp)
	require.NoError(t, err)
	assert.Equal(t, Credentials{
		Endpoint:     "endpoint",
		AccessKey:    "AKIA123",
		SecretKey:    "secret456",
		SessionToken: "tok789",
		SessionID:    "S1",
	}, creds)
}

func TestExtractCredentialsLegacySingleColon(t *testing.T) {
	resp := loginResponse{
		Session: "S1",
		MI:      base64.StdEncoding.EncodeToString([]byte("endpoint:AKIA123:secret456")),
	}

	creds, err := extractCredentials(resp)
	require.NoError(t, err)
	assert.Equal(t, "endpoint", creds.Endpoint)
	assert.Equal(t, "AKIA123", creds.AccessKey)
	assert.Equal(t, "secret456", creds.SecretKey)
	assert.Empty(t, creds.SessionToken)
}

func TestExtractCredentialsTooFewSegments(t *testing.T) {
	resp := loginResponse{
		Session: "S1",
		MI:      base64.StdEncoding.EncodeToString([]byte("onlytwo:segments")),
	}

	_, err := extractCredentials(resp)
	assert.ErrorIs(t, err, ErrMalformedCredential)
}

func TestExtractCredentialsMissingField(t *testing.T) {
	_, err := extractCredentials(loginResponse{Session: "S1"})
	assert.ErrorIs(t, err, ErrMalformedCredential)
}

func TestExtractCredentialsBadBase64(t *testing.T) {
	_, err := extractCredentials(loginResponse{Session: "S1", MI: "not%%base64"})
	assert.ErrorIs(t, err, ErrMalformedCredential)
}
