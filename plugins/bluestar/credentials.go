package bluestar

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Credentials are the temporary broker credentials embedded in the
// login response. Replaced wholesale on every re-login.
type Credentials struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	SessionToken string
	SessionID    string
}

// extractCredentials decodes the base64 "mi" field of the login
// response into broker credentials. The decoded blob is
// endpoint::access_key::secret_key[::session_token], with a legacy
// single-colon delimiter on older accounts.
func extractCredentials(resp loginResponse) (Credentials, error) {
	if resp.MI == "" {
		return Credentials{}, fmt.Errorf("%w: missing mi field", ErrMalformedCredential)
	}

	decoded, err := base64.StdEncoding.DecodeString(resp.MI)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	blob := string(decoded)
	var parts []string
	if strings.Contains(blob, "::") {
		parts = strings.Split(blob, "::")
	} else {
		parts = strings.Split(blob, ":")
	}
	if len(parts) < 3 {
		return Credentials{}, fmt.Errorf("%w: %d segments", ErrMalformedCredential, len(parts))
	}

	creds := Credentials{
		Endpoint:  parts[0],
		AccessKey: parts[1],
		SecretKey: parts[2],
		SessionID: resp.Session,
	}
	if len(parts) > 3 {
		creds.SessionToken = parts[3]
	}
	return creds, nil
}
