package ntfy

import (
	"encoding/base64"
	"strings"
)

const (
	basicPrefix  = "Basic "
	bearerPrefix = "Bearer "
)

// Credential is the value of an Authorization header. The empty
// credential sends no Authorization header.
type Credential string

// BasicAuth returns a Basic credential for username and password.
// It returns the empty credential when both are empty.
func BasicAuth(username, password string) Credential {
	if username == "" && password == "" {
		return ""
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return Credential(basicPrefix + encoded)
}

// Token returns a Bearer credential for an access token. A token that is
// already a Basic credential is returned unchanged.
func Token(token string) Credential {
	if token == "" {
		return ""
	}
	if strings.HasPrefix(token, basicPrefix) {
		return Credential(token)
	}
	return Credential(bearerPrefix + token)
}

// IsBasic reports whether c uses the Basic scheme.
func (c Credential) IsBasic() bool {
	return strings.HasPrefix(string(c), basicPrefix)
}

// IsBearer reports whether c uses the Bearer scheme.
func (c Credential) IsBearer() bool {
	return strings.HasPrefix(string(c), bearerPrefix)
}

// String masks the secret part of the credential.
func (c Credential) String() string {
	switch {
	case c == "":
		return "none"
	case c.IsBasic():
		return basicPrefix + "****"
	case c.IsBearer():
		return bearerPrefix + "****"
	}
	return "****"
}
