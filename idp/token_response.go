package idp

import "github.com/hippocampus/sessionsync/token"

// TokenResponse is the token endpoint (and implicit redirect fragment) payload.
type TokenResponse struct {
	// AccessToken is the JWT sent as "Authorization: Bearer <access_token>".
	// Lifespan: about one hour
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is exchanged for a new pair. Supabase rotates it on every use,
	// so a refresh token must never be exchanged twice.
	// Lifespan: about seven days
	RefreshToken string `json:"refresh_token,omitempty"`

	// IDToken is present only for OpenID Connect providers when "openid" was requested.
	IDToken string `json:"id_token,omitempty"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds. The JWT exp claim is authoritative.
	ExpiresIn int `json:"expires_in,omitempty"`

	// ExpiresAt is a unix timestamp reported by Supabase alongside expires_in.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// Pair returns the credential pair carried by the response.
func (r TokenResponse) Pair() token.Pair {
	return token.Pair{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
	}
}

// ErrorResponse is the error body returned by GoTrue and RFC 6749 token endpoints.
type ErrorResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	Msg              string `json:"msg,omitempty"`
}

func (e ErrorResponse) String() string {
	switch {
	case e.ErrorDescription != "":
		return e.ErrorDescription
	case e.Msg != "":
		return e.Msg
	case e.Error != "":
		return e.Error
	default:
		return e.ErrorCode
	}
}
