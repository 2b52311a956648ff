package idp

// ResponseType represents the OAuth 2.0 response type requested from the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType returns an authorization code that must be exchanged at the token endpoint.
	CodeResponseType ResponseType = "code"

	// TokenResponseType is the implicit flow: tokens come back directly in the redirect.
	// The extension uses it because the web auth flow launcher only hands back the final URL.
	TokenResponseType ResponseType = "token"
)

// ResponseModeType denotes how the authorization response parameters are returned.
type ResponseModeType string

const (
	// QueryResponseMode returns parameters in the URL query string.
	// Example: https://<ext-id>.chromiumapp.org/?code=ABC123&state=xyz
	QueryResponseMode ResponseModeType = "query"

	// FragmentResponseMode returns parameters in the URL fragment (after #).
	// Example: https://<ext-id>.chromiumapp.org/#access_token=...&refresh_token=...&state=xyz
	FragmentResponseMode ResponseModeType = "fragment"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
type GrantType string

const (
	// RefreshTokenGrant exchanges a refresh token for new tokens.
	// Token request includes: refresh_token (and the anon api key for Supabase)
	// Returns: new access_token and usually a rotated refresh_token
	RefreshTokenGrant GrantType = "refresh_token"

	// PasswordGrant signs a user in with email and password.
	PasswordGrant GrantType = "password"
)
