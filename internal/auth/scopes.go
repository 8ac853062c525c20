package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeRegistryRead  = "registry:read"
	ScopeRegistryWrite = "registry:write"
)

// AllScopes defines the full set of scopes used by the Swagger UI / Frontend
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeRegistryRead,
	ScopeRegistryWrite,
}

// requiredScope maps an HTTP method to the registry scope an API token
// must carry: reads need registry:read, everything else registry:write.
func requiredScope(method string) string {
	switch method {
	case "GET", "HEAD", "OPTIONS":
		return ScopeRegistryRead
	default:
		return ScopeRegistryWrite
	}
}

// hasScope reports whether the token's scopes satisfy want.
// registry:write implies registry:read.
func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
		if s == ScopeRegistryWrite && want == ScopeRegistryRead {
			return true
		}
	}
	return false
}
