package config

import (
	"net/http"
	"strings"
)

type Cors struct {
	origins AllowedOrigins
}

var _ CorsConfig = Cors{}

type AllowedOrigins map[string]struct{}
type nullValue = struct{}

func newAllowedOrigins(origins []string) AllowedOrigins {
	allowed := AllowedOrigins{}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			allowed[o] = nullValue{}
		}
	}
	return allowed
}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

// List returns the configured origins; extension origins are allowed when none are configured.
func (a AllowedOrigins) List() []string {
	if len(a) == 0 {
		return []string{"chrome-extension://*"}
	}
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return origins
}

func (a AllowedOrigins) String() string {
	return strings.Join(a.List(), ", ")
}

func (c Cors) GetAllowedOrigins() AllowedOrigins {
	return c.origins
}

func (Cors) GetAllowedMethods() []string {
	return []string{http.MethodGet, http.MethodPost, http.MethodOptions}
}

func (Cors) GetAllowedHeaders() []string {
	return []string{"Content-Type", "Authorization"}
}
