package server

const (
	// Runtime messages from UI contexts
	RouteMessages = "/messages"

	// Session
	RouteSession      = "/session"
	RouteSessionCheck = "/session/check"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthMigrate  = "/auth/migrate"
	RouteAuthWatch    = "/auth/watch"
	RouteAuthLogin    = "/auth/login"
	RouteAuthPassword = "/auth/password"

	// Platform events forwarded by the extension shell
	RoutePlatformCookies = "/platform/cookies"

	// Broadcast feed
	RouteEvents = "/events"

	RouteHealth = "/health"
)
