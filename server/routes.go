package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteHealth, s.HealthHandler())

	s.RegisterRouteFunc("POST "+RouteMessages, ChainMiddleware(s.MessageHandler(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteSession, ChainMiddleware(s.SessionHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteSessionCheck, ChainMiddleware(s.SessionCheckHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAuthMigrate, ChainMiddleware(s.MigrateHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteAuthWatch, ChainMiddleware(s.WatchHandler(), s.APIMiddleware()...))

	if s.deps.Login != nil {
		s.RegisterRouteFunc("GET "+RouteAuthLogin, ChainMiddleware(s.LoginStartHandler(), s.APIMiddleware()...))
		s.RegisterRouteFunc("POST "+RouteAuthLogin, ChainMiddleware(s.LoginCompleteHandler(), s.APIMiddleware()...))
	}
	if s.deps.Password != nil {
		s.RegisterRouteFunc("POST "+RouteAuthPassword, ChainMiddleware(s.PasswordLoginHandler(), s.APIMiddleware()...))
	}

	s.RegisterRouteFunc("POST "+RoutePlatformCookies, ChainMiddleware(s.CookieChangeHandler(), s.APIMiddleware()...))

	// No logging middleware: the stream stays open.
	s.RegisterRouteFunc("GET "+RouteEvents, ChainMiddleware(s.EventsHandler(), s.RecoverMiddleware))
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": s.env,
		})
	}
}
