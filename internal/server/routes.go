package server

import "net/http"

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Push channel (scan progress), exempted from the full middleware chain
	// by withConditionalMiddleware.
	mux.HandleFunc("/hubs/scanprogress", s.app.PushHandler.HandlePushChannel)

	// API routes - scan lifecycle
	mux.HandleFunc("/api/scan", s.handleScanCollection) // POST (submit), GET (stats alias not used)
	mux.HandleFunc("/api/scan/stats", s.app.ScanHandler.StatsHandler)
	mux.HandleFunc("/api/scan/", s.handleScanItemRoutes) // /api/scan/{id}/status|report|images

	// API routes - system
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/config", s.app.APIHandler.ConfigHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // graceful shutdown (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleScanCollection routes POST /api/scan (submission).
func (s *Server) handleScanCollection(w http.ResponseWriter, r *http.Request) {
	RouteResourceCollection(w, r, nil, s.app.ScanHandler.SubmitHandler)
}

// handleScanItemRoutes routes /api/scan/{id}/status, /report, and /images.
func (s *Server) handleScanItemRoutes(w http.ResponseWriter, r *http.Request) {
	matched := RouteByPathSuffix(w, r, "/api/scan/", []PathSuffixRouter{
		{Suffix: "/status", Handler: s.app.ScanHandler.StatusHandler},
		{Suffix: "/report", Handler: s.app.ScanHandler.ReportHandler},
		{Suffix: "/images", Handler: s.app.ScanHandler.ImagesHandler},
	})
	if !matched {
		s.app.APIHandler.NotFoundHandler(w, r)
	}
}
