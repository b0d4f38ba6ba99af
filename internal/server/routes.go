// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 5:10:41 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"

	"github.com/ternarybob/pagesponge/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (queue and activity observers)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Queue
	mux.HandleFunc("/api/queue", s.app.QueueHandler.GetQueueHandler)                       // GET - queue snapshot
	mux.HandleFunc("/api/queue/sponge", s.app.QueueHandler.SpongeHandler)                  // POST - enqueue one page
	mux.HandleFunc("/api/queue/bulk", s.app.QueueHandler.BulkHandler)                      // POST - enqueue many URLs
	mux.HandleFunc("/api/queue/remove-complete", s.app.QueueHandler.RemoveCompleteHandler) // POST
	mux.HandleFunc("/api/queue/remove-all", s.app.QueueHandler.RemoveAllHandler)           // POST
	mux.HandleFunc("/api/queue/reset-fail-all", s.app.QueueHandler.ResetFailAllHandler)    // POST
	mux.HandleFunc("/api/queue/", s.handleQueueItemRoutes)                                 // DELETE /{id}

	// API routes - System
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleQueueItemRoutes routes /api/queue/{id} requests
func (s *Server) handleQueueItemRoutes(w http.ResponseWriter, r *http.Request) {
	RouteByMethod(w, r, MethodRouter{
		"DELETE": s.app.QueueHandler.RemoveJobHandler,
	})
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Not found: "+r.URL.Path)
}
