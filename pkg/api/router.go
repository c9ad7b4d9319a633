// Package api wires dispatchd's HTTP surface: a chi router over
// pkg/api/handlers, the correlation-id/logging/recovery/timeout/CORS/
// auth middleware stack from pkg/api/middleware, and the NDJSON event
// subscription endpoint, adapted from DittoFS's control-plane router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cuemby/dispatchd/pkg/api/handlers"
	apimw "github.com/cuemby/dispatchd/pkg/api/middleware"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/folders"
	"github.com/cuemby/dispatchd/pkg/lock"
	"github.com/cuemby/dispatchd/pkg/metrics"
	"github.com/cuemby/dispatchd/pkg/registry"
	"github.com/cuemby/dispatchd/pkg/store"
	"github.com/cuemby/dispatchd/pkg/tasks"
)

// Deps bundles every coordination-layer component the router dispatches
// requests to.
type Deps struct {
	Store    store.Store
	Registry *registry.Registry
	Tasks    *tasks.Coordinator
	Folders  *folders.Tracker
	Locks    *lock.Manager
	Bus      *events.Broker

	AllowedOrigins []string
	AuthMode       string // "none" or "token"
	TokenSecret    string
}

// NewRouter builds dispatchd's full HTTP handler tree.
//
// Routes:
//   - GET  /health, /health/ready        - liveness/readiness, unauthenticated
//   - GET  /metrics                      - Prometheus scrape endpoint, unauthenticated
//   - GET  /events                       - NDJSON event subscription
//   - POST /nodes/register                 upsert a node
//   - POST /nodes/{id}/heartbeat            refresh liveness
//   - GET  /nodes, /nodes/all               list available / all
//   - POST /nodes/{id}/disconnect           mark a node unavailable
//   - POST /tasks                           create a task
//   - GET  /tasks, /tasks/{id}              list / fetch
//   - GET  /tasks/poll?nodeId=              tasks a node should process
//   - PUT  /tasks/{id}/assign/{nodeId}      assign a node to a task
//   - PUT  /tasks/{id}/status               drive the task state machine
//   - GET/POST /tasks/{id}/folders          list / create folder work items
//   - POST /tasks/{id}/folders/claim        atomically claim the next Pending folder item
//   - PUT  /folders/{id}/status             report folder work item progress
//   - POST /locks, /locks/refresh           acquire / refresh a file lock
//   - DELETE /locks, /locks/all             release one / release all locks
//   - GET  /locks                           list held locks
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(apimw.CorrelationID)
	r.Use(apimw.RequestLogger)
	r.Use(apimw.Recoverer)
	r.Use(apimw.Timeout(30 * time.Second))
	if len(d.AllowedOrigins) > 0 {
		r.Use(apimw.CORS(d.AllowedOrigins))
	}

	healthHandler := handlers.NewHealthHandler(d.Store)
	r.Get("/health", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/events", eventStreamHandler(d.Bus))

	protected := r.Group(nil)
	if d.AuthMode == "token" {
		protected.Use(apimw.TokenAuth(d.TokenSecret))
	}

	nodeHandler := handlers.NewNodeHandler(d.Registry)
	protected.Route("/nodes", func(r chi.Router) {
		r.Post("/register", nodeHandler.Register)
		r.Get("/", nodeHandler.ListAvailable)
		r.Get("/all", nodeHandler.ListAll)
		r.Post("/{id}/heartbeat", nodeHandler.Heartbeat)
		r.Post("/{id}/disconnect", nodeHandler.Disconnect)
	})

	taskHandler := handlers.NewTaskHandler(d.Tasks)
	folderHandler := handlers.NewFolderHandler(d.Folders)
	protected.Route("/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.Create)
		r.Get("/", taskHandler.List)
		r.Get("/poll", taskHandler.Poll)
		r.Get("/{id}", taskHandler.Get)
		r.Put("/{id}/status", taskHandler.UpdateStatus)
		r.Put("/{id}/assign/{nodeId}", taskHandler.Assign)
		r.Get("/{id}/folders", folderHandler.List)
		r.Post("/{id}/folders", folderHandler.Create)
		r.Post("/{id}/folders/claim", folderHandler.Claim)
	})

	protected.Put("/folders/{id}/status", folderHandler.UpdateStatus)

	lockHandler := handlers.NewLockHandler(d.Locks)
	protected.Route("/locks", func(r chi.Router) {
		r.Post("/", lockHandler.TryAcquire)
		r.Post("/refresh", lockHandler.Refresh)
		r.Delete("/", lockHandler.Release)
		r.Delete("/all", lockHandler.ResetAll)
		r.Get("/", lockHandler.List)
	})

	return r
}
