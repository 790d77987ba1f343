package httpapi

import (
	stdhttp "net/http"
	"strings"
	"time"

	"promptgrid/internal/http/handlers"
	appmw "promptgrid/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter assembles the HTTP surface. Lookup is optional; without it
// country detection falls back to header and locale hints.
func NewRouter(app *handlers.App, lookup appmw.CountryLookup) stdhttp.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		appmw.RequestID,
		appmw.Logger(app.Log),
		appmw.CORS(app.Cfg.AllowedOrigins),
		appmw.I18N("en", lookup),
	)
	if app.Cfg.RateLimitPerMin > 0 {
		r.Use(appmw.RateLimit(app.Cfg.RateLimitPerMin, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(appmw.Identity)

		r.Route("/sheets", func(r chi.Router) {
			r.Get("/", app.SheetList)
			r.Route("/{sheet}", func(r chi.Router) {
				r.Post("/run", app.SheetRun)
				r.Get("/cells", app.SheetCells)
				r.Get("/export", app.SheetExport)
				r.Route("/cells/{cell}", func(r chi.Router) {
					r.Get("/", app.CellGet)
					r.Post("/", app.CellUpsert)
					r.Post("/run", app.CellRun)
					r.Post("/cancel", app.CellCancel)
				})
			})
		})

		r.Get("/credits", app.Credits)
	})

	if app.Media != nil {
		prefix := strings.TrimRight(app.Cfg.MediaBaseURL, "/")
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			prefix = "/media"
		}
		r.Get(prefix+"/*", app.MediaServe)
	}

	return r
}
