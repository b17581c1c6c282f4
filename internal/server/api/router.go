// Package api is the HTTP surface of gophzip. Handlers only translate
// between HTTP and the orchestrator.
package api

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	// RateLimit is the per-IP request rate for mutating endpoints, per
	// second. Zero disables limiting.
	RateLimit float64
	Logger    logging.Logger
}

// NewRouter builds the echo instance with every route and middleware.
func NewRouter(ctx context.Context, h *Handler, opts RouterOptions) *echo.Echo {
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(RequestLogger(log.With("module", "http")))

	var limited []echo.MiddlewareFunc
	if opts.RateLimit > 0 {
		rl := NewRateLimiter(ctx, opts.RateLimit, int(opts.RateLimit*2))
		limited = append(limited, rl.Middleware(log))
	}

	e.GET("/health", h.HandleHealth)

	g := e.Group("/api")
	g.POST("/files", h.HandleUpload, limited...)
	g.GET("/files", h.HandleListFiles)
	g.GET("/files/:id", h.HandleGetFile)

	g.POST("/archives", h.HandleCreateArchive, limited...)
	g.GET("/archives", h.HandleListArchives)
	g.GET("/archives/:id", h.HandleGetArchive)
	g.GET("/archives/:id/download", h.HandleDownload)
	g.DELETE("/archives/:id", h.HandleDeleteArchive, limited...)

	return e
}
