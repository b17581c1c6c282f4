package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/gophzip/internal/common"
	"github.com/dmitrijs2005/gophzip/internal/logging"
	"github.com/dmitrijs2005/gophzip/internal/server/models"
	"github.com/dmitrijs2005/gophzip/internal/server/orchestrator"
	"github.com/labstack/echo/v4"
)

// Service is the orchestrator surface the handlers call.
type Service interface {
	UploadFile(ctx context.Context, name, contentType string, r io.Reader) (*models.File, error)
	GetFile(ctx context.Context, id string) (*models.File, error)
	ListFiles(ctx context.Context, p models.ListParams) ([]*models.File, error)
	CreateArchive(ctx context.Context, name string, fileIDs []string, opts ...orchestrator.CreateOption) (string, error)
	GetArchive(ctx context.Context, id string) (*models.Archive, error)
	ListArchives(ctx context.Context, p models.ListParams) ([]*models.Archive, error)
	DownloadArchive(ctx context.Context, id string) (*orchestrator.Download, error)
	DeleteArchive(ctx context.Context, id string) error
}

// HealthFunc reports whether the metadata store is reachable.
type HealthFunc func(ctx context.Context) error

// Handler contains the HTTP handlers of the gophzip API.
type Handler struct {
	svc    Service
	health HealthFunc
	log    logging.Logger
}

func NewHandler(svc Service, health HealthFunc, log logging.Logger) *Handler {
	return &Handler{svc: svc, health: health, log: log.With("module", "api")}
}

type createArchiveRequest struct {
	Name    string   `json:"name"`
	FileIDs []string `json:"file_ids"`
	Format  string   `json:"format,omitempty"`
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// HandleUpload handles POST /api/files with a multipart "file" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "file is required (use form field 'file')"})
	}
	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read uploaded file"})
	}
	defer src.Close()

	f, err := h.svc.UploadFile(c.Request().Context(), fh.Filename, fh.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) HandleGetFile(c echo.Context) error {
	f, err := h.svc.GetFile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) HandleListFiles(c echo.Context) error {
	p, err := listParams(c)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	items, err := h.svc.ListFiles(c.Request().Context(), p)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newList(items, p))
}

// HandleCreateArchive handles POST /api/archives. Compression runs in the
// background, so the response is 202 with the new id.
func (h *Handler) HandleCreateArchive(c echo.Context) error {
	var req createArchiveRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	var opts []orchestrator.CreateOption
	if req.Format != "" {
		opts = append(opts, orchestrator.WithFormat(models.Format(req.Format)))
	}

	id, err := h.svc.CreateArchive(c.Request().Context(), req.Name, req.FileIDs, opts...)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"id": id, "state": models.ArchiveQueued})
}

func (h *Handler) HandleGetArchive(c echo.Context) error {
	a, err := h.svc.GetArchive(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) HandleListArchives(c echo.Context) error {
	p, err := listParams(c)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	items, err := h.svc.ListArchives(c.Request().Context(), p)
	if err != nil {
		return h.mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newList(items, p))
}

// HandleDownload handles GET /api/archives/:id/download and serves the blob
// as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.svc.DownloadArchive(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.mapServiceError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", dl.Filename))
	return c.Blob(http.StatusOK, dl.ContentType, dl.Data)
}

func (h *Handler) HandleDeleteArchive(c echo.Context) error {
	if err := h.svc.DeleteArchive(c.Request().Context(), c.Param("id")); err != nil {
		return h.mapServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status, store := "healthy", "connected"
	if h.health != nil {
		if err := h.health(c.Request().Context()); err != nil {
			status, store = "degraded", fmt.Sprintf("error: %v", err)
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": status, "store": store})
}

func listParams(c echo.Context) (models.ListParams, error) {
	var p models.ListParams
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, common.NewValidationError("limit", "must be a non-negative integer")
		}
		p.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, common.NewValidationError("offset", "must be a non-negative integer")
		}
		p.Offset = n
	}
	p.State = c.QueryParam("state")
	return p.Normalized(), nil
}

func newList[T any](items []T, p models.ListParams) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Limit: p.Limit, Offset: p.Offset}
}

// mapServiceError translates orchestrator errors into HTTP responses.
func (h *Handler) mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, common.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, common.ErrConflict), errors.Is(err, common.ErrPrecondition):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case common.IsTransient(err):
		h.log.Warn(c.Request().Context(), "store unavailable", "path", c.Path(), "error", err)
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage temporarily unavailable"})
	default:
		h.log.Error(c.Request().Context(), "request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
