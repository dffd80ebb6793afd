package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "ssblic/internal/errors"
	"ssblic/internal/license"
	"ssblic/internal/services"
)

// DirectoryHandler serves the published license directory that clients poll
// during evaluation. The feed wraps the records in a "licenses" envelope.
type DirectoryHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewDirectoryHandler creates a directory feed handler.
func NewDirectoryHandler(service services.LicenseService, logger *slog.Logger) *DirectoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "directory")),
	}
}

// directoryFeed is the wire shape clients parse first.
type directoryFeed struct {
	Licenses []*license.Record `json:"licenses"`
}

// Feed handles GET /api/licenses.json.
func (h *DirectoryHandler) Feed(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Directory(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "directory feed failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.NewErrorResponse(apierrors.ErrServiceUnavailable))
		return
	}
	render.JSON(w, r, directoryFeed{Licenses: records})
}
