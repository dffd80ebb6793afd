package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "ssblic/internal/errors"
	"ssblic/internal/exporter"
	"ssblic/internal/services"
)

var (
	validate = validator.New()

	keyPattern  = regexp.MustCompile(`^SSB-[A-Z]{2,5}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	hwidPattern = regexp.MustCompile(`^[0-9A-F]{16}$`)
)

// LicenseHandler handles license-related HTTP requests.
type LicenseHandler struct {
	service services.LicenseService
	logger  *slog.Logger
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service services.LicenseService, logger *slog.Logger) *LicenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "license")),
	}
}

// ValidateRequest is the payload for POST /validate and the bind endpoints.
type ValidateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	HWID       string `json:"hwid" validate:"required"`
}

// Bind implements render.Binder.
func (v *ValidateRequest) Bind(r *http.Request) error {
	if err := validate.Struct(v); err != nil {
		return err
	}
	if !keyPattern.MatchString(v.LicenseKey) {
		return errors.New("invalid license key format, expected SSB-XXX-XXXX-XXXX")
	}
	if !hwidPattern.MatchString(v.HWID) {
		return errors.New("invalid hwid, expected 16 uppercase hex characters")
	}
	return nil
}

// ActivateRequest is the payload for POST /activate.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	HWID       string `json:"hwid" validate:"required"`
}

// Bind implements render.Binder.
func (a *ActivateRequest) Bind(r *http.Request) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	if !keyPattern.MatchString(a.LicenseKey) {
		return errors.New("invalid license key format, expected SSB-XXX-XXXX-XXXX")
	}
	if !hwidPattern.MatchString(a.HWID) {
		return errors.New("invalid hwid, expected 16 uppercase hex characters")
	}
	return nil
}

// IssueRequest is the admin payload for POST /issue.
type IssueRequest struct {
	Plan           string `json:"plan" validate:"required"`
	Email          string `json:"email" validate:"omitempty,email"`
	DurationMonths int    `json:"duration_months" validate:"gte=0,lte=120"`
}

// Bind implements render.Binder.
func (i *IssueRequest) Bind(r *http.Request) error {
	return validate.Struct(i)
}

// KeyRequest is the admin payload for POST /regenerate and /revoke.
type KeyRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
}

// Bind implements render.Binder.
func (k *KeyRequest) Bind(r *http.Request) error {
	return validate.Struct(k)
}

// Routes returns the client-facing license routes.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/validate", h.Validate)
	r.Post("/activate", h.Activate)
	r.Post("/bind-device", h.BindDevice)
	r.Post("/unbind-device", h.UnbindDevice)

	return r
}

// AdminRoutes returns the issuance and register routes. The caller is
// expected to wrap them with admin auth.
func (h *LicenseHandler) AdminRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/issue", h.Issue)
	r.Post("/regenerate", h.Regenerate)
	r.Post("/revoke", h.Revoke)
	r.Get("/status", h.Status)
	r.Get("/export", h.Export)

	return r
}

// Validate handles POST /api/license/validate.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.Validate(r.Context(), req.LicenseKey, req.HWID)
	if err != nil {
		h.renderServiceError(w, r, "validate", err)
		return
	}
	render.JSON(w, r, resp)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req := &ActivateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.Activate(r.Context(), req.LicenseKey, req.Email, req.HWID)
	if err != nil {
		h.renderServiceError(w, r, "activate", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// BindDevice handles POST /api/license/bind-device.
func (h *LicenseHandler) BindDevice(w http.ResponseWriter, r *http.Request) {
	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.BindDevice(r.Context(), req.LicenseKey, req.HWID)
	if err != nil {
		h.renderServiceError(w, r, "bind-device", err)
		return
	}
	render.JSON(w, r, resp)
}

// UnbindDevice handles POST /api/license/unbind-device.
func (h *LicenseHandler) UnbindDevice(w http.ResponseWriter, r *http.Request) {
	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	resp, err := h.service.UnbindDevice(r.Context(), req.LicenseKey, req.HWID)
	if err != nil {
		h.renderServiceError(w, r, "unbind-device", err)
		return
	}
	render.JSON(w, r, resp)
}

// Issue handles POST /api/admin/license/issue.
func (h *LicenseHandler) Issue(w http.ResponseWriter, r *http.Request) {
	req := &IssueRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	rec, err := h.service.Issue(r.Context(), req.Plan, req.Email, req.DurationMonths)
	if err != nil {
		h.renderServiceError(w, r, "issue", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// Regenerate handles POST /api/admin/license/regenerate.
func (h *LicenseHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	req := &KeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	rec, err := h.service.Regenerate(r.Context(), req.LicenseKey)
	if err != nil {
		h.renderServiceError(w, r, "regenerate", err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, rec)
}

// Revoke handles POST /api/admin/license/revoke.
func (h *LicenseHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	req := &KeyRequest{}
	if err := render.Bind(r, req); err != nil {
		h.renderError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	rec, err := h.service.Revoke(r.Context(), req.LicenseKey)
	if err != nil {
		h.renderServiceError(w, r, "revoke", err)
		return
	}
	render.JSON(w, r, rec)
}

// Status handles GET /api/admin/license/status?key=SSB-...
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		h.renderError(w, r, apierrors.ErrValidation("key", "key query parameter is required"))
		return
	}

	resp, err := h.service.Status(r.Context(), key)
	if err != nil {
		h.renderServiceError(w, r, "status", err)
		return
	}
	render.JSON(w, r, resp)
}

// Export handles GET /api/admin/license/export, streaming the register as an
// xlsx workbook.
func (h *LicenseHandler) Export(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Directory(r.Context())
	if err != nil {
		h.renderServiceError(w, r, "export", err)
		return
	}

	filename := fmt.Sprintf("license-register-%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))

	if err := exporter.WriteRegister(w, records); err != nil {
		h.logger.ErrorContext(r.Context(), "register export failed",
			slog.String("error", err.Error()))
	}
}

func (h *LicenseHandler) renderError(w http.ResponseWriter, r *http.Request, apiErr *apierrors.APIError) {
	render.Render(w, r, apierrors.NewErrorResponse(apiErr))
}

// renderServiceError maps service errors onto the API error surface. Anything
// not already an APIError renders as an opaque 500.
func (h *LicenseHandler) renderServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		h.renderError(w, r, apiErr)
		return
	}
	h.logger.ErrorContext(r.Context(), "license operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	h.renderError(w, r, apierrors.ErrInternalServer)
}
