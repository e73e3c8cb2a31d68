// Package httpapi exposes the vault services over a JSON HTTP API.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/qvault/internal/common"
	"github.com/dmitrijs2005/qvault/internal/logging"
	"github.com/dmitrijs2005/qvault/internal/server/services"
	"github.com/go-playground/validator/v10"
)

const maxJSONBody = 1 << 20

// Services are the operations the API serves.
type Services struct {
	Vault       *services.VaultService
	Audit       *services.AuditService
	Users       *services.UserService
	Devices     *services.DeviceService
	Dashboard   *services.DashboardService
	Maintenance *services.MaintenanceService
}

// Options tune the HTTP surface.
type Options struct {
	// MaxUploadSize is the largest file accepted by /api/encrypt.
	MaxUploadSize int64
	CORSOrigins   []string
}

type Handler struct {
	vault       *services.VaultService
	audit       *services.AuditService
	users       *services.UserService
	devices     *services.DeviceService
	dashboard   *services.DashboardService
	maintenance *services.MaintenanceService

	opts     Options
	logger   logging.Logger
	validate *validator.Validate
}

func NewHandler(s Services, opts Options, logger logging.Logger) *Handler {
	return &Handler{
		vault:       s.Vault,
		audit:       s.Audit,
		users:       s.Users,
		devices:     s.Devices,
		dashboard:   s.Dashboard,
		maintenance: s.Maintenance,
		opts:        opts,
		logger:      logger.With("module", "http_api"),
		validate:    validator.New(),
	}
}

// decode reads a JSON body into dst and validates it. An empty body leaves
// dst at its zero value before validation.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body", common.ErrorValidation)
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fieldProblem(fe))
	}
	return fmt.Errorf("%w: %s", common.ErrorValidation, strings.Join(problems, ", "))
}

func fieldProblem(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " too long"
	case "min":
		return field + " too short"
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	}
	return field + " is invalid"
}
