package identity

import (
	"errors"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/goliatone/go-identity/middleware/jwtware"
)

// ControllerRoutes holds the paths the controller mounts.
type ControllerRoutes struct {
	Register                   string
	Login                      string
	Refresh                    string
	Logout                     string
	ProfessionalRegister       string
	ProfessionalLogin          string
	ProfessionalChangePassword string
	ProfessionalForgotPassword string
	UserChangePassword         string
	AdminProfessionals         string
	Health                     string
}

// DefaultControllerRoutes returns the standard route layout.
func DefaultControllerRoutes() *ControllerRoutes {
	return &ControllerRoutes{
		Register:                   "/auth/register",
		Login:                      "/auth/login",
		Refresh:                    "/auth/refresh",
		Logout:                     "/auth/logout",
		ProfessionalRegister:       "/professional/register",
		ProfessionalLogin:          "/professional/login",
		ProfessionalChangePassword: "/professional/change-password",
		ProfessionalForgotPassword: "/professional/forgot-password",
		UserChangePassword:         "/user/change-password",
		AdminProfessionals:         "/admin/professionals",
		Health:                     "/healthz",
	}
}

// HTTPController exposes the Service over fiber.
type HTTPController struct {
	Logger       Logger
	Service      *Service
	Routes       *ControllerRoutes
	ContextKey   string
	RateLimiter  fiber.Handler
	Middleware   []fiber.Handler
	ErrorHandler func(*fiber.Ctx, error) error
	// Listeners run after a bearer token validates, before role checks.
	Listeners []ValidationListener
}

type ControllerOption func(*HTTPController) *HTTPController

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) ControllerOption {
	return func(h *HTTPController) *HTTPController {
		if logger != nil {
			h.Logger = logger
		}
		return h
	}
}

// WithRateLimiter guards the public auth routes.
func WithRateLimiter(handler fiber.Handler) ControllerOption {
	return func(h *HTTPController) *HTTPController {
		h.RateLimiter = handler
		return h
	}
}

// WithControllerRoutes overrides the route layout.
func WithControllerRoutes(routes *ControllerRoutes) ControllerOption {
	return func(h *HTTPController) *HTTPController {
		if routes != nil {
			h.Routes = routes
		}
		return h
	}
}

// WithControllerMiddleware adds handlers run before every route.
func WithControllerMiddleware(handlers ...fiber.Handler) ControllerOption {
	return func(h *HTTPController) *HTTPController {
		h.Middleware = append(h.Middleware, handlers...)
		return h
	}
}

// WithValidationListeners adds checks run on every validated bearer token.
func WithValidationListeners(listeners ...ValidationListener) ControllerOption {
	return func(h *HTTPController) *HTTPController {
		h.Listeners = append(h.Listeners, listeners...)
		return h
	}
}

// NewHTTPController builds the controller. It panics without a Service.
func NewHTTPController(svc *Service, opts ...ControllerOption) *HTTPController {
	h := &HTTPController{
		Service:    svc,
		Routes:     DefaultControllerRoutes(),
		ContextKey: "user",
	}

	for _, opt := range opts {
		h = opt(h)
	}

	if h.Service == nil {
		panic("Missing Service in identity controller...")
	}
	if h.Logger == nil {
		h.Logger = NamedLogger("identity.http")
	}
	if h.ErrorHandler == nil {
		h.ErrorHandler = func(c *fiber.Ctx, err error) error {
			return renderError(c, h.Logger, err)
		}
	}
	return h
}

// Mount registers every route on app.
func (h *HTTPController) Mount(app fiber.Router) {
	for _, mw := range h.Middleware {
		app.Use(mw)
	}

	public := []fiber.Handler{}
	if h.RateLimiter != nil {
		public = append(public, h.RateLimiter)
	}
	withPublic := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, public...), handler)
	}

	authenticated := h.Authenticated()
	professional := h.RequireRole(RoleProfessional)
	admin := h.RequireRole(RoleAdmin)

	app.Get(h.Routes.Health, h.Health)

	app.Post(h.Routes.Register, withPublic(h.RegisterUser)...)
	app.Post(h.Routes.Login, withPublic(h.Login)...)
	app.Post(h.Routes.Refresh, withPublic(h.Refresh)...)
	app.Post(h.Routes.Logout, h.Logout)

	app.Post(h.Routes.ProfessionalRegister, withPublic(h.RegisterProfessional)...)
	app.Post(h.Routes.ProfessionalLogin, withPublic(h.ProfessionalLogin)...)
	app.Post(h.Routes.ProfessionalForgotPassword, withPublic(h.ForgotPassword)...)
	app.Put(h.Routes.ProfessionalChangePassword, authenticated, professional, h.ChangePassword)
	app.Put(h.Routes.UserChangePassword, authenticated, h.ChangePassword)

	adminGroup := app.Group(h.Routes.AdminProfessionals, authenticated, admin)
	adminGroup.Get("/pending", h.ListPending)
	adminGroup.Get("/pending/count", h.CountPending)
	adminGroup.Get("/approved", h.ListApproved)
	adminGroup.Post("/reconcile", h.ReconcileStuck)
	adminGroup.Post("/:id/approve", h.Approve)
	adminGroup.Post("/:id/reject", h.Reject)
	adminGroup.Post("/:id/reconcile", h.Reconcile)
}

// Authenticated validates the bearer token and stores the principal in the
// request context.
func (h *HTTPController) Authenticated() fiber.Handler {
	cfg := jwtware.Config{
		TokenValidator:  BearerValidator(h.Service.Tokens),
		ContextKey:      h.ContextKey,
		ContextEnricher: ContextEnricherAdapter,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return h.ErrorHandler(c, bearerError(err))
		},
	}
	RegisterValidationListeners(&cfg, h.Listeners...)
	return jwtware.New(cfg)
}

// RequireRole must run after Authenticated.
func (h *HTTPController) RequireRole(role Role) fiber.Handler {
	return jwtware.RequireRole(h.ContextKey, string(role), func(c *fiber.Ctx, err error) error {
		return h.ErrorHandler(c, bearerError(err))
	})
}

func (h *HTTPController) principal(c *fiber.Ctx) (Principal, error) {
	if p, ok := PrincipalFromContext(c.UserContext()); ok {
		return p, nil
	}
	claims, ok := GetFiberClaims(c, h.ContextKey)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	return claims.Principal()
}

func (h *HTTPController) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTPController) RegisterUser(c *fiber.Ctx) error {
	payload := new(RegisterPayload)
	if err := c.BodyParser(payload); err != nil {
		h.Logger.Debug("register user parse payload", "error", err)
		return h.ErrorHandler(c, validationMessage("body", "failed to parse body"))
	}

	reg, err := h.Service.Registration.Register(c.UserContext(), payload.input())
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reg.Session)
}

func (h *HTTPController) RegisterProfessional(c *fiber.Ctx) error {
	payload := new(ProfessionalRegisterPayload)
	if err := c.BodyParser(payload); err != nil {
		h.Logger.Debug("register professional parse payload", "error", err)
		return h.ErrorHandler(c, validationMessage("body", "failed to parse body"))
	}

	reg, err := h.Service.Registration.Register(c.UserContext(), payload.input())
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reg.Account.View())
}

func (h *HTTPController) Login(c *fiber.Ctx) error {
	return h.login(c, ClassAny)
}

func (h *HTTPController) ProfessionalLogin(c *fiber.Ctx) error {
	return h.login(c, ClassProfessional)
}

func (h *HTTPController) login(c *fiber.Ctx, class AccountClass) error {
	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		return h.ErrorHandler(c, validationMessage("body", "failed to parse body"))
	}
	if err := payload.Validate(); err != nil {
		return h.ErrorHandler(c, err)
	}

	result, err := h.Service.Sessions.Login(c.UserContext(), LoginRequest{
		Email:    payload.Email,
		Password: payload.Password,
		Class:    class,
	})
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	switch result.Outcome {
	case OutcomeAuthenticated:
		return c.JSON(result.Session)
	default:
		return h.ErrorHandler(c, result.Err())
	}
}

func (h *HTTPController) Refresh(c *fiber.Ctx) error {
	payload := new(RefreshPayload)
	if err := c.BodyParser(payload); err != nil {
		return h.ErrorHandler(c, ErrInvalidToken)
	}
	if err := payload.Validate(); err != nil {
		return h.ErrorHandler(c, err)
	}

	session, err := h.Service.Sessions.Refresh(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(session)
}

// Logout always answers 200.
func (h *HTTPController) Logout(c *fiber.Ctx) error {
	payload := new(RefreshPayload)
	if err := c.BodyParser(payload); err == nil && payload.RefreshToken != "" {
		if err := h.Service.Sessions.Logout(c.UserContext(), payload.RefreshToken); err != nil {
			h.Logger.Warn("logout failed", "error", err)
		}
	}
	return c.SendStatus(fiber.StatusOK)
}

func (h *HTTPController) ChangePassword(c *fiber.Ctx) error {
	principal, err := h.principal(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	payload := new(ChangePasswordPayload)
	if err := c.BodyParser(payload); err != nil {
		return h.ErrorHandler(c, validationMessage("body", "failed to parse body"))
	}
	if err := payload.Validate(); err != nil {
		return h.ErrorHandler(c, err)
	}

	result, err := h.Service.Passwords.ChangePassword(c.UserContext(), principal, ChangePasswordRequest{
		CurrentPassword: payload.CurrentPassword,
		NewPassword:     payload.NewPassword,
	})
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"success":                 true,
		"currentPasswordVerified": result.CurrentPasswordVerified,
		"sessionsRevoked":         result.SessionsRevoked,
	})
}

// ForgotPassword answers the same way whether or not the email is known.
func (h *HTTPController) ForgotPassword(c *fiber.Ctx) error {
	payload := new(ForgotPasswordPayload)
	if err := c.BodyParser(payload); err == nil {
		h.Service.Passwords.RequestPasswordReset(c.UserContext(), payload.Email)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "If an activated account exists for this email, instructions have been sent.",
	})
}

func (h *HTTPController) ListPending(c *fiber.Ctx) error {
	principal, err := h.principal(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	accounts, err := h.Service.Activation.ListPending(c.UserContext(), principal)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(views(accounts))
}

func (h *HTTPController) ListApproved(c *fiber.Ctx) error {
	principal, err := h.principal(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	accounts, err := h.Service.Activation.ListApproved(c.UserContext(), principal)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(views(accounts))
}

func (h *HTTPController) CountPending(c *fiber.Ctx) error {
	principal, err := h.principal(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	count, err := h.Service.Activation.CountPending(c.UserContext(), principal)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *HTTPController) Approve(c *fiber.Ctx) error {
	principal, id, err := h.adminTarget(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	account, err := h.Service.Activation.Approve(c.UserContext(), principal, id,
		WithTransitionMetadata(map[string]any{"source": "http"}),
	)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(account.View())
}

func (h *HTTPController) Reject(c *fiber.Ctx) error {
	principal, id, err := h.adminTarget(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	payload := new(RejectPayload)
	if err := c.BodyParser(payload); err != nil {
		return h.ErrorHandler(c, validationMessage("reason", "is required"))
	}

	account, err := h.Service.Activation.Reject(c.UserContext(), principal, id, payload.Reason,
		WithTransitionMetadata(map[string]any{"source": "http"}),
	)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(account.View())
}

func (h *HTTPController) Reconcile(c *fiber.Ctx) error {
	principal, id, err := h.adminTarget(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	report, err := h.Service.Reconciler.ReconcileAccount(c.UserContext(), principal, id)
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(report)
}

// ReconcileStuck accepts olderThan (a duration, default 15m) and limit
// query parameters.
func (h *HTTPController) ReconcileStuck(c *fiber.Ctx) error {
	principal, err := h.principal(c)
	if err != nil {
		return h.ErrorHandler(c, err)
	}

	olderThan := 15 * time.Minute
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return h.ErrorHandler(c, validationMessage("olderThan", "must be a duration such as 30m"))
		}
		olderThan = d
	}

	reports, err := h.Service.Reconciler.ReconcileStuck(c.UserContext(), principal, olderThan, ParseLimit(c.Query("limit"), 100))
	if err != nil {
		return h.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"reports": reports})
}

func (h *HTTPController) adminTarget(c *fiber.Ctx) (Principal, uuid.UUID, error) {
	principal, err := h.principal(c)
	if err != nil {
		return Principal{}, uuid.Nil, err
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return Principal{}, uuid.Nil, validationMessage("id", "must be a valid uuid")
	}
	return principal, id, nil
}

func views(accounts []*Account) []AccountView {
	out := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.View())
	}
	return out
}

// ParseLimit reads a positive integer query parameter.
func ParseLimit(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}
