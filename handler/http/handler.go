package http

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"

	"logingest/src/core/authz"
	"logingest/src/core/ingest"
	"logingest/src/core/job"
	"logingest/src/core/user"
)

type IngestService interface {
	InitUpload(ctx context.Context, filename string, size int64, logFormat string) (*ingest.InitResult, error)
	CompleteUpload(ctx context.Context, jobID string) (*job.Job, error)
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	ListJobs(ctx context.Context, filter job.ListFilter) ([]job.Job, int64, error)
}

type UserService interface {
	Create(ctx context.Context, p user.CreateParams) (*user.User, error)
	Get(ctx context.Context, userID string) (*user.User, error)
	List(ctx context.Context, offset, limit int) ([]user.User, error)
	UpdateProfile(ctx context.Context, userID, email string) (*user.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	UpdateRoles(ctx context.Context, userID string, roles []string) (*user.User, error)
	UpdatePermissions(ctx context.Context, userID string, perms []string) (*user.User, error)
	UpdateStatus(ctx context.Context, userID string, active bool) (*user.User, error)
	Delete(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, username, password string) (*user.User, error)
	Active(ctx context.Context, userID string) (*user.User, error)
}

type TokenService interface {
	IssueAccess(id authz.Identity) (string, error)
	IssueRefresh(id authz.Identity) (string, error)
	Verify(credential string) (authz.Identity, error)
	VerifyRefresh(credential string) (authz.Identity, error)
	AccessTTL() time.Duration
}

// LocalUploads accepts signed uploads when objects are stored on disk.
type LocalUploads interface {
	Authorize(key, token string) error
	Write(key string, r io.Reader, limit int64) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Check is one dependency probed by the readiness endpoint.
type Check struct {
	Name   string
	Pinger Pinger
}

type RateLimits struct {
	Window   time.Duration
	Login    int
	Init     int
	Complete int
	Jobs     int
}

type Config struct {
	AppName        string
	Version        string
	Environment    string
	TokenPrefix    string
	RequestTimeout time.Duration
	RateLimits     RateLimits
}

func (c Config) production() bool { return c.Environment == "production" }

type Options struct {
	Config  Config
	Ingest  IngestService
	Users   UserService
	Tokens  TokenService
	Uploads LocalUploads
	Redis   *redis.Client
	Checks  []Check
	Logger  logr.Logger
}

type Handler struct {
	cfg     Config
	ingest  IngestService
	users   UserService
	tokens  TokenService
	uploads LocalUploads
	redis   *redis.Client
	checks  []Check
	logger  logr.Logger
}

func NewHandler(opts Options) *Handler {
	if opts.Config.TokenPrefix == "" {
		opts.Config.TokenPrefix = "Bearer"
	}
	if opts.Config.RateLimits.Window == 0 {
		opts.Config.RateLimits.Window = time.Minute
	}
	return &Handler{
		cfg:     opts.Config,
		ingest:  opts.Ingest,
		users:   opts.Users,
		tokens:  opts.Tokens,
		uploads: opts.Uploads,
		redis:   opts.Redis,
		checks:  opts.Checks,
		logger:  opts.Logger.WithName("http"),
	}
}

// RegisterRoutes registers middlewares and all API routes on r.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(RequestID(), AccessLog(h.logger), gin.CustomRecovery(h.recover))
	if h.cfg.RequestTimeout > 0 {
		r.Use(Timeout(h.cfg.RequestTimeout))
	}

	r.GET("/", h.Root)

	health := r.Group("/health")
	health.GET("", h.Health)
	health.GET("/ready", h.Ready)
	health.GET("/live", h.Live)

	limits := h.cfg.RateLimits
	authed := h.Authenticate()

	auth := r.Group("/auth")
	auth.POST("/login", h.rateLimit("login", limits.Login), h.Login)
	auth.POST("/refresh", h.Refresh)
	auth.GET("/me", authed, h.Me)

	ingestGroup := r.Group("/ingest", authed)
	ingestGroup.POST("/files/init",
		h.rateLimit("init", limits.Init),
		RequirePermissions(authz.PermIngestUpload),
		h.InitUpload)
	ingestGroup.POST("/files/complete",
		h.rateLimit("complete", limits.Complete),
		RequirePermissions(authz.PermIngestUpload),
		h.CompleteUpload)

	jobs := r.Group("/jobs", authed, h.rateLimit("jobs", limits.Jobs))
	jobs.GET("", RequirePermissions(authz.PermJobList), h.ListJobs)
	jobs.GET("/:job_id", RequirePermissions(authz.PermJobView, authz.PermJobList), h.GetJob)

	users := r.Group("/users", authed)
	users.POST("", RequirePermissions(authz.PermUserCreate), h.CreateUser)
	users.GET("", RequirePermissions(authz.PermUserList), h.ListUsers)
	users.GET("/:user_id",
		RequirePolicy(authz.OwnerOrPermission{Permission: authz.PermUserViewAny, ResourceParam: "user_id"}),
		h.GetUser)
	users.PATCH("/:user_id/profile",
		RequirePolicy(authz.OwnerOrPermission{Permission: authz.PermUserUpdate, ResourceParam: "user_id"}),
		h.UpdateProfile)
	users.PATCH("/:user_id/password",
		RequirePolicy(authz.OwnerOrPermission{Permission: authz.PermUserUpdate, ResourceParam: "user_id"}),
		h.ChangePassword)
	users.PATCH("/:user_id/roles",
		RequirePermissions(authz.PermUserUpdateRole, authz.PermUserUpdate),
		h.UpdateRoles)
	users.PATCH("/:user_id/permissions",
		RequirePermissions(authz.PermUserUpdatePermission, authz.PermUserUpdate),
		h.UpdatePermissions)
	users.PATCH("/:user_id/status",
		RequirePermissions(authz.PermUserUpdateStatus, authz.PermUserUpdate),
		h.UpdateStatus)
	users.DELETE("/:user_id", RequirePermissions(authz.PermUserDelete), h.DeleteUser)

	if h.uploads != nil {
		r.PUT("/uploads/*key", h.ReceiveUpload)
	}
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
