package router

import (
	"time"

	"qrtrace/internal/config"
	"qrtrace/internal/handler"
	"qrtrace/internal/infra"
	"qrtrace/internal/middleware"
	"qrtrace/internal/repository"
	"qrtrace/internal/service"
	"qrtrace/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Roles carried in the access token.
const (
	RoleAdmin        = service.RoleAdmin
	RoleManufacturer = "manufacturer"
	RoleWarehouse    = "warehouse"
)

// Services is the wired service layer shared by the HTTP server and the
// one-shot worker CLI.
type Services struct {
	Cases     service.CaseService
	Reverse   service.ReverseJobService
	Intake    service.IntakeService
	Shipments service.ShipmentService
	Runner    *worker.Runner
}

// NewServices wires Repository ← DB/Redis and Service ← Repository.
func NewServices(cfg *config.Config, db *gorm.DB, rdb *redis.Client, ledgerCB *infra.CircuitBreaker) *Services {
	// ── Infrastructure ───────────────────────────────────────────────────────
	ledger := infra.NewLedgerClient(cfg.LedgerURL, time.Duration(cfg.LedgerTimeoutSeconds)*time.Second, ledgerCB)
	dlq := infra.NewRedisDeadLetters(rdb, infra.StockMovementsQueue)

	// ── Repositories ─────────────────────────────────────────────────────────
	batchRepo := repository.NewBatchRepository(db)
	masterRepo := repository.NewMasterCodeRepository(db)
	unitRepo := repository.NewUnitCodeRepository(db)
	jobRepo := repository.NewReverseJobRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	sessionRepo := repository.NewValidationSessionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	postingRepo := repository.NewStockPostingRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	s := &Services{
		Cases:   service.NewCaseService(db, masterRepo, unitRepo, movementRepo),
		Reverse: service.NewReverseJobService(jobRepo, batchRepo, masterRepo, unitRepo, movementRepo, cfg.ReverseBufferQueryLimit),
		Intake: service.NewIntakeService(batchRepo, masterRepo, unitRepo, orderRepo, postingRepo, movementRepo, ledger, dlq,
			service.IntakeConfig{
				DefaultBonusPercent: cfg.WarrantyBonusPercent,
				BatchLimit:          cfg.IntakeBatchLimit,
			}),
		Shipments: service.NewShipmentService(sessionRepo, masterRepo, unitRepo, orderRepo, movementRepo, cfg.ReportStoragePath),
	}
	s.Runner = worker.NewRunner(worker.StandardTasks(s.Reverse, s.Intake, ledgerCB, cfg.LedgerReplayBatchSize)...)
	return s
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, ledgerCB *infra.CircuitBreaker) *gin.Engine {
	return Engine(cfg, NewServices(cfg, db, rdb, ledgerCB), handler.Health(db, rdb, ledgerCB))
}

// Engine mounts the middleware chain and routes over an already wired service layer.
func Engine(cfg *config.Config, s *Services, health gin.HandlerFunc) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())

	// ── Handlers ─────────────────────────────────────────────────────────────
	casesH := handler.NewCasesHandler(s.Cases)
	reverseH := handler.NewReverseJobsHandler(s.Reverse)
	intakeH := handler.NewIntakeHandler(s.Intake)
	shipmentsH := handler.NewShipmentsHandler(s.Shipments)
	workersH := handler.NewWorkersHandler(s.Runner)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	if health != nil {
		r.GET("/health", health)
	}

	// Scheduler triggers: static token, no JWT
	workers := r.Group("/v1/workers", middleware.SchedulerToken(cfg.SchedulerToken))
	{
		workers.GET("", workersH.List)
		workers.POST("/:task/run", workersH.Run)
	}

	// Protected routes; the limiter keys on the token's user so it runs after JWT
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), limiter.Middleware())
	{
		factory := middleware.RequireRole(RoleAdmin, RoleManufacturer)
		floor := middleware.RequireRole(RoleAdmin, RoleWarehouse)
		anyone := middleware.RequireRole(RoleAdmin, RoleManufacturer, RoleWarehouse)

		cases := v1.Group("/cases", factory)
		{
			cases.GET("/:id", casesH.Describe)
			cases.POST("/:id/mark-perfect", casesH.MarkPerfect)
		}

		jobs := v1.Group("/reverse-jobs", factory)
		{
			jobs.POST("", reverseH.Create)
			jobs.GET("", reverseH.List)
			jobs.DELETE("", reverseH.BulkDelete)
			jobs.GET("/:id", reverseH.Get)
			jobs.POST("/:id/cancel", reverseH.Cancel)
			jobs.DELETE("/:id", reverseH.Delete)
		}

		batches := v1.Group("/batches")
		{
			batches.GET("/:id/reverse-progress", factory, reverseH.BatchProgress)
			batches.POST("/:id/intake", factory, intakeH.Queue)
			batches.GET("/:id/intake-audit", anyone, intakeH.Audit)
		}

		sessions := v1.Group("/shipments/sessions", floor)
		{
			sessions.POST("", shipmentsH.Start)
			sessions.GET("/:id", shipmentsH.Get)
			sessions.POST("/:id/scan", shipmentsH.Scan)
			sessions.POST("/:id/unlink", shipmentsH.Unlink)
			sessions.POST("/:id/unlink-master", shipmentsH.UnlinkMaster)
			sessions.POST("/:id/approve", shipmentsH.Approve)
			sessions.POST("/:id/void", shipmentsH.Void)
			sessions.GET("/:id/report.pdf", shipmentsH.Report)
		}

		warehouses := v1.Group("/warehouses/:id", floor)
		{
			warehouses.GET("/shipments", shipmentsH.History)
			warehouses.POST("/unlink-by-product", shipmentsH.BulkUnlink)
		}
	}

	// Swagger UI, outside production only
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
