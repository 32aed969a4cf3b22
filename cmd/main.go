package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/database"
	_ "github.com/lshigami/safetycert/docs" // Swagger docs - generated by swag init
	adminctrl "github.com/lshigami/safetycert/internal/controller/admin"
	commissionctrl "github.com/lshigami/safetycert/internal/controller/commission"
	userctrl "github.com/lshigami/safetycert/internal/controller/user"
	"github.com/lshigami/safetycert/internal/logger"
	"github.com/lshigami/safetycert/internal/mail"
	"github.com/lshigami/safetycert/internal/middleware"
	"github.com/lshigami/safetycert/internal/otp"
	"github.com/lshigami/safetycert/internal/repository"
	"github.com/lshigami/safetycert/internal/repository/inmem"
	"github.com/lshigami/safetycert/internal/service"
	"github.com/lshigami/safetycert/internal/worker"
)

// @title Safety Training Certification API
// @version 1.0
// @description Exam attempts with autosave and timeouts, extra attempt requests, PDEK protocol signing by SMS code and certificate issuance.
// @contact.name API Support
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger.Init()
	defer logger.Close()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Configure(cfg)

	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(NewGinEngine),

		storageModule(cfg),

		// Gateways
		fx.Provide(
			func(cfg *config.Config, repo repository.OTPRepository, tx repository.Transactor) otp.Gateway {
				return otp.NewGateway(cfg.OTP, repo, tx, otp.NewLogSender())
			},
			mail.NewSender,
			service.NewGeminiGrader,
		),

		// Services Layer
		fx.Provide(
			service.NewGradingService,
			service.NewAdminTestService,
			service.NewUserTestService,
			service.NewExtraAttemptService,
			service.NewCertificateService,
			func(cs service.CertificateService) service.CertificateIssuer { return cs },
			service.NewProtocolService,
			service.NewTestSubmissionService,
			service.NewAttemptService,
		),

		// Background upkeep
		fx.Provide(
			func(cfg *config.Config, tss service.TestSubmissionService, cs service.CertificateService) *worker.Sweeper {
				return worker.NewSweeper(cfg, tss, cs)
			},
		),

		// API Controllers Layer
		fx.Provide(
			adminctrl.NewAdminTestController,
			adminctrl.NewAdminWorkflowController,
			userctrl.NewUserTestController,
			userctrl.NewUserDocumentController,
			commissionctrl.NewProtocolController,
		),

		fx.Invoke(RegisterRoutesAndStartServer),
		fx.Invoke(worker.Register),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	<-app.Done()
	log.Info().Msg("Application shutting down gracefully...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Application stopped with error")
	}
}

// storageModule picks the repository backend. "memory" runs without a database.
func storageModule(cfg *config.Config) fx.Option {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		return inmem.Module
	}
	return fx.Options(
		fx.Provide(database.NewDatabase),
		repository.Module,
		fx.Invoke(func(db *gorm.DB) error { return database.AutoMigrate(db) }),
	)
}

func NewGinEngine(cfg *config.Config) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = 32 << 20

	r.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		log.Info().
			Str("client_ip", param.ClientIP).
			Str("method", param.Method).
			Str("path", param.Path).
			Int("status_code", param.StatusCode).
			Dur("latency", param.Latency).
			Str("user_agent", param.Request.UserAgent()).
			Str("error_message", param.ErrorMessage).
			Msg("gin_request")
		return ""
	}))
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// URL: http://localhost:PORT/swagger/index.html
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	return r
}

// RegisterRoutesAndStartServer configures API routes and manages server lifecycle.
func RegisterRoutesAndStartServer(
	lc fx.Lifecycle,
	router *gin.Engine,
	cfg *config.Config,
	adminTestCtrl *adminctrl.AdminTestController,
	adminWorkflowCtrl *adminctrl.AdminWorkflowController,
	userTestCtrl *userctrl.UserTestController,
	userDocCtrl *userctrl.UserDocumentController,
	protocolCtrl *commissionctrl.ProtocolController,
) {
	api := router.Group("/api/v1", middleware.Auth(cfg.Auth.JWTSecret))

	adminAPIGroup := api.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		adminAPIGroup.POST("/tests", adminTestCtrl.CreateTest)
		adminAPIGroup.GET("/commission", adminTestCtrl.ListCommission)
		adminAPIGroup.PUT("/commission", adminTestCtrl.UpsertCommissionMember)
		adminAPIGroup.PUT("/users", adminTestCtrl.UpsertUserProfile)

		adminAPIGroup.POST("/extra-attempt-requests/:request_id/approve", adminWorkflowCtrl.ApproveExtraAttempt)
		adminAPIGroup.POST("/extra-attempt-requests/:request_id/reject", adminWorkflowCtrl.RejectExtraAttempt)
		adminAPIGroup.POST("/protocols/:protocol_id/annul", adminWorkflowCtrl.AnnulProtocol)
		adminAPIGroup.POST("/protocols/:protocol_id/reopen", adminWorkflowCtrl.ReopenProtocol)
		adminAPIGroup.POST("/certificates/:certificate_id/file", adminWorkflowCtrl.UploadCertificateFile)
		adminAPIGroup.POST("/certificates/:certificate_id/reissue", adminWorkflowCtrl.ReissueCertificate)
	}

	// Students take tests; admins may act on their behalf.
	student := api.Group("", middleware.RequireRole(middleware.RoleStudent, middleware.RoleAdmin))
	{
		student.GET("/tests", userTestCtrl.GetAllTests)
		student.GET("/tests/:test_id", userTestCtrl.GetTestDetails)
		student.POST("/tests/:test_id/attempts", userTestCtrl.StartAttempt)
		student.GET("/tests/:test_id/attempts", userTestCtrl.ListAttempts)
		student.GET("/attempts/:attempt_id", userTestCtrl.GetAttempt)
		student.PUT("/attempts/:attempt_id/answers", userTestCtrl.SaveAnswers)
		student.POST("/attempts/:attempt_id/submit", userTestCtrl.SubmitAttempt)
		student.POST("/attempts/:attempt_id/completion/otp", userTestCtrl.RequestCompletionCode)
		student.POST("/attempts/:attempt_id/completion/confirm", userTestCtrl.ConfirmCompletion)
		student.POST("/tests/:test_id/extra-attempt-requests", userTestCtrl.CreateExtraAttemptRequest)
		student.GET("/tests/:test_id/extra-attempt-requests/current", userTestCtrl.CurrentExtraAttemptRequest)
		student.GET("/extra-attempt-requests", userTestCtrl.ListExtraAttemptRequests)
		student.GET("/certificates", userDocCtrl.ListCertificates)
		student.GET("/certificates/:certificate_id", userDocCtrl.GetCertificate)
		student.GET("/certificates/:certificate_id/download", userDocCtrl.DownloadCertificate)
	}

	// Visibility is narrowed per role inside the handlers.
	api.GET("/protocols", userDocCtrl.ListProtocols)
	api.GET("/protocols/:protocol_id", userDocCtrl.GetProtocol)

	signers := api.Group("/protocols", middleware.RequireRole(middleware.RoleCommission))
	{
		signers.POST("/:protocol_id/signature-request", protocolCtrl.RequestSignature)
		signers.POST("/:protocol_id/sign", protocolCtrl.Sign)
		signers.POST("/:protocol_id/reject", protocolCtrl.Reject)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msgf("Certification API server starting on port %s", cfg.Server.Port)
			log.Info().Msgf("Swagger UI available at http://localhost:%s/swagger/index.html", cfg.Server.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("Server ListenAndServe failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Server shutting down...")
			return server.Shutdown(ctx)
		},
	})
}
