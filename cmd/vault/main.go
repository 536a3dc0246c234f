package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"taxvault/internal/app"
	"taxvault/internal/config"
	"taxvault/internal/extraction"
	"taxvault/internal/identity"
	"taxvault/internal/ratelimit"
	"taxvault/internal/redaction"
	"taxvault/internal/server"
	"taxvault/internal/util"
	"taxvault/pkg/ai"
	"taxvault/pkg/gcp"
	"taxvault/pkg/ocr"
	"taxvault/pkg/pii"
	"taxvault/pkg/storage"
	"taxvault/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger("vault", cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	staging, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioStagingBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init staging storage: %v", err)
	}
	vault, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioVaultBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init vault storage: %v", err)
	}

	extractor, detector, generator := buildAdapters(cfg)

	rasterizer, err := redaction.NewPopplerRasterizer(cfg.RasterDPI)
	if err != nil {
		log.Fatalf("failed to init rasterizer: %v", err)
	}
	pipeline := redaction.NewPipeline(st, staging, extractor, detector, redaction.NewRenderer(rasterizer), logger, redaction.PipelineOptions{
		MaxAttempts: cfg.UpstreamRetries,
		RetryBase:   config.Duration(cfg.UpstreamRetryDelay, time.Second),
	})
	orchestrator := extraction.NewOrchestrator(st, vault, extractor, generator, logger, config.Duration(cfg.ExtractionTimeout, 5*time.Minute))
	appCore := app.New(st, staging, vault, pipeline, orchestrator, logger, config.Duration(cfg.PipelineTimeout, 10*time.Minute))

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		log.Fatalf("failed to init authenticator: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var uploadLimiter *ratelimit.FixedWindowLimiter
	if cfg.UploadRateLimit > 0 && cfg.RedisAddr != "" {
		uploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "taxvault:upload", cfg.UploadRateLimit, config.Duration(cfg.UploadRateWindow, time.Minute))
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Auth:           auth,
		UploadLimiter:  uploadLimiter,
		TrustedProxies: trustedProxies,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("vault server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func buildAdapters(cfg config.FileConfig) (ocr.Extractor, pii.Detector, ai.TextGenerator) {
	if cfg.LocalAdapters {
		slog.Warn("local adapters enabled; OCR and detection run in-process without cloud services")
		return ocr.NewLocalExtractor(), pii.NewPatternDetector(), &ai.StaticGenerator{
			Response: `{"filing_status":null,"w2_wages":null,"total_deductions":null,"ira_distributions_total":null,"capital_gain_or_loss":null}`,
		}
	}
	tokens := gcp.StaticTokenProvider(cfg.GCPAccessToken)
	extractor, err := ocr.NewDocAIExtractor(cfg.GCPProjectID, cfg.GCPLocation, cfg.DocAIProcessorID, tokens)
	if err != nil {
		log.Fatalf("failed to init docai extractor: %v", err)
	}
	detector, err := pii.NewDLPDetector(cfg.GCPProjectID, tokens)
	if err != nil {
		log.Fatalf("failed to init dlp detector: %v", err)
	}
	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	return extractor, detector, ai.NewGeminiGenerator(gemini, cfg.GeminiModel)
}

func buildAuthenticator(cfg config.FileConfig) (identity.Authenticator, error) {
	if cfg.DevAuth {
		slog.Warn("dev auth enabled; identities come from the X-User-Id header")
		return identity.HeaderAuthenticator{}, nil
	}
	verifier, err := identity.NewVerifier(identity.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		return nil, err
	}
	return identity.NewBearerAuthenticator(verifier), nil
}
