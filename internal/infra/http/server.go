package http

import (
	"context"
	"errors"
	"log"
	"net/http"

	"attestd/internal/config"
	"attestd/internal/domain"
	"attestd/internal/infra/auth/oidc"
	"attestd/internal/infra/cachemem"
	"attestd/internal/infra/content"
	"attestd/internal/infra/crypto"
	"attestd/internal/infra/db"
	"attestd/internal/infra/identity"
	"attestd/internal/infra/memrepo"
	"attestd/internal/infra/policyopa"
	"attestd/internal/infra/ratelimit"
	"attestd/internal/infra/timestamp"
	"attestd/internal/usecase"

	"github.com/gin-gonic/gin"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	signatures *usecase.SignatureService
	challenges *usecase.ChallengeService
	exporter   *usecase.AuditExporter
	auditRepo  usecase.AuditEventRepository

	adminAPIKey   string
	authenticator domain.Authenticator
	authInitErr   error
	initErr       error
}

func NewServer(cfg config.Config, store *db.Store) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{cfg: cfg, store: store, r: r}
	s.initDeps()
	s.routes()
	return s
}

type ServerDeps struct {
	Signatures    *usecase.SignatureService
	Challenges    *usecase.ChallengeService
	Exporter      *usecase.AuditExporter
	AuditEvents   usecase.AuditEventRepository
	AdminAPIKey   string
	Authenticator domain.Authenticator
}

func NewServerWithDeps(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:           cfg,
		r:             r,
		signatures:    deps.Signatures,
		challenges:    deps.Challenges,
		exporter:      deps.Exporter,
		auditRepo:     deps.AuditEvents,
		adminAPIKey:   deps.AdminAPIKey,
		authenticator: deps.Authenticator,
	}
	s.initAuth()
	s.routes()
	return s
}

func (s *Server) initDeps() {
	s.adminAPIKey = s.cfg.AdminAPIKey

	var sigStore usecase.SignatureStore
	if s.store != nil && s.store.DB != nil {
		sigStore = s.store
	} else {
		sigStore = memrepo.New()
	}

	scope := domain.ChainScopeGlobal
	if s.cfg.AuditChainScope == string(domain.ChainScopePerTenant) {
		scope = domain.ChainScopePerTenant
	}

	var resolver usecase.ContentResolver
	if s.cfg.ContentDir != "" {
		resolver = content.NewFileResolver(s.cfg.ContentDir)
	} else {
		resolver = content.NewMapResolver()
	}

	var identities usecase.IdentityProvider
	if s.cfg.UsersFile != "" {
		dir, err := identity.LoadDirectory(s.cfg.UsersFile)
		if err != nil {
			s.initErr = err
			return
		}
		identities = dir
	} else {
		identities = identity.NewDirectory()
	}

	var permissions usecase.PermissionChecker
	var err error
	if s.cfg.PolicyBundlePath != "" {
		permissions, err = policyopa.NewEngineFromBundlePath(context.Background(), s.cfg.PolicyBundlePath)
	} else {
		permissions, err = policyopa.NewDefaultEngine(context.Background())
	}
	if err != nil {
		s.initErr = err
		return
	}

	var timeSource usecase.TimeSource
	servers := s.cfg.TSAServerList()
	switch {
	case len(servers) > 0 && s.cfg.TimeLocalFallback:
		timeSource = &timestamp.FallbackSource{
			Primary:   timestamp.NewTSASource(servers, s.cfg.TSATimeout(), s.cfg.TSADriftWarn()),
			Secondary: &timestamp.LocalFallbackSource{},
		}
	case len(servers) > 0:
		timeSource = timestamp.NewTSASource(servers, s.cfg.TSATimeout(), s.cfg.TSADriftWarn())
	case s.cfg.TimeLocalFallback:
		timeSource = &timestamp.LocalFallbackSource{}
	default:
		// Fails closed on every signing attempt until TSA_URLS is set.
		timeSource = timestamp.NewTSASource(nil, s.cfg.TSATimeout(), s.cfg.TSADriftWarn())
	}

	var limiter domain.RateLimiter
	if s.cfg.RedisAddr != "" {
		if redisLimiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}

	audit := usecase.NewAuditEmitter(sigStore.AuditEvents(), scope, nil)
	challenges := usecase.NewChallengeService(sigStore.Challenges(), s.cfg.ChallengeTTL(), nil)

	s.auditRepo = sigStore.AuditEvents()
	s.challenges = challenges
	s.exporter = &usecase.AuditExporter{Repo: sigStore.AuditEvents(), Audit: audit}
	s.signatures = &usecase.SignatureService{
		Store:          sigStore,
		Content:        resolver,
		Hasher:         &crypto.Service{},
		Identity:       identities,
		Permissions:    permissions,
		Time:           timeSource,
		Challenges:     challenges,
		Audit:          audit,
		Cache:          cachemem.New(),
		Limiter:        limiter,
		ReauthLimit:    s.cfg.ReauthRateLimit,
		ReauthWindow:   s.cfg.ReauthRateWindow(),
		VerifyCacheTTL: s.cfg.VerifyCacheTTL(),
	}
	s.initAuth()
}

func (s *Server) initAuth() {
	switch s.cfg.AuthMode {
	case "", "header", "none":
		return
	case "bearer":
		if s.authenticator != nil {
			return
		}
		if s.cfg.OIDCIssuerURL == "" {
			s.authInitErr = errors.New("AUTH_MODE=bearer requires OIDC_ISSUER_URL or an injected authenticator")
			return
		}
		auth, err := oidc.NewAuthenticator(s.cfg)
		if err != nil {
			s.authInitErr = err
			return
		}
		s.authenticator = auth
	default:
		s.authInitErr = errors.New("unsupported auth mode")
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		dbMode := "no-db"
		if s.store != nil && s.store.DB != nil {
			dbMode = "db"
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": dbMode})
	})

	v1 := s.r.Group("/v1")
	{
		v1.POST("/signatures/initiate", s.handleInitiate)
		v1.POST("/signatures/complete", s.handleComplete)
		v1.POST("/signatures/:id/invalidate", s.handleInvalidate)
		v1.GET("/signatures/:id/verify", s.handleVerifySignature)

		v1.GET("/audit/verify-chain", s.handleVerifyChain)
		v1.GET("/audit/export", s.handleExportChain)
	}

	s.r.NoRoute(s.handleNoRoute)
}

// StartSweeper runs the challenge sweeper until ctx is cancelled.
func (s *Server) StartSweeper(ctx context.Context) {
	if s.challenges == nil {
		return
	}
	go s.challenges.RunSweeper(ctx, s.cfg.ChallengeSweepInterval(), log.Printf)
}

func (s *Server) Run() error {
	if s.initErr != nil {
		return s.initErr
	}
	if s.authInitErr != nil {
		return s.authInitErr
	}
	return s.r.Run(s.cfg.HTTPAddr)
}
