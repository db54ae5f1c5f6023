package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"narrator-server/internal/app/narration"
	"narrator-server/internal/domain/admission"
	domaindescribe "narrator-server/internal/domain/describe"
	domainimage "narrator-server/internal/domain/image"
	"narrator-server/internal/domain/speech"
	platformconfig "narrator-server/internal/platform/config"
	platformerrors "narrator-server/internal/platform/errors"
	platformlogging "narrator-server/internal/platform/logging"
	platformobservability "narrator-server/internal/platform/observability"
	httptransport "narrator-server/internal/transport/http"
	httpdescribe "narrator-server/internal/transport/http/describe"
)

const bootTag = "Bootstrap"

// Options controls where Run reads its configuration.
type Options struct {
	// ConfigPath overrides NARRATOR_CONFIG and the default config.yaml.
	ConfigPath string
	// SkipDotEnv disables .env loading.
	SkipDotEnv bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts                  Options
	started               time.Time
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	gate                  *admission.Gate
	extractor             *domainimage.Extractor
	narrator              *narration.Service
	status                string
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts, started: time.Now()}

	steps := InitGraph()
	if err := initialise(ctx, steps, state); err != nil {
		return err
	}
	defer state.release()

	logger := state.logger
	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(signalCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:start-server", "failed to start http server", err)
	}

	return waitForShutdown(groupCtx, cancel, logger, group, state.config.Server.ShutdownTimeout)
}

// initialise runs steps and, on failure, releases whatever the completed
// steps acquired.
func initialise(ctx context.Context, steps []initStep, state *appState) error {
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.release()
		return err
	}
	return nil
}

// release closes resources in reverse init order. Safe to call more than once.
func (s *appState) release() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.gate != nil {
		if err := s.gate.Close(ctx); err != nil {
			s.logger.ErrorTag("Admission", "gate did not close cleanly: %v", err)
		}
		s.gate = nil
	}
	if s.observabilityShutdown != nil {
		if err := s.observabilityShutdown(ctx); err != nil {
			s.logger.WarnTag(bootTag, "observability did not shut down cleanly: %v", err)
		}
		s.observabilityShutdown = nil
	}
	if s.logger != nil {
		_ = s.logger.Close()
		s.logger = nil
	}
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag(bootTag, "init graph")
	for _, step := range steps {
		deps := "-"
		if len(step.DependsOn) > 0 {
			deps = strings.Join(step.DependsOn, ", ")
		}
		logger.InfoTag(bootTag, "  %s (%s) <- %s", step.ID, step.Title, deps)
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph lists the init steps in execution order.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "admission:init-gate",
			Title:     "Initialise admission gate",
			DependsOn: []string{"observability:setup-hooks"},
			Kind:      platformerrors.KindAdmission,
			Execute:   initAdmissionStep,
		},
		{
			ID:        "inference:init-providers",
			Title:     "Initialise vision and speech providers",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initInferenceStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().
		WithDotEnv(!state.opts.SkipDotEnv).
		WithPath(state.opts.ConfigPath).
		Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "logging:init-provider", "config not loaded")
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag(bootTag, "logging ready [%s] config from %s", state.config.Log.Level, state.configPath)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "observability:setup-hooks", "config/logger not initialised")
	}

	// debug 级别时打开 span/metric 输出
	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}
	shutdown, err := platformobservability.Setup(ctx, cfg, state.logger.Slog())
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

func initAdmissionStep(_ context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "admission:init-gate", "config/logger not initialised")
	}

	gate, err := admission.NewFromConfig(state.config.Admission, state.logger)
	if err != nil {
		return err
	}
	state.gate = gate

	cfg := state.config.Admission
	state.logger.InfoTag("Admission", "gate ready: enabled=%t store=%s bucket=%d/%d per %s",
		cfg.Enabled, cfg.Store.Type,
		cfg.TokenBucket.Capacity, cfg.TokenBucket.RefillRate, cfg.TokenBucket.Interval)
	return nil
}

func initInferenceStep(_ context.Context, state *appState) error {
	cfg := state.config
	logger := state.logger
	if cfg == nil || logger == nil {
		return platformerrors.New(platformerrors.KindBootstrap, "inference:init-providers", "config/logger not initialised")
	}

	pipeline, err := domainimage.NewPipeline(domainimage.Options{Upload: cfg.Upload, Logger: logger})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "inference:init-providers", "failed to create image pipeline", err)
	}
	state.extractor = domainimage.NewExtractor(pipeline, logger)

	visionBackend, err := domaindescribe.NewBackend(cfg.Vision)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "inference:init-providers", "failed to create vision backend", err)
	}
	speechBackend, err := speech.NewBackend(cfg.Speech)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "inference:init-providers", "failed to create speech backend", err)
	}

	state.narrator = narration.NewService(&narration.Config{
		Describer:     domaindescribe.NewGenerator(visionBackend, logger),
		Speaker:       speech.NewSynthesizer(speechBackend, logger),
		Logger:        logger,
		VisionTimeout: cfg.Vision.Timeout,
		SpeechTimeout: cfg.Speech.Timeout,
	})
	state.status = httpdescribe.StatusLine(cfg.Vision.ModelName, cfg.Speech.ModelName, cfg.Speech.Voice)

	logger.InfoTag(bootTag, "providers ready: vision=%s/%s speech=%s/%s",
		visionBackend.Name(), cfg.Vision.ModelName, speechBackend.Name(), cfg.Speech.ModelName)
	return nil
}

// buildHandler wires the gin engine with every route.
func buildHandler(state *appState) (http.Handler, error) {
	router, err := httptransport.Build(httptransport.Options{
		Config: state.config,
		Logger: state.logger,
	})
	if err != nil {
		return nil, err
	}

	router.Engine.NoRoute(func(c *gin.Context) {
		httptransport.RespondError(c, http.StatusNotFound, "Not found", nil)
	})

	httptransport.RegisterHealth(router.API, state.started, state.gate)

	describeService, err := httpdescribe.NewService(httpdescribe.Options{
		Gate:      state.gate,
		Extractor: state.extractor,
		Narrator:  state.narrator,
		Logger:    state.logger,
		Status:    state.status,
	})
	if err != nil {
		return nil, err
	}
	describeService.Register(router.API)

	return router.Engine, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	handler, err := buildHandler(state)
	if err != nil {
		return nil, err
	}

	cfg := state.config
	logger := state.logger
	httpServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server closed")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "listen failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
	timeout time.Duration,
) error {
	<-ctx.Done()
	logger.InfoTag(bootTag, "shutting down: %v", context.Cause(ctx))

	cancel()

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag(bootTag, "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag(bootTag, "all services stopped")
	// 多留 5 秒给 Shutdown 之后的清理
	case <-time.After(timeout + 5*time.Second):
		logger.ErrorTag(bootTag, "shutdown timed out")
		return platformerrors.New(platformerrors.KindBootstrap, "shutdown", "timed out waiting for services")
	}
	return nil
}
