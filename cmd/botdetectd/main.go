// Command botdetectd is the composition root wiring the bot-detection
// core's packages into one running process: registries, orchestrator,
// policy resolver, reputation store, signature manager, learning bus, and
// the action-dispatch registry. It follows the teacher's
// examples/orchestrator/main.go shape — environment-variable-driven
// construction with sane fallbacks, log.Fatal on a genuinely required
// setting missing — generalized from agent wiring to detection-core wiring.
//
// This binary is illustrative: concrete detector algorithms are out of
// core scope (spec.md §1), so the only detector registered here is the
// reference ai.escalation one from internal/detectors. A real deployment
// registers its own detectors against the same detector.Registry before
// calling Run.
package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wavecore/botdetect/internal/action"
	"github.com/wavecore/botdetect/internal/config"
	"github.com/wavecore/botdetect/internal/detector"
	"github.com/wavecore/botdetect/internal/detectors"
	"github.com/wavecore/botdetect/internal/httpboundary"
	"github.com/wavecore/botdetect/internal/learning"
	"github.com/wavecore/botdetect/internal/orchestrator"
	"github.com/wavecore/botdetect/internal/policy"
	"github.com/wavecore/botdetect/internal/port"
	"github.com/wavecore/botdetect/internal/reputation"
	"github.com/wavecore/botdetect/internal/response"
	"github.com/wavecore/botdetect/internal/signature"
	"github.com/wavecore/botdetect/internal/telemetriclog"
	"github.com/wavecore/botdetect/internal/telemetry"
)

func main() {
	logger, err := telemetriclog.NewProduction()
	if err != nil {
		fatal("failed to initialize logger", err)
	}
	defer logger.Sync()

	cfg, err := buildConfig()
	if err != nil {
		fatal("invalid configuration", err)
	}

	tel, err := telemetry.NewProvider("botdetectd", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		fatal("failed to initialize telemetry", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	defer tel.Shutdown(shutdownCtx)

	repStore := reputation.New(reputation.DefaultThresholds(), 0, nil)
	repStore.WithTelemetry(tel)

	bus := learning.New(cfg.LearningQueueCapacity, cfg.LearningBatchSize, cfg.LearningFlushIdle, logger.WithComponent("learning"))
	bus.WithTelemetry(tel)
	bus.Subscribe(learning.NewReputationHandler(repStore))
	bus.Subscribe(learning.NewDriftDetector(bus))
	bus.Start(context.Background())
	defer bus.Shutdown(10 * time.Second)

	feedback := learning.NewResponseFeedbackPoster(bus)

	sigRegistry := signature.NewRegistry(cfg.MaxSignatures, cfg.SignatureTTL, cfg.MaxRequestsPerSignature, nil)
	sigQueues := signature.NewQueues(cfg.PerKeyQueueBound, logger.WithComponent("signature"))
	hmacKey, err := decodeHexKey(cfg.HMACKeyHex)
	if err != nil {
		fatal("invalid HMAC key", err)
	}
	sigManager := signature.NewManager(sigRegistry, sigQueues, repStore, feedback, hmacKey, logger.WithComponent("signature"))
	sigManager.WithTelemetry(tel)

	detRegistry := detector.NewRegistry()
	if err := detRegistry.Register(detectors.NewAIEscalationDetector(nil, 0)); err != nil {
		fatal("failed to register detectors", err)
	}

	weightStore := learning.NewWeightStore(0.05)

	orch := orchestrator.New(detRegistry, logger.WithComponent("orchestrator"),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithDetectorCancelBudget(cfg.DetectorCancelBudget),
		orchestrator.WithWeightStore(weightStore))

	resolver := policy.NewResolver()
	defaultDetection := policy.DefaultDetectionPolicy("default", []string{"ai.escalation"})
	defaultAction := &policy.ActionPolicy{Name: "default", Type: policy.ActionLogOnly}
	resolver.RegisterDetectionPolicy(defaultDetection)
	resolver.RegisterActionPolicy(defaultAction)
	resolver.SetDefault(defaultDetection.Name, defaultAction.Name)

	if manifestPath := os.Getenv("POLICY_MANIFEST_PATH"); manifestPath != "" {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			fatal("failed to read policy manifest", err)
		}
		if err := policy.LoadPoliciesYAML(data, resolver); err != nil {
			fatal("failed to load policy manifest", err)
		}
	}

	if err := orchestrator.ValidateDetectorReferences(detRegistry, resolver.DetectionPolicies()); err != nil {
		fatal("policy references an unregistered detector", err)
	}

	actions := action.NewRegistry()

	respCoordinator := response.New(sigManager, bus, logger.WithComponent("response")).WithWeights(weightStore)

	pipeline := &httpboundary.Pipeline{
		Orchestrator: orch,
		Resolver:     resolver,
		Actions:      actions,
		Signatures:   sigManager,
		Responses:    respCoordinator,
	}

	router := chi.NewRouter()
	router.Use(pipeline.Middleware)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	addr := port.NewManager(logger.WithComponent("port")).ListenAddr()
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("botdetectd listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server failed", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// buildConfig assembles config.Config from environment variables, falling
// back to config.Default()'s values when unset.
func buildConfig() (*config.Config, error) {
	var opts []config.Option

	hmacKeyHex := os.Getenv("BOTDETECT_HMAC_KEY_HEX")
	if hmacKeyHex == "" {
		// Development fallback only; a real deployment must set
		// BOTDETECT_HMAC_KEY_HEX so signature hashes aren't reproducible
		// across independently-deployed instances.
		hmacKeyHex = strings.Repeat("00", 32)
	}
	opts = append(opts, config.WithHMACKeyHex(hmacKeyHex))

	if v := os.Getenv("BOTDETECT_MAX_PARALLEL_DETECTORS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithMaxParallelDetectors(n))
	}

	return config.New(opts...)
}

func decodeHexKey(keyHex string) ([]byte, error) {
	return hex.DecodeString(keyHex)
}

func fatal(msg string, err error) {
	os.Stderr.WriteString(msg + ": " + err.Error() + "\n")
	os.Exit(1)
}
