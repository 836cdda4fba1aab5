// Command predict inpaints every image/mask pair under an input directory
// with a trained model checkpoint.
//
// Configuration comes from defaults, an optional config file, INPAINT_PREDICT_*
// environment variables and key=value overrides, in increasing priority:
//
//	predict model.path=/ckpt/big-lama indir=/data/val outdir=/data/out refine=true
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SyedDaiam9101/inpaint-predict/internal/config"
	"github.com/SyedDaiam9101/inpaint-predict/internal/device"
	"github.com/SyedDaiam9101/inpaint-predict/internal/inference"
	"github.com/SyedDaiam9101/inpaint-predict/internal/logging"
	"github.com/SyedDaiam9101/inpaint-predict/internal/predict"
	"github.com/SyedDaiam9101/inpaint-predict/internal/progress"
	"github.com/SyedDaiam9101/inpaint-predict/internal/status"
	"github.com/SyedDaiam9101/inpaint-predict/internal/telemetry"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	code := 0
	var (
		configFile string
		sets       []string
		useMock    bool
	)

	cmd := &cobra.Command{
		Use:           "predict [key=value ...]",
		Short:         "Inpaint every masked image in a directory with a trained model",
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, positional []string) error {
			overrides := append(append([]string{}, sets...), positional...)
			if useMock {
				overrides = append(overrides, "use_mock_inference=true")
			}
			cfg, err := config.Load(config.Options{File: configFile, Overrides: overrides})
			if err != nil {
				return err
			}
			code = runPrediction(cmd.Context(), cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (optional)")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Override a config key (key=value), repeatable")
	cmd.Flags().BoolVar(&useMock, "mock", false, "Use mock inference (for testing)")
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "predict: %v\n", err)
		return 1
	}
	return code
}

func runPrediction(ctx context.Context, cfg *config.Config) int {
	runID := uuid.New().String()
	log := logging.New(cfg.Log, os.Stderr).With().Str("run_id", runID).Logger()
	log.Info().
		Str("version", version).
		Str("model", cfg.CheckpointDir()).
		Str("indir", cfg.InDir).
		Str("outdir", cfg.OutDir).
		Str("device", cfg.Device).
		Bool("mock", cfg.UseMockInference).
		Msg("starting inpaint-predict")
	defer installStackDump(log)()

	if cfg.OTEL.Enabled {
		shutdown, err := telemetry.InitTracer(status.ServiceName, version, os.Stdout)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracer")
		} else {
			defer shutdownWithTimeout(log, "tracer", shutdown)
		}
	}

	srv := status.New(log)
	if err := srv.Start(status.Options{
		HTTPAddr:    cfg.Metrics.Addr,
		GRPCAddr:    cfg.Status.GRPCAddr,
		RunID:       runID,
		OTELEnabled: cfg.OTEL.Enabled,
	}); err != nil {
		logging.Critical(&log).Err(err).Msg("failed to start status servers")
		return 1
	}
	defer shutdownWithTimeout(log, "status servers", func(ctx context.Context) error {
		srv.Shutdown(ctx)
		return nil
	})

	var reporter progress.Reporter = progress.Nop{}
	if cfg.Progress.Redis != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		r, err := progress.NewRedis(rctx, cfg.Progress.Redis, runID, cfg.Progress.TTL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("continuing without progress reporting")
		} else {
			defer r.Close()
			reporter = r
			log.Info().Str("key", progress.Key(runID)).Msg("reporting progress to Redis")
		}
	}

	var loader inference.Loader = inference.ONNXLoader{Log: log}
	if cfg.UseMockInference {
		log.Info().Msg("using mock inference")
		loader = inference.MockLoader{}
	}

	runner := &predict.Runner{
		Config: cfg,
		Provisioner: &inference.Provisioner{
			Resolver: device.NewResolver(device.DefaultProber(), log),
			Loader:   loader,
			Log:      log,
		},
		Progress: reporter,
		OnReady:  func() { srv.SetServing(true) },
		Log:      log,
	}
	return predict.Execute(ctx, runner)
}

func shutdownWithTimeout(log zerolog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Msgf("failed to shut down %s", what)
	}
}
