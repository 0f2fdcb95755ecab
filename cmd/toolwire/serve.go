package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/toolwire/pkg/channel"
	"github.com/ajitpratap0/toolwire/pkg/config"
	"github.com/ajitpratap0/toolwire/pkg/dispatch"
	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/observability"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/ratelimit"
	"github.com/ajitpratap0/toolwire/pkg/resources"
	"github.com/ajitpratap0/toolwire/pkg/sandbox"
	"github.com/ajitpratap0/toolwire/pkg/session"
	"github.com/ajitpratap0/toolwire/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve one session over stdin and stdout",
	Long: `Serve runs a single session with the peer connected to stdin and stdout,
one JSON-RPC message per line. Logs go to stderr. The session ends when
stdin closes, the peer sends shutdown, or the process is interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if rootDir != "" {
		cfg.Sandbox.Root = rootDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LoggingConfig) logging.Logger {
	var formatter logging.Formatter = logging.NewTextFormatter()
	if cfg.Format == "json" {
		formatter = logging.NewJSONFormatter()
	}
	logger := logging.New(os.Stderr, formatter)
	level, _ := logging.ParseLevel(cfg.Level)
	logger.SetLevel(level)
	return logger
}

var builtinPrompts = []session.PromptTemplate{
	{
		Name:        "summarize_file",
		Description: "Ask for a summary of a file under the sandbox root",
		Arguments:   []protocol.PromptArgument{{Name: "path", Description: "File to summarize", Required: true}},
		Messages: []session.TemplateMessage{{
			Role: "user",
			Text: "Read {{path}} with the read_file tool and summarize it in a few sentences.",
		}},
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics observability.Metrics = observability.NopMetrics{}
	var prom *observability.PrometheusMetrics
	if cfg.Metrics.Enabled {
		var err error
		prom, err = observability.NewPrometheusMetrics(cfg.MetricsConfig(version))
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		metrics = prom
	}

	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithTimeout(cfg.Dispatch.Timeout),
		dispatch.WithMaxResultBytes(cfg.Dispatch.MaxResultBytes),
		dispatch.WithMaxConcurrent(cfg.Dispatch.MaxConcurrent),
	}
	sessionOpts := []session.Option{
		session.WithInfo("toolwire", version),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithGracePeriod(cfg.Session.GracePeriod),
		session.WithProtocolVersion(cfg.Session.ProtocolVersion),
		session.WithInstructions(cfg.Session.Instructions),
		session.WithPromptProvider(session.NewPromptCatalog(append(builtinPrompts, cfg.Prompts...)...)),
	}

	if observability.ExporterType(cfg.Tracing.Exporter) != observability.ExporterTypeNoop {
		tp, err := observability.NewTracingProvider(cfg.TracingConfig(version))
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("tracing shutdown failed")
			}
		}()
		dispatchOpts = append(dispatchOpts, dispatch.WithTracer(tp.Tracer()))
		sessionOpts = append(sessionOpts, session.WithTracer(tp.Tracer()))
	}

	if cfg.RateLimit.MaxCalls > 0 {
		limiter := ratelimit.New(cfg.RateLimit)
		limiter.StartJanitor(ctx, limiter.Config().Window)
		dispatchOpts = append(dispatchOpts, dispatch.WithRateLimiter(limiter))
	}

	var sb *sandbox.Sandbox
	if cfg.Sandbox.Root != "" {
		var err error
		if sb, err = sandbox.New(cfg.Sandbox.Root); err != nil {
			return err
		}
		dispatchOpts = append(dispatchOpts, dispatch.WithSandbox(sb))
		logger.Info("sandbox ready", logging.String("root", sb.Root()))
	} else {
		logger.Warn("no sandbox root configured, file tools will refuse every path")
	}

	d := dispatch.New(dispatchOpts...)
	if err := tools.Register(d, cfg.ToolOptions(sb)); err != nil {
		return err
	}
	sessionOpts = append(sessionOpts, session.WithDispatcher(d))

	if sb != nil && cfg.Resources.Enabled {
		provider := resources.New(sb,
			resources.WithLogger(logger),
			resources.WithMaxReadBytes(cfg.Resources.MaxReadBytes),
			resources.WithDebounce(cfg.Resources.Debounce),
		)
		defer provider.Close()
		sessionOpts = append(sessionOpts, session.WithResourceProvider(provider))
	}

	sess := session.New(channel.NewStream(os.Stdin, os.Stdout), sessionOpts...)
	logger.Info("serving on stdio", logging.String("session_id", sess.ID()), logging.String("version", version))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		return sess.Run(context.Background())
	})
	g.Go(func() error {
		<-gctx.Done()
		// grace for in-flight calls, then the same again after they are cancelled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Session.GracePeriod+time.Second)
		defer cancel()
		return sess.Shutdown(shutdownCtx)
	})
	if prom != nil {
		g.Go(func() error {
			logger.Info("serving metrics", logging.String("addr", cfg.Metrics.Addr))
			return prom.Serve(gctx, cfg.Metrics.Addr, logger)
		})
	}

	err := g.Wait()
	logger.Info("session closed", logging.String("session_id", sess.ID()))
	return err
}
