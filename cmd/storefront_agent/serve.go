package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/server"
	"github.com/jonathan/storefront-agent/internal/server/ratelimit"
)

var (
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes the workflow phases, the run and entity reads, the
marketplace consent flow and the stored product files. Scheduled reconciliation runs in the
background when RECONCILE_INTERVAL is positive.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (defaults to PORT or 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withWorkflow(ctx); err != nil {
		return err
	}

	var jwtSvc *server.JWTService
	jwtCfg, err := a.cfg.JWT()
	if err != nil {
		return err
	}
	if jwtCfg != nil {
		jwtSvc = server.NewJWTService(jwtCfg)
	} else {
		a.logger.Warn("api_unauthenticated", zap.String("hint", "set JWT_SECRET to require operator tokens"))
	}

	if every := a.cfg.ReconcileEvery(); every > 0 {
		go a.reconciler.Run(ctx, every)
	}

	port := a.cfg.Port
	if servePort > 0 {
		port = servePort
	}
	srv := server.New(server.Config{Port: port}, server.Deps{
		Workflow:   a.orch,
		Reconciler: a.reconciler,
		Store:      a.store,
		Tasks:      a.supervisor,
		OAuth:      a.market,
		Files:      a.blobs.Handler(),
		JWT:        jwtSvc,
		RateLimit:  ratelimit.DefaultConfig(),
		Logger:     a.logger,
	})

	err = srv.Start(ctx)

	// background continuations observe the cancelled context and record their outcome
	stop()
	a.logger.Info("waiting_for_background_tasks")
	a.supervisor.Wait()
	return err
}
