package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marco-scarnato/greenhouse-dt-module/internal/auth"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/grpcserver"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/handlers"
	"github.com/marco-scarnato/greenhouse-dt-module/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

// NewServeCommand runs the reconciliation loop forever next to the HTTP and
// gRPC health servers.
func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hourly reconciliation loop and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(root, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.openDatabase(ctx); err != nil {
				return err
			}
			if err := a.photos.AutoMigrate(ctx); err != nil {
				return fmt.Errorf("auto migrate failed: %w", err)
			}
			if err := a.loadModel(); err != nil {
				return err
			}

			health := grpcserver.NewHealthServer(a.logger)
			reconciler, err := a.newReconciler(ctx, usecase.WithObserver(health))
			if err != nil {
				return err
			}

			return runServe(ctx, a, reconciler, health)
		},
	}
}

func runServe(ctx context.Context, a *app, reconciler *usecase.Reconciler, health *grpcserver.HealthServer) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, handlers.Dependencies{
		Photos:     a.photos,
		Classifier: a.evaluator(),
		Cycles:     reconciler,
		Logger:     a.logger,
	}, auth.JWTMiddleware(a.cfg.HTTP.JWTSecret, a.cfg.HTTP.JWTAudience))

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcLis net.Listener
	if addr := a.cfg.GRPC.Addr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen grpc %s: %w", addr, err)
		}
		grpcLis = lis
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http api listening", zap.String("addr", server.Addr))
		return serveHTTPServer(gctx, server, shutdownTimeout, a.logger, nil)
	})

	if grpcLis != nil {
		g.Go(func() error {
			a.logger.Info("grpc health listening", zap.String("addr", grpcLis.Addr().String()))
			return health.Serve(gctx, grpcLis)
		})
	}

	g.Go(func() error {
		return runReconciler(gctx, reconciler, 0)
	})

	return g.Wait()
}
