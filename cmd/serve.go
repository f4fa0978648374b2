package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-shiftstream/app/controller"
	settlementgrpc "github.com/vibast-solutions/ms-go-shiftstream/app/grpc"
	"github.com/vibast-solutions/ms-go-shiftstream/app/types"
	"github.com/vibast-solutions/ms-go-shiftstream/config"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the settlement service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	app, cleanup := mustCreateApplication()
	defer cleanup()
	cfg := app.cfg

	linkController := controller.NewLinkController(app.settlement)
	marketController := controller.NewMarketController(app.settlement)
	webhookController := controller.NewWebhookController(app.settlement, app.notifications)
	invoiceController := controller.NewInvoiceController(app.invoices)
	grpcSettlementServer := settlementgrpc.NewServer(app.settlement, app.notifications, app.invoices)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(linkController, marketController, webhookController, invoiceController, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, lis := setupGRPCServer(cfg, grpcSettlementServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	linkController *controller.LinkController,
	marketController *controller.MarketController,
	webhookController *controller.WebhookController,
	invoiceController *controller.InvoiceController,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", linkController.Health)
	e.POST("/webhooks/sideshift", webhookController.HandleSideShift)

	protected := []echo.MiddlewareFunc{
		requireRequestID(),
		internalAuthMiddleware.RequireInternalAccess(appServiceName),
	}

	links := e.Group("/links", protected...)
	links.POST("", linkController.CreateLink)
	links.GET("", linkController.ListLinks)
	links.GET("/:id", linkController.GetLink)
	links.GET("/:id/transactions", linkController.ListTransactions)
	links.POST("/:id/reconcile", linkController.ReconcileLink)
	links.POST("/:id/release", linkController.ReleaseEscrow)
	links.POST("/:id/approve", linkController.ApproveCondition)
	links.POST("/:id/transactions/:txId/resolve", linkController.ResolveTransaction)

	pairs := e.Group("/pairs", protected...)
	pairs.GET("/:coin/:network", marketController.GetPair)

	accounts := e.Group("/accounts", protected...)
	accounts.POST("", marketController.CreateAccount)
	accounts.GET("/:address/balance", marketController.GetBalance)

	subscriptions := e.Group("/webhook-subscriptions", protected...)
	subscriptions.POST("", webhookController.CreateSubscription)
	subscriptions.GET("", webhookController.ListSubscriptions)
	subscriptions.PATCH("/:id", webhookController.UpdateSubscription)
	subscriptions.DELETE("/:id", webhookController.DeleteSubscription)

	invoices := e.Group("/invoices", protected...)
	invoices.POST("", invoiceController.CreateInvoice)
	invoices.GET("", invoiceController.ListInvoices)
	invoices.GET("/number/:number", invoiceController.GetInvoice)
	invoices.GET("/:id", invoiceController.GetInvoice)
	invoices.PATCH("/:id", invoiceController.UpdateInvoiceStatus)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	settlementServer *settlementgrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			settlementgrpc.RecoveryInterceptor(),
			settlementgrpc.RequestIDInterceptor(),
			settlementgrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		)),
	)
	settlementgrpc.RegisterSettlementServiceServer(grpcSrv, settlementServer)

	return grpcSrv, lis
}
