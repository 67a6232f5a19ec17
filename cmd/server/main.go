package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spark/config"
	"spark/internal/auth"
	"spark/internal/database"
	"spark/internal/domain"
	"spark/internal/middleware"
	"spark/internal/repository"
	"spark/internal/router"
	"spark/internal/service"
	"spark/internal/ws"
	"spark/pkg/payment"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:          "spark",
		Short:        "Connection and match lifecycle server",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event websocket and background sweeps",
		RunE:  runServe,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run one likers repair and stale-request expiry pass, then exit",
		RunE:  runSweep,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a user (development)",
		RunE:  runToken,
	}

	sweepUserID uint
	tokenUserID uint
	tokenAdmin  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(tokenCmd)
	sweepCmd.Flags().UintVar(&sweepUserID, "user", 0, "Repair a single user instead of everyone")
	tokenCmd.Flags().UintVar(&tokenUserID, "user", 0, "User id to mint the token for")
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "Mint an ADMIN token")
	_ = tokenCmd.MarkFlagRequired("user")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type stores struct {
	users    repository.UserStore
	txs      repository.TransactionStore
	notes    repository.NotificationStore
	audit    repository.AuditStore
	settings repository.SettingStore
}

func openStores(cfg *config.Config) (*stores, error) {
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &stores{
		users:    repository.NewUserRepository(db),
		txs:      repository.NewTransactionRepository(db),
		notes:    repository.NewNotificationRepository(db),
		audit:    repository.NewAuditLogRepository(db),
		settings: repository.NewSettingRepository(db),
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}

	fcmSvc := service.NewFCMService(cfg.Firebase.ServiceAccountPath)
	var push service.Pusher
	if fcmSvc != nil {
		push = fcmSvc
		log.Printf("[FCM] Push notifications enabled")
	} else if cfg.Firebase.ServiceAccountPath != "" {
		log.Printf("[FCM] Push notifications disabled: failed to init (check service account file)")
	} else {
		log.Printf("[FCM] Push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}

	var gateway payment.Verifier = payment.StubGateway{}
	if cfg.Payment.GatewayURL != "" {
		gateway = payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.GatewaySecret)
	} else {
		log.Printf("[PAYMENT] no gateway configured, using development stub")
	}

	hub := ws.NewHub()
	engine := service.NewEngine(cfg, st.users, st.txs, st.notes, st.settings, hub, push)
	limiter := middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go limiter.Cleanup(ctx)
	go engine.Sweeper.Run(ctx)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: router.Setup(cfg, router.Deps{
			Engine:        engine,
			Hub:           hub,
			Users:         st.users,
			Notifications: st.notes,
			Audit:         st.audit,
			Gateway:       gateway,
			Limiter:       limiter,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Println("server stopped")
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	// No live sessions from a one-shot process; stored notifications and
	// push still go out.
	var push service.Pusher
	if fcmSvc := service.NewFCMService(cfg.Firebase.ServiceAccountPath); fcmSvc != nil {
		push = fcmSvc
	}
	engine := service.NewEngine(cfg, st.users, st.txs, st.notes, st.settings, nil, push)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rep service.SweepReport
	if sweepUserID != 0 {
		rep, err = engine.Sweeper.Repair(ctx, sweepUserID)
	} else {
		rep, err = engine.Sweeper.Sweep(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "users=%d stale=%d missing=%d matches=%d expired=%d\n",
		rep.Users, rep.StaleLikers, rep.MissingLikers, rep.Matches, rep.Expired)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	role := domain.RoleUser
	if tokenAdmin {
		role = domain.RoleAdmin
	}
	tok, err := auth.GenerateAccessToken(&cfg.JWT, tokenUserID, "", role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}
