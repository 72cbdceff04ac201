package main

import (
	"chorddht/internal/bootstrap"
	"chorddht/internal/client"
	"chorddht/internal/config"
	"chorddht/internal/domain"
	"chorddht/internal/logger"
	zapfactory "chorddht/internal/logger/zap"
	"chorddht/internal/node"
	"chorddht/internal/routingtable"
	"chorddht/internal/server"
	"chorddht/internal/storage"
	"chorddht/internal/telemetry"
	"chorddht/internal/telemetry/lookuptrace"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
)

var defaultConfigPath = "config/node/config.yaml"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	// Validate configuration
	if err := cfg.ValidateConfig(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize logger
	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()   // flush logger buffers before exit
		lgr = zapfactory.NewZapAdapter(zapLog) // adapt zap.Logger to logger.Logger
	} else {
		lgr = &logger.NopLogger{} // no-op logger
	}
	// Log loaded configuration at DEBUG level
	cfg.LogConfig(lgr)

	// Initialize listener (to determine server address and port)
	lis, advertised, err := server.Listen(cfg.DHT.Mode, cfg.Node.Bind, cfg.Node.Host, cfg.Node.Port)
	if err != nil {
		lgr.Error("Fatal: failed to initialize listener", logger.F("err", err))
		os.Exit(1)
	}
	defer func() { _ = lis.Close() }() // close listener on shutdown
	addr := lis.Addr().String()
	lgr.Debug("create listener", logger.F("addr", addr))

	// Initialize the identifier space
	space, err := domain.NewSpace(cfg.DHT.IDBits, cfg.DHT.FaultTolerance.SuccessorListSize)
	if err != nil {
		lgr.Error("failed to initialize identifier space", logger.F("err", err))
		os.Exit(1)
	}
	lgr.Debug("identifier space initialized",
		logger.F("id_bits", space.Bits),
		logger.F("sizeByte", space.ByteLen),
		logger.F("successorListSize", space.SuccListSize),
	)

	// Initialize the local node identity
	var id domain.ID
	if cfg.Node.Id == "" {
		id = space.NewIdFromString(addr) // derive ID from address
	} else {
		id, err = space.FromHexString(cfg.Node.Id) // use configured ID
		if err != nil {
			lgr.Error("invalid node ID in configuration", logger.F("err", err))
			os.Exit(1)
		}
	}
	domainNode := domain.Node{
		ID:   id,
		Addr: advertised,
	}
	lgr.Debug("generated node ID", logger.F("id", id.ToHexString(true)))
	lgr = lgr.Named("node").With(logger.FNode("self", &domainNode))
	lgr.Info("New Node initializing")

	// Initialize Telemetry (if enabled)
	shutdown := telemetry.InitTracer(cfg.Telemetry, "chorddht-Node", id)
	defer shutdown(context.Background())

	// Initialize the routing table
	rt := routingtable.New(
		&domainNode,
		space,
		cfg.DHT.FaultTolerance.SuccessorListSize,
		routingtable.WithLogger(lgr.Named("routingtable")),
	)
	lgr.Debug("initialized routing table")

	// Initialize the client pool
	clientOpts := []client.Option{client.WithLogger(lgr.Named("clientpool"))}
	if cfg.Telemetry.Tracing.Enabled {
		clientOpts = append(clientOpts, client.WithDialOptions(
			grpc.WithChainUnaryInterceptor(lookuptrace.ClientInterceptor()),
		))
	}
	cp := client.New(cfg.DHT.FaultTolerance.FailureTimeout, clientOpts...)
	lgr.Debug("initialized client pool")

	// Initialize the storage
	store := storage.NewMemoryStorage(
		lgr.Named("storage"),
	)
	lgr.Debug("initialized in-memory storage")

	// Initialize the node
	n := node.New(
		rt,
		cp,
		store,
		node.WithLogger(lgr),
	)
	lgr.Debug("initialized new struct node")

	// Initialize the gRPC server
	var grpcOpts []grpc.ServerOption
	if cfg.Telemetry.Tracing.Enabled {
		grpcOpts = append(grpcOpts,
			grpc.ChainUnaryInterceptor(
				lookuptrace.ServerInterceptor(),
			),
		)
		lgr.Debug("gRPC tracing enabled (lookup-only)")
	}

	s, err := server.New(
		lis,
		n,
		grpcOpts,
		server.WithLogger(lgr.Named("server")),
	)
	if err != nil {
		lgr.Error("failed to initialize gRPC server", logger.F("err", err))
		os.Exit(1)
	}
	lgr.Debug("initialized gRPC server")

	// Run server in background
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Start() }()
	lgr.Debug("server started")

	// Select the bootstrap/discovery backend
	register, err := selectBootstrap(cfg.DHT.Bootstrap, lgr.Named("bootstrap"))
	if err != nil {
		lgr.Error("failed to initialize bootstrap backend", logger.F("err", err))
		// cleanup before exit
		s.Stop()
		n.Stop()
		os.Exit(1)
	}

	// Join an existing DHT or create a new one
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	peers, err := register.Discover(ctx)
	cancel()
	if err != nil {
		lgr.Error("failed to resolve bootstrap peers", logger.F("err", err))
		// cleanup before exit
		s.Stop()
		n.Stop()
		os.Exit(1)
	}
	lgr.Info("resolved bootstrap peers", logger.F("peers", peers))
	if len(peers) != 0 {
		joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := n.Join(joinCtx, peers)
		joinCancel()
		if err != nil {
			lgr.Error("failed to join DHT", logger.F("err", err))
			// cleanup before exit
			s.Stop()
			n.Stop()
			os.Exit(1)
		}
		lgr.Debug("joined DHT")
	} else {
		n.CreateNewDHT()
		lgr.Debug("new DHT created")
	}

	// Register node
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	err = register.Register(ctx, &domainNode)
	cancel()
	if err != nil {
		lgr.Error("failed to register node", logger.F("err", err))
	} else {
		lgr.Info("node registered successfully")
	}

	// Setup signal handler for graceful shutdown
	ctx, stabilizerStop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	// Start periodic stabilization workers (run until ctx is canceled)
	n.StartStabilizers(ctx, cfg.DHT.FaultTolerance.StabilizationInterval, cfg.DHT.Fingers.FixInterval, cfg.DHT.Storage.FixInterval)
	lgr.Debug("Stabilization workers started")

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, leaving the ring gracefully...")

		stabilizerStop() // stop stabilization workers

		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.Leave(leaveCtx); err != nil {
			lgr.Warn("graceful leave failed, relying on stabilize to repair the ring", logger.F("err", err))
		}
		leaveCancel()

		deregCtx, deregCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := register.Deregister(deregCtx, &domainNode); err != nil {
			lgr.Warn("failed to deregister node", logger.F("err", err))
		}
		deregCancel()

		// Allow some time for graceful stop
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()

		select {
		case <-done:
			lgr.Info("server stopped gracefully")
		case <-shutdownCtx.Done():
			lgr.Warn("graceful stop timed out, forcing shutdown")
		}

		n.Stop() // stop node

	case err := <-serveErr:
		lgr.Error("gRPC server terminated unexpectedly", logger.F("err", err))
		stabilizerStop()
		n.Stop()
		os.Exit(1)
	}
}

// selectBootstrap builds the Bootstrap implementation matching
// cfg.Mode: route53 and docker are self-contained discovery backends,
// while static and dns are served by the shared resolver, optionally
// layered with self-registration through a Registrar backend.
func selectBootstrap(cfg config.BootstrapConfig, lgr logger.Logger) (bootstrap.Bootstrap, error) {
	switch cfg.Mode {
	case "route53":
		return bootstrap.NewRoute53Bootstrap(cfg.Route53)
	case "docker":
		return bootstrap.NewDockerBootstrap(cfg.Docker), nil
	case "static", "dns":
		return bootstrap.NewResolverBootstrap(cfg, lgr)
	default:
		return nil, fmt.Errorf("unsupported bootstrap mode: %q", cfg.Mode)
	}
}
