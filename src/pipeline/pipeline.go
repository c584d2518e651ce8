// Package pipeline wires the saga components into a running process.
// Each role (api, orchestrator, gateway) can run alone against Redpanda, or
// all of them together over the in-memory broker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"txn-saga/src/archive"
	"txn-saga/src/config"
	"txn-saga/src/connection"
	"txn-saga/src/contracts"
	"txn-saga/src/ingress"
	"txn-saga/src/logger"
	"txn-saga/src/relay"
	"txn-saga/src/saga"
	"txn-saga/src/store"
)

// Role is one deployable responsibility.
type Role string

const (
	RoleAPI          Role = "api"
	RoleOrchestrator Role = "orchestrator"
	RoleGateway      Role = "gateway"
)

// AllRoles is what single-process mode runs.
var AllRoles = []Role{RoleAPI, RoleOrchestrator, RoleGateway}

// ShutdownTimeout bounds HTTP server shutdown.
const ShutdownTimeout = 5 * time.Second

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithAssessor replaces the random fraud assessor.
func WithAssessor(a saga.RiskAssessor) Option {
	return func(p *Pipeline) { p.assessor = a }
}

// Pipeline owns the connection manager and every component started on it.
type Pipeline struct {
	cfg      *config.Config
	mode     Mode
	logger   logger.Logger
	assessor saga.RiskAssessor

	backends backends
	manager  *connection.Manager
	events   store.EventLog
	relay    *relay.Relay

	servers map[Role]*http.Server
	addrs   map[Role]net.Addr
	loops   errgroup.Group
}

// New creates a pipeline. Nothing is connected until Start.
func New(cfg *config.Config, mode Mode, log logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		mode:     mode,
		logger:   log,
		assessor: saga.NewRandomAssessor(cfg.FraudHighRate),
		servers:  make(map[Role]*http.Server),
		addrs:    make(map[Role]net.Addr),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.backends = newBackends(mode, cfg, log)
	p.manager = connection.NewManager(p.backends.dialer, connection.Options{
		Topics:            cfg.Topics,
		Attempts:          cfg.ConnectAttempts,
		Delay:             cfg.ConnectDelay,
		Partitions:        cfg.TopicPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}, log)
	return p
}

// Manager exposes the connection manager.
func (p *Pipeline) Manager() *connection.Manager {
	return p.manager
}

// Addr returns the bound listener address of a role's HTTP server, or nil.
func (p *Pipeline) Addr(role Role) net.Addr {
	return p.addrs[role]
}

// Start connects to the broker, then starts the requested roles. A failed
// broker handshake is logged and the roles run degraded; only listener and
// store errors are returned.
func (p *Pipeline) Start(ctx context.Context, roles ...Role) error {
	p.logger.Info("[Pipeline] Starting %v in %s mode", roles, p.mode)

	if _, err := p.manager.Connect(ctx); err != nil {
		p.logger.Error("[Pipeline] Broker unavailable, running degraded: %v", err)
	}

	for _, role := range roles {
		var err error
		switch role {
		case RoleAPI:
			err = p.startAPI(ctx)
		case RoleOrchestrator:
			p.startOrchestrator(ctx)
		case RoleGateway:
			err = p.startGateway(ctx)
		default:
			err = fmt.Errorf("unknown role %q", role)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) startAPI(ctx context.Context) error {
	events, err := openEventLog(ctx, p.mode, p.cfg)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	p.events = events

	if events != nil {
		archiver := archive.NewArchiver(p.manager.CreateConsumer(contracts.GroupArchive), events, p.logger)
		p.run(ctx, "Archiver", archiver.Run)
	}

	handler := ingress.NewHandler(p.manager.Producer(), p.manager, events, p.logger)
	return p.serve(RoleAPI, p.cfg.APIPort, ingress.NewRouter(handler))
}

func (p *Pipeline) startOrchestrator(ctx context.Context) {
	orch := saga.NewOrchestrator(
		p.manager.CreateConsumer(contracts.GroupOrchestrator),
		p.manager.Producer(),
		p.assessor,
		p.logger,
	)
	p.run(ctx, "Orchestrator", orch.Run)
}

func (p *Pipeline) startGateway(ctx context.Context) error {
	p.relay = relay.NewRelay(p.manager.CreateConsumer(contracts.GroupGateway), p.logger)
	p.run(ctx, "Relay", p.relay.Run)
	return p.serve(RoleGateway, p.cfg.GatewayPort, relay.NewRouter(p.relay))
}

// run starts a consumer loop. Its error is logged, never propagated.
func (p *Pipeline) run(ctx context.Context, name string, loop func(context.Context) error) {
	p.loops.Go(func() error {
		if err := loop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("[Pipeline] %s stopped: %v", name, err)
		}
		return nil
	})
}

func (p *Pipeline) serve(role Role, port string, handler http.Handler) error {
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to bind %s port %s: %w", role, port, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.servers[role] = srv
	p.addrs[role] = ln.Addr()

	go func() {
		p.logger.Info("[Pipeline] %s listening on %s", role, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("[Pipeline] %s server error: %v", role, err)
		}
	}()
	return nil
}

// Shutdown closes live websocket connections, stops the HTTP servers, waits
// for the consumer loops (whose context the caller has cancelled) and
// releases the broker and store handles.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p.relay != nil {
		p.relay.Close()
	}

	var errs []error
	for role, srv := range p.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s server: %w", role, err))
		}
	}

	if err := p.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("broker: %w", err))
	}

	done := make(chan struct{})
	go func() {
		_ = p.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("consumer loops: %w", ctx.Err()))
	}

	if p.events != nil {
		if err := p.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event log: %w", err))
		}
	}
	if err := p.backends.close(); err != nil {
		errs = append(errs, err)
	}

	p.logger.Info("[Pipeline] Shutdown complete")
	return errors.Join(errs...)
}
