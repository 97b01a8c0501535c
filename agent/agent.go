package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/creachadair/taskgroup"

	"github.com/c360/testbedbus/bus"
	"github.com/c360/testbedbus/config"
	"github.com/c360/testbedbus/errors"
	"github.com/c360/testbedbus/health"
	"github.com/c360/testbedbus/metric"
	"github.com/c360/testbedbus/pkg/retry"
	"github.com/c360/testbedbus/pkg/worker"
	"github.com/c360/testbedbus/protocol"
	"github.com/c360/testbedbus/topic"
)

// Health component names
const (
	componentBus     = "bus"
	componentWorkers = "workers"
)

// Work computes a deferred answer. A returned error is answered with its
// text.
type Work func(ctx context.Context) ([]byte, error)

type job struct {
	msg  *bus.Message
	work Work
}

// Option configures an Agent.
type Option func(*Agent) error

// WithTransport replaces the transport selected by the broker
// configuration.
func WithTransport(t bus.Transport) Option {
	return func(a *Agent) error {
		if t == nil {
			return fmt.Errorf("nil transport")
		}
		a.transport = t
		return nil
	}
}

// WithLogger sets the logger. A nil logger keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithRegistry records the agent metrics in registry instead of a
// registry owned by the agent.
func WithRegistry(registry *metric.MetricsRegistry) Option {
	return func(a *Agent) error {
		if registry == nil {
			return fmt.Errorf("nil registry")
		}
		a.registry = registry
		return nil
	}
}

// Agent is a gateway process on the bus: one bus client, a worker pool
// for deferred answers, the error topic of its agent topic, health and
// metrics.
type Agent struct {
	name      string
	clientID  string
	cfg       *config.Config
	topics    map[string]string
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	transport bus.Transport

	client  *bus.Client
	pool    *worker.Pool[job]
	errs    *protocol.ErrorServer
	monitor *health.Monitor
	metrics *metric.Server
}

// New creates an agent named name. defs are the topic templates of the
// agent relative to its agent topic, which defaults to agentTopic; see
// Topics.
func New(name, agentTopic string, defs map[string]string, cfg *config.Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Agent{
		name:    name,
		cfg:     cfg,
		logger:  slog.Default(),
		monitor: health.NewMonitor(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, errors.WrapInvalid(err, "Agent", "New", "apply option")
		}
	}
	if a.registry == nil {
		a.registry = metric.NewMetricsRegistry()
	}

	clientName := cfg.Broker.ClientName
	if clientName == "" {
		clientName = name
	}
	a.clientID = ClientID(clientName)
	a.logger = a.logger.With("agent", name, "client_id", a.clientID)

	tree, err := Topics(defs, agentTopic, cfg.Topics)
	if err != nil {
		return nil, err
	}
	a.topics = tree

	a.errs, err = protocol.NewErrorServer(tree[topic.AgentTopicKey],
		protocol.WithMetrics(a.registry), protocol.WithLogger(a.logger))
	if err != nil {
		return nil, errors.WrapInvalid(err, "Agent", "New", "create error topic")
	}

	if a.transport == nil {
		a.transport, err = NewTransport(cfg, a.clientID, a.registry, a.logger)
		if err != nil {
			return nil, err
		}
	}

	a.client, err = bus.NewClient(a.transport,
		bus.WithName(a.clientID),
		bus.WithLogger(a.logger),
		bus.WithSubscribeTimeout(cfg.Timeouts.Subscribe),
		bus.WithMetrics(a.registry),
		bus.WithStateCallback(a.onBusState),
	)
	if err != nil {
		return nil, err
	}

	a.pool, err = worker.NewPool("deferred", cfg.Workers.Count, cfg.Workers.QueueSize, a.runJob,
		worker.WithMetricsRegistry[job](a.registry),
		worker.WithLogger[job](a.logger),
	)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Agent", "New", "create worker pool")
	}

	if cfg.Metrics.Enabled {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry, a.Health)
	}

	a.monitor.Update(componentBus, health.FromBusState(componentBus, bus.StateDisconnected.String(), nil))
	return a, nil
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// ClientID returns the broker client id.
func (a *Agent) ClientID() string { return a.clientID }

// Client returns the bus client.
func (a *Agent) Client() *bus.Client { return a.client }

// Registry returns the metrics registry.
func (a *Agent) Registry() *metric.MetricsRegistry { return a.registry }

// Config returns the agent configuration.
func (a *Agent) Config() *config.Config { return a.cfg }

// Topic returns the formatted template of the tree entry name, or "" when
// there is none.
func (a *Agent) Topic(name string) string { return a.topics[name] }

// AgentTopic returns the concrete agent topic.
func (a *Agent) AgentTopic() string { return a.topics[topic.AgentTopicKey] }

// ErrorServer returns the error topic publisher of the agent topic.
func (a *Agent) ErrorServer() *protocol.ErrorServer { return a.errs }

// Register adds endpoints to the bus client. It must be called before
// Start.
func (a *Agent) Register(endpoints ...bus.Endpoint) error {
	return a.client.Register(endpoints...)
}

// Defer runs work on the worker pool and answers msg with its result. It
// returns the answer for a request handler: deferred when the work was
// queued, or an immediate error answer when the pool refuses it.
func (a *Agent) Defer(msg *bus.Message, work Work) protocol.Answer {
	if err := a.pool.Submit(job{msg: msg, work: work}); err != nil {
		a.logger.Warn("Deferred answer refused", "topic", msg.Topic, "error", err)
		return protocol.ReplyError(err)
	}
	return protocol.Defer()
}

func (a *Agent) runJob(ctx context.Context, j job) error {
	payload, err := j.work(ctx)
	if err != nil {
		payload = []byte(err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeouts.Request)
	defer cancel()
	if werr := bus.Wait(ctx, j.msg.Reply(payload)); werr != nil {
		a.logger.Warn("Deferred answer not published", "topic", j.msg.Topic, "error", werr)
		return werr
	}
	return err
}

// PublishError reports a failure of the topic failing, which must lie
// below the agent topic.
func (a *Agent) PublishError(failing string, payload []byte) bus.Token {
	return a.errs.PublishError(a.client, failing, payload)
}

func (a *Agent) onBusState(s bus.State, cause error) {
	a.monitor.Update(componentBus, health.FromBusState(componentBus, s.String(), cause))
}

// Health folds the bus state and the worker pool load.
func (a *Agent) Health() health.Status {
	stats := a.pool.Stats()
	switch {
	case stats.QueueDepth >= stats.QueueSize:
		a.monitor.Update(componentWorkers, health.NewDegraded(componentWorkers, "deferred queue full"))
	default:
		a.monitor.Update(componentWorkers, health.NewHealthy(componentWorkers,
			fmt.Sprintf("%d/%d busy", stats.Busy, stats.Workers)))
	}
	return a.monitor.AggregateHealth(a.name)
}

// Start starts the worker pool and the bus client, trying the bus up to
// StartAttempts times while its failures are transient. The client is
// stopped after every failed attempt. Deferred work outlives ctx until
// Stop.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.pool.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.WrapInvalid(err, "Agent", "Start", "start worker pool")
	}

	rc := errors.DefaultRetryConfig()
	rc.MaxRetries = a.cfg.StartAttempts - 1
	attempt := 0
	err := retry.Do(ctx, rc.ToRetryConfig(), func() error {
		err := a.client.Start(ctx)
		if err == nil {
			return nil
		}
		a.logger.Warn("Bus start failed", "attempt", attempt+1, "error", err)
		_ = a.client.Stop(ctx)
		if attempt < rc.MaxRetries && !rc.ShouldRetry(err, attempt) {
			return retry.NonRetryable(err)
		}
		attempt++
		return err
	})
	if err != nil {
		_ = a.pool.Stop(ctx)
		return err
	}

	a.logger.Info("Agent started", "topic", a.AgentTopic(), "broker", a.cfg.Broker.URL)
	return nil
}

// Stop drains the deferred answers, then disconnects. Both are bounded by
// ctx.
func (a *Agent) Stop(ctx context.Context) error {
	perr := a.pool.Stop(ctx)
	if perr != nil {
		a.logger.Warn("Deferred answers dropped on stop", "error", perr)
	}
	if err := a.client.Stop(ctx); err != nil {
		return err
	}
	a.logger.Info("Agent stopped")
	return perr
}

// Run starts the agent, serves metrics when enabled and blocks until ctx
// ends, then stops within the shutdown timeout. A metrics server failure
// stops the agent too.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := taskgroup.New(cancel)
	if a.metrics != nil {
		g.Go(func() error {
			a.logger.Info("Serving metrics", "address", a.metrics.Address())
			return a.metrics.Start()
		})
	}

	if err := a.Start(ctx); err != nil {
		cancel()
		a.stopMetrics()
		_ = g.Wait()
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.cfg.Timeouts.Shutdown)
	defer stopCancel()
	err := a.Stop(stopCtx)

	a.stopMetrics()
	if gerr := g.Wait(); gerr != nil && err == nil {
		err = gerr
	}
	return err
}

func (a *Agent) stopMetrics() {
	if a.metrics == nil {
		return
	}
	if err := a.metrics.Stop(); err != nil {
		a.logger.Warn("Metrics server stop failed", "error", err)
	}
}
