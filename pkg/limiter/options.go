package limiter

import (
	"time"

	"go.uber.org/zap"
)

const (
	defaultDispatchTick = 100 * time.Millisecond

	defaultHeartbeatInterval     = 200 * time.Millisecond
	defaultExpiryHorizonFactor   = 3 // k in k * heartbeatInterval, k >= 3
	defaultDiscoveryWindowFactor = 5 // multiple of heartbeatInterval
	defaultPostReadyQuiescence   = 100 * time.Millisecond
)

// limiterConfig holds the options a Limiter is built with.
type limiterConfig struct {
	clock        Clock
	recorder     MetricsRecorder
	logger       *zap.Logger
	dispatchTick time.Duration
}

func defaultLimiterConfig() limiterConfig {
	return limiterConfig{
		clock:        NewRealClock(),
		recorder:     NoOpMetricsRecorder{},
		logger:       zap.NewNop(),
		dispatchTick: defaultDispatchTick,
	}
}

// Option configures a Limiter.
type Option func(*limiterConfig)

// WithClock overrides the Clock a Limiter uses, for tests.
func WithClock(c Clock) Option {
	return func(cfg *limiterConfig) { cfg.clock = c }
}

// WithRecorder injects a MetricsRecorder.
func WithRecorder(r MetricsRecorder) Option {
	return func(cfg *limiterConfig) { cfg.recorder = r }
}

// WithLogger injects a *zap.Logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(cfg *limiterConfig) { cfg.logger = l }
}

// WithDispatchTick overrides the dispatcher's poll cadence. Defaults to
// 100ms.
func WithDispatchTick(d time.Duration) Option {
	return func(cfg *limiterConfig) { cfg.dispatchTick = d }
}

// distributedConfig holds the options a DistributedQuotaManager is built
// with.
type distributedConfig struct {
	clock               Clock
	recorder            MetricsRecorder
	logger              *zap.Logger
	idGenerator         IDGenerator
	heartbeatInterval   time.Duration
	expiryHorizon       time.Duration
	discoveryWindow     time.Duration
	postReadyQuiescence time.Duration
}

func defaultDistributedConfig() distributedConfig {
	return distributedConfig{
		clock:               NewRealClock(),
		recorder:            NoOpMetricsRecorder{},
		logger:              zap.NewNop(),
		idGenerator:         DefaultIDGenerator,
		heartbeatInterval:   defaultHeartbeatInterval,
		expiryHorizon:       defaultExpiryHorizonFactor * defaultHeartbeatInterval,
		discoveryWindow:     defaultDiscoveryWindowFactor * defaultHeartbeatInterval,
		postReadyQuiescence: defaultPostReadyQuiescence,
	}
}

// DistributedOption configures a DistributedQuotaManager.
type DistributedOption func(*distributedConfig)

// WithDistributedClock overrides the Clock a DistributedQuotaManager uses,
// for tests.
func WithDistributedClock(c Clock) DistributedOption {
	return func(cfg *distributedConfig) { cfg.clock = c }
}

// WithDistributedRecorder injects a MetricsRecorder.
func WithDistributedRecorder(r MetricsRecorder) DistributedOption {
	return func(cfg *distributedConfig) { cfg.recorder = r }
}

// WithDistributedLogger injects a *zap.Logger.
func WithDistributedLogger(l *zap.Logger) DistributedOption {
	return func(cfg *distributedConfig) { cfg.logger = l }
}

// WithIDGenerator overrides how this instance's peer id is generated.
// Defaults to a random UUID.
func WithIDGenerator(g IDGenerator) DistributedOption {
	return func(cfg *distributedConfig) { cfg.idGenerator = g }
}

// WithHeartbeatInterval overrides how often HELLO is (re)published. It also
// resets the expiry horizon and discovery window to their default multiples
// of d, replacing any WithExpiryHorizon / WithDiscoveryWindow applied
// before it; those overrides only take effect when applied after this one.
func WithHeartbeatInterval(d time.Duration) DistributedOption {
	return func(cfg *distributedConfig) {
		cfg.heartbeatInterval = d
		cfg.expiryHorizon = defaultExpiryHorizonFactor * d
		cfg.discoveryWindow = defaultDiscoveryWindowFactor * d
	}
}

// WithExpiryHorizon overrides the age past which a silent peer is
// considered gone. Must be at least a small multiple of the heartbeat
// interval to tolerate transient message loss; the package default uses a
// factor of 3.
func WithExpiryHorizon(d time.Duration) DistributedOption {
	return func(cfg *distributedConfig) { cfg.expiryHorizon = d }
}

// WithDiscoveryWindow overrides how long an instance stays in DISCOVERING
// before transitioning to READY. Should be at least a small multiple of
// the heartbeat interval so that HELLO repetition can make discovery
// reliable even if two peers start at the same instant and miss each
// other's first HELLO.
func WithDiscoveryWindow(d time.Duration) DistributedOption {
	return func(cfg *distributedConfig) { cfg.discoveryWindow = d }
}

// WithPostReadyQuiescence overrides the settle delay after entering READY,
// which prevents a race where the first admission fires before the
// subscription has finished acknowledging.
func WithPostReadyQuiescence(d time.Duration) DistributedOption {
	return func(cfg *distributedConfig) { cfg.postReadyQuiescence = d }
}
