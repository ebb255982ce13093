// Package gate admits an operator with a shared PIN, locking out repeated
// wrong guesses and checking that backend storage is reachable.
package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bitrise-io/go-suas-uploader/signing"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/crypto/bcrypt"
)

// ErrStorageUnavailable is returned when the storage healthcheck fails.
var ErrStorageUnavailable = errors.New("backend storage unavailable")

const storageUnavailableMessage = "Backend storage cannot be found. Please contact the administrator."

// Reason explains a submission result.
type Reason string

const (
	ReasonAdmitted           Reason = "admitted"
	ReasonLocked             Reason = "locked"
	ReasonWrongPIN           Reason = "wrong_pin"
	ReasonStorageUnavailable Reason = "storage_unavailable"
)

// Result is the outcome of one PIN submission.
type Result struct {
	Admit   bool
	Wait    time.Duration
	Reason  Reason
	Err     error
	Message string
}

// Config ...
type Config struct {
	PIN string
	// PINHash is a bcrypt hash. When set it takes precedence over PIN.
	PINHash         string
	SkipHealthcheck bool
	HealthcheckFile string
}

// Option ...
type Option func(*Gate)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// Gate is safe for concurrent use.
type Gate struct {
	cfg        Config
	resolver   signing.URLResolver
	httpClient *retryablehttp.Client
	logger     log.Logger
	now        func() time.Time

	mu    sync.Mutex
	state LockoutState
}

// New ...
func New(cfg Config, resolver signing.URLResolver, client *retryablehttp.Client, logger log.Logger, opts ...Option) *Gate {
	g := &Gate{
		cfg:        cfg,
		resolver:   resolver,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidatePin reports whether candidate matches the configured PIN.
func (g *Gate) ValidatePin(candidate string) bool {
	if candidate == "" {
		return false
	}
	if g.cfg.PINHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(g.cfg.PINHash), []byte(candidate)) == nil
	}
	if g.cfg.PIN == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(g.cfg.PIN)) == 1
}

// State returns a copy of the lockout state.
func (g *Gate) State() LockoutState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Submit evaluates one PIN attempt. While locked out the attempt is ignored
// and the failure counter is left alone.
func (g *Gate) Submit(ctx context.Context, candidate string) Result {
	g.mu.Lock()
	now := g.now()
	if g.state.Locked(now) {
		remaining := g.state.Remaining(now)
		g.mu.Unlock()
		return Result{
			Wait:    remaining,
			Reason:  ReasonLocked,
			Message: fmt.Sprintf("Too many attempts. Please wait %d s.", seconds(remaining)),
		}
	}

	if !g.ValidatePin(candidate) {
		g.state.ConsecutiveFailures++
		wait := LockoutWait(g.state.ConsecutiveFailures)
		g.state.LockedUntil = now.Add(wait)
		failures := g.state.ConsecutiveFailures
		g.mu.Unlock()

		g.logger.Warnf("Incorrect PIN (%d consecutive failures), locked for %s", failures, wait)
		return Result{
			Wait:    wait,
			Reason:  ReasonWrongPIN,
			Message: fmt.Sprintf("Incorrect PIN. Please wait %d s.", seconds(wait)),
		}
	}

	g.state = LockoutState{}
	g.mu.Unlock()

	if g.cfg.SkipHealthcheck {
		g.logger.Debugf("Skipping storage healthcheck")
		return Result{Admit: true, Reason: ReasonAdmitted}
	}
	if err := g.healthcheck(ctx); err != nil {
		g.logger.Errorf("Storage healthcheck failed: %s", err)
		return Result{
			Reason:  ReasonStorageUnavailable,
			Err:     err,
			Message: storageUnavailableMessage,
		}
	}
	return Result{Admit: true, Reason: ReasonAdmitted}
}

func (g *Gate) healthcheck(ctx context.Context) error {
	startTime := time.Now()
	signedURL, err := g.resolver.Resolve(ctx, g.cfg.HealthcheckFile)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := signing.Probe(ctx, g.httpClient, signedURL); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	g.logger.Debugf("Storage healthcheck passed in %s", time.Since(startTime).Round(time.Millisecond))
	return nil
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
