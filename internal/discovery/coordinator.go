package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultSettle        = 300 * time.Millisecond
	DefaultCooldown      = 2 * time.Second
	DefaultForceCooldown = 3 * time.Second
)

type Options struct {
	Service string
	// Self describes this device; Service is filled in from Options.
	Self Announcement
	// Settle is the pause between stopping and restarting an activity
	// that was already running.
	Settle time.Duration
	// Advertise and Browse say which activities Restart brings back.
	Advertise bool
	Browse    bool
}

// State is a point-in-time view of discovery for operators.
type State struct {
	Advertising bool
	Browsing    bool
	Reachable   bool
	Pending     bool
	LastError   error
}

// Coordinator drives advertising and browsing on a Medium. Every method is
// safe to call at any time and returns without waiting for settle or
// cooldown delays; those run on timers.
type Coordinator struct {
	opts   Options
	medium Medium
	reach  Reachability
	found  func(Announcement)
	log    zerolog.Logger

	mu           sync.Mutex
	advertising  bool
	browsing     bool
	advCancel    context.CancelFunc
	browseCancel context.CancelFunc
	advTimer     *time.Timer
	browseTimer  *time.Timer
	restartTimer *time.Timer
	// generations invalidate timers that fired while being stopped
	advGen, browseGen, restartGen uint64
	lastErr                       error
}

func NewCoordinator(opts Options, medium Medium, reach Reachability, found func(Announcement), log zerolog.Logger) *Coordinator {
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if reach == nil {
		reach = ReachabilityFunc(func() bool { return true })
	}
	if found == nil {
		found = func(Announcement) {}
	}
	opts.Self.Service = opts.Service
	return &Coordinator{
		opts: opts, medium: medium, reach: reach, found: found,
		log: log.With().Str("component", "discovery").Str("service", opts.Service).Logger(),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Advertising: c.advertising,
		Browsing:    c.browsing,
		Reachable:   c.reach.Reachable(),
		Pending:     c.advTimer != nil || c.browseTimer != nil || c.restartTimer != nil,
		LastError:   c.lastErr,
	}
}

func (c *Coordinator) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// StartAdvertise makes this device findable. If advertising is already
// running or about to, it is stopped and restarted after the settle delay.
func (c *Coordinator) StartAdvertise() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdentifierLocked("advertise"); err != nil {
		return err
	}
	if c.advertising || c.advTimer != nil {
		c.stopAdvertiseLocked()
		gen := c.advGen
		c.advTimer = time.AfterFunc(c.opts.Settle, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.advGen != gen {
				return
			}
			c.advTimer = nil
			_ = c.startAdvertiseLocked()
		})
		return nil
	}
	return c.startAdvertiseLocked()
}

// StartBrowse looks for compatible peers, with the same restart rule as
// StartAdvertise.
func (c *Coordinator) StartBrowse() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkIdentifierLocked("browse"); err != nil {
		return err
	}
	if c.browsing || c.browseTimer != nil {
		c.stopBrowseLocked()
		gen := c.browseGen
		c.browseTimer = time.AfterFunc(c.opts.Settle, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.browseGen != gen {
				return
			}
			c.browseTimer = nil
			_ = c.startBrowseLocked()
		})
		return nil
	}
	return c.startBrowseLocked()
}

func (c *Coordinator) StopAdvertise() {
	c.mu.Lock()
	c.stopAdvertiseLocked()
	c.mu.Unlock()
}

func (c *Coordinator) StopBrowse() {
	c.mu.Lock()
	c.stopBrowseLocked()
	c.mu.Unlock()
}

// Stop ends both activities and cancels any pending restart.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

// Restart stops everything and, after cooldown, starts the activities
// named in Options.
func (c *Coordinator) Restart(cooldown time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	gen := c.restartGen
	c.log.Info().Dur("cooldown", cooldown).Msg("discovery restart scheduled")
	c.restartTimer = time.AfterFunc(cooldown, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.restartGen != gen {
			return
		}
		c.restartTimer = nil
		if c.opts.Advertise {
			_ = c.startAdvertiseLocked()
		}
		if c.opts.Browse {
			_ = c.startBrowseLocked()
		}
	})
}

func (c *Coordinator) stopLocked() {
	c.stopAdvertiseLocked()
	c.stopBrowseLocked()
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
	}
	c.restartGen++
}

func (c *Coordinator) checkIdentifierLocked(op string) error {
	if ValidateIdentifier(c.opts.Service) {
		return nil
	}
	err := &StartError{Op: op, Kind: KindInvalidIdentifier, Err: fmt.Errorf("%w: %q", ErrInvalidIdentifier, c.opts.Service)}
	c.lastErr = err
	c.log.Error().Err(err).Msg("discovery aborted")
	return err
}

func (c *Coordinator) startAdvertiseLocked() error {
	if err := c.checkIdentifierLocked("advertise"); err != nil {
		return err
	}
	if !c.reach.Reachable() {
		return c.failLocked("advertise", ErrUnavailable)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.medium.Advertise(ctx, c.opts.Self); err != nil {
		cancel()
		return c.failLocked("advertise", err)
	}
	c.advCancel = cancel
	c.advertising = true
	c.lastErr = nil
	c.log.Info().Str("addr", c.opts.Self.Addr).Msg("advertising started")
	return nil
}

func (c *Coordinator) startBrowseLocked() error {
	if err := c.checkIdentifierLocked("browse"); err != nil {
		return err
	}
	if !c.reach.Reachable() {
		return c.failLocked("browse", ErrUnavailable)
	}
	ctx, cancel := context.WithCancel(context.Background())
	self := c.opts.Self.Peer
	found := c.found
	gen := c.browseGen
	err := c.medium.Browse(ctx, c.opts.Service, func(a Announcement) {
		if a.Peer == self || ctx.Err() != nil {
			return
		}
		found(a)
	}, func(err error) { c.browseLost(gen, err) })
	if err != nil {
		cancel()
		return c.failLocked("browse", err)
	}
	c.browseCancel = cancel
	c.browsing = true
	c.lastErr = nil
	c.log.Info().Msg("browsing started")
	return nil
}

// browseLost records a browse that died on its own. A browse that was
// stopped or replaced since is ignored.
func (c *Coordinator) browseLost(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.browseGen || !c.browsing {
		return
	}
	if c.browseCancel != nil {
		c.browseCancel()
		c.browseCancel = nil
	}
	c.browsing = false
	c.lastErr = classify("browse", err)
	c.log.Warn().Err(c.lastErr).Msg("browsing lost")
}

func (c *Coordinator) failLocked(op string, err error) error {
	se := classify(op, err)
	c.lastErr = se
	c.log.Warn().Err(se).Bool("retryable", se.Retryable()).Msg("discovery start failed")
	return se
}

func (c *Coordinator) stopAdvertiseLocked() {
	if c.advTimer != nil {
		c.advTimer.Stop()
		c.advTimer = nil
	}
	c.advGen++
	if c.advCancel != nil {
		c.advCancel()
		c.advCancel = nil
	}
	if c.advertising {
		c.log.Info().Msg("advertising stopped")
	}
	c.advertising = false
}

func (c *Coordinator) stopBrowseLocked() {
	if c.browseTimer != nil {
		c.browseTimer.Stop()
		c.browseTimer = nil
	}
	c.browseGen++
	if c.browseCancel != nil {
		c.browseCancel()
		c.browseCancel = nil
	}
	if c.browsing {
		c.log.Info().Msg("browsing stopped")
	}
	c.browsing = false
}
