// activation.go implements the plugin-host activation sequence the
// JSON-RPC transport flavor must run before it ever opens its
// websocket connection: the plugin has to be told to activate and
// confirmed running before a JSON-RPC dial against it means anything.
//
// Grounded on original_source/ttsclient/Service.{h,cpp}:
// Service::activate (invoke the Controller's "activate" method),
// Service::onActivation (post a worker that polls isActive() every
// 250ms up to a bounded number of iterations, then notifies clients),
// and Service::onDeactivation's crash-reinstatement logic
// (lastSessionWasHealthy/isServiceUnstable driving a sliding-window
// restart cap). TTSClientPrivateJsonRPC's constructor calls
// restartServiceOnCrash(false), so DefaultActivationPolicy leaves
// crash-reactivation off; a caller that wants it enables it explicitly.
package jsonrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rdkcentral/tts-coordinator/pkg/ttslog"
)

// PluginController is the plugin-host controller endpoint (the
// Thunder/WPEFramework "Controller" plugin in the original) that a
// JSON-RPC client activates its target plugin through, out of band
// from the JSON-RPC connection to the plugin itself.
type PluginController interface {
	Activate(ctx context.Context) error
	Status(ctx context.Context) (PluginState, error)
}

// PluginState mirrors PluginHost::IShell's activation states as seen
// through the Controller's "status@<callsign>" query.
type PluginState int

const (
	PluginDeactivated PluginState = iota
	PluginActivating
	PluginActivated
	PluginDeactivating
)

// ActivationCallback is notified once the plugin has been confirmed
// active, mirroring Service::notifyClientsOfActivation.
type ActivationCallback interface {
	OnActivation()
}

// statusPollInterval is Service::onActivation's poll cadence.
const statusPollInterval = 250 * time.Millisecond

// ActivationPolicy configures the activation wait and the crash
// reactivation sliding window.
type ActivationPolicy struct {
	// ActivationTimeout bounds how long the status-poll loop waits for
	// the plugin to report activated before giving up.
	ActivationTimeout time.Duration

	// ShouldActivateOnCrash mirrors Service::shouldActivateOnCrash().
	// TTSClientPrivateJsonRPC disables this by default.
	ShouldActivateOnCrash bool

	// MaxRestartsInMonitoringPeriod mirrors
	// Service::maxRestartsInMonitoringPeriod().
	MaxRestartsInMonitoringPeriod int

	// HealthThreshold mirrors Service::healthThreshold(): a session
	// that outlives this resets the crash counter.
	HealthThreshold time.Duration

	// ExcludeRequestedDeactivations mirrors
	// Service::shouldExcludeRequestedDeactivations(): a deactivation
	// the plugin host itself requested never triggers reactivation.
	ExcludeRequestedDeactivations bool
}

// DefaultActivationPolicy matches Service.h's defaults, with
// ShouldActivateOnCrash off per TTSClientPrivateJsonRPC's
// restartServiceOnCrash(false).
func DefaultActivationPolicy() ActivationPolicy {
	return ActivationPolicy{
		ActivationTimeout:             10 * time.Second,
		ShouldActivateOnCrash:         false,
		MaxRestartsInMonitoringPeriod: 1,
		HealthThreshold:               5 * time.Minute,
		ExcludeRequestedDeactivations: true,
	}
}

// PluginStateWatcher is implemented by a PluginController that can
// push unsolicited activation-state changes — the Go analog of the
// Controller's "statechange" event that Service::OnPluginStateChange
// subscribes to once per process. A PluginController that doesn't
// implement it simply never drives reactivation.
type PluginStateWatcher interface {
	StateChanges() <-chan PluginStateChange
}

// PluginStateChange is one "statechange" notification: the plugin's
// new State, and whether the transition was Requested (as opposed to
// a crash).
type PluginStateChange struct {
	State     PluginState
	Requested bool
}

// watch drives activator.shouldReactivate off controller's state-change
// stream for as long as ctx is alive, re-activating the plugin when the
// sliding-window crash policy allows it.
func (a *activator) watch(ctx context.Context, watcher PluginStateWatcher) {
	changes := watcher.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if change.State != PluginDeactivated {
				continue
			}
			if a.shouldReactivate(change.Requested) {
				if err := a.activate(ctx); err != nil {
					a.log.Error("reactivation failed", "error", err)
				}
			}
		}
	}
}

// activator drives one plugin through activate/poll-status/notify, and
// applies the sliding-window restart cap to unsolicited reactivation
// after a crash.
type activator struct {
	controller PluginController
	policy     ActivationPolicy
	cb         ActivationCallback
	log        ttslog.Logger

	mu      sync.Mutex
	crashes []time.Time
}

func newActivator(controller PluginController, policy ActivationPolicy, cb ActivationCallback, log ttslog.Logger) *activator {
	if log == nil {
		log = ttslog.NoOp()
	}
	return &activator{
		controller: controller,
		policy:     policy,
		cb:         cb,
		log:        log.With("component", "jsonrpc.activator"),
	}
}

// activate requests activation, then polls Status every
// statusPollInterval until it reports PluginActivated or
// policy.ActivationTimeout elapses — the Go analog of
// Service::onActivation's worker loop.
func (a *activator) activate(ctx context.Context) error {
	if err := a.controller.Activate(ctx); err != nil {
		return fmt.Errorf("jsonrpc: activate plugin: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.policy.ActivationTimeout)
	defer cancel()

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		if state, err := a.controller.Status(ctx); err == nil && state == PluginActivated {
			if a.cb != nil {
				a.cb.OnActivation()
			}
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("jsonrpc: plugin did not activate within %s", a.policy.ActivationTimeout)
		}
	}
}

// shouldReactivate mirrors Service::onDeactivation's crash-handling
// tail: it records this deactivation and reports whether the caller
// should post a fresh activate() attempt. requested is true when the
// deactivation reason reported by the plugin host was "Requested"
// rather than a crash.
func (a *activator) shouldReactivate(requested bool) bool {
	if !a.policy.ShouldActivateOnCrash {
		return false
	}
	if requested && a.policy.ExcludeRequestedDeactivations {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if lastSessionWasHealthy(a.crashes, a.policy.HealthThreshold) {
		a.crashes = nil
	}
	a.crashes = append(a.crashes, time.Now())

	if isServiceUnstable(a.crashes, a.policy.MaxRestartsInMonitoringPeriod) {
		a.log.Error("plugin identified as unstable, not attempting to restart it")
		return false
	}
	return true
}

// lastSessionWasHealthy mirrors Service::lastSessionWasHealthy: true
// when there were no prior crashes, or the most recent one is further
// in the past than threshold.
func lastSessionWasHealthy(crashes []time.Time, threshold time.Duration) bool {
	if len(crashes) == 0 {
		return true
	}
	return time.Since(crashes[len(crashes)-1]) >= threshold
}

// isServiceUnstable mirrors Service::isServiceUnstable.
func isServiceUnstable(crashes []time.Time, maxRestarts int) bool {
	return len(crashes) > maxRestarts
}
