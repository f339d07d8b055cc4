// Package autoscale implements the Autoscaler control loop (spec.md §4.4):
// poll BK's queue-depth API, compute a desired replica count, and apply it
// through an orchestrator command, honoring a scale-down cooldown.
// Grounded on original_source/autoscaler.py's poll-then-shell-out loop,
// redesigned per spec §4.4 from a fixed-threshold rule to
// clamp(ceil(ready/target_per_worker), min, max) with a proper cooldown
// window rather than "zero depth for one tick."
package autoscale

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/broker"
)

const queueMain = "tasks.main"

type Autoscaler struct {
	broker          broker.Broker
	minWorkers      int
	maxWorkers      int
	targetPerWorker int
	cooldown        time.Duration
	orchestratorCmd string
	log             zerolog.Logger
	nowFn           func() time.Time
	runCmd          func(ctx context.Context, name string, args ...string) ([]byte, error)

	current             int
	belowThresholdSince time.Time
}

func New(bk broker.Broker, minWorkers, maxWorkers, targetPerWorker int, cooldown time.Duration, orchestratorCmd string, log zerolog.Logger) *Autoscaler {
	return &Autoscaler{
		broker:          bk,
		minWorkers:      minWorkers,
		maxWorkers:      maxWorkers,
		targetPerWorker: targetPerWorker,
		cooldown:        cooldown,
		orchestratorCmd: orchestratorCmd,
		log:             log,
		nowFn:           time.Now,
		runCmd:          runExec,
		current:         minWorkers,
	}
}

func runExec(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Run polls at interval until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Autoscaler) tick(ctx context.Context) {
	ready, unacked, err := a.broker.QueueDepth(ctx, queueMain)
	if err != nil {
		// Safety: report-only if the broker's depth API is unreachable; never
		// guess a replica count from stale data (spec §4.4 "reports-only if
		// orchestrator unreachable" extends to the queue-depth read itself).
		a.log.Warn().Err(err).Msg("autoscaler: queue depth unavailable, skipping tick")
		return
	}

	desired := desiredReplicas(ready, a.targetPerWorker, a.minWorkers, a.maxWorkers)
	a.log.Debug().Int("ready", ready).Int("unacked", unacked).Int("current", a.current).Int("desired", desired).Msg("autoscaler: tick")

	now := a.nowFn()
	if desired > a.current {
		a.apply(ctx, desired)
		a.belowThresholdSince = time.Time{}
		return
	}
	if desired == a.current {
		// Depth is not below threshold on this tick, so any running
		// cooldown window is broken.
		a.belowThresholdSince = time.Time{}
		return
	}

	// desired < current: scale down only after the depth has stayed low for
	// the entire cooldown window, to resist flapping (spec §4.4 step 4, P5).
	if a.belowThresholdSince.IsZero() {
		a.belowThresholdSince = now
		return
	}
	if now.Sub(a.belowThresholdSince) >= a.cooldown {
		a.apply(ctx, desired)
		a.belowThresholdSince = time.Time{}
	}
}

// desiredReplicas implements spec §4.4 step 2 verbatim.
func desiredReplicas(ready, targetPerWorker, minWorkers, maxWorkers int) int {
	if targetPerWorker <= 0 {
		targetPerWorker = 1
	}
	d := int(math.Ceil(float64(ready) / float64(targetPerWorker)))
	if d < minWorkers {
		d = minWorkers
	}
	if d > maxWorkers {
		d = maxWorkers
	}
	return d
}

func (a *Autoscaler) apply(ctx context.Context, desired int) {
	cmdline := strings.ReplaceAll(a.orchestratorCmd, "{n}", fmt.Sprintf("%d", desired))
	a.log.Info().Int("from", a.current).Int("to", desired).Str("cmd", cmdline).Msg("autoscaler: scaling worker pool")

	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		a.log.Warn().Msg("autoscaler: empty orchestrator command, skipping")
		return
	}
	if out, err := a.runCmd(ctx, parts[0], parts[1:]...); err != nil {
		// Safety: orchestrator unreachable is report-only; current stays
		// unchanged so the next tick retries from the same baseline.
		a.log.Error().Err(err).Str("output", string(out)).Msg("autoscaler: orchestrator command failed")
		return
	}
	a.current = desired
}

func (a *Autoscaler) Current() int { return a.current }
