// internal/agent/agent.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/droidprobe-cli/api/schemas"
	"github.com/xkilldash9x/droidprobe-cli/internal/action"
	"github.com/xkilldash9x/droidprobe-cli/internal/adb"
	"github.com/xkilldash9x/droidprobe-cli/internal/config"
)

// DevicePort is the automation loop's view of the device layer. The adb
// Device satisfies it; tests substitute mocks.
type DevicePort interface {
	// HealthCheck reports whether the target device is attached and usable.
	HealthCheck(ctx context.Context) bool
	// ScreenSize reads the device resolution used for coordinate validation.
	ScreenSize(ctx context.Context) (action.ScreenSize, error)
	// CaptureUI returns a snapshot of the current UI hierarchy.
	CaptureUI(ctx context.Context) (*adb.Snapshot, error)
	// Dispatch executes a device input action.
	Dispatch(ctx context.Context, act action.Action) error
}

// Allows for deterministic IDs in tests.
var uuidNewString = uuid.NewString

// Loop owns the lifecycle of one exploration run: it captures UI state, asks
// the decision model for the next action, validates and dispatches it, keeps
// the turn history, and decides when to stop. Iterations are strictly
// sequential; the loop suspends only inside the device and decision calls.
type Loop struct {
	cfg     config.AgentConfig
	device  DevicePort
	client  schemas.LLMClient
	limiter *rate.Limiter
	logger  *zap.Logger

	screen action.ScreenSize
}

// New assembles a Loop. Configuration is explicit; there is no process-wide
// mutable state beyond the injected logger.
func New(cfg config.AgentConfig, device DevicePort, client schemas.LLMClient, logger *zap.Logger) *Loop {
	decisionRate := cfg.DecisionRate
	if decisionRate <= 0 {
		decisionRate = 1
	}
	return &Loop{
		cfg:     cfg,
		device:  device,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(decisionRate), 1),
		logger:  logger.Named("agent"),
	}
}

// Run executes the automation loop until a terminal state is reached. The
// returned RunState is the run's sole externally observable result; it is
// non-nil whenever the run started, terminal status included. The error is
// non-nil only for startup failures and context cancellation.
func (l *Loop) Run(ctx context.Context, goal string) (*RunState, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, &StartupError{Reason: "goal is empty"}
	}
	if !l.device.HealthCheck(ctx) {
		return nil, &StartupError{Reason: "device is not reachable"}
	}
	screen, err := l.device.ScreenSize(ctx)
	if err != nil {
		return nil, &StartupError{Reason: fmt.Sprintf("cannot read screen size: %v", err)}
	}
	l.screen = screen

	state := &RunState{
		RunID:     uuidNewString(),
		Goal:      goal,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	l.logger.Info("Run starting",
		zap.String("run_id", state.RunID),
		zap.String("goal", goal),
		zap.Int("screen_width", screen.Width),
		zap.Int("screen_height", screen.Height))

	consecutive := 0
	lastClass := FailureNone

	for turn := 0; ; turn++ {
		// Cooperative cancellation checkpoint at the top of every iteration.
		if err := ctx.Err(); err != nil {
			state.complete(StatusFailed, "run cancelled")
			return state, err
		}
		if l.cfg.MaxTurns > 0 && turn >= l.cfg.MaxTurns {
			state.complete(StatusFailed, fmt.Sprintf("maximum turn cap of %d reached", l.cfg.MaxTurns))
			l.logger.Warn("Run hit the turn cap", zap.Int("max_turns", l.cfg.MaxTurns))
			return state, nil
		}

		// 1. Observe.
		snapshot, err := l.captureWithRetry(ctx)
		if err != nil {
			if adb.IsFatalDeviceError(err) {
				state.append(Turn{Outcome: OutcomeFailure, Class: FailureDevice, Detail: err.Error()})
				state.complete(StatusFailed, fmt.Sprintf("device disconnected: %v", err))
				return state, nil
			}
			if ctx.Err() != nil {
				state.complete(StatusFailed, "run cancelled")
				return state, ctx.Err()
			}
			state.append(Turn{Outcome: OutcomeFailure, Class: FailureDevice, Detail: err.Error()})
			if l.bump(&consecutive, &lastClass, FailureDevice, 1) {
				state.complete(StatusFailed, thresholdReason(consecutive, FailureDevice))
				return state, nil
			}
			continue
		}

		// 2. Decide.
		if err := l.limiter.Wait(ctx); err != nil {
			state.complete(StatusFailed, "run cancelled")
			return state, err
		}
		raw, err := l.client.Generate(ctx, schemas.GenerationRequest{
			SystemPrompt: systemPrompt(),
			UserPrompt:   buildUserPrompt(goal, l.screen, snapshot.Compact, state.tail(l.cfg.HistoryWindow)),
			Options: schemas.GenerationOptions{
				ForceJSONFormat: true,
			},
		})
		if err != nil {
			if ctx.Err() != nil {
				state.complete(StatusFailed, "run cancelled")
				return state, ctx.Err()
			}
			l.logger.Warn("Decision request failed", zap.Error(err))
			state.append(Turn{Snapshot: snapshot.Compact, Outcome: OutcomeFailure, Class: FailureClient, Detail: err.Error()})
			increment := 1
			if l.cfg.StrictClientErrors {
				increment = 2
			}
			if l.bump(&consecutive, &lastClass, FailureClient, increment) {
				state.complete(StatusFailed, thresholdReason(consecutive, FailureClient))
				return state, nil
			}
			continue
		}

		// 3. Validate.
		act, err := action.ParsePayload(raw, l.screen)
		if err != nil {
			l.logger.Warn("Model response rejected", zap.String("raw", raw), zap.Error(err))
			state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Outcome: OutcomeFailure, Class: FailureParse, Detail: err.Error()})
			if l.bump(&consecutive, &lastClass, FailureParse, 1) {
				state.complete(StatusFailed, thresholdReason(consecutive, FailureParse))
				return state, nil
			}
			continue
		}

		// 4. Terminal signals never reach the device.
		switch act.Kind {
		case action.KindEnd:
			state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Action: &act, Outcome: OutcomeSuccess})
			state.complete(StatusCompleted, "goal reached")
			l.logger.Info("Run completed", zap.Int("turns", len(state.Turns)))
			return state, nil
		case action.KindError:
			state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Action: &act, Outcome: OutcomeFailure, Class: FailureModel, Detail: act.Reason})
			state.complete(StatusFailed, act.Reason)
			l.logger.Warn("Model aborted the run", zap.String("reason", act.Reason))
			return state, nil
		}

		// 5. Act.
		if err := l.dispatchWithRetry(ctx, act); err != nil {
			if adb.IsFatalDeviceError(err) {
				state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Action: &act, Outcome: OutcomeFailure, Class: FailureDevice, Detail: err.Error()})
				state.complete(StatusFailed, fmt.Sprintf("device disconnected: %v", err))
				return state, nil
			}
			if ctx.Err() != nil {
				state.complete(StatusFailed, "run cancelled")
				return state, ctx.Err()
			}
			state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Action: &act, Outcome: OutcomeFailure, Class: FailureDevice, Detail: err.Error()})
			if l.bump(&consecutive, &lastClass, FailureDevice, 1) {
				state.complete(StatusFailed, thresholdReason(consecutive, FailureDevice))
				return state, nil
			}
			continue
		}

		state.append(Turn{Snapshot: snapshot.Compact, Raw: raw, Action: &act, Outcome: OutcomeSuccess})
		consecutive = 0
		lastClass = FailureNone
		l.logger.Debug("Turn succeeded", zap.String("action", act.String()), zap.Int("turn", len(state.Turns)))
	}
}

// bump advances the consecutive-failure counter and reports whether the
// configured threshold has been reached. When ResetCounterOnKindChange is
// set, a failure of a different class restarts the count instead of adding
// to it.
func (l *Loop) bump(counter *int, lastClass *FailureClass, class FailureClass, n int) bool {
	if l.cfg.ResetCounterOnKindChange && *lastClass != FailureNone && *lastClass != class {
		*counter = 0
	}
	*counter += n
	*lastClass = class
	return *counter >= l.cfg.MaxConsecutiveFailures
}

func thresholdReason(count int, class FailureClass) string {
	return fmt.Sprintf("aborted after %d consecutive failures (last class %s)", count, class)
}

// captureWithRetry applies the device error policy to snapshot capture.
func (l *Loop) captureWithRetry(ctx context.Context) (*adb.Snapshot, error) {
	var snapshot *adb.Snapshot
	err := l.withDeviceRetry(ctx, "capture", func() error {
		var err error
		snapshot, err = l.device.CaptureUI(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// dispatchWithRetry applies the device error policy to action dispatch. The
// same action is retried; a failed budget counts as one turn failure.
func (l *Loop) dispatchWithRetry(ctx context.Context, act action.Action) error {
	return l.withDeviceRetry(ctx, "dispatch", func() error {
		return l.device.Dispatch(ctx, act)
	})
}

func (l *Loop) withDeviceRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 1 + l.cfg.MaxDeviceRetries
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if adb.IsFatalDeviceError(lastErr) {
			return lastErr
		}
		l.logger.Warn("Transient device error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr))
	}
	return lastErr
}
