package lifecycle

import "time"

// Config holds the sandbox lifecycle controller's tunables (spec.md §4.4).
// Field names mirror internal/config.Config's lifecycle section; the
// controller takes its own copy so it never imports internal/config.
type Config struct {
	CircuitBreakerThreshold int
	CircuitBreakerWindow    time.Duration
	SpawnCooldown           time.Duration
	SpawnReadyWait          time.Duration
	InactivityTimeout       time.Duration
	InactivityExtension     time.Duration
	InactivityMinCheck      time.Duration
	HeartbeatInterval       time.Duration
	HeartbeatStaleAfter     time.Duration
}

// BreakerState is the circuit breaker's persisted input (§4.4.1).
type BreakerState struct {
	FailureCount    int
	LastFailureTime int64 // unix millis, 0 == never
}

// BreakerDecision is the pure result of evaluating the circuit breaker.
type BreakerDecision struct {
	Proceed bool
	Reset   bool  // counter should be reset before proceeding
	WaitMS  int64 // populated when Proceed is false
}

// EvaluateBreaker implements §4.4.1. now and LastFailureTime are unix millis.
func EvaluateBreaker(state BreakerState, cfg Config, now int64) BreakerDecision {
	windowMS := cfg.CircuitBreakerWindow.Milliseconds()
	elapsed := now - state.LastFailureTime

	if state.FailureCount > 0 && elapsed >= windowMS {
		return BreakerDecision{Proceed: true, Reset: true}
	}
	if state.FailureCount >= cfg.CircuitBreakerThreshold && elapsed < windowMS {
		return BreakerDecision{Proceed: false, WaitMS: windowMS - elapsed}
	}
	return BreakerDecision{Proceed: true}
}

// SpawnAction is the verdict of the spawn decision (§4.4.2).
type SpawnAction string

const (
	ActionRestore SpawnAction = "restore"
	ActionSkip    SpawnAction = "skip"
	ActionWait    SpawnAction = "wait"
	ActionSpawn   SpawnAction = "spawn"
)

// SpawnInput bundles the spawn decision's inputs.
type SpawnInput struct {
	Status           SandboxStatus
	CreatedAt        int64 // unix millis
	SnapshotImageID  string
	HasSocket        bool
	InMemorySpawning bool
}

// SpawnDecision is the pure result of evaluating the spawn decision.
type SpawnDecision struct {
	Action SpawnAction
	Reason string
}

// EvaluateSpawn implements the ordered evaluation of §4.4.2.
func EvaluateSpawn(in SpawnInput, cfg Config, now int64) SpawnDecision {
	if in.SnapshotImageID != "" && IsTerminalSandboxState(in.Status) {
		return SpawnDecision{Action: ActionRestore, Reason: "snapshot available"}
	}
	if in.Status == StatusSpawning || in.Status == StatusConnecting {
		return SpawnDecision{Action: ActionSkip, Reason: "already " + string(in.Status)}
	}
	if in.Status == StatusReady {
		if in.HasSocket {
			return SpawnDecision{Action: ActionSkip, Reason: "ready with active WS"}
		}
		if now-in.CreatedAt < cfg.SpawnReadyWait.Milliseconds() {
			return SpawnDecision{Action: ActionWait, Reason: "ready, awaiting first connection"}
		}
	}
	if now-in.CreatedAt < cfg.SpawnCooldown.Milliseconds() &&
		in.Status != StatusFailed && in.Status != StatusStopped {
		return SpawnDecision{Action: ActionWait, Reason: "spawn cooldown"}
	}
	if in.InMemorySpawning {
		return SpawnDecision{Action: ActionSkip, Reason: "spawn already in flight"}
	}
	return SpawnDecision{Action: ActionSpawn}
}

// InactivityAction is the verdict of the inactivity decision (§4.4.5).
type InactivityAction string

const (
	InactivitySchedule InactivityAction = "schedule"
	InactivityExtend   InactivityAction = "extend"
	InactivityTimeout  InactivityAction = "timeout"
)

// InactivityInput bundles the inactivity decision's inputs.
type InactivityInput struct {
	LastActivity         int64 // 0 == null
	Status               SandboxStatus
	ConnectedClientCount int
}

// InactivityDecision is the pure result of evaluating inactivity.
type InactivityDecision struct {
	Action   InactivityAction
	NextWait time.Duration // valid for Schedule
}

// EvaluateInactivity implements §4.4.5.
func EvaluateInactivity(in InactivityInput, cfg Config, now int64) InactivityDecision {
	if IsTerminalSandboxState(in.Status) || in.LastActivity == 0 ||
		(in.Status != StatusReady && in.Status != StatusRunning) {
		return InactivityDecision{Action: InactivitySchedule, NextWait: cfg.InactivityMinCheck}
	}

	inactiveFor := time.Duration(now-in.LastActivity) * time.Millisecond
	if inactiveFor >= cfg.InactivityTimeout {
		if in.ConnectedClientCount > 0 {
			return InactivityDecision{Action: InactivityExtend, NextWait: cfg.InactivityExtension}
		}
		return InactivityDecision{Action: InactivityTimeout}
	}

	remaining := cfg.InactivityTimeout - inactiveFor
	if remaining < cfg.InactivityMinCheck {
		remaining = cfg.InactivityMinCheck
	}
	return InactivityDecision{Action: InactivitySchedule, NextWait: remaining}
}

// IsHeartbeatStale implements §4.4.6: a sandbox that has never reported a
// heartbeat is still warming up, not stale.
func IsHeartbeatStale(lastHeartbeat int64, cfg Config, now int64) bool {
	if lastHeartbeat == 0 {
		return false
	}
	return time.Duration(now-lastHeartbeat)*time.Millisecond > cfg.HeartbeatStaleAfter
}

// ShouldWarm implements §4.4.7.
func ShouldWarm(hasSocket, inMemorySpawning bool, status SandboxStatus) bool {
	if hasSocket || inMemorySpawning {
		return false
	}
	return status != StatusSpawning && status != StatusConnecting
}

// SpawnFailureClass classifies a provider error for the circuit breaker
// (§4.4.3): permanent failures count against the breaker, transient ones
// don't, and unknown classes are treated as permanent.
type SpawnFailureClass int

const (
	FailurePermanent SpawnFailureClass = iota
	FailureTransient
)

// ClassifiableError is implemented by provider errors that know whether
// they are retriable.
type ClassifiableError interface {
	error
	Transient() bool
}

// ClassifySpawnFailure inspects err for the ClassifiableError interface;
// anything else (including a plain error) is treated as permanent.
func ClassifySpawnFailure(err error) SpawnFailureClass {
	if ce, ok := err.(ClassifiableError); ok && ce.Transient() {
		return FailureTransient
	}
	return FailurePermanent
}
