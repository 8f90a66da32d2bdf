package study

import "errors"

// State is the lifecycle phase of a study instance.
type State string

const (
	// StateUninitialized is the phase before Setup (and after Reset).
	StateUninitialized State = "uninitialized"
	// StateRunning covers both a ready study and one whose setup requested an ending.
	StateRunning State = "running"
	// StateEnding means one EndStudy call has claimed the ending and is executing it.
	StateEnding State = "ending"
	// StateEnded is terminal until Reset.
	StateEnded State = "ended"
)

// EventKind discriminates Event.
type EventKind string

const (
	EventSetup       EventKind = "setup"
	EventEnd         EventKind = "end"
	EventEndComplete EventKind = "end-complete"
	EventAliveness   EventKind = "aliveness"
	EventReset       EventKind = "reset"
)

// Event is one input to Transition. Only the fields of its Kind are read.
type Event struct {
	Kind EventKind

	// Setup
	FirstRun   bool
	Ineligible bool
	Expired    bool

	// End: the requested name and its canonical bucket.
	Ending string
	Bucket string

	// Aliveness
	NewDay bool
}

// EffectKind discriminates Effect.
type EffectKind string

const (
	EffectSendState    EffectKind = "send-state"
	EffectPersistFirst EffectKind = "persist-first-run"
	EffectSetActive    EffectKind = "set-active"
	EffectUnsetActive  EffectKind = "unset-active"
	EffectRunHook      EffectKind = "run-hook"
	EffectRequestEnd   EffectKind = "request-end"
	EffectBuildURLs    EffectKind = "build-urls"
	EffectFireReady    EffectKind = "fire-ready"
	EffectFireEndStudy EffectKind = "fire-end-study"
)

// HookName identifies a study hook in effects, logs and error pings.
type HookName string

const (
	HookInstalled  HookName = "installed"
	HookIneligible HookName = "ineligible"
	HookExpired    HookName = "expired"
	HookCleanup    HookName = "cleanup"
)

// Effect is one side effect the engine must execute, in order.
type Effect struct {
	Kind EffectKind

	// SendState
	StudyState string
	Fullname   string

	// RunHook
	Hook HookName

	// RequestEnd
	Ending string
}

var errEnded = errors.New("study already ended")

// Transition is the pure lifecycle function. It never performs I/O: the
// returned effects are executed by the engine in order. An error means the
// event is not allowed in the current state and the state is unchanged.
func Transition(current State, ev Event) (State, []Effect, error) {
	switch ev.Kind {
	case EventReset:
		return StateUninitialized, nil, nil

	case EventSetup:
		if current != StateUninitialized {
			return current, nil, ErrAlreadySetup
		}
		return StateRunning, setupEffects(ev), nil

	case EventEnd:
		switch current {
		case StateUninitialized:
			return current, nil, ErrNotSetup
		case StateEnding:
			return current, nil, ErrEndingConflict
		case StateEnded:
			return current, nil, errEnded
		}
		return StateEnding, endEffects(ev), nil

	case EventEndComplete:
		if current != StateEnding {
			return current, nil, errors.New("end-complete outside of ending")
		}
		return StateEnded, []Effect{{Kind: EffectFireEndStudy}}, nil

	case EventAliveness:
		if current != StateRunning {
			return current, nil, nil
		}
		if ev.Expired {
			return current, []Effect{{Kind: EffectRequestEnd, Ending: EndingExpired}}, nil
		}
		if ev.NewDay {
			return current, []Effect{{Kind: EffectSendState, StudyState: PingActive}}, nil
		}
		return current, nil, nil
	}

	return current, nil, errors.New("unknown event " + string(ev.Kind))
}

func setupEffects(ev Event) []Effect {
	var effects []Effect

	if ev.FirstRun {
		effects = append(effects,
			Effect{Kind: EffectSendState, StudyState: PingEnter},
			Effect{Kind: EffectPersistFirst},
		)
		if ev.Ineligible {
			return append(effects, Effect{Kind: EffectRequestEnd, Ending: EndingIneligible})
		}
	}

	if ev.Expired {
		return append(effects, Effect{Kind: EffectRequestEnd, Ending: EndingExpired})
	}

	effects = append(effects, Effect{Kind: EffectSetActive})
	if ev.FirstRun {
		effects = append(effects,
			Effect{Kind: EffectSendState, StudyState: PingInstalled},
			Effect{Kind: EffectRunHook, Hook: HookInstalled},
		)
	}
	return append(effects, Effect{Kind: EffectFireReady})
}

// endEffects runs every hook before the ending pings so that exit stays the
// last telemetry of the study, even when a hook fails and reports an error.
func endEffects(ev Event) []Effect {
	effects := []Effect{
		{Kind: EffectUnsetActive},
		{Kind: EffectBuildURLs},
	}

	switch ev.Ending {
	case EndingIneligible:
		effects = append(effects, Effect{Kind: EffectRunHook, Hook: HookIneligible})
	case EndingExpired:
		effects = append(effects, Effect{Kind: EffectRunHook, Hook: HookExpired})
	}

	return append(effects,
		Effect{Kind: EffectRunHook, Hook: HookCleanup},
		Effect{Kind: EffectSendState, StudyState: ev.Bucket, Fullname: ev.Ending},
		Effect{Kind: EffectSendState, StudyState: PingExit},
	)
}
