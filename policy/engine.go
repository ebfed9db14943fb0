package policy

import "strconv"

// Signal names used in decision reasons and telemetry.
const (
	SignalRoot     = "root_signals"
	SignalEmulator = "emulator_signals"
	SignalDebugger = "debugger"
	SignalUsbDebug = "usb_debug"
	SignalVpn      = "vpn"
	SignalMitm     = "mitm"
)

// PolicyDecision is the outcome of evaluating one observation. Reason is a
// deterministic rendering of the triggering signal and its raw value, meant
// for audit and telemetry, never for control flow.
type PolicyDecision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Observations is one snapshot of detector outputs. Counts come from the
// corroborating root and emulator probes; the rest are plain conditions.
type Observations struct {
	RootSignals     int  `json:"rootSignals"`
	EmulatorSignals int  `json:"emulatorSignals"`
	Debugger        bool `json:"debugger"`
	UsbDebug        bool `json:"usbDebug"`
	Vpn             bool `json:"vpn"`
	Mitm            bool `json:"mitm"`
}

// Engine maps observations to decisions under a loaded configuration. All
// methods are pure and safe for concurrent use; the engine keeps its own
// copy of the config.
type Engine struct {
	cfg SecurityConfig
}

// NewEngine creates an engine over a configuration snapshot.
func NewEngine(cfg SecurityConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the configuration the engine decides under.
func (e *Engine) Config() SecurityConfig {
	return e.cfg
}

// OnRootSignals decides on a root detection count. The configured action
// applies iff count reaches the threshold; otherwise ALLOW. Negative counts
// sit below every threshold.
func (e *Engine) OnRootSignals(count int) PolicyDecision {
	return countDecision(SignalRoot, count, e.cfg.Thresholds.RootSignalsToBlock, e.cfg.Policy.OnRoot)
}

// OnEmulatorSignals decides on an emulator detection count.
func (e *Engine) OnEmulatorSignals(count int) PolicyDecision {
	return countDecision(SignalEmulator, count, e.cfg.Thresholds.EmulatorSignalsToBlock, e.cfg.Policy.OnEmulator)
}

// OnDebugger decides on an attached-debugger condition.
func (e *Engine) OnDebugger(attached bool) PolicyDecision {
	return boolDecision(SignalDebugger, attached, e.cfg.Policy.OnDebugger)
}

// OnUsbDebug decides on a USB-debugging-enabled condition.
func (e *Engine) OnUsbDebug(enabled bool) PolicyDecision {
	return boolDecision(SignalUsbDebug, enabled, e.cfg.Policy.OnUsbDebug)
}

// OnVpn decides on an active-VPN condition.
func (e *Engine) OnVpn(active bool) PolicyDecision {
	return boolDecision(SignalVpn, active, e.cfg.Policy.OnVpn)
}

// OnMitm decides on a MITM-proxy-detected condition.
func (e *Engine) OnMitm(detected bool) PolicyDecision {
	return boolDecision(SignalMitm, detected, e.cfg.Policy.OnMitm)
}

// Evaluate runs every signal in the snapshot through its policy. Decisions
// come back in a fixed order: root, emulator, debugger, usb_debug, vpn,
// mitm.
func (e *Engine) Evaluate(obs Observations) []PolicyDecision {
	return []PolicyDecision{
		e.OnRootSignals(obs.RootSignals),
		e.OnEmulatorSignals(obs.EmulatorSignals),
		e.OnDebugger(obs.Debugger),
		e.OnUsbDebug(obs.UsbDebug),
		e.OnVpn(obs.Vpn),
		e.OnMitm(obs.Mitm),
	}
}

// MaxSeverity picks the most severe decision. Ties resolve to the earliest
// decision so results stay deterministic.
func MaxSeverity(decisions []PolicyDecision) PolicyDecision {
	result := PolicyDecision{Action: ActionAllow, Reason: ""}
	first := true
	for _, d := range decisions {
		if first || d.Action > result.Action {
			result = d
			first = false
		}
	}
	return result
}

// The threshold comparison is inclusive: threshold zero means any
// observation triggers.
func countDecision(signal string, count, threshold int, configured Action) PolicyDecision {
	action := ActionAllow
	if count >= threshold {
		action = configured
	}
	return PolicyDecision{Action: action, Reason: signal + "=" + strconv.Itoa(count)}
}

func boolDecision(signal string, condition bool, configured Action) PolicyDecision {
	action := ActionAllow
	if condition {
		action = configured
	}
	return PolicyDecision{Action: action, Reason: signal + "=" + strconv.FormatBool(condition)}
}
