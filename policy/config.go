package policy

import (
	"encoding/json"
	"fmt"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// Action is what the guard does when a signal triggers, ordered by severity.
type Action int

const (
	// ActionAllow lets execution continue. The zero value, so unset
	// policy fields default to the least disruptive action.
	ActionAllow Action = iota

	// ActionWarn surfaces a warning through the host without blocking.
	ActionWarn

	// ActionDegrade disables sensitive functionality but keeps the app
	// running.
	ActionDegrade

	// ActionBlock shows the blocking screen without ending the process.
	ActionBlock

	// ActionTerminate shows the blocking screen and ends the whole
	// process group.
	ActionTerminate
)

var actionNames = map[Action]string{
	ActionAllow:     "ALLOW",
	ActionWarn:      "WARN",
	ActionDegrade:   "DEGRADE",
	ActionBlock:     "BLOCK",
	ActionTerminate: "TERMINATE",
}

// String returns the wire form of the action.
func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseAction parses the wire form. Matching is exact: the configuration
// format uses upper-case action names.
func ParseAction(name string) (Action, error) {
	for action, actionName := range actionNames {
		if actionName == name {
			return action, nil
		}
	}
	return ActionAllow, fmt.Errorf("unknown action %q", name)
}

// MarshalJSON renders the action in wire form.
func (a Action) MarshalJSON() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("unknown action %d", int(a))
	}
	return json.Marshal(name)
}

// UnmarshalJSON parses the wire form.
func (a *Action) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("action must be a string: %w", err)
	}
	parsed, err := ParseAction(name)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PolicyMap assigns one action to each signal kind.
type PolicyMap struct {
	OnRoot     Action `json:"onRoot"`
	OnEmulator Action `json:"onEmulator"`
	OnDebugger Action `json:"onDebugger"`
	OnUsbDebug Action `json:"onUsbDebug"`
	OnVpn      Action `json:"onVpn"`
	OnMitm     Action `json:"onMitm"`
}

// Thresholds convert signal counts into triggered conditions. Comparison is
// inclusive: a count equal to the threshold triggers.
type Thresholds struct {
	RootSignalsToBlock     int `json:"rootSignalsToBlock"`
	EmulatorSignalsToBlock int `json:"emulatorSignalsToBlock"`
}

// SecurityConfig is the complete policy configuration. Treat loaded configs
// as immutable snapshots; the engine copies the value it is given.
type SecurityConfig struct {
	Policy     PolicyMap  `json:"policy"`
	Thresholds Thresholds `json:"thresholds"`
}

// DefaultConfig returns the embedded safe baseline: every action ALLOW, two
// corroborating signals required before count policies engage. The loader
// falls back to it when no asset yields a usable config.
func DefaultConfig() SecurityConfig {
	return SecurityConfig{
		Policy: PolicyMap{
			OnRoot:     ActionAllow,
			OnEmulator: ActionAllow,
			OnDebugger: ActionAllow,
			OnUsbDebug: ActionAllow,
			OnVpn:      ActionAllow,
			OnMitm:     ActionAllow,
		},
		Thresholds: Thresholds{
			RootSignalsToBlock:     2,
			EmulatorSignalsToBlock: 2,
		},
	}
}

// ParseConfig decodes a configuration document. Fields absent from the
// document keep their DefaultConfig values. Unknown action names and
// negative thresholds fail the whole document.
func ParseConfig(data []byte) (SecurityConfig, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("%w: %s", interfaces.ErrConfigParse, err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), fmt.Errorf("%w: %s", interfaces.ErrConfigParse, err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c SecurityConfig) Validate() error {
	if c.Thresholds.RootSignalsToBlock < 0 {
		return fmt.Errorf("rootSignalsToBlock must be non-negative, got %d", c.Thresholds.RootSignalsToBlock)
	}
	if c.Thresholds.EmulatorSignalsToBlock < 0 {
		return fmt.Errorf("emulatorSignalsToBlock must be non-negative, got %d", c.Thresholds.EmulatorSignalsToBlock)
	}
	return nil
}

// Marshal renders the configuration in its wire form.
func (c SecurityConfig) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
