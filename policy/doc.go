// Package policy implements the decision engine mapping environment signals
// to configured actions.
//
// The engine is the trusted consumer of a loaded SecurityConfig. It is pure:
// given the same configuration and the same observation it always returns
// the same decision, and it keeps no state between calls. Debouncing and
// counting over time belong to the detectors feeding it.
//
// # Actions
//
// Actions form a closed severity order:
//
//	ALLOW < WARN < DEGRADE < BLOCK < TERMINATE
//
// Only BLOCK and TERMINATE reach the enforcement layer's blocking path;
// TERMINATE additionally ends the guarded process group.
//
// # Signals
//
// Two signal shapes exist. Count signals (root_signals, emulator_signals)
// trigger when the observed count reaches the configured threshold,
// inclusively; a threshold of zero means any observation triggers. Condition
// signals (debugger, usb_debug, vpn, mitm) trigger when true.
//
// Every decision carries a deterministic reason string of the form
//
//	<signal_name>=<raw_value>
//
// rendered from the raw observation, on the ALLOW path too. Reasons feed
// audit and telemetry and never drive control flow.
//
// # Configuration Format
//
// SecurityConfig is a two-object JSON document:
//
//	{
//	  "policy": {
//	    "onRoot": "BLOCK",
//	    "onEmulator": "WARN",
//	    "onDebugger": "TERMINATE",
//	    "onUsbDebug": "ALLOW",
//	    "onVpn": "ALLOW",
//	    "onMitm": "BLOCK"
//	  },
//	  "thresholds": {
//	    "rootSignalsToBlock": 2,
//	    "emulatorSignalsToBlock": 2
//	  }
//	}
//
// Absent fields keep their DefaultConfig values; unknown action names and
// negative thresholds reject the whole document.
package policy
