// Package interfaces defines the core interfaces and types for the runtime
// integrity guard. It provides the contract between different components
// without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"strings"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
)

type HMACKey = cryptoutils.HMACKey
type Signature = cryptoutils.Signature

// KeyTier identifies the isolation level backing a provisioned key, ordered
// from weakest to strongest.
type KeyTier int

const (
	// TierSoftware is the always-available fallback tier. Key material
	// lives in process-readable storage on the local filesystem.
	TierSoftware KeyTier = iota

	// TierHardwareIsolated keys are rooted in a hardware keystore (TPM);
	// the root material never leaves the device unsealed at rest.
	TierHardwareIsolated

	// TierSecureElement keys live inside a discrete secure element or HSM
	// token and MAC operations execute inside the element.
	TierSecureElement
)

// String returns the tier name.
func (t KeyTier) String() string {
	switch t {
	case TierSoftware:
		return "software"
	case TierHardwareIsolated:
		return "hardware_isolated"
	case TierSecureElement:
		return "secure_element"
	default:
		return "unknown"
	}
}

// ParseKeyTier parses a tier name.
func ParseKeyTier(name string) (KeyTier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "software":
		return TierSoftware, nil
	case "hardware_isolated":
		return TierHardwareIsolated, nil
	case "secure_element":
		return TierSecureElement, nil
	default:
		return TierSoftware, fmt.Errorf("unknown key tier: %q", name)
	}
}

// KeyScope selects how a key binds to its holder.
type KeyScope int

const (
	// ScopeGeneric keys carry no device binding. Signatures made under an
	// imported generic key verify on any device holding the same material.
	ScopeGeneric KeyScope = iota

	// ScopeDeviceBound keys mix the device and application identity into
	// the derivation, so signatures do not verify elsewhere.
	ScopeDeviceBound
)

// String returns the scope name.
func (s KeyScope) String() string {
	switch s {
	case ScopeGeneric:
		return "generic"
	case ScopeDeviceBound:
		return "device_bound"
	default:
		return "unknown"
	}
}

// ParseKeyScope parses a scope name.
func ParseKeyScope(name string) (KeyScope, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "generic":
		return ScopeGeneric, nil
	case "device_bound", "device-bound":
		return ScopeDeviceBound, nil
	default:
		return ScopeGeneric, fmt.Errorf("unknown key scope: %q", name)
	}
}

// KeyIdentity carries the device and application identity a device-bound key
// derives from.
type KeyIdentity struct {
	DeviceID string
	AppID    string
}

// NewKeyIdentity creates an identity with validation.
func NewKeyIdentity(deviceID, appID string) (KeyIdentity, error) {
	if deviceID == "" {
		return KeyIdentity{}, errors.New("invalid key identity: empty device id")
	}
	if appID == "" {
		return KeyIdentity{}, errors.New("invalid key identity: empty app id")
	}
	return KeyIdentity{DeviceID: deviceID, AppID: appID}, nil
}

// String renders the identity in its derivation form.
func (id KeyIdentity) String() string {
	return id.DeviceID + ":" + id.AppID
}

// Validate checks the identity is complete.
func (id KeyIdentity) Validate() error {
	_, err := NewKeyIdentity(id.DeviceID, id.AppID)
	return err
}

// KeyAlias names a provisioned key inside its store.
type KeyAlias string

// NewKeyAlias creates an alias with validation.
func NewKeyAlias(name string) (KeyAlias, error) {
	if name == "" {
		return "", errors.New("invalid key alias: empty")
	}
	if strings.ContainsAny(name, "/\\ \t\n") {
		return "", fmt.Errorf("invalid key alias %q: contains separator or whitespace", name)
	}
	return KeyAlias(name), nil
}

// String returns the alias as a string.
func (a KeyAlias) String() string {
	return string(a)
}

// Validate checks the alias is usable.
func (a KeyAlias) Validate() error {
	_, err := NewKeyAlias(string(a))
	return err
}

var (
	// ErrConfigParse is returned when a configuration document is not
	// valid JSON or violates the schema.
	ErrConfigParse = errors.New("config parse failed")

	// ErrConfigVerification is returned when a signature is present but
	// does not verify against the expected key.
	ErrConfigVerification = errors.New("config verification failed")
)
