package keystore

import (
	"fmt"
	"os"
	"strings"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

const machineIDPath = "/etc/machine-id"

// DeviceID returns a stable identifier for this device. The systemd machine
// id is preferred; hosts without one fall back to the hostname.
func DeviceID() (string, error) {
	if data, err := os.ReadFile(machineIDPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("could not determine device identity: %w", err)
	}
	return hostname, nil
}

// LoadIdentity builds the key identity for the given application id using
// this device's identifier. Device-bound keys derived under this identity do
// not verify on other devices or for other applications.
func LoadIdentity(appID string) (interfaces.KeyIdentity, error) {
	deviceID, err := DeviceID()
	if err != nil {
		return interfaces.KeyIdentity{}, err
	}
	return interfaces.NewKeyIdentity(deviceID, appID)
}
