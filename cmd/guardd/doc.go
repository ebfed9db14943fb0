// Package main (cmd/guardd) implements the device integrity guard daemon.
//
// The daemon provisions a device-bound HMAC key at the strongest available
// tier (secure element via PKCS#11, TPM, or the software fallback), loads the
// signed security configuration through the resilient chain (signed asset,
// unsigned asset, embedded default), and serves the policy API: status,
// active configuration, reload, and signal evaluation with optional
// enforcement.
//
// Configuration assets are read from one or more sources given with --source,
// tried in order. File-backed sources are watched for changes and reloaded
// through the full chain, so a tampered file downgrades exactly like at
// startup. Every load, downgrade, decision, and enforcement is appended to a
// hash-chained audit log.
//
// With --exec the daemon starts the guarded program in its own process
// group. A TERMINATE decision then ends the whole group; the daemon itself
// survives to report what happened. Without --exec there is no group to end
// and TERMINATE reduces to blocking.
//
// The hardware tiers join the fallback chain only when configured:
// --tpm-device enables the TPM tier, --pkcs11-module the secure element
// tier. Either tier failing its probe drops provisioning to the next tier
// down, never to an error.
//
// The daemon implements graceful shutdown on termination signals
// (SIGINT/SIGTERM) and supports health checks, Prometheus metrics, and
// optional profiling endpoints.
//
// Example usage with a supervised process:
//
//	guardd --source=file:///etc/integrity-guard/assets \
//	    --state-dir=/var/lib/integrity-guard \
//	    --exec=/usr/bin/payment-app --flag-for-the-app
//
// Example usage with a TPM-sealed key and fleet-signed configs:
//
//	guardd --source=https://config.example.com/assets \
//	    --source=file:///etc/integrity-guard/assets \
//	    --tpm-device=/dev/tpmrm0 \
//	    --tpm-handle=0x81000001 \
//	    --key-strategy=generic
package main
