package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/miaadrajabi/integrity-guard/audit"
	"github.com/miaadrajabi/integrity-guard/cmd/flags"
	"github.com/miaadrajabi/integrity-guard/configloader"
	"github.com/miaadrajabi/integrity-guard/enforce"
	"github.com/miaadrajabi/integrity-guard/httpserver"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/keystore"
	"github.com/miaadrajabi/integrity-guard/metrics"
	"github.com/miaadrajabi/integrity-guard/storage"
)

var GuardServiceLogFlag = flags.LogServiceFlagFn("guardd")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var StateDirFlag = &cli.StringFlag{
	Name:  "state-dir",
	Value: "/var/lib/integrity-guard",
	Usage: "directory for key material, derivation state and the audit log",
}
var AppIDFlag = &cli.StringFlag{
	Name:  "app-id",
	Value: "integrity-guard",
	Usage: "application identity for device-bound key derivation",
}
var DeviceIDFlag = &cli.StringFlag{
	Name:  "device-id",
	Value: "",
	Usage: "override the device identifier (default: /etc/machine-id, hostname fallback)",
}
var AuditLogFlag = &cli.StringFlag{
	Name:  "audit-log",
	Value: "",
	Usage: "path of the hash-chained audit log (default: <state-dir>/audit.jsonl)",
}
var WatchFlag = &cli.BoolFlag{
	Name:  "watch",
	Value: true,
	Usage: "reload configuration when file-backed assets change",
}
var ExecFlag = &cli.StringFlag{
	Name:  "exec",
	Value: "",
	Usage: "guarded program to run in its own process group; remaining arguments are passed to it",
}

var TPMDeviceFlag = &cli.StringFlag{
	Name:  "tpm-device",
	Value: "",
	Usage: "TPM device path enabling the hardware-isolated tier (e.g. /dev/tpmrm0)",
}
var TPMHandleFlag = &cli.StringFlag{
	Name:  "tpm-handle",
	Value: "0x81000001",
	Usage: "persistent handle holding the sealed root seed",
}
var TPMPasswordFlag = &cli.StringFlag{
	Name:    "tpm-password",
	Value:   "",
	EnvVars: []string{"GUARDD_TPM_PASSWORD"},
	Usage:   "authorization for the sealed object",
}
var TPMPCRFlag = &cli.IntSliceFlag{
	Name:  "tpm-pcr",
	Usage: "PCR index bound by the seal policy, repeatable",
}
var TPMHashAlgFlag = &cli.StringFlag{
	Name:  "tpm-hash-alg",
	Value: "SHA256",
	Usage: "PCR bank for the seal policy",
}

var PKCS11ModuleFlag = &cli.StringFlag{
	Name:  "pkcs11-module",
	Value: "",
	Usage: "PKCS#11 module path enabling the secure element tier",
}
var PKCS11TokenLabelFlag = &cli.StringFlag{
	Name:  "pkcs11-token-label",
	Value: "",
	Usage: "token label selecting the secure element",
}
var PKCS11SlotFlag = &cli.StringFlag{
	Name:  "pkcs11-slot",
	Value: "",
	Usage: "token slot id, alternative to the label",
}
var PKCS11PINFlag = &cli.StringFlag{
	Name:    "pkcs11-pin",
	Value:   "",
	EnvVars: []string{"GUARDD_PKCS11_PIN"},
	Usage:   "user PIN for the token",
}

func main() {
	app := &cli.App{
		Name:  "guardd",
		Usage: "Guard runtime integrity with signed policy configuration",
		Flags: append([]cli.Flag{
			ListenAddrFlag,
			StateDirFlag,
			AppIDFlag,
			DeviceIDFlag,
			AuditLogFlag,
			WatchFlag,
			ExecFlag,
			TPMDeviceFlag,
			TPMHandleFlag,
			TPMPasswordFlag,
			TPMPCRFlag,
			TPMHashAlgFlag,
			PKCS11ModuleFlag,
			PKCS11TokenLabelFlag,
			PKCS11SlotFlag,
			PKCS11PINFlag,
			flags.SourcesFlag,
			flags.ConfigNameFlag,
			flags.KeyStrategyFlag,
			GuardServiceLogFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			// Parse basic configuration
			listenAddr := cCtx.String(ListenAddrFlag.Name)
			stateDir := cCtx.String(StateDirFlag.Name)
			appID := cCtx.String(AppIDFlag.Name)
			auditPath := cCtx.String(AuditLogFlag.Name)
			if auditPath == "" {
				auditPath = filepath.Join(stateDir, "audit.jsonl")
			}

			// Setup logger
			logger := flags.SetupLogger(cCtx)
			ctx := context.Background()

			strategy, err := configloader.ParseKeyStrategy(cCtx.String(flags.KeyStrategyFlag.Name))
			if err != nil {
				logger.Error("Invalid key strategy", "err", err)
				return err
			}

			// Device and app identity feed the device-bound key derivation.
			var identity interfaces.KeyIdentity
			if deviceID := cCtx.String(DeviceIDFlag.Name); deviceID != "" {
				identity, err = interfaces.NewKeyIdentity(deviceID, appID)
			} else {
				identity, err = keystore.LoadIdentity(appID)
			}
			if err != nil {
				logger.Error("Failed to resolve device identity", "err", err)
				return err
			}

			keys, err := setupKeyStore(cCtx, logger, identity, stateDir)
			if err != nil {
				logger.Error("Failed to set up key store", "err", err)
				return err
			}

			// Provision the verification key up front so a broken state
			// directory fails the start, not the first verification.
			key, err := keys.GetOrCreateKey(ctx, strategy.Scope())
			if err != nil {
				logger.Error("Failed to provision verification key", "err", err)
				return err
			}
			metrics.RecordKeyProvisioned(key.Tier().String())
			logger.Info("Verification key provisioned",
				"tier", key.Tier().String(),
				"scope", key.Scope().String(),
				"device", identity.DeviceID)

			// Asset sources, tried in declaration order.
			var locations []interfaces.AssetLocation
			for _, uri := range cCtx.StringSlice(flags.SourcesFlag.Name) {
				location, err := interfaces.NewAssetLocation(uri)
				if err != nil {
					logger.Error("Invalid asset source", "uri", uri, "err", err)
					return err
				}
				locations = append(locations, location)
			}

			source, err := storage.NewSourceFactory(logger).CreateMultiSource(locations)
			if err != nil {
				logger.Error("Failed to create asset source", "err", err)
				return err
			}

			auditLog, err := audit.Open(auditPath)
			if err != nil {
				logger.Error("Failed to open audit log", "err", err)
				return err
			}

			verifier, err := configloader.NewVerifier(keys, logger)
			if err != nil {
				logger.Error("Failed to create verifier", "err", err)
				return err
			}

			loader, err := configloader.NewLoader(configloader.LoaderConfig{
				Source:   source,
				Verifier: verifier,
				Strategy: strategy,
				BaseName: cCtx.String(flags.ConfigNameFlag.Name),
				Audit:    auditLog,
				Log:      logger,
			})
			if err != nil {
				logger.Error("Failed to create config loader", "err", err)
				return err
			}

			// Initial load. Never fails: tampered or missing assets
			// degrade through the chain instead.
			result := loader.Load(ctx)
			metrics.RecordConfigLoad(string(result.Provenance), result.Source)
			logger.Info("Configuration loaded",
				"provenance", string(result.Provenance),
				"source", result.Source,
				"verified", result.Verified())

			// Optional supervision of the guarded program. TERMINATE ends
			// its whole process group; without --exec there is no group
			// and the action reduces to blocking.
			procCtx, stopProc := context.WithCancel(ctx)
			defer stopProc()

			executorCfg := enforce.ExecutorConfig{Audit: auditLog, Log: logger}
			var supervisor *enforce.Supervisor
			if execTarget := cCtx.String(ExecFlag.Name); execTarget != "" {
				argv := append([]string{execTarget}, cCtx.Args().Slice()...)
				supervisor, err = enforce.StartSupervised(procCtx, argv, logger)
				if err != nil {
					logger.Error("Failed to start guarded process", "err", err)
					return err
				}
				executorCfg.Terminator = supervisor.Terminator(logger)
			}
			executor := enforce.NewExecutor(executorCfg)

			handler, err := httpserver.NewHandler(httpserver.HandlerConfig{
				Loader:   loader,
				Keys:     keys,
				Executor: executor,
				Audit:    auditLog,
				Log:      logger,
			})
			if err != nil {
				logger.Error("Failed to create handler", "err", err)
				return err
			}

			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger, listenAddr), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			watchCtx, stopWatch := context.WithCancel(ctx)
			defer stopWatch()

			if cCtx.Bool(WatchFlag.Name) {
				if paths := watchablePaths(locations); len(paths) > 0 {
					watcher, err := configloader.NewWatcher(configloader.WatcherConfig{
						Loader: loader,
						Paths:  paths,
						OnReload: func(result configloader.LoadResult) {
							metrics.RecordConfigLoad(string(result.Provenance), result.Source)
						},
						Log: logger,
					})
					if err != nil {
						logger.Error("Failed to create config watcher", "err", err)
						return err
					}
					go func() {
						if err := watcher.Run(watchCtx); err != nil {
							logger.Error("Config watcher stopped", "err", err)
						}
					}()
				} else {
					logger.Info("No file-backed sources to watch")
				}
			}

			srv.RunInBackground()

			// Wait for termination signal, or for the guarded process to
			// go away on its own.
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			exited := make(chan error, 1)
			if supervisor != nil {
				go func() { exited <- supervisor.Wait() }()
			}

			logger.Info("Guard is running, press Ctrl+C to stop")
			select {
			case <-exit:
				logger.Info("Shutdown signal received")
			case <-exited:
				logger.Info("Guarded process gone, shutting down")
			}

			// Shutdown gracefully
			stopWatch()
			stopProc()
			srv.Shutdown()
			if err := auditLog.Close(); err != nil {
				logger.Warn("Failed to close audit log", "err", err)
			}
			logger.Info("Guard shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// setupKeyStore assembles the tier stores behind the provisioner. Software
// is always present; TPM and PKCS#11 join when their flags are set.
func setupKeyStore(cCtx *cli.Context, logger *slog.Logger, identity interfaces.KeyIdentity, stateDir string) (*keystore.Provisioner, error) {
	software, err := keystore.NewSoftwareStore(keystore.SoftwareStoreConfig{
		Dir:      filepath.Join(stateDir, "keys"),
		Identity: identity,
		Log:      logger,
	})
	if err != nil {
		return nil, err
	}
	stores := []keystore.TierStore{software}

	if devicePath := cCtx.String(TPMDeviceFlag.Name); devicePath != "" {
		handle, err := parseTPMHandle(cCtx.String(TPMHandleFlag.Name))
		if err != nil {
			return nil, err
		}
		tpm, err := keystore.NewTPMStore(keystore.TPMStoreConfig{
			DevicePath:    devicePath,
			SealedHandle:  handle,
			Password:      cCtx.String(TPMPasswordFlag.Name),
			PCRSelection:  cCtx.IntSlice(TPMPCRFlag.Name),
			HashAlgorithm: cCtx.String(TPMHashAlgFlag.Name),
			StateDir:      filepath.Join(stateDir, "tpm"),
			Identity:      identity,
			Log:           logger,
		}, nil)
		if err != nil {
			return nil, err
		}
		stores = append(stores, tpm)
	}

	if modulePath := cCtx.String(PKCS11ModuleFlag.Name); modulePath != "" {
		element, err := keystore.NewPKCS11Store(keystore.PKCS11StoreConfig{
			ModulePath: modulePath,
			TokenLabel: cCtx.String(PKCS11TokenLabelFlag.Name),
			Slot:       cCtx.String(PKCS11SlotFlag.Name),
			PIN:        cCtx.String(PKCS11PINFlag.Name),
			Log:        logger,
		}, nil)
		if err != nil {
			return nil, err
		}
		stores = append(stores, element)
	}

	return keystore.NewProvisioner(logger, stores...)
}

func parseTPMHandle(s string) (keystore.TPMHandle, error) {
	value, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid TPM handle %q: %w", s, err)
	}
	return keystore.TPMHandle(value), nil
}

// watchablePaths maps the file-backed locations onto the directories their
// assets live in, using the same resolution the file source applies.
func watchablePaths(locations []interfaces.AssetLocation) []string {
	var paths []string
	for _, location := range locations {
		if !location.IsFile() {
			continue
		}
		dir := location.Path
		if location.Host != "" {
			dir = location.Host + "/" + strings.TrimPrefix(location.Path, "/")
		}
		paths = append(paths, dir)
	}
	return paths
}
