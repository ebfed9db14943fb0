package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/miaadrajabi/integrity-guard/cryptoutils"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/keystore"
	"github.com/miaadrajabi/integrity-guard/storage"
)

var flagKey *cli.StringFlag = &cli.StringFlag{
	Name:  "key",
	Usage: "Signing key as a literal string",
}
var flagKeyEnv *cli.StringFlag = &cli.StringFlag{
	Name:  "key-env",
	Usage: "Name of the environment variable holding the signing key",
}
var flagKeyFile *cli.StringFlag = &cli.StringFlag{
	Name:  "key-file",
	Usage: "Path to a file holding the signing key (trailing whitespace is stripped)",
}
var flagIn *cli.StringFlag = &cli.StringFlag{
	Name:  "in",
	Usage: "Input file",
}
var flagOut *cli.StringFlag = &cli.StringFlag{
	Name:  "out",
	Usage: "Output file, stdout if empty",
}
var flagSig *cli.StringFlag = &cli.StringFlag{
	Name:  "sig",
	Usage: "Signature as a hex or base64 literal",
}
var flagSigFile *cli.StringFlag = &cli.StringFlag{
	Name:  "sig-file",
	Usage: "Path to the signature file",
}
var flagKeyType *cli.StringFlag = &cli.StringFlag{
	Name:  "key-type",
	Value: "software",
	Usage: "Key provenance recorded in the artifact envelope",
}
var flagThreshold *cli.IntFlag = &cli.IntFlag{
	Name:  "threshold",
	Value: 2,
	Usage: "Shares required to reconstruct the signing key",
}
var flagTotalShares *cli.IntFlag = &cli.IntFlag{
	Name:  "total-shares",
	Value: 3,
	Usage: "Total shares to generate",
}
var flagSharePrefix *cli.StringFlag = &cli.StringFlag{
	Name:  "share-prefix",
	Value: "fleet-share",
	Usage: "Prefix for generated share files",
}
var flagShareFile *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "share-file",
	Usage: "Share file, repeatable",
}
var flagKeyOut *cli.StringFlag = &cli.StringFlag{
	Name:  "key-out",
	Usage: "Path to write the signing key to",
}
var flagSource *cli.StringFlag = &cli.StringFlag{
	Name:  "source",
	Value: "file:///var/lib/integrity-guard/assets",
	Usage: "Asset source URI to publish to",
}
var flagName *cli.StringFlag = &cli.StringFlag{
	Name:  "name",
	Value: "security_config",
	Usage: "Base name of the config asset pair ({name}.json / {name}.sig)",
}
var flagConfig *cli.StringFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "Path to the config document to publish",
}

func main() {
	app := &cli.App{
		Name:  "integrity-signer",
		Usage: "Sign and publish security configurations and artifacts",
		Commands: []*cli.Command{
			&cli.Command{
				Name:        "sign",
				Usage:       "Sign raw config bytes with HMAC-SHA256",
				Flags: []cli.Flag{
					flagKey,
					flagKeyEnv,
					flagKeyFile,
					flagIn,
					flagOut,
				},
				Action: func(cCtx *cli.Context) error {
					key, err := resolveKey(cCtx)
					if err != nil {
						return err
					}

					data, err := os.ReadFile(cCtx.String(flagIn.Name))
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}

					sig, err := cryptoutils.ComputeHMACSHA256(data, key)
					if err != nil {
						return err
					}

					return writeOutput(cCtx.String(flagOut.Name), []byte(sig.String()+"\n"))
				},
			},
			&cli.Command{
				Name:        "verify",
				Usage:       "Verify a config signature, exit nonzero on mismatch",
				Flags: []cli.Flag{
					flagKey,
					flagKeyEnv,
					flagKeyFile,
					flagIn,
					flagSig,
					flagSigFile,
				},
				Action: func(cCtx *cli.Context) error {
					key, err := resolveKey(cCtx)
					if err != nil {
						return err
					}

					data, err := os.ReadFile(cCtx.String(flagIn.Name))
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}

					signature := cCtx.String(flagSig.Name)
					if sigFile := cCtx.String(flagSigFile.Name); sigFile != "" {
						raw, err := os.ReadFile(sigFile)
						if err != nil {
							return fmt.Errorf("failed to read signature: %w", err)
						}
						signature = strings.TrimSpace(string(raw))
					}
					if signature == "" {
						return errors.New("one of --sig or --sig-file is required")
					}

					ok, err := cryptoutils.VerifyHMACSignature(data, signature, key)
					if err != nil {
						return err
					}
					if !ok {
						return errors.New("signature verification failed")
					}

					fmt.Println("signature valid")
					return nil
				},
			},
			&cli.Command{
				Name:        "artifact",
				Usage:       "Sign a binary artifact",
				Description: "Writes a JSON envelope when --out ends in .json, a bare signature otherwise.",
				Flags: []cli.Flag{
					flagKey,
					flagKeyEnv,
					flagKeyFile,
					flagIn,
					flagOut,
					flagKeyType,
				},
				Action: func(cCtx *cli.Context) error {
					key, err := resolveKey(cCtx)
					if err != nil {
						return err
					}

					envelope, err := cryptoutils.SignArtifact(cCtx.String(flagIn.Name), key, cCtx.String(flagKeyType.Name))
					if err != nil {
						return err
					}

					out := cCtx.String(flagOut.Name)
					if strings.HasSuffix(out, ".json") {
						doc, err := envelope.Marshal()
						if err != nil {
							return err
						}
						return writeOutput(out, append(doc, '\n'))
					}
					return writeOutput(out, []byte(envelope.HMACSignature+"\n"))
				},
			},
			&cli.Command{
				Name:        "keyshares",
				Usage:       "Split and recover the fleet signing key",
				Subcommands: []*cli.Command{
					&cli.Command{
						Name:        "init",
						Usage:       "Split a signing key into custodian shares",
						Description: "Generates a fresh 32-byte key unless one is supplied.",
						Flags: []cli.Flag{
							flagKey,
							flagKeyEnv,
							flagKeyFile,
							flagThreshold,
							flagTotalShares,
							flagSharePrefix,
							flagKeyOut,
						},
						Action: func(cCtx *cli.Context) error {
							var key cryptoutils.HMACKey
							var err error
							if cCtx.String(flagKey.Name) != "" || cCtx.String(flagKeyEnv.Name) != "" || cCtx.String(flagKeyFile.Name) != "" {
								key, err = resolveKey(cCtx)
							} else {
								key, err = cryptoutils.RandomHMACKey()
							}
							if err != nil {
								return err
							}

							threshold := cCtx.Int(flagThreshold.Name)
							total := cCtx.Int(flagTotalShares.Name)

							shares, err := keystore.SplitSigningKey(key, total, threshold)
							if err != nil {
								return err
							}

							prefix := cCtx.String(flagSharePrefix.Name)
							for i, share := range shares {
								doc, err := json.MarshalIndent(shareDocument{
									Index:       i + 1,
									Threshold:   threshold,
									Fingerprint: keystore.ShareFingerprint(share),
									Share:       base64.StdEncoding.EncodeToString(share),
								}, "", "  ")
								if err != nil {
									return err
								}

								name := fmt.Sprintf("%s-%d.json", prefix, i+1)
								if err := os.WriteFile(name, append(doc, '\n'), 0600); err != nil {
									return err
								}
								fmt.Printf("wrote %s (fingerprint %s)\n", name, keystore.ShareFingerprint(share))
							}

							if keyOut := cCtx.String(flagKeyOut.Name); keyOut != "" {
								if err := os.WriteFile(keyOut, key, 0600); err != nil {
									return err
								}
								fmt.Printf("wrote signing key to %s (fingerprint %s)\n", keyOut, key.Fingerprint())
							} else {
								fmt.Printf("signing key fingerprint %s, recoverable from %d of %d shares\n",
									key.Fingerprint(), threshold, total)
							}
							return nil
						},
					},
					&cli.Command{
						Name:        "recover",
						Usage:       "Reconstruct the signing key from shares",
						Flags: []cli.Flag{
							flagShareFile,
							flagKeyOut,
						},
						Action: func(cCtx *cli.Context) error {
							files := cCtx.StringSlice(flagShareFile.Name)
							if len(files) < 2 {
								return errors.New("need at least 2 share files")
							}

							var shares [][]byte
							for _, name := range files {
								data, err := os.ReadFile(name)
								if err != nil {
									return fmt.Errorf("failed to read share file: %w", err)
								}

								var doc shareDocument
								if err := json.Unmarshal(data, &doc); err != nil {
									return fmt.Errorf("failed to parse share file %s: %w", name, err)
								}

								share, err := base64.StdEncoding.DecodeString(doc.Share)
								if err != nil {
									return fmt.Errorf("failed to decode share %s: %w", name, err)
								}
								shares = append(shares, share)
							}

							key, err := keystore.CombineShares(shares)
							if err != nil {
								return err
							}

							keyOut := cCtx.String(flagKeyOut.Name)
							if keyOut == "" {
								return errors.New("--key-out is required")
							}
							if err := os.WriteFile(keyOut, key, 0600); err != nil {
								return err
							}

							fmt.Printf("recovered signing key to %s (fingerprint %s)\n", keyOut, key.Fingerprint())
							return nil
						},
					},
				},
			},
			&cli.Command{
				Name:        "publish",
				Usage:       "Store a signed config pair into an asset source",
				Flags: []cli.Flag{
					flagSource,
					flagName,
					flagConfig,
					flagSigFile,
				},
				Action: func(cCtx *cli.Context) error {
					location, err := interfaces.NewAssetLocation(cCtx.String(flagSource.Name))
					if err != nil {
						return err
					}

					source, err := storage.NewSourceFactory(slog.Default()).SourceFor(location)
					if err != nil {
						return err
					}

					configData, err := os.ReadFile(cCtx.String(flagConfig.Name))
					if err != nil {
						return fmt.Errorf("failed to read config: %w", err)
					}
					sigData, err := os.ReadFile(cCtx.String(flagSigFile.Name))
					if err != nil {
						return fmt.Errorf("failed to read signature: %w", err)
					}

					name := cCtx.String(flagName.Name)
					configName, err := interfaces.NewAssetName(name + ".json")
					if err != nil {
						return err
					}
					sigName, err := interfaces.NewAssetName(name + ".sig")
					if err != nil {
						return err
					}

					ctx := context.Background()
					if err := source.Store(ctx, configName, configData); err != nil {
						return fmt.Errorf("failed to store config: %w", err)
					}
					if err := source.Store(ctx, sigName, bytes.TrimSpace(sigData)); err != nil {
						return fmt.Errorf("failed to store signature: %w", err)
					}

					fmt.Printf("published %s and %s to %s\n", configName, sigName, source.Name())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type shareDocument struct {
	Index       int    `json:"index"`
	Threshold   int    `json:"threshold"`
	Fingerprint string `json:"fingerprint"`
	Share       string `json:"share"`
}

// resolveKey loads the signing key from exactly one of the key flags.
func resolveKey(cCtx *cli.Context) (cryptoutils.HMACKey, error) {
	literal := cCtx.String(flagKey.Name)
	envName := cCtx.String(flagKeyEnv.Name)
	file := cCtx.String(flagKeyFile.Name)

	set := 0
	for _, v := range []string{literal, envName, file} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return nil, errors.New("one of --key, --key-env or --key-file is required")
	}
	if set > 1 {
		return nil, errors.New("only one of --key, --key-env and --key-file may be set")
	}

	switch {
	case literal != "":
		return cryptoutils.NewHMACKey([]byte(literal))
	case envName != "":
		value := os.Getenv(envName)
		if value == "" {
			return nil, fmt.Errorf("environment variable %s is empty", envName)
		}
		return cryptoutils.NewHMACKey([]byte(strings.TrimRight(value, " \t\r\n")))
	default:
		return cryptoutils.HMACKeyFromFile(file)
	}
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}
