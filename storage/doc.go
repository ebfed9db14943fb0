// Package storage provides named-asset delivery with pluggable sources.
//
// The storage package offers a unified interface for fetching and publishing
// configuration assets, identified by name, across multiple sources:
//
//   - File system for locally provisioned devices and testing
//   - HTTP(S) file servers and CDNs
//   - S3-compatible object storage for cloud deployments
//   - HashiCorp Vault KV v2 for managed fleets
//   - IPFS for decentralized distribution
//   - DNS SRV discovered HTTP servers for zero-config fleets
//
// # Asset Location URI Format
//
// Asset sources are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/guard/configs/
//   - https://cdn.example.com/configs?token=SECRET
//   - s3://bucket-name/prefix/?region=us-west-2
//   - vault://vault.example.com:8200/secret/guard
//   - ipfs://127.0.0.1:5001/ipns/k51qzi...
//   - srv://_guard-config._tcp.example.com/configs
//
// # Named Assets
//
// Assets are fetched and stored by name, for example "security_config.json"
// and its detached signature "security_config.sig". Names must not contain
// path separators; each source maps them into its own layout.
//
// # Read-Only Sources
//
// HTTP, IPFS and SRV sources are read-only. Their Store method returns an
// error, which a MultiSource tolerates as long as at least one writable
// source accepts the asset.
//
// # Vault Source
//
// The VaultSource stores each asset as a KV v2 secret:
//
//   - Path Structure: {mount}/data/{path}/{name}
//   - Authentication: token from the URI or the VAULT_TOKEN environment variable
//
// URI format: vault://vault.example.com:8200/secret/guard?token=SECRET
//
// # SRV Discovery
//
// The SRVSource resolves a DNS SRV record to locate config servers, then
// fetches assets from the resolved endpoints in priority order:
//
//	srv://_guard-config._tcp.example.com/configs?proto=https
//
// # Usage Example
//
//	factory := storage.NewSourceFactory(logger)
//
//	location, err := interfaces.NewAssetLocation("s3://fleet-configs/prod/?region=us-west-2")
//	if err != nil {
//	    log.Fatalf("Invalid location: %v", err)
//	}
//
//	source, err := factory.SourceFor(location)
//	if err != nil {
//	    log.Fatalf("Failed to create source: %v", err)
//	}
//
//	name, _ := interfaces.NewAssetName("security_config.json")
//	data, err := source.Fetch(ctx, name)
//
// # Multi-Source Example
//
//	// Fetch falls through the sources in order, Store writes to all.
//	locations := []interfaces.AssetLocation{cdnLocation, s3Location, fileLocation}
//	multi, err := factory.CreateMultiSource(locations)
package storage
