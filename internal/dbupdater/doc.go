// ABOUTME: Package dbupdater keeps a local signature database mirror current
// ABOUTME: Version resolution, patch chains, snapshots, cooldowns, and cycle scheduling

/*
Package dbupdater implements the update engine of the mirror.

# Overview

An update cycle walks every tracked database in order and runs a small state
machine for each one:

	CooldownCheck -> VersionResolution -> UpToDate
	                                   -> PatchAttempt -> SnapshotAttempt

The outcome per database is one of types.StatusNoUpdate, types.StatusUpdated,
or types.StatusError. The cycle counts errors and the CLI exits with that
count.

# Core Components

VersionResolver asks DNS once per cycle for the colon-delimited list of
current versions and falls back to a ranged HTTP probe of the first 96 bytes
of the database:

	resolver := dbupdater.NewVersionResolver(httpClient, txtResolver, dbupdater.ResolverConfig{})
	resolver.Reset()
	version, method, err := resolver.Resolve(ctx, rec)

PatchChainFetcher downloads CDIFF patches from the local version up to the
advertised one. Gaps end the chain quietly; a 429 aborts it and starts a
cooldown. SnapshotFetcher then downloads the full file pinned to the
advertised version and raises the local version from the written header.

Orchestrator ties the pieces together and persists metadata once per cycle:

	orch := dbupdater.NewOrchestrator(dbupdater.Options{
		Store:  store,
		HTTP:   httpClient,
		DNS:    txtResolver,
		Logger: logger,
	})
	result, err := orch.Run(ctx)

Scheduler runs cycles on an interval and on demand for the daemon. Cycles are
serialized by CycleLock inside one process and by an optional Locker across
processes.

# Thread Safety

Orchestrator.Run, CycleLock, Scheduler, and StatusTracker are safe for
concurrent use. The fetchers and the resolver are used by one cycle at a time.
*/
package dbupdater
