// Package internal contains the core implementation packages for pagepack.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the pagepack CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - incremental: Cells, memos and root tasks with strongly consistent reads
//   - structure: Scanning of the pages/ and app/ directory trees
//   - route: Route variants, conflicts and the Endpoint contract
//   - transition, asset, chunk: Module graph processing per environment
//   - endpoint: Compiling and writing page, data, API and app endpoints
//   - source: Content source negotiation and the dev HTTP handler
//   - project: The project facade tying the above to a filesystem root
//   - bridge: Delivery of cell changes to external callbacks
//   - hostapi: JSON over websocket access for a host process
//   - server: The development HTTP server
//   - build: Production builds over a bounded worker pool
//   - watcher: File system monitoring with debouncing
//   - config, errors, logging, metrics, validation, version: Shared plumbing
//
// # Inter-Package Communication
//
// Packages communicate through the incremental engine:
//
//   - Watcher turns file events into engine invalidations
//   - Routes, dev sources and endpoints are cells read strongly consistently
//   - Bridge subscriptions wait on a snapshot's invalidation and read again
//   - Server and host API only read cells; they never hold computed state
//
// # Testing Strategy
//
//   - Unit tests run against in-memory filesystems (go-billy memfs)
//   - Property tests run with the property build tag
//   - Integration tests on the OS filesystem run with the integration tag
package internal
