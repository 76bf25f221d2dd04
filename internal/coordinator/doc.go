// Package coordinator implements the coordinating side of sortmesh: it accepts
// worker connections, splits sort jobs across them, collects the sorted chunks
// and merges them, and independently probes workers for liveness.
//
// # Overview
//
// Workers dial in to the coordinator's control port and keep that single
// connection open for their lifetime. The coordinator never dials a worker for
// job traffic; it reuses the retained connection for every job. Liveness
// probes are separate, short-lived TCP dials that carry no payload.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                   │
//	├──────────────────────────────────────────────┤
//	│  Serve (accept loop)                          │
//	│     └─▶ Registry.Register(conn)               │
//	│                                               │
//	│  SortDistributed(items)                       │
//	│     ├─ Registry.Snapshot()                    │
//	│     ├─ chunk.Partition(items, workers)        │
//	│     ├─ Dispatcher.Dispatch   (ants pool)      │
//	│     │     chunk i ─▶ worker i ─▶ sorted i      │
//	│     └─ chunk.MergeChunks     (k-way heap)     │
//	│                                               │
//	│  ProbeAll / ProbeMonitor                      │
//	│     └─ Prober.Probe(host:probePort, timeout)  │
//	└──────────────────────────────────────────────┘
//
// # Core Components
//
// Registry: the set of connected workers
//   - Register appends a WorkerHandle and assigns the next index
//   - Snapshot returns a point-in-time copy, safe to iterate unlocked
//   - Membership only shrinks through explicit Evict / EvictOffline
//
// WorkerHandle: one worker's retained connection
//   - Exchange sends a chunk and waits for the matching response
//   - Exchanges are serialized per handle; frames carry a request ID
//   - Status is advisory: Connected, Online or Offline
//
// Dispatcher: runs one task per chunk on a goroutine pool
//   - Every task produces an Outcome, success or failure
//   - Round-trip times accumulate in an atomic per-job counter
//
// Prober and ProbeMonitor: liveness
//   - A probe is a fresh TCP dial bounded by a timeout (2s by default)
//   - Failures resolve to StatusOffline, never to an error
//   - Results stream in completion order
//
// # Failure Handling
//
// A chunk exchange fails with *TransportError (I/O) or *SerializationError
// (bad or mismatched frame). Every other chunk of the job still completes.
// The Coordinator's partial policy then either discards the whole job
// ("abort", the default) or merges what came back ("partial"); in both cases
// the caller receives a *JobError listing each failed worker.
//
// A worker that disconnected stays registered and fails every job it is
// handed until it is evicted. Nothing is evicted automatically.
//
// # Concurrency Model
//
//   - The accept loop is the only writer of the registry besides eviction
//   - Job state (chunks, outcomes, histogram) is local to one call
//   - No lock is held during network I/O except the per-handle exchange lock
//   - Chunk transfers carry no timeout unless the caller's context has one
package coordinator
