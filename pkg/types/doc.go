/*
Package types defines the core data structures shared across Crucible.

This package contains the domain model for the job execution engine: the
Job record and its lifecycle, sandbox specifications, and the small value
types the Stream Demultiplexer and Resource Sampler pass between
themselves and the Supervisor.

# Core Types

Job lifecycle:
  - Job: one submission of source + input files, tracked end-to-end
  - JobStatus: not_started -> running -> done, monotonic
  - Outcome: the terminal fields written atomically at finalize time
  - Summary: the reduced view returned by list operations

Sandbox:
  - SandboxSpec: image, command, resource limits, labels for a sandbox
  - SandboxHandle: opaque runtime handle
  - StatsFrame: one cgroup statistics sample

All types are JSON-serializable; the Job Store persists Job values
directly via JSON encoding.
*/
package types
