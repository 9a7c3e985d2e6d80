/*
Package runtime implements the Sandbox Driver: containerd-backed creation,
staging, and teardown of the per-job containers that actually run submitted
source.

A sandbox's life cycle under this package is:

	Create   - pull the image if needed, create a container + snapshot
	Upload   - stage input files into the rootfs before the process starts
	Attach   - create the task, wired to a multiplexed stdout/stderr stream
	Start    - start the task
	Stats    - sample cgroup CPU/memory usage
	Wait     - block for the task's exit code
	Kill     - force-terminate (deadline timer)
	Remove   - kill a still-running task, then delete the task, container,
	           and snapshot (Supervisor teardown, Startup Sweeper)

Attach must run before Start, and Upload must run before Attach, so that
input files are already present and the output stream is already being
read before the sandboxed process can produce output. Every container
Create makes carries the crucible.project label, which List and the
Startup Sweeper use to find sandboxes without disturbing anything else
sharing the containerd socket.
*/
package runtime
