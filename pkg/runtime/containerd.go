package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/containerd/cgroups/v3/cgroup1/stats"
	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/mount"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/typeurl/v2"

	"github.com/cuemby/crucible/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace Crucible sandboxes run in.
	DefaultNamespace = "crucible"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// labelProject marks every sandbox Crucible creates, so the Startup
	// Sweeper can enumerate orphans without touching containers other
	// tenants of the same containerd instance may be running.
	labelProject = "crucible.project"
	labelValue   = "crucible"
)

// ContainerdRuntime implements the Sandbox Driver using containerd.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Create pulls spec.Image if necessary and creates (but does not start) a
// sandbox container. The returned handle is the containerd container ID.
func (r *ContainerdRuntime) Create(ctx context.Context, id string, spec types.SandboxSpec) (types.SandboxHandle, error) {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return "", fmt.Errorf("failed to pull image %s: %w", spec.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if spec.CPUWeight > 0 {
		opts = append(opts, oci.WithCPUShares(uint64(spec.CPUWeight)))
	}
	if spec.MemoryLimit > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryLimit)))
	}

	labels := map[string]string{labelProject: labelValue}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create sandbox: %w", err)
	}

	return types.SandboxHandle(container.ID()), nil
}

// Upload extracts a tar archive of input files into the sandbox's rootfs,
// under destDir, by temporarily mounting its snapshot. It must be called
// after Create and before Attach/Start so the sandboxed process finds the
// files already in place.
func (r *ContainerdRuntime) Upload(ctx context.Context, handle types.SandboxHandle, archive *bytes.Reader, destDir string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return fmt.Errorf("failed to load sandbox %s: %w", handle, err)
	}

	info, err := container.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to read sandbox info %s: %w", handle, err)
	}

	mounts, err := r.client.SnapshotService(info.Snapshotter).Mounts(ctx, info.SnapshotKey)
	if err != nil {
		return fmt.Errorf("failed to resolve rootfs mounts for sandbox %s: %w", handle, err)
	}

	return mount.WithTempMount(ctx, mounts, func(root string) error {
		target := filepath.Join(root, destDir)
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		return extractTar(archive, target)
	})
}

// extractTar writes every regular file in archive into dir, rejecting any
// entry whose name would escape dir.
func extractTar(archive *bytes.Reader, dir string) error {
	tr := tar.NewReader(archive)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		cleaned := filepath.Clean(hdr.Name)
		if cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("input file %q escapes staging directory", hdr.Name)
		}

		dest := filepath.Join(dir, cleaned)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", dest, err)
		}

		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", dest, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}
		f.Close()
	}
}

// frameWriter wraps an io.Writer, prefixing every Write with the 8-byte
// multiplex header (tag, 3 reserved bytes, big-endian uint32 length) that
// the Stream Demultiplexer expects. A shared mutex serializes stdout and
// stderr writers onto the same underlying stream so frames never interleave
// mid-header.
type frameWriter struct {
	mu  *sync.Mutex
	tag types.StreamTag
	dst io.Writer
}

func (f *frameWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	header := make([]byte, 8)
	header[0] = byte(f.tag)
	binary.BigEndian.PutUint32(header[4:], uint32(len(p)))

	if _, err := f.dst.Write(header); err != nil {
		return 0, err
	}
	if _, err := f.dst.Write(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Attach creates the sandbox's task, returning a reader of the multiplexed
// stdout/stderr stream. The task is created
// but not started; call Start once the Resource Sampler is attached so no
// samples are missed.
func (r *ContainerdRuntime) Attach(ctx context.Context, handle types.SandboxHandle) (io.ReadCloser, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return nil, fmt.Errorf("failed to load sandbox %s: %w", handle, err)
	}

	pr, pw := io.Pipe()
	var mu sync.Mutex
	stdout := &frameWriter{mu: &mu, tag: types.StreamStdout, dst: pw}
	stderr := &frameWriter{mu: &mu, tag: types.StreamStderr, dst: pw}

	creator := cio.NewCreator(cio.WithStreams(nil, stdout, stderr))

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		pw.Close()
		return nil, fmt.Errorf("failed to wait on task: %w", err)
	}

	go func() {
		<-statusC
		pw.Close()
	}()

	return pr, nil
}

// Start starts the task created by Attach.
func (r *ContainerdRuntime) Start(ctx context.Context, handle types.SandboxHandle) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return fmt.Errorf("failed to load sandbox %s: %w", handle, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to load task for sandbox %s: %w", handle, err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sandbox %s: %w", handle, err)
	}
	return nil
}

// Stats takes a single cgroup statistics sample for a running sandbox.
func (r *ContainerdRuntime) Stats(ctx context.Context, handle types.SandboxHandle) (types.StatsFrame, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return types.StatsFrame{}, fmt.Errorf("failed to load sandbox %s: %w", handle, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.StatsFrame{}, fmt.Errorf("failed to load task for sandbox %s: %w", handle, err)
	}

	metric, err := task.Stats(ctx)
	if err != nil {
		return types.StatsFrame{}, fmt.Errorf("failed to sample stats for sandbox %s: %w", handle, err)
	}

	data, err := typeurl.UnmarshalAny(metric)
	if err != nil {
		return types.StatsFrame{}, fmt.Errorf("failed to decode stats for sandbox %s: %w", handle, err)
	}

	cgStats, ok := data.(*stats.Metrics)
	if !ok {
		return types.StatsFrame{}, fmt.Errorf("unexpected stats type %T for sandbox %s", data, handle)
	}

	frame := types.StatsFrame{}
	if cgStats.CPU != nil && cgStats.CPU.Usage != nil {
		frame.CPUTotalNS = cgStats.CPU.Usage.Total
	}
	if cgStats.Memory != nil && cgStats.Memory.Usage != nil {
		frame.MemoryUsageB = cgStats.Memory.Usage.Usage
	}

	sysCPU, online, err := readHostCPU()
	if err == nil {
		frame.SystemCPUNS = sysCPU
		frame.OnlineCPUs = online
	}

	return frame, nil
}

// Wait blocks until the sandbox's task exits, returning its exit code.
func (r *ContainerdRuntime) Wait(ctx context.Context, handle types.SandboxHandle) (uint32, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return 0, fmt.Errorf("failed to load sandbox %s: %w", handle, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to load task for sandbox %s: %w", handle, err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to wait on sandbox %s: %w", handle, err)
	}

	status := <-statusC
	code, _, err := status.Result()
	if err != nil {
		return 0, fmt.Errorf("sandbox %s exited with error: %w", handle, err)
	}
	return code, nil
}

// Kill sends SIGKILL to a sandbox's task. Used by the deadline timer; the
// Startup Sweeper relies on Remove, which kills a still-running task itself.
func (r *ContainerdRuntime) Kill(ctx context.Context, handle types.SandboxHandle) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return nil // already gone
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no task, nothing to kill
	}

	const sigkill = 9
	if err := task.Kill(ctx, sigkill); err != nil {
		return fmt.Errorf("failed to kill sandbox %s: %w", handle, err)
	}
	return nil
}

// Remove deletes the sandbox's task and container, including its snapshot.
// A task that is still running is killed first.
func (r *ContainerdRuntime) Remove(ctx context.Context, handle types.SandboxHandle) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, string(handle))
	if err != nil {
		return nil // already gone
	}

	if task, err := container.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to remove sandbox %s: %w", handle, err)
	}
	return nil
}

// List returns the handles of every sandbox carrying the Crucible project
// label, for use by the Startup Sweeper.
func (r *ContainerdRuntime) List(ctx context.Context) ([]types.SandboxHandle, error) {
	ctx = r.ctx(ctx)

	list, err := r.client.Containers(ctx, fmt.Sprintf("labels.%q==%q", labelProject, labelValue))
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}

	handles := make([]types.SandboxHandle, 0, len(list))
	for _, c := range list {
		handles = append(handles, types.SandboxHandle(c.ID()))
	}
	return handles, nil
}
