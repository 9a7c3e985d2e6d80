// Package engine implements the Execution Supervisor: the per-job
// orchestrator that drives a sandbox through its life cycle, enforces the
// deadline, and records the outcome.
package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/crucible/pkg/config"
	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/sampler"
	"github.com/cuemby/crucible/pkg/store"
	"github.com/cuemby/crucible/pkg/stream"
	"github.com/cuemby/crucible/pkg/types"
)

// mainSourceName is the fixed filename every job's source is staged under.
// It doubles as the compilation unit name the sandbox command expects.
const mainSourceName = "Main.java"

const sandboxWorkDir = "/app"

// sampleInterval is how often the sampler polls sandbox stats while a job
// is running.
const sampleInterval = 250 * time.Millisecond

// Sandbox is the subset of the Sandbox Driver (pkg/runtime) the Supervisor
// needs. Narrowing it to an interface here keeps the Supervisor testable
// against a fake.
type Sandbox interface {
	Create(ctx context.Context, id string, spec types.SandboxSpec) (types.SandboxHandle, error)
	Upload(ctx context.Context, handle types.SandboxHandle, archive *bytes.Reader, destDir string) error
	Attach(ctx context.Context, handle types.SandboxHandle) (io.ReadCloser, error)
	Start(ctx context.Context, handle types.SandboxHandle) error
	Stats(ctx context.Context, handle types.SandboxHandle) (types.StatsFrame, error)
	Wait(ctx context.Context, handle types.SandboxHandle) (uint32, error)
	Kill(ctx context.Context, handle types.SandboxHandle) error
	Remove(ctx context.Context, handle types.SandboxHandle) error
	List(ctx context.Context) ([]types.SandboxHandle, error)
}

// Observer receives lifecycle notifications for metrics collection. Its
// methods are not called when Supervisor is built with a nil Observer.
type Observer interface {
	JobStarted()
	JobFinished(outcome types.Classification, executionMS int64)
	SandboxKilled()
}

// Supervisor runs jobs to completion against a Store and a Sandbox driver.
type Supervisor struct {
	store    store.Store
	sandbox  Sandbox
	cfg      config.Config
	observer Observer
}

// New builds a Supervisor. observer may be nil.
func New(st store.Store, sb Sandbox, cfg config.Config, observer Observer) *Supervisor {
	return &Supervisor{store: st, sandbox: sb, cfg: cfg, observer: observer}
}

// Execute runs the full life cycle for jobID: stage, create, attach, start,
// race the deadline against completion, finalize, and remove the sandbox.
// It never returns an error to the caller. Once the job is marked running,
// every failure is captured as a finalized job record; a failure to load
// the job, a job not in not_started, or a failure to mark it running is
// only logged and leaves the record as it was. Execute is meant to be
// launched in its own goroutine per submission.
func (s *Supervisor) Execute(ctx context.Context, jobID string) {
	jobLog := log.WithJobID(jobID)

	job, err := s.store.Get(jobID, "")
	if err != nil {
		jobLog.Error().Err(err).Msg("failed to hydrate job")
		return
	}
	if job.Status != types.StatusNotStarted {
		jobLog.Warn().Str("status", string(job.Status)).Msg("refusing to execute job not in not_started")
		return
	}

	if err := s.store.MarkRunning(jobID); err != nil {
		jobLog.Error().Err(err).Msg("failed to mark job running")
		return
	}
	if s.observer != nil {
		s.observer.JobStarted()
	}

	archive, err := stageArchive(job.Source, job.InputFiles)
	if err != nil {
		s.finalizeError(jobID, "", fmt.Errorf("failed to stage inputs: %w", err))
		return
	}

	spec := types.SandboxSpec{
		Image:       s.cfg.SandboxImage,
		Command:     sandboxCommand(job.Args),
		WorkingDir:  sandboxWorkDir,
		MemoryLimit: s.cfg.MemoryLimitBytes,
		CPUWeight:   s.cfg.CPUWeight,
		Labels:      map[string]string{"crucible.job_id": jobID},
	}

	handle, err := s.sandbox.Create(ctx, jobID, spec)
	if err != nil {
		s.finalizeError(jobID, "", fmt.Errorf("failed to create sandbox: %w", err))
		return
	}

	if err := s.store.AttachSandbox(jobID, string(handle)); err != nil {
		jobLog.Error().Err(err).Msg("failed to record sandbox handle")
	}

	if err := s.sandbox.Upload(ctx, handle, archive, sandboxWorkDir); err != nil {
		s.finalizeError(jobID, handle, fmt.Errorf("failed to upload inputs: %w", err))
		return
	}

	outcome, class := s.run(ctx, jobID, handle)

	if err := s.store.Finalize(jobID, outcome); err != nil {
		jobLog.Error().Err(err).Msg("failed to finalize job")
	}

	if s.observer != nil {
		s.observer.JobFinished(class, outcome.ExecutionMS)
	}

	if err := s.sandbox.Remove(ctx, handle); err != nil {
		jobLog.Warn().Err(err).Msg("failed to remove sandbox")
	}
}

// run performs steps 7-11: attach, start the sampler, start the sandbox,
// race the deadline against wait-completion, tear down the observers, and
// classify the result. It always returns a usable Outcome, even on a
// runtime failure mid-run.
func (s *Supervisor) run(ctx context.Context, jobID string, handle types.SandboxHandle) (types.Outcome, types.Classification) {
	jobLog := log.WithJobID(jobID)

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	attached, err := s.sandbox.Attach(streamCtx, handle)
	if err != nil {
		return s.errorOutcome(fmt.Errorf("failed to attach sandbox: %w", err)), types.ClassificationCrash
	}

	demux := stream.New(s.cfg.OutputCapBytes)
	demuxDone := make(chan error, 1)
	go func() {
		demuxDone <- demux.Consume(attached)
	}()

	smp := sampler.New()
	go smp.Run(streamCtx, sampleInterval, func(c context.Context) (types.StatsFrame, error) {
		return s.sandbox.Stats(c, handle)
	})

	deadline := time.Duration(s.cfg.DeadlineMS) * time.Millisecond
	timedOut := false

	startTime := time.Now()
	if err := s.sandbox.Start(ctx, handle); err != nil {
		return s.errorOutcome(fmt.Errorf("failed to start sandbox: %w", err)), types.ClassificationCrash
	}

	// The deadline counts from Start, not from when the timer is armed, so
	// whatever Start itself took is subtracted rather than added on top.
	remaining := deadline - time.Since(startTime)
	if remaining < 0 {
		remaining = 0
	}
	deadlineTimer := time.NewTimer(remaining)
	waitResult := make(chan waitOutcome, 1)
	go func() {
		code, err := s.sandbox.Wait(ctx, handle)
		waitResult <- waitOutcome{code: code, err: err}
	}()

	var exitCode uint32
	var waitErr error

	select {
	case res := <-waitResult:
		deadlineTimer.Stop()
		exitCode, waitErr = res.code, res.err
	case <-deadlineTimer.C:
		timedOut = true
		if err := s.sandbox.Kill(ctx, handle); err != nil {
			jobLog.Warn().Err(err).Msg("failed to kill timed-out sandbox")
		}
		if s.observer != nil {
			s.observer.SandboxKilled()
		}
		res := <-waitResult
		exitCode, waitErr = res.code, res.err
	}

	executionMS := time.Since(startTime).Milliseconds()

	cancelStream()
	_ = attached.Close()
	<-demuxDone

	outcome := types.Outcome{
		Stdout:       demux.Stdout(),
		Stderr:       demux.Stderr(),
		PeakMemoryMB: smp.PeakMemoryMB(),
		PeakCPUPct:   smp.PeakCPUPercent(),
		ExecutionMS:  executionMS,
		CompletedAt:  time.Now().UTC(),
	}

	var class types.Classification
	switch {
	case timedOut:
		outcome.TimedOut = true
		class = types.ClassificationTimeout
	case waitErr != nil:
		outcome.Crashed = true
		outcome.Stderr = append(outcome.Stderr, []byte("\n"+waitErr.Error())...)
		class = types.ClassificationCrash
	case exitCode != 0:
		outcome.Crashed = true
		class = types.ClassificationCrash
	default:
		class = types.ClassificationSuccess
	}

	return outcome, class
}

type waitOutcome struct {
	code uint32
	err  error
}

func (s *Supervisor) errorOutcome(err error) types.Outcome {
	return types.Outcome{
		Stderr:      []byte(err.Error()),
		Crashed:     true,
		CompletedAt: time.Now().UTC(),
	}
}

// finalizeError writes a finalized job record for failures that occur
// before run() takes over, then force-removes the sandbox if one was
// created.
func (s *Supervisor) finalizeError(jobID string, handle types.SandboxHandle, cause error) {
	jobLog := log.WithJobID(jobID)
	jobLog.Error().Err(cause).Msg("job failed before execution completed")

	outcome := types.Outcome{
		Stderr:      []byte(cause.Error()),
		Crashed:     true,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.store.Finalize(jobID, outcome); err != nil {
		jobLog.Error().Err(err).Msg("failed to finalize failed job")
	}
	if s.observer != nil {
		s.observer.JobFinished(types.ClassificationCrash, 0)
	}

	if handle != "" {
		if err := s.sandbox.Remove(context.Background(), handle); err != nil {
			jobLog.Warn().Err(err).Msg("failed to remove sandbox after failure")
		}
	}
}

// stageArchive builds the tar archive uploaded into the sandbox: the job's
// source under mainSourceName, plus each input file under its own name.
// Input file names are validated again here, even though the HTTP layer
// already rejects path traversal at submission time.
func stageArchive(source string, inputFiles []types.InputFile) (*bytes.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := writeTarFile(tw, mainSourceName, []byte(source)); err != nil {
		return nil, err
	}

	for _, f := range inputFiles {
		if err := validateInputName(f.Name); err != nil {
			return nil, err
		}
		if err := writeTarFile(tw, f.Name, []byte(f.Content)); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), nil
}

func writeTarFile(tw *tar.Writer, name string, content []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write archive header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("failed to write archive content for %s: %w", name, err)
	}
	return nil
}

func validateInputName(name string) error {
	if name == "" {
		return fmt.Errorf("input file name must not be empty")
	}
	cleaned := filepath.Clean(name)
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(name, "/") {
		return fmt.Errorf("input file name %q contains a path separator or traversal", name)
	}
	return nil
}

// sandboxCommand builds the shell invocation that compiles and runs the
// staged source, passing args through argv rather than interpolating them
// into the shell script.
func sandboxCommand(args []string) []string {
	cmd := []string{
		"sh", "-c",
		fmt.Sprintf("javac %s 2>&1 && exec java -cp . %s \"$@\"", mainSourceName, strings.TrimSuffix(mainSourceName, ".java")),
		"--",
	}
	return append(cmd, args...)
}
