package sandbox

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// LabelManaged marks containers created by this service.
	LabelManaged = "io.agentbox.managed"
	// LabelOwnerPID stores the PID of the process that created the container.
	LabelOwnerPID = "io.agentbox.owner-pid"

	// ProviderLocal is the registry name of the local container engine.
	ProviderLocal = "local"

	defaultPingTimeout = 5 * time.Second
	logChannelBuffer   = 256
)

// DockerClient is the subset of the Docker Engine API used by DockerProvider.
// *client.Client satisfies it.
type DockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, container.PathStat, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	Close() error
}

// DockerConfig holds configuration for a Docker-API provider
type DockerConfig struct {
	Name                string
	Description         string
	Host                string // empty means DOCKER_HOST / the default socket
	NetworkMode         string
	EnforceStorageLimit bool
	CleanupOrphans      bool
	PingTimeout         time.Duration
	MaxCPUCores         float64
	MaxMemoryMB         int64
}

// DockerProvider implements Provider on top of the Docker Engine API
type DockerProvider struct {
	logger *zap.Logger
	config DockerConfig
	client DockerClient
	fs     afero.Fs
}

var _ Provider = (*DockerProvider)(nil)

// DockerProviderOption defines a functional option for DockerProvider
type DockerProviderOption func(*DockerProvider)

// WithDockerClient sets the Engine API client, bypassing socket discovery
func WithDockerClient(c DockerClient) DockerProviderOption {
	return func(p *DockerProvider) {
		p.client = c
	}
}

// WithDockerFileSystem sets the host file system used by CopyToContainer
func WithDockerFileSystem(fs afero.Fs) DockerProviderOption {
	return func(p *DockerProvider) {
		p.fs = fs
	}
}

// NewDockerProvider connects to the engine and verifies it answers. An
// unreachable daemon yields a KindConnection error so the caller can skip
// registration and keep running without this provider.
func NewDockerProvider(ctx context.Context, logger *zap.Logger, cfg DockerConfig, opts ...DockerProviderOption) (*DockerProvider, error) {
	cfg.Name = cmp.Or(cfg.Name, ProviderLocal)
	cfg.Description = cmp.Or(cfg.Description, "Local Docker engine")
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}

	p := &DockerProvider{
		logger: logger.Named("provider").With(zap.String("provider", cfg.Name)),
		config: cfg,
		fs:     afero.NewOsFs(),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.client == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if cfg.Host != "" {
			clientOpts = append(clientOpts, client.WithHost(cfg.Host))
		}
		c, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, &Error{Kind: KindConnection, Provider: cfg.Name, Op: "connect", Message: "failed to create engine client", Err: err}
		}
		p.client = c
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if _, err := p.client.Ping(pingCtx); err != nil {
		_ = p.client.Close()
		return nil, &Error{Kind: KindConnection, Provider: cfg.Name, Op: "connect", Message: "engine is unreachable", Err: err}
	}

	if cfg.CleanupOrphans {
		p.cleanupOrphans(ctx)
	}

	p.logger.Info("container engine connected", zap.String("host", cfg.Host))
	return p, nil
}

// Name returns the registry name
func (p *DockerProvider) Name() string {
	return p.config.Name
}

// IsAvailable pings the daemon
func (p *DockerProvider) IsAvailable(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, p.config.PingTimeout)
	defer cancel()
	_, err := p.client.Ping(pingCtx)
	return err == nil
}

// Info reports engine version and which limits are enforced
func (p *DockerProvider) Info(ctx context.Context) ProviderInfo {
	info := ProviderInfo{
		Name:        p.config.Name,
		Kind:        ProviderKindLocal,
		Description: p.config.Description,
		Endpoint:    p.config.Host,
		Status:      ProviderStatusUnavailable,
		Capabilities: Capabilities{
			Exec:         true,
			Logs:         true,
			FileTransfer: true,
			Metrics:      true,
			Images:       true,
			CPULimit:     true,
			MemoryLimit:  true,
			StorageLimit: p.config.EnforceStorageLimit,
			MaxCPUCores:  p.config.MaxCPUCores,
			MaxMemoryMB:  p.config.MaxMemoryMB,
		},
	}

	if p.IsAvailable(ctx) {
		info.Available = true
		info.Status = ProviderStatusAvailable
		if v, err := p.client.ServerVersion(ctx); err == nil {
			info.Version = v.Version
		}
	}
	return info
}

// CreateContainer creates, but does not start, a container for cfg
func (p *DockerProvider) CreateContainer(ctx context.Context, cfg ContainerConfig) (info ContainerInfo, err error) {
	const op = "create_container"
	defer p.guard(op, &err)

	if cfg.Image == "" {
		return ContainerInfo{}, InvalidRequest(op, "image is required")
	}

	env, err := EnvList(cfg.Env)
	if err != nil {
		return ContainerInfo{}, err
	}

	labels := make(map[string]string, len(cfg.Labels)+2)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[LabelManaged] = "true"
	labels[LabelOwnerPID] = strconv.Itoa(os.Getpid())

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, pm := range cfg.Ports {
		port, perr := nat.NewPort(cmp.Or(pm.Protocol, "tcp"), strconv.Itoa(pm.ContainerPort))
		if perr != nil {
			return ContainerInfo{}, &Error{Kind: KindInvalidConfig, Provider: p.config.Name, Op: op, Message: "invalid port mapping", Err: perr}
		}
		hostPort := ""
		if pm.HostPort > 0 {
			hostPort = strconv.Itoa(pm.HostPort)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: hostPort})
	}

	mounts := make([]mount.Mount, 0, len(cfg.Volumes))
	for _, v := range cfg.Volumes {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   v.HostPath,
			Target:   v.ContainerPath,
			ReadOnly: v.ReadOnly,
		})
	}

	hostConfig := &container.HostConfig{
		Mounts:       mounts,
		PortBindings: bindings,
		NetworkMode:  container.NetworkMode(p.config.NetworkMode),
		Resources: container.Resources{
			NanoCPUs: int64(cfg.CPUCores * 1e9),
			Memory:   cfg.MemoryMB * units.MiB,
		},
	}
	if cfg.StorageGB > 0 && p.config.EnforceStorageLimit {
		hostConfig.StorageOpt = map[string]string{"size": fmt.Sprintf("%dG", cfg.StorageGB)}
	}

	containerConfig := &container.Config{
		Image:        cfg.Image,
		Env:          env,
		Cmd:          cfg.Command,
		WorkingDir:   cfg.WorkingDir,
		Labels:       labels,
		ExposedPorts: exposed,
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, cfg.Name)
	if err != nil {
		return ContainerInfo{}, p.wrapErr(op, err, KindImage, KindBackendProtocol)
	}
	for _, w := range resp.Warnings {
		p.logger.Warn("engine warning on create", zap.String("container_id", resp.ID), zap.String("warning", w))
	}

	p.logger.Info("container created",
		zap.String("container_id", resp.ID),
		zap.String("image", cfg.Image),
		zap.Float64("cpu_cores", cfg.CPUCores),
		zap.String("memory", units.BytesSize(float64(cfg.MemoryMB*units.MiB))),
	)

	return ContainerInfo{
		ID:        resp.ID,
		Name:      cfg.Name,
		Image:     cfg.Image,
		Status:    StatusCreated,
		Labels:    labels,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// StartContainer starts a created container
func (p *DockerProvider) StartContainer(ctx context.Context, id string) (err error) {
	const op = "start_container"
	defer p.guard(op, &err)

	if err := p.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return p.wrapErr(op, err, KindContainerNotFound, KindContainerStart)
	}
	p.logger.Debug("container started", zap.String("container_id", id))
	return nil
}

// StopContainer sends SIGTERM and lets the engine kill the container after timeoutSecs
func (p *DockerProvider) StopContainer(ctx context.Context, id string, timeoutSecs int) (err error) {
	const op = "stop_container"
	defer p.guard(op, &err)

	timeout := max(timeoutSecs, 0)
	if err := p.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}
	p.logger.Debug("container stopped", zap.String("container_id", id), zap.Int("grace_seconds", timeout))
	return nil
}

// RemoveContainer deletes the container and its anonymous volumes
func (p *DockerProvider) RemoveContainer(ctx context.Context, id string, force bool) (err error) {
	const op = "remove_container"
	defer p.guard(op, &err)

	if err := p.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: true}); err != nil {
		return p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}
	p.logger.Debug("container removed", zap.String("container_id", id), zap.Bool("force", force))
	return nil
}

// GetContainerInfo inspects one container
func (p *DockerProvider) GetContainerInfo(ctx context.Context, id string) (info ContainerInfo, err error) {
	const op = "get_container_info"
	defer p.guard(op, &err)

	j, err := p.client.ContainerInspect(ctx, id)
	if err != nil {
		return ContainerInfo{}, p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}
	return containerInfoFromInspect(j), nil
}

// ListContainers lists containers managed by this service
func (p *DockerProvider) ListContainers(ctx context.Context, includeStopped bool) (infos []ContainerInfo, err error) {
	const op = "list_containers"
	defer p.guard(op, &err)

	list, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     includeStopped,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return nil, p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}

	infos = make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		info := ContainerInfo{
			ID:        c.ID,
			Image:     c.Image,
			Status:    statusFromStateString(c.State),
			Labels:    c.Labels,
			CreatedAt: time.Unix(c.Created, 0).UTC(),
		}
		if len(c.Names) > 0 {
			info.Name = strings.TrimPrefix(c.Names[0], "/")
		}
		for _, port := range c.Ports {
			if port.PublicPort == 0 {
				continue
			}
			if info.Ports == nil {
				info.Ports = make(map[int]int)
			}
			info.Ports[int(port.PrivatePort)] = int(port.PublicPort)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ExecCommand runs command in the container and collects its output
func (p *DockerProvider) ExecCommand(ctx context.Context, id string, command []string, env map[string]string) (res ExecResult, err error) {
	const op = "exec_command"
	defer p.guard(op, &err)

	if len(command) == 0 {
		return ExecResult{}, InvalidRequest(op, "command is required")
	}
	envList, err := EnvList(env)
	if err != nil {
		return ExecResult{}, err
	}

	created, err := p.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          command,
		Env:          envList,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}

	attach, err := p.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, p.wrapErr(op, err, KindContainerNotFound, KindCommunication)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, cerr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copyDone <- cerr
	}()

	select {
	case cerr := <-copyDone:
		if cerr != nil {
			return ExecResult{}, &Error{Kind: KindCommunication, Provider: p.config.Name, Op: op, Message: "failed to read exec output", Err: cerr}
		}
	case <-ctx.Done():
		return ExecResult{}, p.wrapErr(op, ctx.Err(), KindContainerNotFound, KindCommunication)
	}

	inspect, err := p.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// StreamLogs streams container output line by line
func (p *DockerProvider) StreamLogs(ctx context.Context, id string, follow bool, since time.Time) (_ <-chan OutputChunk, _ <-chan error, err error) {
	const op = "stream_logs"
	defer p.guard(op, &err)

	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Timestamps: true,
	}
	if !since.IsZero() {
		opts.Since = fmt.Sprintf("%d.%09d", since.Unix(), since.Nanosecond())
	}

	rc, err := p.client.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, nil, p.wrapErr(op, err, KindContainerNotFound, KindCommunication)
	}

	chunks := make(chan OutputChunk, logChannelBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(chunks)
		defer rc.Close()
		defer func() {
			if r := recover(); r != nil {
				errs <- &Error{Kind: KindBackendProtocol, Provider: p.config.Name, Op: op, Message: fmt.Sprintf("panic while reading logs: %v", r)}
			}
		}()

		stdoutW := newChunkWriter(ctx, Stdout, chunks)
		stderrW := newChunkWriter(ctx, Stderr, chunks)
		_, cerr := stdcopy.StdCopy(stdoutW, stderrW, rc)
		stdoutW.Flush()
		stderrW.Flush()

		if cerr != nil && ctx.Err() == nil {
			errs <- &Error{Kind: KindCommunication, Provider: p.config.Name, Op: op, Message: "log stream interrupted", Err: cerr}
		}
	}()

	return chunks, errs, nil
}

// CopyToContainer copies srcPath from the host into dstDir inside the container
func (p *DockerProvider) CopyToContainer(ctx context.Context, id, srcPath, dstDir string) (err error) {
	const op = "copy_to_container"
	defer p.guard(op, &err)

	data, err := CreateTarFromPath(p.fs, srcPath)
	if err != nil {
		return &Error{Kind: KindWorkspace, Provider: p.config.Name, Op: op, Message: "failed to archive " + srcPath, Err: err}
	}

	if err := p.client.CopyToContainer(ctx, id, dstDir, bytes.NewReader(data), container.CopyToContainerOptions{}); err != nil {
		return p.wrapErr(op, err, KindContainerNotFound, KindArtifactTransfer)
	}
	return nil
}

// CopyFromContainer returns srcPath as a tar stream
func (p *DockerProvider) CopyFromContainer(ctx context.Context, id, srcPath string) (rc io.ReadCloser, err error) {
	const op = "copy_from_container"
	defer p.guard(op, &err)

	rc, _, err = p.client.CopyFromContainer(ctx, id, srcPath)
	if err != nil {
		return nil, p.wrapErr(op, err, KindArtifactNotFound, KindArtifactTransfer)
	}
	return rc, nil
}

// GetMetrics samples the container's resource usage once
func (p *DockerProvider) GetMetrics(ctx context.Context, id string) (m ContainerMetrics, err error) {
	const op = "get_metrics"
	defer p.guard(op, &err)

	stats, err := p.client.ContainerStats(ctx, id, false)
	if err != nil {
		return ContainerMetrics{}, p.wrapErr(op, err, KindContainerNotFound, KindBackendProtocol)
	}
	defer stats.Body.Close()

	sample, err := decodeDockerStats(stats.Body)
	if err != nil {
		return ContainerMetrics{}, &Error{Kind: KindBackendProtocol, Provider: p.config.Name, Op: op, Message: "failed to decode stats", Err: err}
	}
	return sample.metrics(), nil
}

// PullImage pulls image unless it is already present and force is false
func (p *DockerProvider) PullImage(ctx context.Context, ref string, force bool) (err error) {
	const op = "pull_image"
	defer p.guard(op, &err)

	if !force {
		exists, err := p.ImageExists(ctx, ref)
		if err == nil && exists {
			return nil
		}
	}

	p.logger.Info("pulling image", zap.String("image", ref))
	rc, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return p.wrapErr(op, err, KindImage, KindImage)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return p.wrapErr(op, err, KindImage, KindImage)
	}
	return nil
}

// ImageExists reports whether ref is present in the local image store
func (p *DockerProvider) ImageExists(ctx context.Context, ref string) (exists bool, err error) {
	const op = "image_exists"
	defer p.guard(op, &err)

	images, err := p.client.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, p.wrapErr(op, err, KindImage, KindBackendProtocol)
	}
	return len(images) > 0, nil
}

// Close releases the engine client
func (p *DockerProvider) Close() error {
	return p.client.Close()
}

// guard turns a panic inside the engine client into a typed error.
func (p *DockerProvider) guard(op string, err *error) {
	if r := recover(); r != nil {
		p.logger.Error("recovered panic in engine client", zap.String("op", op), zap.Any("panic", r))
		*err = &Error{Kind: KindBackendProtocol, Provider: p.config.Name, Op: op, Message: fmt.Sprintf("panic in engine client: %v", r)}
	}
}

// wrapErr classifies an engine error. notFound is used for 404s, fallback
// for anything that is not a transport or context failure.
func (p *DockerProvider) wrapErr(op string, err error, notFound, fallback Kind) error {
	kind := fallback
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindCancelled
	case errdefs.IsNotFound(err):
		kind = notFound
	case client.IsErrConnectionFailed(err), errdefs.IsUnavailable(err):
		kind = KindConnection
	case errdefs.IsInvalidParameter(err):
		kind = KindInvalidConfig
	}
	return &Error{Kind: kind, Provider: p.config.Name, Op: op, Err: err}
}

// cleanupOrphans removes managed containers whose creating process is gone.
// This handles cases where the service was killed or crashed.
func (p *DockerProvider) cleanupOrphans(ctx context.Context) {
	list, err := p.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		p.logger.Warn("failed to list containers for orphan cleanup", zap.Error(err))
		return
	}

	currentPID := os.Getpid()
	for _, c := range list {
		pid, _ := strconv.Atoi(c.Labels[LabelOwnerPID])
		if pid == 0 || pid == currentPID || isProcessRunning(pid) {
			continue
		}

		p.logger.Info("removing orphaned container", zap.String("container_id", c.ID), zap.Int("owner_pid", pid))
		if err := p.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			p.logger.Warn("failed to remove orphaned container", zap.String("container_id", c.ID), zap.Error(err))
		}
	}
}

// isProcessRunning checks if a process with the given PID is still running.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	// to check if the process actually exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

func containerInfoFromInspect(j types.ContainerJSON) ContainerInfo {
	var info ContainerInfo

	if j.ContainerJSONBase != nil {
		info.ID = j.ID
		info.Name = strings.TrimPrefix(j.Name, "/")
		info.CreatedAt = parseEngineTime(j.Created)

		if j.State != nil {
			info.Status, info.Error = statusFromState(j.State)
			if started := parseEngineTime(j.State.StartedAt); !started.IsZero() {
				info.StartedAt = &started
			}
			if j.State.Status == "exited" || j.State.Status == "dead" || j.State.OOMKilled {
				code := j.State.ExitCode
				info.ExitCode = &code
			}
		}
	}

	if j.Config != nil {
		info.Image = j.Config.Image
		info.Labels = j.Config.Labels
	}

	if j.NetworkSettings != nil {
		for _, ep := range j.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				info.IP = ep.IPAddress
				break
			}
		}
		for port, bindings := range j.NetworkSettings.Ports {
			for _, b := range bindings {
				hostPort, err := strconv.Atoi(b.HostPort)
				if err != nil {
					continue
				}
				if info.Ports == nil {
					info.Ports = make(map[int]int)
				}
				info.Ports[port.Int()] = hostPort
				break
			}
		}
	}

	return info
}

func statusFromState(s *types.ContainerState) (ContainerStatus, string) {
	if s.OOMKilled {
		return StatusError, "out of memory"
	}
	if s.Paused {
		return StatusPaused, ""
	}
	status := statusFromStateString(s.Status)
	if status == StatusError {
		return status, cmp.Or(s.Error, "unknown engine state "+s.Status)
	}
	if status == StatusStopped && s.Error != "" {
		return StatusError, s.Error
	}
	return status, ""
}

func statusFromStateString(state string) ContainerStatus {
	switch state {
	case "created":
		return StatusCreated
	case "running", "restarting":
		return StatusRunning
	case "paused":
		return StatusPaused
	case "removing":
		return StatusRemoving
	case "exited":
		return StatusStopped
	case "dead":
		return StatusDead
	default:
		return StatusError
	}
}

// parseEngineTime parses engine timestamps; the engine's zero time maps to time.Time{}.
func parseEngineTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Year() <= 1 {
		return time.Time{}
	}
	return t.UTC()
}
