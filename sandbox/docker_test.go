package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeDockerClient implements DockerClient for testing
type fakeDockerClient struct {
	mu sync.Mutex

	pingErr error

	createResp    container.CreateResponse
	createErr     error
	createdConfig *container.Config
	createdHost   *container.HostConfig
	createdName   string

	startErr    error
	stopTimeout *int
	stopErr     error
	removed     []string
	removeErr   error

	inspect      types.ContainerJSON
	inspectErr   error
	inspectPanic bool

	list     []types.Container
	listOpts container.ListOptions

	logs     []byte
	logsOpts container.LogsOptions

	execCmd      []string
	execStdout   string
	execStderr   string
	execExitCode int

	stats string

	images   []image.Summary
	pullBody string
	pullErr  error
	pulled   []string

	copiedTo   []byte
	copiedDst  string
	copyFrom   []byte
	copyErr    error
	closeCalls int
}

func (f *fakeDockerClient) Ping(context.Context) (types.Ping, error) {
	return types.Ping{APIVersion: "1.47"}, f.pingErr
}

func (f *fakeDockerClient) ServerVersion(context.Context) (types.Version, error) {
	return types.Version{Version: "27.5.1"}, nil
}

func (f *fakeDockerClient) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdConfig = cfg
	f.createdHost = host
	f.createdName = name
	return f.createResp, f.createErr
}

func (f *fakeDockerClient) ContainerStart(context.Context, string, container.StartOptions) error {
	return f.startErr
}

func (f *fakeDockerClient) ContainerStop(_ context.Context, _ string, opts container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimeout = opts.Timeout
	return f.stopErr
}

func (f *fakeDockerClient) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return f.removeErr
}

func (f *fakeDockerClient) ContainerInspect(context.Context, string) (types.ContainerJSON, error) {
	if f.inspectPanic {
		panic("nil session")
	}
	return f.inspect, f.inspectErr
}

func (f *fakeDockerClient) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listOpts = opts
	return f.list, nil
}

func (f *fakeDockerClient) ContainerExecCreate(_ context.Context, _ string, opts container.ExecOptions) (types.IDResponse, error) {
	f.execCmd = opts.Cmd
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeDockerClient) ContainerExecAttach(context.Context, string, container.ExecAttachOptions) (types.HijackedResponse, error) {
	server, client := net.Pipe()
	go func() {
		defer server.Close()
		if f.execStdout != "" {
			_, _ = stdcopy.NewStdWriter(server, stdcopy.Stdout).Write([]byte(f.execStdout))
		}
		if f.execStderr != "" {
			_, _ = stdcopy.NewStdWriter(server, stdcopy.Stderr).Write([]byte(f.execStderr))
		}
	}()
	return types.HijackedResponse{Conn: client, Reader: bufio.NewReader(client)}, nil
}

func (f *fakeDockerClient) ContainerExecInspect(context.Context, string) (container.ExecInspect, error) {
	return container.ExecInspect{ExecID: "exec-1", ExitCode: f.execExitCode}, nil
}

func (f *fakeDockerClient) ContainerLogs(_ context.Context, _ string, opts container.LogsOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logsOpts = opts
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeDockerClient) ContainerStats(context.Context, string, bool) (container.StatsResponseReader, error) {
	return container.StatsResponseReader{Body: io.NopCloser(strings.NewReader(f.stats))}, nil
}

func (f *fakeDockerClient) CopyToContainer(_ context.Context, _, dst string, content io.Reader, _ container.CopyToContainerOptions) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.copiedTo = data
	f.copiedDst = dst
	return nil
}

func (f *fakeDockerClient) CopyFromContainer(context.Context, string, string) (io.ReadCloser, container.PathStat, error) {
	if f.copyErr != nil {
		return nil, container.PathStat{}, f.copyErr
	}
	return io.NopCloser(bytes.NewReader(f.copyFrom)), container.PathStat{}, nil
}

func (f *fakeDockerClient) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(strings.NewReader(f.pullBody)), nil
}

func (f *fakeDockerClient) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.images, nil
}

func (f *fakeDockerClient) Close() error {
	f.closeCalls++
	return nil
}

func newTestDockerProvider(t *testing.T, fake *fakeDockerClient, cfg DockerConfig, opts ...DockerProviderOption) *DockerProvider {
	t.Helper()
	opts = append([]DockerProviderOption{WithDockerClient(fake)}, opts...)
	p, err := NewDockerProvider(context.Background(), zaptest.NewLogger(t), cfg, opts...)
	require.NoError(t, err)
	return p
}

func muxLines(t *testing.T, lines ...logLine) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, l := range lines {
		fd := stdcopy.Stdout
		if l.stream == Stderr {
			fd = stdcopy.Stderr
		}
		_, err := stdcopy.NewStdWriter(&buf, fd).Write([]byte(l.text))
		require.NoError(t, err)
	}
	return buf.Bytes()
}

type logLine struct {
	stream StreamType
	text   string
}

func TestNewDockerProvider(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{})
		assert.Equal(t, ProviderLocal, p.Name())
		assert.Equal(t, defaultPingTimeout, p.config.PingTimeout)
	})

	t.Run("UnreachableDaemon", func(t *testing.T) {
		fake := &fakeDockerClient{pingErr: errors.New("dial unix /var/run/docker.sock: connect: no such file or directory")}
		p, err := NewDockerProvider(context.Background(), zaptest.NewLogger(t), DockerConfig{}, WithDockerClient(fake))
		require.Error(t, err)
		assert.Nil(t, p)
		assert.Equal(t, KindConnection, KindOf(err))
		assert.Equal(t, 1, fake.closeCalls)
	})

	t.Run("OrphanCleanup", func(t *testing.T) {
		fake := &fakeDockerClient{
			list: []types.Container{
				{ID: "orphan", Labels: map[string]string{LabelManaged: "true", LabelOwnerPID: "2147483646"}},
				{ID: "mine", Labels: map[string]string{LabelManaged: "true", LabelOwnerPID: strconv.Itoa(os.Getpid())}},
				{ID: "unlabelled", Labels: map[string]string{LabelManaged: "true"}},
			},
		}
		newTestDockerProvider(t, fake, DockerConfig{CleanupOrphans: true})
		assert.Equal(t, []string{"orphan"}, fake.removed)
		assert.True(t, fake.listOpts.All)
	})
}

func TestDockerProviderInfo(t *testing.T) {
	p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{Host: "unix:///var/run/docker.sock", MaxCPUCores: 8})

	info := p.Info(context.Background())
	assert.True(t, info.Available)
	assert.Equal(t, ProviderStatusAvailable, info.Status)
	assert.Equal(t, ProviderKindLocal, info.Kind)
	assert.Equal(t, "27.5.1", info.Version)
	assert.True(t, info.Capabilities.Exec)
	assert.False(t, info.Capabilities.StorageLimit)
	assert.InDelta(t, 8.0, info.Capabilities.MaxCPUCores, 1e-9)
	assert.True(t, p.IsAvailable(context.Background()))
}

func TestDockerProviderCreateContainer(t *testing.T) {
	t.Run("TranslatesConfig", func(t *testing.T) {
		fake := &fakeDockerClient{createResp: container.CreateResponse{ID: "c1"}}
		p := newTestDockerProvider(t, fake, DockerConfig{EnforceStorageLimit: true, NetworkMode: "none"})

		info, err := p.CreateContainer(context.Background(), ContainerConfig{
			Image:      "ubuntu:22.04",
			Name:       "agentbox-e1",
			Env:        map[string]string{"B": "2", "A": "1"},
			Volumes:    []VolumeMount{{HostPath: "/ws", ContainerPath: "/workspace", ReadOnly: true}},
			Ports:      []PortMapping{{HostPort: 18080, ContainerPort: 8080}},
			CPUCores:   1.5,
			MemoryMB:   512,
			StorageGB:  10,
			Command:    []string{"sh", "-c", "echo hi"},
			WorkingDir: "/workspace",
			Labels:     map[string]string{"io.agentbox.execution-id": "e1"},
		})
		require.NoError(t, err)

		assert.Equal(t, "c1", info.ID)
		assert.Equal(t, StatusCreated, info.Status)
		assert.Equal(t, "agentbox-e1", fake.createdName)

		cfg := fake.createdConfig
		assert.Equal(t, []string{"A=1", "B=2"}, cfg.Env)
		assert.Equal(t, []string{"sh", "-c", "echo hi"}, []string(cfg.Cmd))
		assert.Equal(t, "/workspace", cfg.WorkingDir)
		assert.Equal(t, "true", cfg.Labels[LabelManaged])
		assert.Equal(t, strconv.Itoa(os.Getpid()), cfg.Labels[LabelOwnerPID])
		assert.Equal(t, "e1", cfg.Labels["io.agentbox.execution-id"])
		assert.Contains(t, cfg.ExposedPorts, nat.Port("8080/tcp"))

		host := fake.createdHost
		assert.Equal(t, int64(1_500_000_000), host.NanoCPUs)
		assert.Equal(t, int64(512*1024*1024), host.Memory)
		assert.Equal(t, map[string]string{"size": "10G"}, host.StorageOpt)
		assert.Equal(t, container.NetworkMode("none"), host.NetworkMode)
		require.Len(t, host.Mounts, 1)
		assert.Equal(t, "/ws", host.Mounts[0].Source)
		assert.True(t, host.Mounts[0].ReadOnly)
		assert.Equal(t, "18080", host.PortBindings[nat.Port("8080/tcp")][0].HostPort)
	})

	t.Run("StorageLimitNotEnforced", func(t *testing.T) {
		fake := &fakeDockerClient{createResp: container.CreateResponse{ID: "c1"}}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		_, err := p.CreateContainer(context.Background(), ContainerConfig{Image: "alpine", StorageGB: 10})
		require.NoError(t, err)
		assert.Nil(t, fake.createdHost.StorageOpt)
	})

	t.Run("MissingImage", func(t *testing.T) {
		fake := &fakeDockerClient{createErr: errdefs.NotFound(errors.New("No such image: nope:latest"))}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		_, err := p.CreateContainer(context.Background(), ContainerConfig{Image: "nope:latest"})
		require.Error(t, err)
		assert.Equal(t, KindImage, KindOf(err))
		assert.Contains(t, err.Error(), "No such image")
	})

	t.Run("EmptyImage", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{})
		_, err := p.CreateContainer(context.Background(), ContainerConfig{})
		assert.Equal(t, KindInvalidRequest, KindOf(err))
	})

	t.Run("InvalidEnvName", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{})
		_, err := p.CreateContainer(context.Background(), ContainerConfig{Image: "alpine", Env: map[string]string{"1BAD": "x"}})
		assert.Equal(t, KindInvalidRequest, KindOf(err))
	})
}

func TestDockerProviderErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"NotFound", errdefs.NotFound(errors.New("no such container")), KindContainerNotFound},
		{"Unavailable", errdefs.Unavailable(errors.New("daemon restarting")), KindConnection},
		{"InvalidParameter", errdefs.InvalidParameter(errors.New("bad mount")), KindInvalidConfig},
		{"Deadline", context.DeadlineExceeded, KindTimeout},
		{"Canceled", context.Canceled, KindCancelled},
		{"Other", errors.New("oci runtime error"), KindContainerStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestDockerProvider(t, &fakeDockerClient{startErr: tt.err}, DockerConfig{})
			err := p.StartContainer(context.Background(), "c1")
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDockerProviderStopAndRemove(t *testing.T) {
	fake := &fakeDockerClient{}
	p := newTestDockerProvider(t, fake, DockerConfig{})

	require.NoError(t, p.StopContainer(context.Background(), "c1", 7))
	require.NotNil(t, fake.stopTimeout)
	assert.Equal(t, 7, *fake.stopTimeout)

	require.NoError(t, p.RemoveContainer(context.Background(), "c1", true))
	assert.Equal(t, []string{"c1"}, fake.removed)
}

func TestDockerProviderGetContainerInfo(t *testing.T) {
	base := func(state *types.ContainerState) types.ContainerJSON {
		return types.ContainerJSON{
			ContainerJSONBase: &types.ContainerJSONBase{
				ID:      "c1",
				Name:    "/agentbox-e1",
				Created: "2024-01-01T00:00:00Z",
				State:   state,
			},
			Config: &container.Config{Image: "ubuntu:22.04", Labels: map[string]string{LabelManaged: "true"}},
			NetworkSettings: &types.NetworkSettings{
				NetworkSettingsBase: types.NetworkSettingsBase{
					Ports: nat.PortMap{"8080/tcp": {{HostIP: "0.0.0.0", HostPort: "32768"}}},
				},
				Networks: map[string]*network.EndpointSettings{"bridge": {IPAddress: "172.17.0.2"}},
			},
		}
	}

	t.Run("Running", func(t *testing.T) {
		fake := &fakeDockerClient{inspect: base(&types.ContainerState{Status: "running", Running: true, StartedAt: "2024-01-01T00:00:01Z"})}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		info, err := p.GetContainerInfo(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, "agentbox-e1", info.Name)
		assert.Equal(t, StatusRunning, info.Status)
		assert.Equal(t, "172.17.0.2", info.IP)
		assert.Equal(t, map[int]int{8080: 32768}, info.Ports)
		assert.Equal(t, "ubuntu:22.04", info.Image)
		assert.Nil(t, info.ExitCode)
		require.NotNil(t, info.StartedAt)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC), *info.StartedAt)
	})

	t.Run("Exited", func(t *testing.T) {
		fake := &fakeDockerClient{inspect: base(&types.ContainerState{Status: "exited", ExitCode: 3})}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		info, err := p.GetContainerInfo(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, info.Status)
		require.NotNil(t, info.ExitCode)
		assert.Equal(t, 3, *info.ExitCode)
	})

	t.Run("OOMKilled", func(t *testing.T) {
		fake := &fakeDockerClient{inspect: base(&types.ContainerState{Status: "exited", ExitCode: 137, OOMKilled: true})}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		info, err := p.GetContainerInfo(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, StatusError, info.Status)
		assert.Equal(t, "out of memory", info.Error)
	})

	t.Run("NotFound", func(t *testing.T) {
		fake := &fakeDockerClient{inspectErr: errdefs.NotFound(errors.New("No such container: c1"))}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		_, err := p.GetContainerInfo(context.Background(), "c1")
		assert.ErrorIs(t, err, ErrContainerNotFound)
	})

	t.Run("PanicIsRecovered", func(t *testing.T) {
		fake := &fakeDockerClient{inspectPanic: true}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		_, err := p.GetContainerInfo(context.Background(), "c1")
		require.Error(t, err)
		assert.Equal(t, KindBackendProtocol, KindOf(err))
		assert.Contains(t, err.Error(), "nil session")
	})
}

func TestDockerProviderListContainers(t *testing.T) {
	fake := &fakeDockerClient{
		list: []types.Container{
			{
				ID:      "c1",
				Names:   []string{"/agentbox-e1"},
				Image:   "alpine",
				State:   "running",
				Created: 1704067200,
				Ports:   []types.Port{{PrivatePort: 80, PublicPort: 8080, Type: "tcp"}, {PrivatePort: 443}},
			},
			{ID: "c2", Names: []string{"/agentbox-e2"}, State: "exited"},
		},
	}
	p := newTestDockerProvider(t, fake, DockerConfig{})

	infos, err := p.ListContainers(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, fake.listOpts.All)
	assert.Equal(t, []string{LabelManaged + "=true"}, fake.listOpts.Filters.Get("label"))

	assert.Equal(t, "agentbox-e1", infos[0].Name)
	assert.Equal(t, StatusRunning, infos[0].Status)
	assert.Equal(t, map[int]int{80: 8080}, infos[0].Ports)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), infos[0].CreatedAt)
	assert.Equal(t, StatusStopped, infos[1].Status)
}

func TestDockerProviderExecCommand(t *testing.T) {
	t.Run("CollectsOutput", func(t *testing.T) {
		fake := &fakeDockerClient{execStdout: "hello\n", execStderr: "warning\n", execExitCode: 2}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		res, err := p.ExecCommand(context.Background(), "c1", []string{"sh", "-c", "echo hello"}, map[string]string{"X": "1"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.ExitCode)
		assert.Equal(t, "hello\n", res.Stdout)
		assert.Equal(t, "warning\n", res.Stderr)
		assert.Equal(t, []string{"sh", "-c", "echo hello"}, fake.execCmd)
	})

	t.Run("EmptyCommand", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{})
		_, err := p.ExecCommand(context.Background(), "c1", nil, nil)
		assert.Equal(t, KindInvalidRequest, KindOf(err))
	})
}

func TestDockerProviderStreamLogs(t *testing.T) {
	t.Run("FiniteHistory", func(t *testing.T) {
		fake := &fakeDockerClient{logs: muxLines(t,
			logLine{Stdout, "2024-01-01T00:00:01.000000001Z line one\n"},
			logLine{Stderr, "2024-01-01T00:00:02.000000000Z line two\n"},
			logLine{Stdout, "2024-01-01T00:00:03.000000000Z line three\n"},
		)}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		chunks, errs, err := p.StreamLogs(context.Background(), "c1", false, time.Time{})
		require.NoError(t, err)

		var got []OutputChunk
		for c := range chunks {
			got = append(got, c)
		}
		for err := range errs {
			require.NoError(t, err)
		}

		require.Len(t, got, 3)
		assert.Equal(t, "line one\n", got[0].Data)
		assert.Equal(t, Stdout, got[0].Stream)
		assert.Equal(t, 1, got[0].Timestamp.Nanosecond())
		assert.Equal(t, "line two\n", got[1].Data)
		assert.Equal(t, Stderr, got[1].Stream)
		assert.Equal(t, "line three\n", got[2].Data)

		assert.False(t, fake.logsOpts.Follow)
		assert.True(t, fake.logsOpts.Timestamps)
		assert.Empty(t, fake.logsOpts.Since)
	})

	t.Run("SplitFramesAndSince", func(t *testing.T) {
		fake := &fakeDockerClient{logs: muxLines(t,
			logLine{Stdout, "2024-01-01T00:00:01Z par"},
			logLine{Stdout, "tial\n2024-01-01T00:00:02Z no newline"},
		)}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		since := time.Unix(1704067200, 5)
		chunks, _, err := p.StreamLogs(context.Background(), "c1", true, since)
		require.NoError(t, err)

		var got []string
		for c := range chunks {
			got = append(got, c.Data)
		}
		assert.Equal(t, []string{"partial\n", "no newline"}, got)
		assert.Equal(t, "1704067200.000000005", fake.logsOpts.Since)
		assert.True(t, fake.logsOpts.Follow)
	})
}

func TestDockerProviderGetMetrics(t *testing.T) {
	fake := &fakeDockerClient{stats: `{
		"read": "2024-01-01T00:00:00Z",
		"cpu_stats": {"cpu_usage": {"total_usage": 400000000}, "system_cpu_usage": 2000000000, "online_cpus": 4},
		"precpu_stats": {"cpu_usage": {"total_usage": 200000000}, "system_cpu_usage": 1000000000},
		"memory_stats": {"usage": 314572800, "limit": 536870912, "stats": {"inactive_file": 104857600}},
		"networks": {"eth0": {"rx_bytes": 100, "tx_bytes": 50}, "eth1": {"rx_bytes": 1, "tx_bytes": 2}}
	}`}
	p := newTestDockerProvider(t, fake, DockerConfig{})

	m, err := p.GetMetrics(context.Background(), "c1")
	require.NoError(t, err)
	assert.InDelta(t, 80.0, m.CPUPercent, 1e-9)
	assert.InDelta(t, 200.0, m.MemoryMB, 1e-9)
	assert.InDelta(t, 512.0, m.MemoryLimitMB, 1e-9)
	assert.Equal(t, uint64(101), m.NetworkRxBytes)
	assert.Equal(t, uint64(52), m.NetworkTxBytes)
}

func TestDockerProviderImages(t *testing.T) {
	t.Run("SkipPullWhenPresent", func(t *testing.T) {
		fake := &fakeDockerClient{images: []image.Summary{{ID: "sha256:abc"}}}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		require.NoError(t, p.PullImage(context.Background(), "alpine", false))
		assert.Empty(t, fake.pulled)
	})

	t.Run("ForcePull", func(t *testing.T) {
		fake := &fakeDockerClient{images: []image.Summary{{ID: "sha256:abc"}}, pullBody: `{"status":"Pulling from library/alpine"}` + "\n"}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		require.NoError(t, p.PullImage(context.Background(), "alpine", true))
		assert.Equal(t, []string{"alpine"}, fake.pulled)
	})

	t.Run("PullStreamError", func(t *testing.T) {
		fake := &fakeDockerClient{pullBody: `{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}` + "\n"}
		p := newTestDockerProvider(t, fake, DockerConfig{})

		err := p.PullImage(context.Background(), "alpine:nope", false)
		require.Error(t, err)
		assert.Equal(t, KindImage, KindOf(err))
		assert.Contains(t, err.Error(), "manifest unknown")
	})

	t.Run("ImageExists", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{})
		exists, err := p.ImageExists(context.Background(), "alpine")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestDockerProviderCopy(t *testing.T) {
	t.Run("CopyToContainer", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/ws/main.py", []byte("print('hi')"), 0o644))
		fake := &fakeDockerClient{}
		p := newTestDockerProvider(t, fake, DockerConfig{}, WithDockerFileSystem(fs))

		require.NoError(t, p.CopyToContainer(context.Background(), "c1", "/ws", "/workspace"))
		assert.Equal(t, "/workspace", fake.copiedDst)
		assert.Equal(t, map[string]string{"main.py": "print('hi')"}, readTar(t, fake.copiedTo))
	})

	t.Run("CopyToContainerMissingSource", func(t *testing.T) {
		p := newTestDockerProvider(t, &fakeDockerClient{}, DockerConfig{}, WithDockerFileSystem(afero.NewMemMapFs()))
		err := p.CopyToContainer(context.Background(), "c1", "/missing", "/workspace")
		assert.Equal(t, KindWorkspace, KindOf(err))
	})

	t.Run("CopyFromContainer", func(t *testing.T) {
		data := createTestTar(t, tarEntry{name: "out.txt", content: "result"})
		p := newTestDockerProvider(t, &fakeDockerClient{copyFrom: data}, DockerConfig{})

		rc, err := p.CopyFromContainer(context.Background(), "c1", "/workspace/out.txt")
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"out.txt": "result"}, readTar(t, body))
	})

	t.Run("CopyFromContainerMissing", func(t *testing.T) {
		fake := &fakeDockerClient{copyErr: errdefs.NotFound(errors.New("Could not find the file"))}
		p := newTestDockerProvider(t, fake, DockerConfig{})
		_, err := p.CopyFromContainer(context.Background(), "c1", "/nope")
		assert.Equal(t, KindArtifactNotFound, KindOf(err))
	})
}

func TestPodmanProvider(t *testing.T) {
	p, err := NewPodmanProvider(context.Background(), zaptest.NewLogger(t), DockerConfig{}, WithDockerClient(&fakeDockerClient{}))
	require.NoError(t, err)
	assert.Equal(t, ProviderPodman, p.Name())
	assert.True(t, strings.HasPrefix(p.Info(context.Background()).Endpoint, "unix://"))
}
