package execution

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/isdmx/agentbox/sandbox"
)

// fakeProvider runs make-believe containers. A started container emits its
// lines and its primary process exits after runFor, or never when runFor is
// negative.
type fakeProvider struct {
	mu sync.Mutex

	name       string
	lines      []sandbox.OutputChunk
	runFor     time.Duration
	exitCode   int
	oom        bool
	files      map[string]string
	hasImage   bool
	createErrs []error // returned by successive CreateContainer calls
	startErr   error
	// leakOnCreateErr creates a container even when create fails.
	leakOnCreateErr bool
	// createBlocked, when set, makes CreateContainer announce itself on the
	// channel and then wait for its context to end.
	createBlocked chan struct{}

	nextID     int
	containers map[string]*fakeContainer
	configs    []sandbox.ContainerConfig
	creates    int
	pulls      []string
	stops      []string
	removes    []string
}

type fakeContainer struct {
	info    sandbox.ContainerInfo
	started time.Time
	exited  chan struct{}
	once    sync.Once
}

var _ sandbox.Provider = (*fakeProvider)(nil)

func newFakeProvider(lines ...string) *fakeProvider {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{
		name:       sandbox.ProviderLocal,
		hasImage:   true,
		containers: make(map[string]*fakeContainer),
	}
	for i, l := range lines {
		p.lines = append(p.lines, sandbox.OutputChunk{
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Stream:    sandbox.Stdout,
			Data:      l + "\n",
		})
	}
	return p
}

func (p *fakeProvider) get(id string) (*fakeContainer, error) {
	c, ok := p.containers[id]
	if !ok {
		return nil, sandbox.NewError(sandbox.KindContainerNotFound, "get", "no such container "+id, nil)
	}
	return c, nil
}

func (c *fakeContainer) exit(code int, status sandbox.ContainerStatus, msg string) {
	c.once.Do(func() {
		c.info.Status = status
		c.info.Error = msg
		c.info.ExitCode = &code
		close(c.exited)
	})
}

func (p *fakeProvider) Name() string                     { return p.name }
func (p *fakeProvider) IsAvailable(context.Context) bool { return true }
func (p *fakeProvider) Info(context.Context) sandbox.ProviderInfo {
	return sandbox.ProviderInfo{Name: p.name, Kind: sandbox.ProviderKindLocal, Available: true, Status: sandbox.ProviderStatusAvailable}
}

func (p *fakeProvider) CreateContainer(ctx context.Context, cfg sandbox.ContainerConfig) (sandbox.ContainerInfo, error) {
	if p.createBlocked != nil {
		p.createBlocked <- struct{}{}
		<-ctx.Done()
		return sandbox.ContainerInfo{}, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.creates++
	p.configs = append(p.configs, cfg)

	var err error
	if len(p.createErrs) > 0 {
		err, p.createErrs = p.createErrs[0], p.createErrs[1:]
	}
	if err != nil && !p.leakOnCreateErr {
		return sandbox.ContainerInfo{}, err
	}

	p.nextID++
	c := &fakeContainer{
		info: sandbox.ContainerInfo{
			ID:     fmt.Sprintf("c%d", p.nextID),
			Name:   cfg.Name,
			Image:  cfg.Image,
			Status: sandbox.StatusCreated,
			Labels: cfg.Labels,
		},
		exited: make(chan struct{}),
	}
	p.containers[c.info.ID] = c
	if err != nil {
		return sandbox.ContainerInfo{}, err
	}
	return c.info, nil
}

func (p *fakeProvider) StartContainer(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startErr != nil {
		return p.startErr
	}
	c, err := p.get(id)
	if err != nil {
		return err
	}
	c.info.Status = sandbox.StatusRunning
	c.started = time.Now()

	if p.runFor >= 0 {
		runFor, code, oom := p.runFor, p.exitCode, p.oom
		go func() {
			select {
			case <-time.After(runFor):
			case <-c.exited:
				return
			}
			p.mu.Lock()
			defer p.mu.Unlock()
			if oom {
				c.exit(137, sandbox.StatusError, "out of memory")
				return
			}
			c.exit(code, sandbox.StatusStopped, "")
		}()
	}
	return nil
}

func (p *fakeProvider) StopContainer(_ context.Context, id string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stops = append(p.stops, id)
	c, err := p.get(id)
	if err != nil {
		return err
	}
	c.exit(137, sandbox.StatusStopped, "")
	return nil
}

func (p *fakeProvider) RemoveContainer(_ context.Context, id string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.get(id)
	if err != nil {
		return err
	}
	c.exit(137, sandbox.StatusStopped, "")
	delete(p.containers, id)
	p.removes = append(p.removes, id)
	return nil
}

func (p *fakeProvider) GetContainerInfo(_ context.Context, id string) (sandbox.ContainerInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.get(id)
	if err != nil {
		return sandbox.ContainerInfo{}, err
	}
	return c.info, nil
}

func (p *fakeProvider) ListContainers(context.Context, bool) ([]sandbox.ContainerInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]sandbox.ContainerInfo, 0, len(p.containers))
	for _, c := range p.containers {
		out = append(out, c.info)
	}
	return out, nil
}

func (p *fakeProvider) ExecCommand(_ context.Context, id string, command []string, _ map[string]string) (sandbox.ExecResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.get(id); err != nil {
		return sandbox.ExecResult{}, err
	}
	return sandbox.ExecResult{Stdout: strings.Join(command, " ")}, nil
}

func (p *fakeProvider) StreamLogs(ctx context.Context, id string, follow bool, since time.Time) (<-chan sandbox.OutputChunk, <-chan error, error) {
	p.mu.Lock()
	c, err := p.get(id)
	lines := slices.Clone(p.lines)
	p.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	chunks := make(chan sandbox.OutputChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(chunks)
		for _, l := range lines {
			if l.Timestamp.Before(since) {
				continue
			}
			select {
			case chunks <- l:
			case <-ctx.Done():
				return
			}
		}
		if follow {
			select {
			case <-c.exited:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, errs, nil
}

func (p *fakeProvider) CopyToContainer(context.Context, string, string, string) error {
	return sandbox.NotSupported(p.name, "copy_to_container")
}

// CopyFromContainer archives every file under srcPath with names relative to
// the parent of srcPath.
func (p *fakeProvider) CopyFromContainer(_ context.Context, id, srcPath string) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.get(id); err != nil {
		return nil, err
	}

	parent := path.Dir(srcPath)
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	found := false
	for name, content := range p.files {
		if name != srcPath && !strings.HasPrefix(name, srcPath+"/") {
			continue
		}
		found = true
		rel := strings.TrimPrefix(name, parent+"/")
		if err := tw.WriteHeader(&tar.Header{Name: rel, Mode: 0o644, Typeflag: tar.TypeReg, Size: int64(len(content))}); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, sandbox.NewError(sandbox.KindArtifactNotFound, "copy_from_container", srcPath, nil)
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return io.NopCloser(&buf), nil
}

func (p *fakeProvider) GetMetrics(_ context.Context, id string) (sandbox.ContainerMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.get(id); err != nil {
		return sandbox.ContainerMetrics{}, err
	}
	return sandbox.ContainerMetrics{MemoryMB: 12, MemoryLimitMB: 512, CPUPercent: 3.5, SampledAt: time.Now()}, nil
}

func (p *fakeProvider) PullImage(_ context.Context, image string, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pulls = append(p.pulls, image)
	p.hasImage = true
	return nil
}

func (p *fakeProvider) ImageExists(context.Context, string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasImage, nil
}

func (p *fakeProvider) liveContainers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.containers)
}

func (p *fakeProvider) removed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.removes)
}

// registry resolves names to providers for tests.
type registry map[string]sandbox.Provider

func (r registry) Get(name string) (sandbox.Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, sandbox.ProviderNotFound(name)
	}
	return p, nil
}
