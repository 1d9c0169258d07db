package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// chunkWriter receives one demultiplexed stream and emits an OutputChunk per
// line. The engine prefixes each line with an RFC3339Nano timestamp because
// logs are requested with Timestamps set.
type chunkWriter struct {
	ctx     context.Context
	stream  StreamType
	out     chan<- OutputChunk
	partial []byte
}

func newChunkWriter(ctx context.Context, stream StreamType, out chan<- OutputChunk) *chunkWriter {
	return &chunkWriter{ctx: ctx, stream: stream, out: out}
}

func (w *chunkWriter) Write(b []byte) (int, error) {
	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := string(w.partial[:i+1])
		w.partial = w.partial[i+1:]
		if err := w.emit(line); err != nil {
			return 0, err
		}
	}
	return len(b), nil
}

// Flush emits a trailing line that had no newline.
func (w *chunkWriter) Flush() {
	if len(w.partial) == 0 {
		return
	}
	line := string(w.partial)
	w.partial = nil
	_ = w.emit(line)
}

func (w *chunkWriter) emit(line string) error {
	ts, data := splitTimestamp(line)
	select {
	case w.out <- OutputChunk{Timestamp: ts, Stream: w.stream, Data: data}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func splitTimestamp(line string) (time.Time, string) {
	if prefix, rest, ok := strings.Cut(line, " "); ok {
		if ts, err := time.Parse(time.RFC3339Nano, prefix); err == nil {
			return ts.UTC(), rest
		}
	}
	return time.Now().UTC(), line
}

// dockerStats is the part of the engine stats document we read.
type dockerStats struct {
	Read        time.Time      `json:"read"`
	CPUStats    dockerCPUStats `json:"cpu_stats"`
	PreCPUStats dockerCPUStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
	Networks map[string]struct {
		RxBytes uint64 `json:"rx_bytes"`
		TxBytes uint64 `json:"tx_bytes"`
	} `json:"networks"`
}

type dockerCPUStats struct {
	CPUUsage struct {
		TotalUsage  uint64   `json:"total_usage"`
		PercpuUsage []uint64 `json:"percpu_usage"`
	} `json:"cpu_usage"`
	SystemUsage uint64 `json:"system_cpu_usage"`
	OnlineCPUs  uint32 `json:"online_cpus"`
}

func decodeDockerStats(r io.Reader) (dockerStats, error) {
	var s dockerStats
	err := json.NewDecoder(r).Decode(&s)
	return s, err
}

// metrics converts a stats sample using the same CPU formula as `docker stats`.
func (s dockerStats) metrics() ContainerMetrics {
	var cpuPercent float64
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	onlineCPUs := float64(s.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		cpuPercent = cpuDelta / systemDelta * onlineCPUs * 100
	}

	// Page cache is reclaimable and excluded, as the docker CLI does.
	used := s.MemoryStats.Usage
	cache := s.MemoryStats.Stats["inactive_file"]
	if cache == 0 {
		cache = s.MemoryStats.Stats["cache"]
	}
	if cache < used {
		used -= cache
	}

	m := ContainerMetrics{
		MemoryMB:      float64(used) / (1 << 20),
		MemoryLimitMB: float64(s.MemoryStats.Limit) / (1 << 20),
		CPUPercent:    cpuPercent,
		SampledAt:     s.Read.UTC(),
	}
	for _, n := range s.Networks {
		m.NetworkRxBytes += n.RxBytes
		m.NetworkTxBytes += n.TxBytes
	}
	if m.SampledAt.IsZero() {
		m.SampledAt = time.Now().UTC()
	}
	return m
}
