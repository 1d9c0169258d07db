package sandbox

import (
	"fmt"
	"sort"
	"strings"
)

// IsValidEnvVarName checks if an environment variable name is valid for POSIX.
// Valid names start with a letter or underscore and contain only alphanumerics and underscores.
func IsValidEnvVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		isValid := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || (i > 0 && c >= '0' && c <= '9')
		if !isValid {
			return false
		}
	}
	return true
}

// EnvList converts env into sorted KEY=VALUE pairs, rejecting invalid names.
func EnvList(env map[string]string) ([]string, error) {
	keys := make([]string, 0, len(env))
	for k := range env {
		if !IsValidEnvVarName(k) {
			return nil, InvalidRequest("env", fmt.Sprintf("invalid environment variable name %q", k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out, nil
}

// ParseVolumeSpec parses "host:container[:ro|:rw]" or "path[:ro|:rw]" (the
// container path then mirrors the host path).
func ParseVolumeSpec(spec string) (VolumeMount, error) {
	var m VolumeMount

	rest := spec
	switch {
	case strings.HasSuffix(rest, ":ro"):
		rest = strings.TrimSuffix(rest, ":ro")
		m.ReadOnly = true
	case strings.HasSuffix(rest, ":rw"):
		rest = strings.TrimSuffix(rest, ":rw")
	}

	host, ctr, found := strings.Cut(rest, ":")
	if !found {
		ctr = host
	}
	if host == "" || ctr == "" {
		return VolumeMount{}, InvalidRequest("volume", fmt.Sprintf("invalid volume spec %q", spec))
	}
	m.HostPath = host
	m.ContainerPath = ctr
	return m, nil
}
