// Package sandbox provides the execution backends for agent workloads.
//
// The sandbox package defines the Provider contract every backend satisfies
// (container lifecycle, exec, log streaming, file transfer, metrics and image
// management), the typed error taxonomy shared by all layers, and the Manager
// registry that maps provider names to instances.
//
// DockerProvider drives a local container engine through the Docker Engine
// API; PodmanProvider reuses it against the Podman compatible socket. Hosted
// backends (E2B, Modal, Daytona, Fly, Kubernetes, Firecracker) are registered
// as StubProvider values that answer KindNotSupported until a transport
// exists. Containers created here are labelled as managed by the current
// process so that containers orphaned by a crash are reclaimed on the next
// start.
//
// Usage:
//
//	manager := sandbox.NewManagerFromConfig(ctx, logger, cfg)
//	p, err := manager.Get("local")
//	info, err := p.CreateContainer(ctx, sandbox.ContainerConfig{
//	    Image:    "ubuntu:22.04",
//	    CPUCores: 1,
//	    MemoryMB: 512,
//	})
//	err = p.StartContainer(ctx, info.ID)
package sandbox
