package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	containertypes "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultImage is the execution image used when none is configured.
const DefaultImage = "node:20-alpine"

// workspaceMountPath is where the plugin workspace appears inside a unit.
const workspaceMountPath = "/workspace"

// DockerIsolator implements Isolator on top of the Docker API. Containers
// are created with resource limits, a read-only root filesystem and the
// plugin workspace as the only writable mount.
type DockerIsolator struct {
	client client.APIClient
	logger *logrus.Logger
	image  string
}

// NewDockerIsolator creates an isolator backed by the given Docker client.
// A nil client connects from the environment.
func NewDockerIsolator(apiClient client.APIClient, options ...func(*DockerIsolator)) (*DockerIsolator, error) {
	if apiClient == nil {
		defaultCli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Docker client")
		}
		apiClient = defaultCli
	}
	iso := &DockerIsolator{
		client: apiClient,
		logger: logrus.New(),
		image:  DefaultImage,
	}
	for _, option := range options {
		option(iso)
	}
	return iso, nil
}

// WithDockerLogger sets the logger
func WithDockerLogger(logger *logrus.Logger) func(*DockerIsolator) {
	return func(d *DockerIsolator) {
		d.logger = logger
	}
}

// WithDefaultImage sets the fallback execution image
func WithDefaultImage(image string) func(*DockerIsolator) {
	return func(d *DockerIsolator) {
		if image != "" {
			d.image = image
		}
	}
}

// Provision creates the container with the spec's limits applied.
func (d *DockerIsolator) Provision(ctx context.Context, spec Spec) (string, error) {
	image := spec.Image
	if image == "" {
		image = d.image
	}

	networkMode := containertypes.NetworkMode("none")
	if spec.NetworkEnabled {
		networkMode = containertypes.NetworkMode("bridge")
	}

	exposed := nat.PortSet{}
	if spec.NetworkEnabled {
		for _, p := range spec.AllowedPorts {
			port, err := nat.NewPort("tcp", fmt.Sprintf("%d", p))
			if err != nil {
				return "", errors.Wrapf(err, "invalid allowed port %d", p)
			}
			exposed[port] = struct{}{}
		}
	}

	var pidsLimit *int64
	if spec.PidsLimit > 0 {
		limit := spec.PidsLimit
		pidsLimit = &limit
	}

	config := &containertypes.Config{
		Image:        image,
		Cmd:          []string{"sleep", "infinity"},
		Env:          spec.Env,
		WorkingDir:   workspaceMountPath,
		ExposedPorts: exposed,
		Labels: map[string]string{
			"com.pluginsentinel.sandbox": spec.Name,
		},
	}
	hostConfig := &containertypes.HostConfig{
		NetworkMode:    networkMode,
		ReadonlyRootfs: true,
		Binds:          []string{spec.WorkspaceDir + ":" + workspaceMountPath},
		Resources: containertypes.Resources{
			Memory:    spec.MemoryBytes,
			NanoCPUs:  spec.NanoCPUs,
			PidsLimit: pidsLimit,
		},
		Tmpfs: map[string]string{"/tmp": "rw,noexec,size=32m"},
	}

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, &network.NetworkingConfig{}, nil, spec.Name)
	if err != nil {
		return "", errors.Wrap(err, "failed to create isolation container")
	}

	d.logger.WithFields(logrus.Fields{
		"container_id": resp.ID,
		"name":         spec.Name,
		"network":      string(networkMode),
	}).Info("Provisioned isolation container")

	return resp.ID, nil
}

// Start launches the provisioned container.
func (d *DockerIsolator) Start(ctx context.Context, id string) error {
	if err := d.client.ContainerStart(ctx, id, containertypes.StartOptions{}); err != nil {
		return errors.Wrap(err, "failed to start isolation container")
	}
	return nil
}

// Exec runs code inside the container via a one-off exec, splitting the
// multiplexed output stream and collecting the exit code.
func (d *DockerIsolator) Exec(ctx context.Context, id string, req ExecRequest) (*ExecResult, error) {
	env := append([]string{"PLUGIN_CORRELATION_ID=" + req.CorrelationID}, req.Env...)
	execConfig := containertypes.ExecOptions{
		Cmd:          []string{"node", "-e", req.Code},
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	}

	createResp, err := d.client.ContainerExecCreate(ctx, id, execConfig)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, ErrUnitNotFound
		}
		return nil, errors.Wrap(err, "failed to create exec")
	}

	attachResp, err := d.client.ContainerExecAttach(ctx, createResp.ID, containertypes.ExecStartOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to attach exec")
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		return nil, ErrExecTimeout
	case copyErr := <-copyDone:
		if copyErr != nil {
			return nil, errors.Wrap(copyErr, "failed to read exec output")
		}
	}

	inspect, err := d.client.ContainerExecInspect(ctx, createResp.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect exec")
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Stats samples the container's resource usage once.
func (d *DockerIsolator) Stats(ctx context.Context, id string) (*Stats, error) {
	statsResp, err := d.client.ContainerStats(ctx, id, false)
	if err != nil {
		if client.IsErrNotFound(err) || strings.Contains(err.Error(), "No such container") {
			return nil, ErrUnitNotFound
		}
		return nil, errors.Wrap(err, "failed to get container stats")
	}
	defer statsResp.Body.Close()

	var raw containertypes.Stats
	if err := json.NewDecoder(statsResp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode stats")
	}

	stats := &Stats{
		MemoryBytes: int64(raw.MemoryStats.Usage),
		Processes:   int64(raw.PidsStats.Current),
		SampledAt:   raw.Read,
	}
	if raw.CPUStats.SystemUsage > 0 && raw.PreCPUStats.SystemUsage > 0 && raw.CPUStats.OnlineCPUs > 0 {
		cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage - raw.PreCPUStats.CPUUsage.TotalUsage)
		systemDelta := float64(raw.CPUStats.SystemUsage - raw.PreCPUStats.SystemUsage)
		if systemDelta > 0 {
			stats.CPUPercent = (cpuDelta / systemDelta) * float64(raw.CPUStats.OnlineCPUs) * 100.0
		}
	}
	for _, bio := range raw.BlkioStats.IoServiceBytesRecursive {
		switch strings.ToLower(bio.Op) {
		case "read":
			stats.DiskReadBytes += int64(bio.Value)
		case "write":
			stats.DiskWriteBytes += int64(bio.Value)
		}
	}
	for _, netStat := range raw.Networks {
		stats.NetworkRx += int64(netStat.RxBytes)
		stats.NetworkTx += int64(netStat.TxBytes)
	}
	return stats, nil
}

// Alive reports whether the container is running.
func (d *DockerIsolator) Alive(ctx context.Context, id string) bool {
	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// Stop terminates the container, waiting out the grace period before the
// daemon kills it.
func (d *DockerIsolator) Stop(ctx context.Context, id string, grace time.Duration) error {
	seconds := int(grace / time.Second)
	err := d.client.ContainerStop(ctx, id, containertypes.StopOptions{Timeout: &seconds})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrap(err, "failed to stop isolation container")
	}
	return nil
}

// Remove destroys the container.
func (d *DockerIsolator) Remove(ctx context.Context, id string) error {
	err := d.client.ContainerRemove(ctx, id, containertypes.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !client.IsErrNotFound(err) {
		return errors.Wrap(err, "failed to remove isolation container")
	}
	return nil
}
