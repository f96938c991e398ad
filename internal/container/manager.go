// Package container implements the Container Manager: idempotent
// create/start/stop/prune of session containers with label-based
// reconciliation against the Docker daemon.
package container

import (
	"context"
	"fmt"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lmdudester/clawd/internal/config"
	"github.com/lmdudester/clawd/internal/domain"
)

// Label keys used to tag every session container; the reconciliation
// pass selects on them across restarts.
const (
	LabelSession   = "clawd.session"
	LabelSessionID = "clawd.session.id"
	LabelInstance  = "clawd.instance"
)

// Status is the observed state of a session container.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusNotFound Status = "not_found"
)

// Manager owns the single Docker client through which every container
// operation for every session is routed. The client is held as
// client.APIClient so tests can substitute a fake daemon.
type Manager struct {
	client     client.APIClient
	docker     config.DockerConfig
	session    config.SessionConfig
	instanceID string
}

// New builds a Manager from a Docker daemon connection and the
// process's Docker/session configuration.
func New(dockerCfg config.DockerConfig, sessionCfg config.SessionConfig, instanceID string) (*Manager, error) {
	c, err := client.NewClientWithOpts(
		client.WithHost(dockerCfg.Host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("container.New: %w", err)
	}

	return &Manager{client: c, docker: dockerCfg, session: sessionCfg, instanceID: instanceID}, nil
}

// Close releases the underlying Docker client.
func (m *Manager) Close() error {
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("container.Manager.Close: %w", err)
	}
	return nil
}

// networkName is the per-instance bridge network session containers
// attach to.
func (m *Manager) networkName() string {
	return "clawd-network-" + m.instanceID
}

func containerName(instanceID string, sessionID uuid.UUID) string {
	return fmt.Sprintf("clawd-session-%s-%s", instanceID, sessionID)
}

// EnsureNetwork creates the instance's bridge network if it doesn't
// already exist. Idempotent.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	name := m.networkName()

	_, err := m.client.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("container.Manager.EnsureNetwork: inspect: %w", err)
	}

	_, err = m.client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return fmt.Errorf("container.Manager.EnsureNetwork: create: %w", err)
	}

	log.Info().Str("network", name).Msg("container: created session bridge network")
	return nil
}

// CreateOptions carries everything CreateSessionContainer needs to start
// a session's container: the non-secret env vars plus the
// values that must be written to tempfiles and bind-mounted under
// /run/secrets rather than passed as env vars.
type CreateOptions struct {
	SessionID      uuid.UUID
	PermissionMode domain.PermissionMode
	RepoURL        string
	Branch         string
	Model          string
	GitUserName    string
	GitUserEmail   string
	DockerAccess   bool
	IsManager      bool
	MasterHTTPURL  string
	CredentialsPath string // host path to {claudeDir}/.credentials.json, empty if unknown

	// Secrets, written to tempfiles and bind-mounted read-only.
	SessionToken         string
	MasterWSURL          string
	GithubToken          string
	ClaudeCodeOAuthToken string
	ManagerAPIToken      string
}

// CreateSessionContainer creates (but does not start) a session
// container. Returns the container id.
func (m *Manager) CreateSessionContainer(ctx context.Context, opts CreateOptions) (string, error) {
	env := []string{
		"SESSION_ID=" + opts.SessionID.String(),
		"PERMISSION_MODE=" + string(opts.PermissionMode),
		"GIT_REPO_URL=" + opts.RepoURL,
		"GIT_BRANCH=" + opts.Branch,
		"ANTHROPIC_MODEL=" + opts.Model,
	}
	if opts.GitUserName != "" {
		env = append(env, "GIT_USER_NAME="+opts.GitUserName)
	}
	if opts.GitUserEmail != "" {
		env = append(env, "GIT_USER_EMAIL="+opts.GitUserEmail)
	}
	if opts.DockerAccess {
		env = append(env, "DOCKER_HOST=unix:///var/run/docker.sock")
	}
	if opts.IsManager {
		env = append(env, "MANAGER_MODE=true", "MASTER_HTTP_URL="+opts.MasterHTTPURL)
	}

	secretsDir, secretMounts, err := writeSecretFiles(opts.SessionID.String(), map[string]string{
		"SESSION_TOKEN":           opts.SessionToken,
		"MASTER_WS_URL":           opts.MasterWSURL,
		"GITHUB_TOKEN":            opts.GithubToken,
		"CLAUDE_CODE_OAUTH_TOKEN": opts.ClaudeCodeOAuthToken,
		"MANAGER_API_TOKEN":       opts.ManagerAPIToken,
	}, m.docker.HostDrivePrefix)
	if err != nil {
		return "", fmt.Errorf("container.Manager.CreateSessionContainer: %w", err)
	}

	mounts := secretMounts
	if opts.CredentialsPath != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   opts.CredentialsPath,
			Target:   "/home/node/.claude/.credentials.json",
			ReadOnly: true,
		})
	}
	if opts.DockerAccess {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: "/var/run/docker.sock",
			Target: "/var/run/docker.sock",
		})
	}

	memLimit, err := parseMemoryLimit(m.session.MemoryLimit)
	if err != nil {
		removeSecretFiles(secretsDir)
		return "", fmt.Errorf("container.Manager.CreateSessionContainer: %w", err)
	}

	labels := map[string]string{
		LabelSession:   "true",
		LabelSessionID: opts.SessionID.String(),
		LabelInstance:  m.instanceID,
	}

	cfg := &container.Config{
		Image:  m.docker.SessionImage,
		Env:    env,
		Labels: labels,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:     memLimit,
			CPUShares:  m.session.CPUShares,
			PidsLimit:  &m.session.PidsLimit,
		},
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(m.networkName()),
	}

	name := containerName(m.instanceID, opts.SessionID)

	resp, err := m.client.ContainerCreate(ctx, cfg, hostCfg, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		removeSecretFiles(secretsDir)
		return "", fmt.Errorf("container.Manager.CreateSessionContainer: %w", err)
	}

	// The bind sources must outlive container start; StopAndRemove and
	// orphan pruning clean the tempfiles up with the container.
	return resp.ID, nil
}

// StartContainer starts a created container.
func (m *Manager) StartContainer(ctx context.Context, containerID string) error {
	if err := m.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container.Manager.StartContainer: %w", err)
	}
	return nil
}

// StopAndRemove stops a session container with a 10s grace period then
// force-removes it. The session's secret tempfiles go
// with it.
func (m *Manager) StopAndRemove(ctx context.Context, containerID string) error {
	sessionID := ""
	if info, err := m.client.ContainerInspect(ctx, containerID); err == nil && info.Config != nil {
		sessionID = info.Config.Labels[LabelSessionID]
	}

	timeout := 10
	if err := m.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		log.Warn().Err(err).Str("containerId", containerID).Msg("container: stop failed, forcing removal")
	}

	if err := m.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("container.Manager.StopAndRemove: %w", err)
	}

	if sessionID != "" {
		removeSecretFiles(secretsDir(sessionID))
	}
	return nil
}

// GetStatus reports the observed state of a session container.
func (m *Manager) GetStatus(ctx context.Context, containerID string) (Status, error) {
	info, err := m.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return StatusNotFound, nil
		}
		return "", fmt.Errorf("container.Manager.GetStatus: %w", err)
	}

	if info.State != nil && info.State.Running {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// ListSessionContainers lists every container labeled as belonging to
// this instance, used by ReconcileOnStartup.
func (m *Manager) ListSessionContainers(ctx context.Context) ([]container.Summary, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", LabelSession+"=true")
	filterArgs.Add("label", LabelInstance+"="+m.instanceID)

	containers, err := m.client.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("container.Manager.ListSessionContainers: %w", err)
	}
	return containers, nil
}

// sessionIDLabel extracts the clawd.session.id label from a container
// summary, or "" if absent.
func sessionIDLabel(c container.Summary) string {
	return c.Labels[LabelSessionID]
}

const orphanStopGrace = 5 * time.Second
