package container

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/rs/zerolog/log"
)

// ReconcileResult reports what ReconcileOnStartup did, so the Session
// Manager can apply the missing-container-means-error half of the
// reconciliation contract to the sessions it restored from the
// snapshot.
type ReconcileResult struct {
	// OrphansRemoved are container ids that were labeled for this
	// instance but not present in the restored session snapshot; they
	// were stopped and removed.
	OrphansRemoved []string
	// MissingSessionIDs are session ids present in the snapshot whose
	// labeled container no longer exists on the daemon.
	MissingSessionIDs []string
}

// ReconcileOnStartup ensures the bridge network exists, then reconciles
// the daemon's labeled containers against knownSessionIDs (the set of
// session ids restored from the Session Store snapshot): containers not
// in that set are orphans and are stopped/removed; snapshot sessions
// with no matching labeled container at all are reported as missing so
// the caller can transition them to domain.StatusError. A labeled
// container that exists but is not running counts as present: its
// session is not reported as missing.
func (m *Manager) ReconcileOnStartup(ctx context.Context, knownSessionIDs map[string]bool) (*ReconcileResult, error) {
	if err := m.EnsureNetwork(ctx); err != nil {
		return nil, fmt.Errorf("container.Manager.ReconcileOnStartup: %w", err)
	}

	containers, err := m.ListSessionContainers(ctx)
	if err != nil {
		return nil, fmt.Errorf("container.Manager.ReconcileOnStartup: %w", err)
	}

	result := &ReconcileResult{}
	seen := make(map[string]bool, len(containers))

	for _, c := range containers {
		sessionID := sessionIDLabel(c)
		seen[sessionID] = true

		if knownSessionIDs[sessionID] {
			continue
		}

		log.Warn().Str("sessionId", sessionID).Str("containerId", c.ID).Msg("container: removing orphaned session container")
		timeout := int(orphanStopGrace.Seconds())
		if err := m.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			log.Warn().Err(err).Str("containerId", c.ID).Msg("container: orphan stop failed, forcing removal")
		}
		if err := m.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Error().Err(err).Str("containerId", c.ID).Msg("container: failed to remove orphaned container")
			continue
		}
		if sessionID != "" {
			removeSecretFiles(secretsDir(sessionID))
		}
		result.OrphansRemoved = append(result.OrphansRemoved, c.ID)
	}

	for sessionID := range knownSessionIDs {
		if !seen[sessionID] {
			result.MissingSessionIDs = append(result.MissingSessionIDs, sessionID)
		}
	}

	return result, nil
}
