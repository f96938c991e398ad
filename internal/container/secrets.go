package container

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/docker/docker/api/types/mount"
)

// secretsRoot is where per-session secret tempfiles are written before
// being bind-mounted read-only into the session container. Never an env
// var: no secret names may appear in the container's env, which keeps
// the policy auditable with a single docker inspect.
const secretsRoot = "/tmp/clawd-secrets"

// secretsDir is the per-session secret tempfile directory.
func secretsDir(sessionID string) string {
	return filepath.Join(secretsRoot, sessionID)
}

// writeSecretFiles writes each secret to its own file under
// secretsRoot/sessionID and returns the read-only bind mounts that
// expose them at /run/secrets/<name> inside the container. hostDrivePrefix
// translates the host-visible path when the Docker daemon runs outside
// this process's own filesystem namespace (Docker Desktop on Windows).
func writeSecretFiles(sessionID string, secrets map[string]string, hostDrivePrefix string) (string, []mount.Mount, error) {
	dir := secretsDir(sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", nil, fmt.Errorf("container.writeSecretFiles: %w", err)
	}

	mounts := make([]mount.Mount, 0, len(secrets))
	for name, value := range secrets {
		if value == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(value), 0o400); err != nil {
			removeSecretFiles(dir)
			return "", nil, fmt.Errorf("container.writeSecretFiles: write %s: %w", name, err)
		}
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   hostDrivePrefix + path,
			Target:   "/run/secrets/" + name,
			ReadOnly: true,
		})
	}

	return dir, mounts, nil
}

// removeSecretFiles deletes the per-session secret tempfile directory.
// Called when writing the files or creating the container fails, from
// StopAndRemove, and when pruning orphaned containers; the files stay in
// place for as long as the container exists.
func removeSecretFiles(dir string) {
	_ = os.RemoveAll(dir)
}
