package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"

	"github.com/google/uuid"

	"github.com/Evaneos/ssh-action/internal/errors"
	"github.com/Evaneos/ssh-action/internal/executor"
	"github.com/Evaneos/ssh-action/internal/fleet"
	"github.com/Evaneos/ssh-action/internal/logging"
	"github.com/Evaneos/ssh-action/internal/stats"
)

const (
	// RemoteDir holds the uploaded script on every host
	RemoteDir = "/tmp"

	// MarkerPath is the file each host's identity is written to before the run
	MarkerPath = "/tmp/ssh_action__host"

	scriptMode os.FileMode = 0o755
)

// Artifact describes the files a run leaves on its hosts
type Artifact struct {
	ScriptPath string
	MarkerPath string
	Hosts      []string // hosts distribution was attempted on
}

// NewArtifact names a fresh script path, shared by every host of the run
func NewArtifact(hosts []string) *Artifact {
	return &Artifact{
		ScriptPath: path.Join(RemoteDir, uuid.NewString()+".sh"),
		MarkerPath: MarkerPath,
		Hosts:      append([]string(nil), hosts...),
	}
}

// Distributor uploads the prepared script to every host
type Distributor struct {
	pool    *executor.Pool
	logger  *logging.Logger
	tracker *stats.Tracker
}

// NewDistributor creates a distributor; tracker may be nil
func NewDistributor(pool *executor.Pool, logger *logging.Logger, tracker *stats.Tracker) *Distributor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Distributor{pool: pool, logger: logger, tracker: tracker}
}

// Distribute uploads localPath to every host and makes it executable. The
// artifact is returned whenever uploading started, even on error, so that
// it can be cleaned up.
func (d *Distributor) Distribute(ctx context.Context, f *fleet.Fleet, localPath string) (*Artifact, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read command file: %w", err)
	}

	artifact := NewArtifact(f.Hosts())
	d.logger.Debug("distributing script", "path", artifact.ScriptPath, "bytes", len(content))

	outcome := d.pool.Run(ctx, PhaseDistribute, f.Hosts(), func(ctx context.Context, i int, _ string) (int, error) {
		session, err := f.Session(i)
		if err != nil {
			return -1, err
		}
		if err := session.Upload(ctx, bytes.NewReader(content), artifact.ScriptPath); err != nil {
			return -1, err
		}
		if d.tracker != nil {
			d.tracker.AddBytes(int64(len(content)))
		}
		if err := session.Chmod(ctx, artifact.ScriptPath, scriptMode); err != nil {
			return -1, err
		}
		return 0, nil
	})

	failures := outcome.Failures()
	for _, failure := range failures {
		d.logger.Error(fmt.Sprintf("Failed to upload script to %q: %s", failure.Host, failureMessage(failure)),
			"host", failure.Host,
		)
	}
	return artifact, errors.NewPhaseError(errors.ExecutionKind, PhaseDistribute, failures)
}
