package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hypertube/hypertube/internal/logctx"
)

// RemoveDownloadData deletes everything the engine wrote for contentID
// under rootDir. A missing directory is not an error: cancelling before
// any bytes arrived is the common case.
func RemoveDownloadData(ctx context.Context, rootDir, contentID string) error {
	logger := logctx.LoggerFromContext(ctx)

	if rootDir == "" || contentID == "" {
		return fmt.Errorf("refusing to remove download data: empty path component")
	}

	saveDir := filepath.Join(rootDir, contentID)

	if _, err := os.Stat(saveDir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to stat download dir: %w", err)
	}

	if err := os.RemoveAll(saveDir); err != nil {
		logger.Error("failed to remove download data", "dir", saveDir, "err", err)

		return err
	}

	logger.Info("removed download data", "dir", saveDir)

	return nil
}
