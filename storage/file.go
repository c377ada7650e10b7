package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// writeFile copies r into a temp file in the same directory as destPath
// and renames it on success. On any error the temp file is removed.
func writeFile(destPath string, r io.Reader, verifier *checksumVerifier, logger *slog.Logger) error {
	file, err := os.CreateTemp(filepath.Dir(destPath), ".bunny-dl-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	var successful bool
	defer func() {
		if err := file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Error("defer closing temp file", "error", err)
		}
		if !successful {
			if err := os.Remove(file.Name()); err != nil {
				logger.Error("failed to remove temp file", "error", err)
			}
		}
	}()

	var w io.Writer = file
	if verifier != nil {
		w = io.MultiWriter(file, verifier)
	}

	if _, err := io.Copy(w, r); err != nil {
		return err
	}

	if err := verifier.verify(); err != nil {
		return err
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(file.Name(), destPath); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	successful = true

	return nil
}
