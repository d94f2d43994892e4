package models

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/faceroll/pkg/logging"
)

// Materialize makes every manifest file available on disk and returns the
// directory the engines should read from. Local repositories are verified and
// used in place; anything else is copied into dir. Files are handled in
// manifest order and the first failure stops the run.
func Materialize(ctx context.Context, repo Repository, manifest []Artifact, dir string) (string, error) {
	log := logging.Component("models")

	if local, ok := repo.(LocalRepository); ok {
		src := local.LocalDir()
		for _, f := range Files(manifest) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			if _, err := os.Stat(filepath.Join(src, f.Name)); err != nil {
				if os.IsNotExist(err) {
					err = ErrNotFound
				}
				return "", &FetchError{File: f.Name, Source: src, Err: err}
			}
		}
		log.WithField("dir", src).Debug("using local model repository in place")
		return src, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, f := range Files(manifest) {
		target := filepath.Join(dir, f.Name)
		if info, err := os.Stat(target); err == nil && info.Size() > 0 {
			log.Debugf("model %s already cached", f.Name)
			continue
		}

		rc, err := repo.Open(ctx, f.Name)
		if err != nil {
			return "", err
		}
		err = writeAtomic(target, rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to store %s: %w", f.Name, err)
		}
		log.Debugf("fetched model %s", f.Name)
	}
	return dir, nil
}

// Missing lists manifest files absent from dir.
func Missing(dir string, manifest []Artifact) []string {
	var missing []string
	for _, f := range Files(manifest) {
		if _, err := os.Stat(filepath.Join(dir, f.Name)); err != nil {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// writeAtomic writes r to a temp file next to target and renames it into place.
func writeAtomic(target string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}
