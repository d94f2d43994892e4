package models

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/faceroll/pkg/logging"
	"github.com/schollz/progressbar/v3"
)

var downloadClient = &http.Client{Timeout: 10 * time.Minute}

// Download fetches every manifest file from its upstream URL into dir,
// decompressing bzip2 sources. Files already present are skipped. Progress is
// written to progress when it is non-nil.
func Download(ctx context.Context, dir string, manifest []Artifact, progress io.Writer) error {
	log := logging.Component("models")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, f := range Files(manifest) {
		target := filepath.Join(dir, f.Name)
		if _, err := os.Stat(target); err == nil {
			log.Infof("Model %s already exists, skipping", f.Name)
			continue
		}
		if f.URL == "" {
			return &FetchError{File: f.Name, Source: "manifest", Err: ErrNotFound}
		}

		log.Infof("Downloading %s...", f.Name)
		if err := downloadFile(ctx, f, target, progress); err != nil {
			return fmt.Errorf("failed to download %s: %w", f.Name, err)
		}
	}

	log.Info("All models downloaded")
	return nil
}

func downloadFile(ctx context.Context, f File, target string, progress io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return &FetchError{File: f.Name, Source: f.URL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &FetchError{File: f.Name, Source: f.URL, StatusCode: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription(f.Name),
			progressbar.OptionSetWriter(progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(progress) }),
		)
		body = io.TeeReader(resp.Body, bar)
	}
	if f.Bzip2 {
		body = bzip2.NewReader(body)
	}

	return writeAtomic(target, body)
}
