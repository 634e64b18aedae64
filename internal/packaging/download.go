// Package packaging drives the UUP dump conversion package: it downloads the
// package for a selected build, configures it and runs the bundled script.
package packaging

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cochaviz/uupiso/internal/catalog"
	"github.com/cochaviz/uupiso/internal/resolve"
)

const (
	DefaultDownloadAttempts = 5
	DefaultDownloadWait     = 10 * time.Second

	// PackageFileName is the name the downloaded archive is saved under.
	PackageFileName = "uupdump-package.zip"
)

// ErrUnsafeArchive is returned for archive entries escaping the target directory.
var ErrUnsafeArchive = errors.New("archive entry escapes destination")

// Downloader fetches and unpacks the conversion package of a build.
type Downloader struct {
	HTTPClient *http.Client
	Attempts   int
	RetryWait  time.Duration
	Logger     *slog.Logger
}

// NewDownloader returns a downloader with the default retry settings.
func NewDownloader(logger *slog.Logger) *Downloader {
	return &Downloader{
		Attempts:  DefaultDownloadAttempts,
		RetryWait: DefaultDownloadWait,
		Logger:    logger,
	}
}

// PackageForm returns the form posted to the package endpoint. A virtual
// edition switches the package to auto-creation of that edition.
func PackageForm(virtualEdition string) url.Values {
	form := url.Values{}
	form.Set("autodl", "2")
	form.Set("updates", "1")
	form.Set("cleanup", "1")
	if virtualEdition != "" {
		form.Set("autodl", "3")
		form.Add("virtualEditions[]", virtualEdition)
	}
	return form
}

// Fetch downloads the package for build into dir and extracts it there.
func (d *Downloader) Fetch(ctx context.Context, build resolve.SelectedBuild, dir string) error {
	if build.DownloadPackageURL == "" {
		return errors.New("selected build has no package URL")
	}
	logger := d.logger().With("id", build.ID, "dir", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create package directory: %w", err)
	}

	archivePath := filepath.Join(dir, PackageFileName)
	if err := d.download(ctx, build, archivePath); err != nil {
		return err
	}
	logger.Info("downloaded conversion package", "archive", archivePath)

	count, err := Extract(archivePath, dir)
	if err != nil {
		return fmt.Errorf("extract package: %w", err)
	}
	if err := os.Remove(archivePath); err != nil {
		logger.Warn("failed to remove package archive", "error", err)
	}
	logger.Info("extracted conversion package", "files", count)
	return nil
}

func (d *Downloader) download(ctx context.Context, build resolve.SelectedBuild, archivePath string) error {
	form := PackageForm(build.VirtualEdition).Encode()
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, build.DownloadPackageURL, strings.NewReader(form))
	if err != nil {
		return fmt.Errorf("build package request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.retryClient().Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("download package: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download package: unexpected status %d", resp.StatusCode)
	}

	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("save package: %w", err)
	}
	return out.Close()
}

func (d *Downloader) retryClient() *retryablehttp.Client {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = DefaultDownloadAttempts
	}

	rc := retryablehttp.NewClient()
	if d.HTTPClient != nil {
		rc.HTTPClient = d.HTTPClient
	}
	rc.Logger = nil
	rc.RetryMax = attempts - 1
	rc.RetryWaitMin = d.RetryWait
	rc.RetryWaitMax = d.RetryWait
	rc.Backoff = catalog.FixedBackoff
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			d.logger().Info("retrying package download", "url", req.URL.String(), "attempt", attempt+1)
		}
	}
	return rc
}

// Extract unpacks the zip archive at archivePath into dir and returns the
// number of files written.
func Extract(archivePath, dir string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	root, err := filepath.Abs(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range reader.File {
		target, err := safeJoin(root, file.Name)
		if err != nil {
			return count, err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if err := extractFile(file, target); err != nil {
			return count, fmt.Errorf("%s: %w", file.Name, err)
		}
		count++
	}
	return count, nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	// Shell scripts in the package are not always marked executable.
	if strings.HasSuffix(strings.ToLower(target), ".sh") {
		mode |= 0o111
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return target, nil
}

func (d *Downloader) logger() *slog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
