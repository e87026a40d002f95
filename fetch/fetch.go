// Package fetch - Downloads model artifacts and unpacks model archives.
package fetch

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Fetcher downloads files over HTTP.
type Fetcher struct {
	client *http.Client
	log    logrus.FieldLogger
}

// New creates a fetcher. A nil client selects http.DefaultClient and a nil logger the logrus
// standard logger.
func New(client *http.Client, log logrus.FieldLogger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Fetcher{client: client, log: log}
}

// Download writes the body of rawURL into dir under the last path segment of the URL. An
// existing file is replaced.
//
// Arguments:
//   - ctx: Cancels the transfer.
//   - rawURL: The artifact URL.
//   - dir: The destination directory, created when missing.
//
// Returns:
//   - string: The written file.
//   - error: A fetch stage error for network or HTTP status failures, *pipeline.IOError when
//     the file cannot be written.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (string, error) {
	name, err := fileName(rawURL)
	if err != nil {
		return "", &pipeline.StageError{Stage: pipeline.StageFetch, Err: err}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &pipeline.IOError{Stage: pipeline.StageFetch, Path: dir, Err: err}
	}
	dest := filepath.Join(dir, name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", &pipeline.StageError{Stage: pipeline.StageFetch, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &pipeline.StageError{Stage: pipeline.StageFetch, Err: errors.Wrapf(err, "get %s", rawURL)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &pipeline.StageError{
			Stage: pipeline.StageFetch,
			Err:   fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status),
		}
	}

	// Partial downloads never replace dest.
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", &pipeline.IOError{Stage: pipeline.StageFetch, Path: dir, Err: err}
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", &pipeline.StageError{Stage: pipeline.StageFetch, Err: errors.Wrapf(err, "download %s", rawURL)}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", &pipeline.IOError{Stage: pipeline.StageFetch, Path: dest, Err: err}
	}

	f.log.WithFields(logrus.Fields{"url": rawURL, "path": dest, "bytes": n}).Info("downloaded")
	return dest, nil
}

// Extract unpacks a .tar.gz archive into dir. Directories and regular files are created;
// links and other entry types are skipped.
//
// Arguments:
//   - archive: The gzip-compressed tar file.
//   - dir: The destination directory.
//
// Returns:
//   - []string: The extracted regular files.
//   - error: *pipeline.IOError when the archive cannot be read or written,
//     *pipeline.ParseError when it is corrupt or an entry escapes dir.
func (f *Fetcher) Extract(archive, dir string) ([]string, error) {
	file, err := os.Open(archive)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageFetch, Path: archive, Err: err}
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, &pipeline.ParseError{Stage: pipeline.StageFetch, Source: archive, Err: err}
	}
	defer gz.Close()

	var files []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, &pipeline.ParseError{Stage: pipeline.StageFetch, Source: archive, Err: err}
		}

		target, err := entryPath(dir, hdr.Name)
		if err != nil {
			return files, &pipeline.ParseError{Stage: pipeline.StageFetch, Source: archive, Err: err}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, &pipeline.IOError{Stage: pipeline.StageFetch, Path: target, Err: err}
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, &pipeline.IOError{Stage: pipeline.StageFetch, Path: target, Err: err}
			}
			files = append(files, target)
		default:
			f.log.WithFields(logrus.Fields{"entry": hdr.Name, "type": string(hdr.Typeflag)}).Debug("skipping archive entry")
		}
	}

	f.log.WithFields(logrus.Fields{"archive": archive, "files": len(files)}).Info("extracted")
	return files, nil
}

// Fetch downloads rawURL into dir and extracts it when it is a .tar.gz or .tgz archive.
//
// Returns:
//   - string: The downloaded file.
//   - error: Any Download or Extract error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir string) (string, error) {
	dest, err := f.Download(ctx, rawURL, dir)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(dest, ".tar.gz") || strings.HasSuffix(dest, ".tgz") {
		if _, err := f.Extract(dest, dir); err != nil {
			return dest, err
		}
	}
	return dest, nil
}

func fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse url %q", rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return name, nil
}

// entryPath resolves an archive entry below dir and rejects absolute names and names that
// climb out of it.
func entryPath(dir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("archive entry %q is absolute", name)
	}
	target := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes %s", name, dir)
	}
	return target, nil
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
