package container

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ContextWriter produces the tar.gz build context that is piped into
// docker build. Keeping the context minimal (the generated Dockerfile,
// the root manifests and only the source directories in the project's
// dependency closure) means edits to unrelated projects never invalidate
// the layer cache.
type ContextWriter struct {
	hdl    *os.File
	gz     *gzip.Writer
	tw     *tar.Writer
	ignore []string
	buffer []byte
}

// NewContextWriter creates the context file and opens it for writing.
// The ignore patterns apply to every directory added with WriteDir.
func NewContextWriter(filename string, ignore []string) (*ContextWriter, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filename)
	}

	gz := gzip.NewWriter(hdl)
	return &ContextWriter{
		hdl:    hdl,
		gz:     gz,
		tw:     tar.NewWriter(gz),
		ignore: ignore,
		buffer: make([]byte, 32*1024),
	}, nil
}

// WriteContent adds an in-memory file at the given archive path.
func (w *ContextWriter) WriteContent(name string, content []byte) error {
	err := w.tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(content)),
		ModTime: time.Unix(0, 0),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to write header for %s", name)
	}

	_, err = w.tw.Write(content)
	if err != nil {
		return eris.Wrapf(err, "failed to write %s", name)
	}
	return nil
}

// WriteFile copies an on-disk file into the archive under name.
func (w *ContextWriter) WriteFile(name, src string) error {
	hdl, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer hdl.Close()

	info, err := hdl.Stat()
	if err != nil {
		return eris.Wrapf(err, "failed to stat %s", src)
	}

	err = w.tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    info.Size(),
		ModTime: time.Unix(0, 0),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to write header for %s", name)
	}

	_, err = io.CopyBuffer(w.tw, hdl, w.buffer)
	if err != nil {
		return eris.Wrapf(err, "failed to pack %s", src)
	}
	return nil
}

// WriteDir recursively copies the directory at src into the archive under
// prefix, skipping anything matched by the ignore patterns.
func (w *ContextWriter) WriteDir(prefix, src string) error {
	return filepath.WalkDir(src, func(item string, entry fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "failed to walk %s", src)
		}

		rel, err := filepath.Rel(src, item)
		if err != nil {
			return eris.Wrapf(err, "failed to resolve %s", item)
		}
		if rel == "." {
			return nil
		}

		archivePath := path.Join(prefix, filepath.ToSlash(rel))
		if ignored(archivePath, w.ignore) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			return nil
		}

		return w.WriteFile(archivePath, item)
	})
}

// Close finalizes the archive and the underlying file.
func (w *ContextWriter) Close() error {
	err := w.tw.Close()
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "failed to finish archive")
	}

	err = w.gz.Close()
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "failed to finish compression")
	}

	return w.hdl.Close()
}

// ignored matches a slash-separated archive path against the workspace
// ignore patterns. A "**/" prefix matches the remainder against every
// path segment; all other patterns are matched against the whole path and
// against its first segment.
func ignored(archivePath string, patterns []string) bool {
	segments := strings.Split(archivePath, "/")

	for _, pattern := range patterns {
		if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
			for _, segment := range segments {
				if match, _ := path.Match(rest, segment); match {
					return true
				}
			}
			continue
		}

		if match, _ := path.Match(pattern, archivePath); match {
			return true
		}
		if match, _ := path.Match(pattern, segments[0]); match {
			return true
		}
	}

	return false
}
