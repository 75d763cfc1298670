package server

import (
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Static serves the files of a directory for GET and HEAD requests, the
// collaborator the router delegates non-protocol requests to. "/" serves
// index.html. Paths that could leave the directory, dotfiles and
// directories are not found.
type Static struct {
	fsys  fs.FS
	etags sync.Map // rel path -> etagEntry

	// Headers are set on every file response.
	Headers map[string]string
}

// NewStatic creates a Static serving dir.
func NewStatic(dir string) *Static {
	return &Static{fsys: os.DirFS(dir)}
}

// NewStaticFS creates a Static serving fsys.
func NewStaticFS(fsys fs.FS) *Static {
	return &Static{fsys: fsys}
}

// ServeHTTP implements http.Handler.
func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	rel, ok := staticRelPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	f, err := s.fsys.Open(rel)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	content, ok := f.(io.ReadSeeker)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if isFingerprinted(rel) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600, must-revalidate")
	}
	if tag, err := s.etag(rel, info, content); err == nil {
		w.Header().Set("ETag", tag)
	}
	for k, v := range s.Headers {
		w.Header().Set(k, v)
	}
	http.ServeContent(w, r, rel, info.ModTime(), content)
}

type etagEntry struct {
	modTime time.Time
	size    int64
	tag     string
}

// etag returns the strong validator of a file, hashing its content once per
// modification time and size. content is left at its start.
func (s *Static) etag(rel string, info fs.FileInfo, content io.ReadSeeker) (string, error) {
	if v, ok := s.etags.Load(rel); ok {
		e := v.(etagEntry)
		if e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
			return e.tag, nil
		}
	}
	h := xxhash.New()
	if _, err := io.Copy(h, content); err != nil {
		return "", err
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	tag := `"` + strconv.FormatUint(h.Sum64(), 16) + `"`
	s.etags.Store(rel, etagEntry{modTime: info.ModTime(), size: info.Size(), tag: tag})
	return tag, nil
}

// staticRelPath maps a URL path to a path inside the served directory.
func staticRelPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" {
		return "index.html", true
	}
	// "//etc/passwd" leaves a leading slash after trimming.
	if strings.HasPrefix(rel, "/") || strings.ContainsAny(rel, "\\\x00") {
		return "", false
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." || strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	clean := path.Clean(rel)
	if !fs.ValidPath(clean) {
		return "", false
	}
	return clean, true
}

// isFingerprinted reports whether the file name carries a content hash,
// e.g. "app.a1b2c3d4.js".
func isFingerprinted(name string) bool {
	parts := strings.Split(path.Base(name), ".")
	if len(parts) < 3 {
		return false
	}
	hash := parts[len(parts)-2]
	if len(hash) < 8 {
		return false
	}
	for _, c := range hash {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}
