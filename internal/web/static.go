package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var extraTypes = map[string]string{
	".geojson":  "application/geo+json",
	".topojson": "application/json",
	".js":       "text/javascript; charset=utf-8",
	".mjs":      "text/javascript; charset=utf-8",
	".css":      "text/css; charset=utf-8",
	".html":     "text/html; charset=utf-8",
	".json":     "application/json",
	".svg":      "image/svg+xml",
}

// Static serves the map application's files. It answers GET and HEAD only;
// "/" is index.html, /favicon.ico is an empty 204 and anything missing is 404.
type Static struct {
	root string
	fsys fs.FS
}

// NewStatic serves files below dir.
func NewStatic(dir string) (*Static, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("document root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document root %s is not a directory", dir)
	}
	return &Static{root: dir, fsys: os.DirFS(dir)}, nil
}

// NewStaticFS serves files from fsys, e.g. an embedded fixture.
func NewStaticFS(fsys fs.FS) *Static {
	return &Static{fsys: fsys}
}

func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extraTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func (s *Static) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path == "/favicon.ico" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	urlPath := r.URL.Path
	if strings.HasSuffix(urlPath, "/") {
		urlPath += "index.html"
	}
	name, ok := s.resolve(urlPath)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("static read failed", "path", name, "err", err)
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", ContentType(name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(data)
}

// resolve turns a URL path into an fs.FS name, rejecting traversal.
func (s *Static) resolve(urlPath string) (string, bool) {
	if s.root != "" {
		full, err := SafePath(s.root, urlPath)
		if err != nil {
			slog.Warn("rejected path", "path", urlPath, "err", err)
			return "", false
		}
		abs, _ := filepath.Abs(s.root)
		rel, err := filepath.Rel(abs, full)
		if err != nil {
			return "", false
		}
		return filepath.ToSlash(rel), true
	}
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", false
		}
	}
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	return name, fs.ValidPath(name)
}

// Serve runs h on addr until ctx is done, then shuts down gracefully. ready,
// when non-nil, receives the bound address once the listener is open.
func Serve(ctx context.Context, addr string, h http.Handler, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           LoggingMiddleware(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		return nil
	}
}
