// Package httpui serves the embedded dex page.
package httpui

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
)

//go:embed web
var embedded embed.FS

// Handler serves the embedded web folder. Unknown non-API paths fall back
// to index.html.
func Handler() (http.Handler, error) {
	sub, err := fs.Sub(embedded, "web")
	if err != nil {
		return nil, err
	}

	// some systems miss these
	_ = mime.AddExtensionType(".js", "application/javascript; charset=utf-8")
	_ = mime.AddExtensionType(".css", "text/css; charset=utf-8")

	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		p := path.Clean("/" + r.URL.Path)

		// API routes never fall through to the page
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/healthz") {
			http.NotFound(w, r)
			return
		}

		name := strings.TrimPrefix(p, "/")
		if name == "" || !exists(sub, name) {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			setCacheHeaders(w, "index.html")
			fileServer.ServeHTTP(w, r2)
			return
		}

		setCacheHeaders(w, name)
		fileServer.ServeHTTP(w, r)
	}), nil
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

func setCacheHeaders(w http.ResponseWriter, name string) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".js", ".css", ".png", ".svg", ".ico":
		w.Header().Set("Cache-Control", "public, max-age=3600")
	default:
		w.Header().Set("Cache-Control", "no-cache")
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
