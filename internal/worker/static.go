package worker

import (
	"embed"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

//go:embed static/*
var staticFS embed.FS

// dashboardFS is rooted at static/.
var dashboardFS fs.FS

func init() {
	var err error
	dashboardFS, err = fs.Sub(staticFS, "static")
	if err != nil {
		panic("failed to create dashboard filesystem: " + err.Error())
	}
}

func noCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// serveIndex serves the dashboard page.
func serveIndex(w http.ResponseWriter, r *http.Request) {
	content, err := fs.ReadFile(dashboardFS, "index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	noCache(w)
	_, _ = w.Write(content)
}

// serveAssets serves /assets/* from the embedded filesystem.
func serveAssets(w http.ResponseWriter, r *http.Request) {
	name := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
	if !strings.HasPrefix(name, "assets/") {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}

	content, err := fs.ReadFile(dashboardFS, name)
	if err != nil {
		http.Error(w, "Asset not found", http.StatusNotFound)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	noCache(w)
	_, _ = w.Write(content)
}
