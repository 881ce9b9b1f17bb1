package api

import (
	"net/http"
	"path/filepath"
	"strings"
)

// handleStatic serves files under a directory resolved lazily via root
// (a func rather than a fixed string, since the output directory can
// change at runtime via set_output_path). http.ServeFile already guards
// against ".." escaping the root once the path is cleaned.
func (a *API) handleStatic(root func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/cache/")
		rel = strings.TrimPrefix(rel, "/output/")
		clean := filepath.Clean("/" + rel)
		http.ServeFile(w, r, filepath.Join(root(), clean))
	}
}
