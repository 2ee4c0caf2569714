package server

import (
	"net/http"
	"os"
	"path/filepath"
)

const taskpaneFile = "taskpane.html"

type serviceInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
	Note    string `json:"note"`
}

type healthResponse struct {
	Status            string `json:"status"`
	FrontendBuilt     bool   `json:"frontend_built"`
	TaskpaneAvailable bool   `json:"taskpane_available"`
}

// Version is reported by the service info page.
var Version = "dev"

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	built := s.cfg.DistDir != "" && isDir(s.cfg.DistDir)
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		FrontendBuilt:     built,
		TaskpaneAvailable: built && isFile(filepath.Join(s.cfg.DistDir, taskpaneFile)),
	})
}

// rootHandler serves the add-in front-end from the dist directory. Without
// a built front-end, / answers with service info instead.
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path == "/" {
		taskpane := filepath.Join(s.cfg.DistDir, taskpaneFile)
		if s.cfg.DistDir != "" && isFile(taskpane) {
			http.ServeFile(w, r, taskpane)
			return
		}
		s.writeJSON(w, http.StatusOK, serviceInfo{
			Service: "docedit-proxy",
			Version: Version,
			Status:  "running",
			Note:    "front-end build not found, run 'npm run build' first",
		})
		return
	}

	if s.cfg.DistDir == "" || !isDir(s.cfg.DistDir) {
		s.notFoundHandler(w, r)
		return
	}
	name := filepath.Join(s.cfg.DistDir, filepath.FromSlash(filepath.Clean("/"+r.URL.Path)))
	if !isFile(name) {
		s.notFoundHandler(w, r)
		return
	}
	http.ServeFile(w, r, name)
}

func (s *Server) assetsHandler() http.Handler {
	if s.cfg.AssetsDir == "" {
		return http.HandlerFunc(s.notFoundHandler)
	}
	return http.StripPrefix("/assets/", http.FileServer(http.Dir(s.cfg.AssetsDir)))
}
