package tuner

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// NotFoundError reports a served file that does not exist in the data
// directory.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return "file not found: " + e.Name }

// readDataFile loads a file from the data directory. The name is reduced to
// its base first, so request paths cannot traverse out of it.
func (s *Server) readDataFile(name string) ([]byte, error) {
	path := filepath.Join(s.cfg.DataDir, filepath.Base(name))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Name: filepath.Base(name)}
		}
		return nil, err
	}
	return data, nil
}

// handleServeM3U serves generated or operator-dropped playlists. Hand-kept
// playlists may carry {{HOST_IP}} and {{PORT}} placeholders so the same
// file works across deployments; they are substituted on the way out.
func (s *Server) handleServeM3U(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !strings.HasSuffix(name, ".m3u") {
		writeJSONError(w, http.StatusBadRequest, "only .m3u files can be served")
		return
	}
	data, err := s.readDataFile(name)
	if err != nil {
		s.serveFileError(w, err)
		return
	}
	body := strings.ReplaceAll(string(data), "{{HOST_IP}}", s.cfg.HostIP)
	body = strings.ReplaceAll(body, "{{PORT}}", strconv.Itoa(s.cfg.Port))
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	_, _ = w.Write([]byte(body))
}

// handleServeXML serves channel documents and generated guides verbatim.
func (s *Server) handleServeXML(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	if !strings.HasSuffix(name, ".xml") {
		writeJSONError(w, http.StatusBadRequest, "only .xml files can be served")
		return
	}
	data, err := s.readDataFile(name)
	if err != nil {
		s.serveFileError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(data)
}

func (s *Server) serveFileError(w http.ResponseWriter, err error) {
	if nf, ok := err.(*NotFoundError); ok {
		writeJSONError(w, http.StatusNotFound, nf.Error())
		return
	}
	s.log.Error().Err(err).Msg("serve file")
	writeJSONError(w, http.StatusInternalServerError, "read file failed")
}
