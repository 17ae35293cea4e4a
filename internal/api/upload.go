package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

const multipartMemory = 32 << 20

// upload accepts the export either as the "file" field of a multipart form
// or as the raw request body, and starts a run over it.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}

	st, err := s.deps.Starter.Start(r.Context(), data)
	if err != nil {
		s.internalError(w, r, "start run", err)
		return
	}
	s.deps.Logger.Info("run started from upload", "run_id", st.RunID, "bytes", len(data))
	writeJSON(w, http.StatusAccepted, st)
}

func readUpload(r *http.Request) ([]byte, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return io.ReadAll(r.Body)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, err
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New(`multipart upload needs a "file" field`)
	}
	defer f.Close()
	return io.ReadAll(f)
}
