package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/matzehuels/gerbershot/pkg/buildinfo"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
	"github.com/matzehuels/gerbershot/pkg/store"
)

// maxFormMemory is how much of a multipart form is kept in memory before
// spilling to temporary files.
const maxFormMemory = 32 << 20

// uploadResponse is the body of a successful upload.
type uploadResponse struct {
	ID        string           `json:"id"`
	Image     string           `json:"image"`
	URL       string           `json:"url"`
	FileCount int              `json:"file_count"`
	CacheHit  bool             `json:"cache_hit"`
	Warnings  []errors.Warning `json:"warnings,omitempty"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	ID     string      `json:"id,omitempty"`
	Code   errors.Code `json:"code"`
	Error  string      `json:"error"`
	Detail string      `json:"detail,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if stderrors.As(err, &tooBig) {
			writeError(w, "", errors.New(errors.ErrCodeInvalidInput, "upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, "", errors.Wrap(errors.ErrCodeInvalidInput, err, "No files were uploaded."))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fh, err := singleFile(r.MultipartForm)
	if err != nil {
		writeError(w, "", err)
		return
	}
	if err := errors.ValidateArchiveName(fh.Filename); err != nil {
		writeError(w, "", err)
		return
	}

	id := uuid.NewString()
	logger := s.logger.With("id", id, "archive", fh.Filename)

	path, err := s.save(id, fh)
	defer os.RemoveAll(filepath.Join(s.uploads, id))
	if err != nil {
		logger.Error("save upload failed", "err", err)
		writeError(w, id, err)
		return
	}

	out, err := s.runner.Execute(ctx, pipeline.Request{
		ID:       id,
		Archive:  path,
		Isolated: true,
		Config:   s.render,
	})
	var url string
	if err == nil {
		url, err = s.publisher.Publish(ctx, out.Artifact)
	}

	rec := store.FromOutcome(id, out, err, url)
	rec.Archive = fh.Filename
	if perr := s.store.Put(ctx, rec); perr != nil {
		logger.Warn("record conversion failed", "err", perr)
	}
	if out != nil {
		for _, warn := range out.Warnings {
			logger.Warn("conversion warning", "warning", warn.String())
		}
	}

	if err != nil {
		logger.Info("conversion failed", "code", errors.GetCode(err), "err", err)
		writeError(w, id, err)
		return
	}
	logger.Info("conversion succeeded", "url", url, "duration", out.Stats.TotalTime)
	writeJSON(w, http.StatusOK, uploadResponse{
		ID:        out.ID,
		Image:     out.Artifact.Name,
		URL:       url,
		FileCount: out.FileCount,
		CacheHit:  out.CacheHit,
		Warnings:  out.Warnings,
	})
}

// singleFile returns the one uploaded archive. Zero files or more than one
// file, across all fields, is rejected.
func singleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	n := 0
	for _, fhs := range form.File {
		n += len(fhs)
	}
	switch {
	case n == 0:
		return nil, errors.New(errors.ErrCodeInvalidInput, "No files were uploaded.")
	case n > 1:
		return nil, errors.New(errors.ErrCodeInvalidInput, "Please only upload one file.")
	}
	fhs := form.File[FormField]
	if len(fhs) != 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "expected the archive in form field %q", FormField)
	}
	return fhs[0], nil
}

// save copies the uploaded file to uploads/<id>/<filename>.
func (s *Server) save(id string, fh *multipart.FileHeader) (string, error) {
	dir := filepath.Join(s.uploads, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "create upload directory")
	}
	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInvalidInput, err, "read upload")
	}
	defer src.Close()

	path := filepath.Join(dir, fh.Filename)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "store upload")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", errors.Wrap(errors.ErrCodeStorage, err, "store upload")
	}
	if err := dst.Close(); err != nil {
		return "", errors.Wrap(errors.ErrCodeStorage, err, "store upload")
	}
	return path, nil
}

func (s *Server) handleGetConversion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, id, err)
		return
	}
	if rec == nil {
		writeError(w, id, errors.New(errors.ErrCodeNotFound, "no conversion %s", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListConversions(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "", errors.New(errors.ErrCodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	recs, err := s.store.List(r.Context(), limit)
	if err != nil {
		writeError(w, "", err)
		return
	}
	if recs == nil {
		recs = []*store.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		buildinfo.Info
	}{"ok", buildinfo.Get()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexPage)
}

const indexPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>gerbershot</title></head>
<body>
<h1>Gerber to PNG</h1>
<p>Upload a zipped CAM export to render the top side of the board.</p>
<form action="/upload" method="post" enctype="multipart/form-data">
<input type="file" name="gerberArchive" accept=".zip">
<button type="submit">Upload</button>
</form>
</body>
</html>
`

// writeJSON writes v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its HTTP status and writes an errorResponse.
func writeError(w http.ResponseWriter, id string, err error) {
	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	resp := errorResponse{
		ID:    id,
		Code:  code,
		Error: errors.Describe(code),
	}
	if code != errors.ErrCodeInternal {
		resp.Detail = errors.UserMessage(err)
	}
	writeJSON(w, errors.HTTPStatus(code), resp)
}
