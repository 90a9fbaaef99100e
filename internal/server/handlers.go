package server

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/acm19/squash/internal/logger"
	"github.com/acm19/squash/internal/squash"
)

// multipartOverhead is the room left for part headers and boundaries on top
// of the batch byte limit.
const multipartOverhead = 1 << 20

const processingFailed = "failed to process images"

// multipartSource adapts a multipart stream to squash.PartSource.
type multipartSource struct {
	reader *multipart.Reader
}

func (m *multipartSource) NextPart() (*squash.Part, error) {
	p, err := m.reader.NextPart()
	if err != nil {
		return nil, err
	}
	return &squash.Part{
		FieldName:   p.FormName(),
		FileName:    p.FileName(),
		ContentType: p.Header.Get("Content-Type"),
		Body:        p,
	}, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.With("request_id", RequestID(r.Context()))

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBatchBytes+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		ResponseError(w, http.StatusBadRequest, "expected a multipart/form-data request")
		return
	}

	result, err := s.pipeline.Handle(r.Context(), &multipartSource{reader: reader})
	if err != nil {
		var validation *squash.ValidationError
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &validation):
			log.Info("Rejected batch", "reason", validation.Reason)
			ResponseError(w, http.StatusBadRequest, validation.Reason)
		case errors.As(err, &tooLarge):
			log.Info("Rejected oversized request", "limit", humanize.IBytes(uint64(tooLarge.Limit)))
			ResponseError(w, http.StatusBadRequest, fmt.Sprintf("batch is larger than %s", humanize.IBytes(uint64(s.cfg.MaxBatchBytes))))
		default:
			log.Error("Failed to process batch", "error", err)
			ResponseError(w, http.StatusInternalServerError, processingFailed)
		}
		return
	}

	ResponseJSON(w, http.StatusOK, newUploadResponse(result))
}

func newUploadResponse(result *squash.Result) UploadResponse {
	resp := UploadResponse{Files: make([]FileResponse, 0, len(result.Outcomes))}
	for _, outcome := range result.Outcomes {
		file := FileResponse{
			OriginalName: outcome.File.OriginalName,
			UploadURL:    "/uploads/" + url.PathEscape(outcome.File.StoredName),
			SizeBefore:   outcome.File.Size,
		}
		if outcome.Failed() {
			file.Error = processingFailed
		} else {
			file.OptimizedName = outcome.Result.OutputName
			file.DownloadURL = "/download/" + url.PathEscape(outcome.Result.OutputName)
			file.SizeBefore = outcome.Result.SizeBefore
			file.SizeAfter = outcome.Result.SizeAfter
		}
		resp.Files = append(resp.Files, file)
	}
	if result.Archive != nil {
		resp.Zip = &ZipResponse{
			URL:       "/download/" + url.PathEscape(result.Archive.Name),
			MirrorURL: result.MirrorURL,
		}
	}
	return resp
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveArea(w, r, s.cfg.OutgoingDir, true)
}

func (s *Server) handleUploaded(w http.ResponseWriter, r *http.Request) {
	s.serveArea(w, r, s.cfg.IncomingDir, false)
}

// serveArea streams one file of dir. Anything that does not resolve to a
// regular file inside dir is a 404.
func (s *Server) serveArea(w http.ResponseWriter, r *http.Request, dir string, attachment bool) {
	name, err := url.PathUnescape(mux.Vars(r)["name"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	path, err := squash.Resolve(dir, name)
	if err != nil {
		if errors.Is(err, squash.ErrPathTraversal) {
			logger.Warn("Rejected path", "request_id", RequestID(r.Context()), "name", name)
		}
		http.NotFound(w, r)
		return
	}

	f, err := s.fs.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Failed to open file", "path", path, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	etag, err := contentETag(f)
	if err != nil {
		logger.Error("Failed to hash file", "path", path, "error", err)
		ResponseError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	w.Header().Set("ETag", etag)
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// contentETag hashes f with BLAKE3 and rewinds it.
func contentETag(f afero.File) (string, error) {
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	incoming, inErr := squash.Usage(s.fs, s.cfg.IncomingDir)
	outgoing, outErr := squash.Usage(s.fs, s.cfg.OutgoingDir)
	if err := errors.Join(inErr, outErr); err != nil {
		logger.Error("Failed to read storage areas", "error", err)
		ResponseError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	ResponseJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Codec:    s.codecName,
		Incoming: newAreaResponse(incoming),
		Outgoing: newAreaResponse(outgoing),
	})
}

func newAreaResponse(u squash.AreaUsage) AreaResponse {
	return AreaResponse{Files: u.Files, Bytes: u.Bytes, Size: humanize.IBytes(uint64(u.Bytes))}
}
