package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/v0xg/screenplay/internal/ai"
	"github.com/v0xg/screenplay/internal/errs"
	"github.com/v0xg/screenplay/internal/executor"
	"github.com/v0xg/screenplay/internal/frames"
	"github.com/v0xg/screenplay/internal/synth"
	"go.uber.org/zap"
)

// VideoToFramesResponse is the body of a successful analysis
type VideoToFramesResponse struct {
	Frames []string       `json:"frames"`
	Output *executor.Plan `json:"output"`
}

type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorInfo{Code: code, Message: msg}})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVideoToFrames accepts a multipart upload (file, optional api_key,
// model, provider and os), selects key frames and synthesizes a plan
func (s *Server) handleVideoToFrames(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", RequestIDFromContext(r.Context())))

	ctx := r.Context()
	if s.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.RequestTimeout)
		defer cancel()
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	provider, status, err := s.requestProvider(r)
	if err != nil {
		writeError(w, status, "BAD_REQUEST", err.Error())
		return
	}

	path, cleanup, err := saveUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	defer cleanup()

	src, err := frames.Open(ctx, path, s.cfg.Frames.FFmpegPath)
	if err != nil {
		s.fail(w, logger, err)
		return
	}
	res, err := s.selector.Select(ctx, src)
	if err != nil {
		s.fail(w, logger, err)
		return
	}

	plan, err := synth.New(provider, logger, synth.WithOS(r.FormValue("os"))).Synthesize(ctx, res.Frames)
	if err != nil {
		s.fail(w, logger, err)
		return
	}

	logger.Info("Video analyzed",
		zap.Int("sampled", res.Sampled),
		zap.Int("frames", len(res.Frames)),
		zap.Int("steps", len(plan.Steps)))
	writeJSON(w, http.StatusOK, VideoToFramesResponse{Frames: res.Base64(), Output: plan})
}

// requestProvider returns a provider scoped to this request when the client
// supplied credentials or a model, else the shared one. The shared provider
// is never reconfigured.
func (s *Server) requestProvider(r *http.Request) (ai.Provider, int, error) {
	apiKey := strings.TrimSpace(r.FormValue("api_key"))
	model := strings.TrimSpace(r.FormValue("model"))
	name := strings.TrimSpace(r.FormValue("provider"))

	if apiKey == "" && model == "" && name == "" {
		if s.provider == nil {
			return nil, http.StatusBadRequest, errors.New("no inference credentials configured; send api_key")
		}
		return s.provider, 0, nil
	}

	if name == "" {
		name = s.cfg.Inference.Provider
	}
	if model == "" {
		model = s.cfg.Inference.SynthesisModel
	}
	settings := ai.SettingsFor(s.cfg.Inference, name, model)
	if apiKey != "" {
		settings.APIKey = apiKey
	}

	p, err := s.newProvider(name, settings)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return p, 0, nil
}

// saveUpload copies the file part to a temp file keeping its extension so the
// decoder can be picked from it
func saveUpload(r *http.Request) (string, func(), error) {
	file, hdr, err := r.FormFile("file")
	if err != nil {
		return "", nil, errors.New("missing file field")
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	tmp, err := os.CreateTemp("", "screenplay-upload-*"+ext)
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return tmp.Name(), cleanup, nil
}

func (s *Server) fail(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusBadGateway
	code := errs.CodeOf(err)
	switch {
	case code == errs.IO:
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	}
	if code == "" {
		code = "UPSTREAM_ERROR"
	}

	logger.Warn("Video analysis failed", zap.Int("status", status), zap.Error(err))
	writeError(w, status, string(code), err.Error())
}
