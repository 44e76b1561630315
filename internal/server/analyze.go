package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/pipeline"
	"github.com/examprep/examprep-cli/internal/stream"
)

// analyzeRequest is the JSON body of a topic analysis. Multipart requests
// carry the same fields as form values plus an "image" file.
type analyzeRequest struct {
	Topic       string `json:"topic"`
	SubjectHint string `json:"subject_hint"`
	Department  string `json:"department"`
	StudyGoal   string `json:"study_goal"`
	Panic       bool   `json:"panic"`
	Resume      string `json:"resume"`
}

func (r analyzeRequest) meta() model.RunMetadata {
	return model.RunMetadata{
		SubjectHint: strings.TrimSpace(r.SubjectHint),
		Department:  strings.TrimSpace(r.Department),
		StudyGoal:   strings.TrimSpace(r.StudyGoal),
		Panic:       r.Panic,
	}
}

func (s *Server) parseAnalyze(w http.ResponseWriter, r *http.Request) (model.SourceInput, analyzeRequest, error) {
	var req analyzeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return model.SourceInput{}, req, errors.New("invalid request body")
		}
		src := model.SourceInput{Topic: strings.TrimSpace(req.Topic)}
		return src, req, src.Validate()
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return model.SourceInput{}, req, errors.New("invalid or oversized multipart form")
	}
	req.Topic = r.FormValue("topic")
	req.SubjectHint = r.FormValue("subject_hint")
	req.Department = r.FormValue("department")
	req.StudyGoal = r.FormValue("study_goal")
	req.Resume = r.FormValue("resume")
	req.Panic, _ = strconv.ParseBool(r.FormValue("panic"))

	src := model.SourceInput{Topic: strings.TrimSpace(req.Topic)}
	file, header, err := r.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return src, req, errors.New("could not read image upload")
	default:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return src, req, errors.New("could not read image upload")
		}
		src.Image = &model.ImageInput{
			Data:     data,
			MIMEType: header.Header.Get("Content-Type"),
			Filename: header.Filename,
		}
		if _, err := gateway.ValidateImage(*src.Image); err != nil {
			return src, req, err
		}
	}
	return src, req, src.Validate()
}

// handleAnalyze streams pipeline events, then the rendered report as content
// deltas, then a final presentation event carrying the result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	src, req, err := s.parseAnalyze(w, r)
	if err != nil {
		if gateway.CategoryOf(err) != "" {
			writeError(w, err)
		} else {
			badRequest(w, err.Error())
		}
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Message: "Streaming is not supported by this server."})
		return
	}

	log := zap.L().With(zap.String("request_id", requestID(r)))
	events := make(chan model.PipelineEvent, 16)
	g, gctx := errgroup.WithContext(r.Context())

	var (
		res    *model.AnalysisResult
		runErr error
	)
	g.Go(func() error {
		defer close(events)
		opts := []pipeline.Option{pipeline.WithEmitter(func(ev model.PipelineEvent) {
			select {
			case events <- ev:
			case <-gctx.Done():
			}
		})}
		if req.Resume != "" {
			opts = append(opts, pipeline.WithResume(req.Resume))
		}
		res, runErr = s.engine.Analyze(gctx, src, req.meta(), opts...)
		return nil
	})

	for ev := range events {
		if err := sse.data(ev); err != nil {
			log.Debug("server: client went away", zap.Error(err))
		}
	}
	_ = g.Wait()

	if r.Context().Err() != nil {
		return
	}
	if runErr != nil {
		log.Warn("server: analysis failed", zap.Error(runErr))
		body := errorFor(runErr)
		_ = sse.data(stream.ErrorFrame{
			Type:     stream.EventTypeError,
			Error:    body.Error,
			Category: body.Category,
			Message:  body.Message,
		})
	}
	if res != nil {
		for _, chunk := range chunkLines(pipeline.RenderReport(res), s.chunkLines) {
			_ = sse.delta(chunk)
		}
		_ = sse.data(model.NewPipelineEvent(model.StagePresentation, "complete", map[string]any{"result": res}))
	}
	_ = sse.done()
}

func chunkLines(text string, n int) []string {
	lines := strings.SplitAfter(text, "\n")
	var out []string
	for i := 0; i < len(lines); i += n {
		end := min(i+n, len(lines))
		if chunk := strings.Join(lines[i:end], ""); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

// handleExplain proxies the provider stream to the client.
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		badRequest(w, "topic is required")
		return
	}

	rc, err := s.engine.Explain(r.Context(), topic)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	sse, ok := newSSEWriter(w)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported", Message: "Streaming is not supported by this server."})
		return
	}
	if err := sse.copy(rc); err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Warn("server: explain stream failed", zap.Error(err))
		body := errorFor(err)
		_ = sse.data(stream.ErrorFrame{Type: stream.EventTypeError, Error: body.Error, Category: body.Category, Message: body.Message})
		_ = sse.done()
	}
}
