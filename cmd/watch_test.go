package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/stream"
)

func sseServer(t *testing.T, write func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		write(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewAnalyzeRequest_Topic(t *testing.T) {
	req, err := newAnalyzeRequest(context.Background(), "http://host:8080/", "", map[string]string{
		"topic": "Networks", "study_goal": "score 80", "panic": "true",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://host:8080/api/analyze", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
	assert.Equal(t, "Networks", body["topic"])
	assert.Equal(t, true, body["panic"])
}

func TestNewAnalyzeRequest_Image(t *testing.T) {
	img := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, os.WriteFile(img, pngBytes, 0o644))

	req, err := newAnalyzeRequest(context.Background(), "http://host", img, map[string]string{"study_goal": "pass", "panic": "false"})
	require.NoError(t, err)

	mediaType, _, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	require.NoError(t, req.ParseMultipartForm(1<<20))
	assert.Equal(t, "pass", req.FormValue("study_goal"))
	f, h, err := req.FormFile("image")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "page.png", h.Filename)
	assert.Equal(t, "image/png", h.Header.Get("Content-Type"))
}

func TestWatchAnalysis_StreamsProgressAndReport(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter) {
		require.NoError(t, stream.WriteData(w, model.NewPipelineEvent(model.StageVision, "started", nil)))
		require.NoError(t, stream.WriteData(w, model.NewPipelineEvent(model.StageBrain, "unit_complete", map[string]any{"unit": 1})))
		require.NoError(t, stream.WriteDelta(w, "# Report\n"))
		require.NoError(t, stream.WriteDelta(w, "body"))
		require.NoError(t, stream.WriteDone(w))
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	var out, progress bytes.Buffer
	require.NoError(t, watchAnalysis(srv.Client(), req, &out, &progress))

	assert.Equal(t, "# Report\nbody", out.String())
	assert.Contains(t, progress.String(), "[vision] started")
	assert.Contains(t, progress.String(), "[brain] unit_complete")
}

func TestWatchAnalysis_ErrorFrame(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter) {
		require.NoError(t, stream.WriteData(w, stream.ErrorFrame{
			Type: stream.EventTypeError, Error: "401", Category: "config", Message: "The service is not configured correctly.",
		}))
	})

	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	var out, progress bytes.Buffer
	err = watchAnalysis(srv.Client(), req, &out, &progress)

	var fe *stream.FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "config", fe.Category)
	assert.Contains(t, progress.String(), "error: The service is not configured correctly.")
}

func TestWatchAnalysis_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"topic is required","message":"Please check your input."}`) //nolint:errcheck
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, nil)
	require.NoError(t, err)
	err = watchAnalysis(srv.Client(), req, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "Please check your input.")
}

func TestStreamText(t *testing.T) {
	var body strings.Builder
	require.NoError(t, stream.WriteDelta(&body, "Pointers "))
	require.NoError(t, stream.WriteDelta(&body, "hold addresses."))
	require.NoError(t, stream.WriteDone(&body))

	var out bytes.Buffer
	require.NoError(t, streamText(context.Background(), io.NopCloser(strings.NewReader(body.String())), &out))
	assert.Equal(t, "Pointers hold addresses.", out.String())
}
