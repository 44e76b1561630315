package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/examprep/examprep-cli/internal/stream"
)

var (
	watchURL   string
	watchImage string
	watchTopic string
	watchGoal  string
	watchPanic bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run an analysis on a remote server and follow its progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := newAnalyzeRequest(ctx, watchURL, watchImage, map[string]string{
			"topic":      watchTopic,
			"study_goal": watchGoal,
			"panic":      strconv.FormatBool(watchPanic),
		})
		if err != nil {
			return err
		}
		return watchAnalysis(http.DefaultClient, req, os.Stdout, os.Stderr)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "http://localhost:8080", "server base URL")
	watchCmd.Flags().StringVar(&watchImage, "image", "", "path to a syllabus photo")
	watchCmd.Flags().StringVar(&watchTopic, "topic", "", "subject name to analyze without an image")
	watchCmd.Flags().StringVar(&watchGoal, "goal", "", "free-text study goal")
	watchCmd.Flags().BoolVar(&watchPanic, "panic", false, "exam is imminent; compress the study plan")
	watchCmd.MarkFlagsMutuallyExclusive("image", "topic")
	watchCmd.MarkFlagsOneRequired("image", "topic")
	rootCmd.AddCommand(watchCmd)
}

// newAnalyzeRequest builds a POST to /api/analyze: JSON for topics, multipart
// when an image is attached.
func newAnalyzeRequest(ctx context.Context, baseURL, imagePath string, fields map[string]string) (*http.Request, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/api/analyze"

	var (
		body        bytes.Buffer
		contentType string
	)
	if imagePath == "" {
		payload := map[string]any{
			"topic":      fields["topic"],
			"study_goal": fields["study_goal"],
		}
		payload["panic"], _ = strconv.ParseBool(fields["panic"])
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return nil, eris.Wrap(err, "encode request")
		}
		contentType = "application/json"
	} else {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return nil, eris.Wrap(err, "read image")
		}
		mw := multipart.NewWriter(&body)
		for k, v := range fields {
			if k == "topic" || v == "" {
				continue
			}
			if err := mw.WriteField(k, v); err != nil {
				return nil, eris.Wrap(err, "write form field")
			}
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(imagePath)))
		if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath))); ct != "" {
			h.Set("Content-Type", ct)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, eris.Wrap(err, "create image part")
		}
		if _, err := part.Write(data); err != nil {
			return nil, eris.Wrap(err, "write image part")
		}
		if err := mw.Close(); err != nil {
			return nil, eris.Wrap(err, "close form")
		}
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	return req, nil
}

// watchAnalysis sends req and follows the event stream. Stage changes go to
// progress; report text goes to out.
func watchAnalysis(client *http.Client, req *http.Request, out, progress io.Writer) error {
	resp, err := client.Do(req)
	if err != nil {
		return eris.Wrap(err, "watch: request")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close() //nolint:errcheck
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		msg := body.Message
		if msg == "" {
			msg = body.Error
		}
		return eris.Errorf("watch: server returned %d: %s", resp.StatusCode, msg)
	}

	var c *stream.Controller
	c = stream.NewController(func(ev stream.Event) {
		if ev.Err != nil {
			fmt.Fprintf(progress, "error: %s\n", ev.Err.Message)
			return
		}
		if ev.Status != "" {
			fmt.Fprintf(progress, "[%s] %s\n", c.Stage(), ev.Status)
		}
		if ev.Delta != "" {
			_, _ = io.WriteString(out, ev.Delta)
		}
	})
	return c.Run(req.Context(), resp.Body)
}
