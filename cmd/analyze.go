package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/pipeline"
)

var (
	analyzeImage      string
	analyzeTopic      string
	analyzeSubject    string
	analyzeDepartment string
	analyzeGoal       string
	analyzePanic      bool
	analyzeResume     string
	analyzeOut        string
	analyzeJSON       bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a syllabus image or subject and print the study report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, err := loadSource(analyzeImage, analyzeTopic)
		if err != nil {
			return err
		}

		env, err := initEngine(ctx, "analyze")
		if err != nil {
			return err
		}
		defer env.Close()

		meta := model.RunMetadata{
			SubjectHint: analyzeSubject,
			Department:  analyzeDepartment,
			StudyGoal:   analyzeGoal,
			Panic:       analyzePanic,
		}
		opts := []pipeline.Option{pipeline.WithEmitter(func(ev model.PipelineEvent) {
			fmt.Fprintln(os.Stderr, formatEvent(ev))
		})}
		if analyzeResume != "" {
			opts = append(opts, pipeline.WithResume(analyzeResume))
		}

		res, runErr := env.Engine.Analyze(ctx, src, meta, opts...)
		if res != nil {
			if err := printResult(os.Stdout, res, analyzeJSON); err != nil {
				return err
			}
			if analyzeOut != "" {
				if err := writeResult(analyzeOut, res); err != nil {
					return err
				}
				zap.L().Info("report written", zap.String("path", analyzeOut))
			}
		}
		if runErr != nil {
			if cat := gateway.CategoryOf(runErr); cat != "" {
				fmt.Fprintln(os.Stderr, cat.UserMessage())
			}
			return eris.Wrap(runErr, "analyze")
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeImage, "image", "", "path to a syllabus photo (png, jpeg, gif or webp)")
	analyzeCmd.Flags().StringVar(&analyzeTopic, "topic", "", "subject name to analyze without an image")
	analyzeCmd.Flags().StringVar(&analyzeSubject, "subject", "", "subject name hint used when the syllabus omits it")
	analyzeCmd.Flags().StringVar(&analyzeDepartment, "department", "", "department hint")
	analyzeCmd.Flags().StringVar(&analyzeGoal, "goal", "", "free-text study goal")
	analyzeCmd.Flags().BoolVar(&analyzePanic, "panic", false, "exam is imminent; compress the study plan")
	analyzeCmd.Flags().StringVar(&analyzeResume, "resume", "", "checkpoint id of an interrupted run")
	analyzeCmd.Flags().StringVar(&analyzeOut, "out", "", "also write the report to this file (.json for the raw result)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result as JSON instead of markdown")
	analyzeCmd.MarkFlagsMutuallyExclusive("image", "topic")
	analyzeCmd.MarkFlagsOneRequired("image", "topic")
	rootCmd.AddCommand(analyzeCmd)
}

// loadSource builds the run input from either an image path or a topic.
func loadSource(imagePath, topic string) (model.SourceInput, error) {
	src := model.SourceInput{Topic: strings.TrimSpace(topic)}
	if imagePath != "" {
		data, err := os.ReadFile(imagePath)
		if err != nil {
			return src, eris.Wrap(err, "read image")
		}
		src.Image = &model.ImageInput{
			Data:     data,
			MIMEType: mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath))),
			Filename: filepath.Base(imagePath),
		}
		if _, err := gateway.ValidateImage(*src.Image); err != nil {
			return src, err
		}
	}
	return src, src.Validate()
}

// formatEvent renders a progress event as a single line.
func formatEvent(ev model.PipelineEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ev.Stage, ev.Status)
	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		if k != "result" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ev.Details[k])
	}
	return b.String()
}

func printResult(w io.Writer, res *model.AnalysisResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if len(res.HitRatios) > 0 {
		fmt.Fprintln(w, hitRatioTable(res.HitRatios))
		fmt.Fprintln(w)
	}
	_, err := io.WriteString(w, pipeline.RenderReport(res))
	return err
}

// writeResult writes the raw JSON result for .json paths and the markdown
// report otherwise.
func writeResult(path string, res *model.AnalysisResult) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode result")
		}
		data = b
	} else {
		data = []byte(pipeline.RenderReport(res))
	}
	return eris.Wrap(os.WriteFile(path, data, 0o644), "write report")
}
