package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/examprep/examprep-cli/internal/gateway"
	"github.com/examprep/examprep-cli/internal/model"
	"github.com/examprep/examprep-cli/internal/resilience"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ExtractSyllabus(ctx context.Context, img model.ImageInput, instruction string) (json.RawMessage, model.TokenUsage, error) {
	args := m.Called(ctx, img, instruction)
	if args.Get(0) == nil {
		return nil, model.TokenUsage{}, args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Get(1).(model.TokenUsage), args.Error(2)
}

func (m *mockProvider) ExtractOutline(ctx context.Context, topic, instruction string) (json.RawMessage, model.TokenUsage, error) {
	args := m.Called(ctx, topic, instruction)
	if args.Get(0) == nil {
		return nil, model.TokenUsage{}, args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Get(1).(model.TokenUsage), args.Error(2)
}

func (m *mockProvider) Search(ctx context.Context, prompt string) (*gateway.SearchResult, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SearchResult), args.Error(1)
}

func (m *mockProvider) Generate(ctx context.Context, gr gateway.GenerateRequest) (json.RawMessage, model.TokenUsage, error) {
	args := m.Called(ctx, gr)
	if args.Get(0) == nil {
		return nil, model.TokenUsage{}, args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Get(1).(model.TokenUsage), args.Error(2)
}

func (m *mockProvider) GenerateStream(ctx context.Context, gr gateway.GenerateRequest) (io.ReadCloser, error) {
	args := m.Called(ctx, gr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// --- Fixtures ---

var testImage = model.ImageInput{Data: []byte("\x89PNG\r\n\x1a\n"), MIMEType: "image/png"}

const syllabusJSON = `{
  "subject_code": "CS3491",
  "subject_name": "Artificial Intelligence",
  "department": "CSE",
  "regulation": "2021",
  "semester": "4",
  "total_units": 3,
  "units": [
    {"unit_number": 1, "title": "Problem Solving", "topics": ["search strategies", "heuristics"]},
    {"unit_number": 2, "title": "Knowledge Representation", "topics": ["propositional logic", "first order logic", "resolution"]},
    {"unit_number": 3, "title": "Learning", "topics": ["decision trees"]}
  ]
}`

func unitJSON(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
  "unit_number": %d,
  "title": "Unit %d",
  "short_answer_questions": [{"question": "Define topic %d.", "answer": "A definition.", "marks": 2, "bloom_level": "K1", "course_outcome": "CO%d"}],
  "long_answer_questions": [{"question": "Explain topic %d.", "answer": "An explanation.", "marks": "13", "bloom_level": "K2"}],
  "keyword_importance": [{"topic": "topic %d", "frequency": "high"}, {"topic": "side %d", "frequency": "Low"}],
  "micro_plan": {"hours": 3, "steps": ["read", " ", "practice"]}
}`, n, n, n, n, n, n, n))
}

func forUnit(n int) any {
	marker := fmt.Sprintf("unit %d:", n)
	return mock.MatchedBy(func(gr gateway.GenerateRequest) bool {
		return strings.Contains(gr.User, marker)
	})
}

// expectUnits answers each unit of syllabusJSON whose request also satisfies
// match (nil matches everything).
func expectUnits(p *mockProvider, match func(gateway.GenerateRequest) bool) {
	for n := 1; n <= 3; n++ {
		marker := fmt.Sprintf("unit %d:", n)
		p.On("Generate", mock.Anything, mock.MatchedBy(func(gr gateway.GenerateRequest) bool {
			return strings.Contains(gr.User, marker) && (match == nil || match(gr))
		})).Return(unitJSON(n), callUsage, nil)
	}
}

var callUsage = model.TokenUsage{InputTokens: 100, OutputTokens: 50, Calls: 1, Cost: 0.01}

func testSettings() Settings {
	s := DefaultSettings()
	s.Policy = resilience.Policy{MaxAttempts: 3}
	return s
}

type eventLog struct {
	events []model.PipelineEvent
}

func (l *eventLog) emit(ev model.PipelineEvent) { l.events = append(l.events, ev) }

func (l *eventLog) statuses(stage model.PipelineStage) []string {
	var out []string
	for _, ev := range l.events {
		if ev.Stage == stage {
			out = append(out, ev.Status)
		}
	}
	return out
}
