package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/examprep/examprep-cli/internal/guard"
	"github.com/examprep/examprep-cli/internal/model"
)

// flexInt accepts numbers and numeric strings ("3", "Unit 3").
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		v, err := n.Float64()
		if err != nil {
			return eris.Wrap(err, "pipeline: parse number")
		}
		*f = flexInt(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return eris.Wrap(err, "pipeline: parse number")
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		*f = 0
		return nil
	}
	last := fields[len(fields)-1]
	v, err := strconv.Atoi(last)
	if err != nil {
		return eris.Wrapf(err, "pipeline: parse number %q", last)
	}
	*f = flexInt(v)
	return nil
}

type rawUnitRecord struct {
	Number   flexInt  `json:"unit_number"`
	Title    string   `json:"title"`
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords"`
}

type rawSyllabus struct {
	SubjectCode string          `json:"subject_code"`
	SubjectName string          `json:"subject_name"`
	Department  string          `json:"department"`
	Regulation  string          `json:"regulation"`
	Semester    flexInt         `json:"semester"`
	TotalUnits  flexInt         `json:"total_units"`
	Units       []rawUnitRecord `json:"units"`
}

// decodeSyllabus parses and validates the extraction output. Caller metadata
// fills fields the model left empty.
func decodeSyllabus(raw json.RawMessage, meta model.RunMetadata) (*model.SyllabusDocument, error) {
	var r rawSyllabus
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "pipeline: decode syllabus")
	}
	doc := &model.SyllabusDocument{
		SubjectCode: r.SubjectCode,
		SubjectName: r.SubjectName,
		Department:  r.Department,
		Regulation:  model.Regulation(r.Regulation),
		Semester:    int(r.Semester),
		TotalUnits:  int(r.TotalUnits),
		Units:       make([]model.UnitRecord, 0, len(r.Units)),
	}
	for _, u := range r.Units {
		doc.Units = append(doc.Units, model.UnitRecord{
			Number:   int(u.Number),
			Title:    u.Title,
			Topics:   u.Topics,
			Keywords: u.Keywords,
		})
	}
	if doc.SubjectName == "" {
		doc.SubjectName = meta.SubjectHint
	}
	if doc.Department == "" {
		doc.Department = meta.Department
	}
	doc.Normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

type rawQuestion struct {
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Marks      flexInt `json:"marks"`
	BloomLevel string  `json:"bloom_level"`
	Outcome    string  `json:"course_outcome"`
}

type rawKeyword struct {
	Topic     string `json:"topic"`
	Frequency string `json:"frequency"`
}

type rawUnitAnalysis struct {
	UnitNumber   flexInt       `json:"unit_number"`
	Title        string        `json:"title"`
	ShortAnswers []rawQuestion `json:"short_answer_questions"`
	LongAnswers  []rawQuestion `json:"long_answer_questions"`
	Keywords     []rawKeyword  `json:"keyword_importance"`
	StudyPlan    struct {
		Hours float64  `json:"hours"`
		Steps []string `json:"steps"`
	} `json:"micro_plan"`
}

// decodeUnit gates the generation output through the unit check and converts
// it into a UnitAnalysis. Output written for a different unit is rejected so
// the attempt is retried.
func decodeUnit(raw json.RawMessage, unit model.UnitRecord, defaultHours float64) (model.UnitAnalysis, error) {
	if err := guard.CheckUnit(raw); err != nil {
		return model.UnitAnalysis{}, err
	}
	var r rawUnitAnalysis
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.UnitAnalysis{}, eris.Wrap(err, "pipeline: decode unit")
	}
	if int(r.UnitNumber) != unit.Number {
		return model.UnitAnalysis{}, eris.Errorf("pipeline: output is for unit %d, requested unit %d", int(r.UnitNumber), unit.Number)
	}

	a := model.UnitAnalysis{
		UnitNumber:   unit.Number,
		Title:        unit.Title,
		ShortAnswers: questions(r.ShortAnswers, 2),
		LongAnswers:  questions(r.LongAnswers, 13),
		Keywords:     make([]model.KeywordImportance, 0, len(r.Keywords)),
		StudyPlan: model.MicroPlan{
			Hours: r.StudyPlan.Hours,
			Steps: compact(r.StudyPlan.Steps),
		},
	}
	if a.Title == "" {
		a.Title = strings.TrimSpace(r.Title)
	}
	if a.StudyPlan.Hours <= 0 {
		a.StudyPlan.Hours = defaultHours
	}
	for _, k := range r.Keywords {
		topic := strings.TrimSpace(k.Topic)
		if topic == "" {
			continue
		}
		a.Keywords = append(a.Keywords, model.KeywordImportance{
			Topic:     topic,
			Frequency: model.ParseFrequency(k.Frequency),
		})
	}
	if len(a.ShortAnswers) == 0 || len(a.LongAnswers) == 0 {
		return model.UnitAnalysis{}, eris.Errorf("pipeline: unit %d has no usable questions", unit.Number)
	}
	return a, nil
}

func questions(in []rawQuestion, defaultMarks int) []model.Question {
	out := make([]model.Question, 0, len(in))
	for _, q := range in {
		text := strings.TrimSpace(q.Question)
		if text == "" {
			continue
		}
		marks := int(q.Marks)
		if marks <= 0 {
			marks = defaultMarks
		}
		out = append(out, model.Question{
			Question:   text,
			Answer:     strings.TrimSpace(q.Answer),
			Marks:      marks,
			BloomLevel: strings.TrimSpace(q.BloomLevel),
			Outcome:    strings.TrimSpace(q.Outcome),
		})
	}
	return out
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
