package pipeline

import (
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/examprep/examprep-cli/internal/model"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts holds the parsed prompt templates.
type Prompts struct {
	vision     *template.Template
	outline    *template.Template
	search     *template.Template
	unitSystem *template.Template
	unitUser   *template.Template
	explain    string
}

type promptFile struct {
	Prompts struct {
		Vision     string `yaml:"vision"`
		Outline    string `yaml:"outline"`
		Search     string `yaml:"search"`
		UnitSystem string `yaml:"unit_system"`
		UnitUser   string `yaml:"unit_user"`
		Explain    string `yaml:"explain"`
	} `yaml:"prompts"`
}

// DefaultPrompts returns the embedded templates.
func DefaultPrompts() *Prompts {
	p, err := parsePrompts(defaultPrompts, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPrompts reads templates from a YAML file. Templates missing from the
// file keep their embedded default. An empty path returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read prompts %s", path)
	}
	var base promptFile
	if err := yaml.Unmarshal(defaultPrompts, &base); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse default prompts")
	}
	return parsePrompts(data, &base)
}

func parsePrompts(data []byte, base *promptFile) (*Prompts, error) {
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse prompts")
	}
	if base != nil {
		fill(&f.Prompts.Vision, base.Prompts.Vision)
		fill(&f.Prompts.Outline, base.Prompts.Outline)
		fill(&f.Prompts.Search, base.Prompts.Search)
		fill(&f.Prompts.UnitSystem, base.Prompts.UnitSystem)
		fill(&f.Prompts.UnitUser, base.Prompts.UnitUser)
		fill(&f.Prompts.Explain, base.Prompts.Explain)
	}

	p := &Prompts{explain: strings.TrimSpace(f.Prompts.Explain)}
	var err error
	for _, t := range []struct {
		name string
		text string
		dst  **template.Template
	}{
		{"vision", f.Prompts.Vision, &p.vision},
		{"outline", f.Prompts.Outline, &p.outline},
		{"search", f.Prompts.Search, &p.search},
		{"unit_system", f.Prompts.UnitSystem, &p.unitSystem},
		{"unit_user", f.Prompts.UnitUser, &p.unitUser},
	} {
		if strings.TrimSpace(t.text) == "" {
			return nil, eris.Errorf("pipeline: prompt %q is empty", t.name)
		}
		*t.dst, err = template.New(t.name).Option("missingkey=zero").Parse(t.text)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: parse prompt %q", t.name)
		}
	}
	return p, nil
}

func fill(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", eris.Wrapf(err, "pipeline: render prompt %q", t.Name())
	}
	return strings.TrimSpace(b.String()), nil
}

// Vision renders the extraction instruction.
func (p *Prompts) Vision(hint string) (string, error) {
	return render(p.vision, struct{ Hint string }{hint})
}

// Outline renders the topic outline instruction.
func (p *Prompts) Outline() (string, error) {
	return render(p.outline, nil)
}

type searchData struct {
	Subject    string
	Department string
	Regulation string
	Units      []model.UnitRecord
}

// Search renders the web search prompt for a document.
func (p *Prompts) Search(doc *model.SyllabusDocument, meta model.RunMetadata) (string, error) {
	dept := doc.Department
	if dept == "" {
		dept = meta.Department
	}
	return render(p.search, searchData{
		Subject:    doc.Subject(),
		Department: dept,
		Regulation: regulationLabel(doc.Regulation),
		Units:      doc.Units,
	})
}

// UnitData is passed to the unit_user template.
type UnitData struct {
	Subject       string
	Regulation    string
	StudyGoal     string
	Panic         bool
	Hours         float64
	Outline       string
	SearchContext string
	Unit          model.UnitRecord
}

// UnitSystem renders the generation system prompt.
func (p *Prompts) UnitSystem() (string, error) {
	return render(p.unitSystem, nil)
}

// UnitUser renders the per-unit generation prompt.
func (p *Prompts) UnitUser(d UnitData) (string, error) {
	return render(p.unitUser, d)
}

// Explain returns the tutor system prompt.
func (p *Prompts) Explain() string { return p.explain }

func regulationLabel(r model.Regulation) string {
	if r == model.RegulationOther {
		return ""
	}
	return string(r)
}
