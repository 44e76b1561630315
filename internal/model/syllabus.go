package model

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Regulation identifies the curriculum regulation a syllabus belongs to.
type Regulation string

const (
	Regulation2017  Regulation = "R2017"
	Regulation2019  Regulation = "R2019"
	Regulation2021  Regulation = "R2021"
	Regulation2023  Regulation = "R2023"
	RegulationOther Regulation = "OTHER"
)

// ParseRegulation maps loosely formatted regulation tags ("2021", "r-2021",
// "Regulation 2021") onto the fixed set. Unknown values map to RegulationOther.
func ParseRegulation(s string) Regulation {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("REGULATION", "", "-", "", " ", "", "_", "").Replace(s)
	s = strings.TrimPrefix(s, "R")
	switch s {
	case "2017":
		return Regulation2017
	case "2019":
		return Regulation2019
	case "2021":
		return Regulation2021
	case "2023":
		return Regulation2023
	default:
		return RegulationOther
	}
}

// UnitRecord is one syllabus unit as extracted by the vision stage. It is
// read-only input to generation.
type UnitRecord struct {
	Number   int      `json:"unit_number"`
	Title    string   `json:"title"`
	Topics   []string `json:"topics"`
	Keywords []string `json:"keywords,omitempty"`
}

// SyllabusDocument is the extracted structure of a course syllabus.
type SyllabusDocument struct {
	SubjectCode string       `json:"subject_code"`
	SubjectName string       `json:"subject_name"`
	Department  string       `json:"department,omitempty"`
	Regulation  Regulation   `json:"regulation"`
	Semester    int          `json:"semester,omitempty"`
	TotalUnits  int          `json:"total_units"`
	Units       []UnitRecord `json:"units"`
}

// Subject returns the best human-readable identifier for the document.
func (d *SyllabusDocument) Subject() string {
	switch {
	case d.SubjectName != "" && d.SubjectCode != "":
		return d.SubjectCode + " " + d.SubjectName
	case d.SubjectName != "":
		return d.SubjectName
	case d.SubjectCode != "":
		return d.SubjectCode
	default:
		return "unknown subject"
	}
}

// DeclaredUnits returns the unit count the document claims to have. A
// missing total_units is reconciled with the length of the unit list.
func (d *SyllabusDocument) DeclaredUnits() int {
	if d.TotalUnits <= 0 {
		return len(d.Units)
	}
	return d.TotalUnits
}

// UnitCountMismatch reports whether total_units disagrees with the extracted
// unit list, which indicates a partial extraction.
func (d *SyllabusDocument) UnitCountMismatch() bool {
	return d.TotalUnits > 0 && d.TotalUnits != len(d.Units)
}

// Normalize trims text fields, drops blank topics and keywords, orders units
// by number and canonicalizes the regulation tag. A unit whose topic list is
// empty after trimming gets its title as the single topic.
func (d *SyllabusDocument) Normalize() {
	d.SubjectCode = strings.TrimSpace(d.SubjectCode)
	d.SubjectName = strings.TrimSpace(d.SubjectName)
	d.Department = strings.TrimSpace(d.Department)
	d.Regulation = ParseRegulation(string(d.Regulation))

	for i := range d.Units {
		u := &d.Units[i]
		u.Title = strings.TrimSpace(u.Title)
		u.Topics = compactStrings(u.Topics)
		u.Keywords = compactStrings(u.Keywords)
		if len(u.Topics) == 0 && u.Title != "" {
			u.Topics = []string{u.Title}
		}
	}
	sort.SliceStable(d.Units, func(i, j int) bool {
		return d.Units[i].Number < d.Units[j].Number
	})
}

// Validate checks the structural invariants of an extracted document.
func (d *SyllabusDocument) Validate() error {
	if len(d.Units) == 0 {
		return eris.New("syllabus: no units extracted")
	}
	if d.Semester < 0 || d.Semester > 12 {
		return eris.Errorf("syllabus: semester %d out of range", d.Semester)
	}
	seen := make(map[int]bool, len(d.Units))
	for _, u := range d.Units {
		if u.Number <= 0 {
			return eris.Errorf("syllabus: invalid unit number %d", u.Number)
		}
		if seen[u.Number] {
			return eris.Errorf("syllabus: duplicate unit number %d", u.Number)
		}
		seen[u.Number] = true
		if len(u.Topics) == 0 {
			return eris.Errorf("syllabus: unit %d has no topics", u.Number)
		}
	}
	return nil
}

func compactStrings(in []string) []string {
	out := in[:0]
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
