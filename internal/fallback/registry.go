package fallback

import (
	"strings"
	"sync"

	"github.com/examprep/examprep-cli/internal/guard"
	"github.com/examprep/examprep-cli/internal/model"
)

// Kind is a coarse subject classification.
type Kind string

const (
	KindGeneral        Kind = "general"
	KindProblemSolving Kind = "problem_solving"
)

var problemSolvingTerms = []string{
	"mathematics", "calculus", "algebra", "statistics", "probability",
	"transforms", "numerical", "physics", "mechanics", "thermodynamics",
	"circuit", "signals", "control systems", "discrete",
}

// Classify picks a subject kind from its name.
func Classify(subject string) Kind {
	s := strings.ToLower(subject)
	for _, term := range problemSolvingTerms {
		if strings.Contains(s, term) {
			return KindProblemSolving
		}
	}
	return KindGeneral
}

// Registry maps subject kinds to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	generic  Adapter
	adapters map[Kind]Adapter
}

// NewRegistry returns a registry with the built-in adapters.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		generic:  NewGenericAdapter(opts),
		adapters: make(map[Kind]Adapter),
	}
	r.Register(KindProblemSolving, NewProblemSolvingAdapter(opts))
	return r
}

// Register installs or replaces the adapter for a kind.
func (r *Registry) Register(kind Kind, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == KindGeneral {
		r.generic = a
		return
	}
	r.adapters[kind] = a
}

// For returns the adapter for the subject, or the generic adapter.
func (r *Registry) For(subject string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[Classify(subject)]; ok {
		return a
	}
	return r.generic
}

// Unit builds the fallback for a unit with the subject's adapter. The title
// and topics are sanitized first; topics left empty are dropped.
func (r *Registry) Unit(subject string, unit model.UnitRecord) model.UnitAnalysis {
	return r.For(subject).FallbackUnit(clean(unit))
}

func clean(unit model.UnitRecord) model.UnitRecord {
	unit.Title = guard.Sanitize(unit.Title)
	var topics []string
	for _, t := range unit.Topics {
		if t = guard.Sanitize(t); t != "" {
			topics = append(topics, t)
		}
	}
	unit.Topics = topics
	return unit
}
