// Package guard rejects corrupted or hallucinated model output and cleans up
// stray text.
package guard

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/unicode/rangetable"
)

// Check names reported in a Violation.
const (
	CheckEncoding  = "encoding"
	CheckGarbage   = "garbage"
	CheckStructure = "structure"
)

// Violation lists the checks a candidate failed.
type Violation struct {
	Checks  []string
	Details []string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("guard: failed %s: %s", strings.Join(v.Checks, ","), strings.Join(v.Details, "; "))
}

// Failed reports whether the named check is among the failures.
func (v *Violation) Failed(check string) bool {
	for _, c := range v.Checks {
		if c == check {
			return true
		}
	}
	return false
}

func (v *Violation) add(check, detail string) {
	if !v.Failed(check) {
		v.Checks = append(v.Checks, check)
	}
	v.Details = append(v.Details, detail)
}

func (v *Violation) err() error {
	if len(v.Checks) == 0 {
		return nil
	}
	return v
}

var c0Controls = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00, Hi: 0x08, Stride: 1},
		{Lo: 0x0b, Hi: 0x0c, Stride: 1},
		{Lo: 0x0e, Hi: 0x1f, Stride: 1},
		{Lo: 0x7f, Hi: 0x7f, Stride: 1},
		{Lo: 0xfffd, Hi: 0xfffd, Stride: 1},
	},
}

// Pictograph blocks are denied wholesale so only the allow-listed emoji pass.
var pictographs = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2b00, Hi: 0x2bff, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f000, Hi: 0x1faff, Stride: 1},
	},
}

// CJK symbol and compatibility blocks that sit outside the script tables.
var cjkBlocks = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303f, Stride: 1}, // symbols and punctuation
		{Lo: 0x3100, Hi: 0x312f, Stride: 1}, // bopomofo
		{Lo: 0x31a0, Hi: 0x31bf, Stride: 1},
		{Lo: 0x3200, Hi: 0x33ff, Stride: 1}, // enclosed and compatibility
		{Lo: 0xff00, Hi: 0xff5e, Stride: 1}, // fullwidth forms
	},
}

var denied = rangetable.Merge(
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
	unicode.Cyrillic,
	unicode.Arabic,
	unicode.Hebrew,
	unicode.Thai,
	unicode.Devanagari,
	unicode.Co,
	c0Controls,
	pictographs,
	cjkBlocks,
)

var allowed = map[rune]bool{
	'✅': true, '✔': true, '✓': true, '❌': true, '⚠': true, '⭐': true,
	'✨': true, '⚡': true, '❗': true, '➡': true,
	'📚': true, '📖': true, '📝': true, '📌': true, '🎯': true, '💡': true,
	'🔥': true, '🚀': true, '🧠': true, '⏰': true, '📊': true, '🔑': true,
	'👉': true, '🏆': true,
	0xfe0f: true, // variation selector after emoji
}

// mojibake sequences are matched exactly; phrases case-insensitively.
var mojibake = []string{
	"Ã©", "Ã¨", "Ã¢", "Ã¶", "Ã¼", "Ã±",
	"â€™", "â€œ", "â€\u009d", "â€“", "â€”", "â€¦", "â€¢",
	"Â ", "Â·", "ï¿½", "ðŸ",
}

var phrases = []string{
	"[object Object]",
	"undefined undefined",
	"null null",
	"lorem ipsum",
	"NaN%",
	"as an ai language model",
}

var phraseRE = buildPhraseRE()

func buildPhraseRE() *regexp.Regexp {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
}

// Disallowed reports whether r is in the denylist and not allow-listed.
// Tab, newline and carriage return are always allowed.
func Disallowed(r rune) bool {
	if allowed[r] {
		return false
	}
	return unicode.Is(denied, r)
}

// scanText records encoding and garbage problems found in s.
// Only the first offence of each kind is recorded.
func scanText(s string, v *Violation) {
	if !v.Failed(CheckEncoding) {
		for _, r := range s {
			if Disallowed(r) {
				v.add(CheckEncoding, fmt.Sprintf("disallowed rune %U", r))
				break
			}
		}
	}
	if v.Failed(CheckGarbage) {
		return
	}
	for _, m := range mojibake {
		if strings.Contains(s, m) {
			v.add(CheckGarbage, fmt.Sprintf("mojibake %q", m))
			return
		}
	}
	if tok := phraseRE.FindString(s); tok != "" {
		v.add(CheckGarbage, fmt.Sprintf("garbage token %q", tok))
	}
}

// walk visits every string (object keys included) in a decoded JSON tree.
func walk(node any, fn func(string)) {
	switch n := node.(type) {
	case string:
		fn(n)
	case []any:
		for _, item := range n {
			walk(item, fn)
		}
	case map[string]any:
		for k, item := range n {
			fn(k)
			walk(item, fn)
		}
	}
}

// decode turns a candidate into a generic JSON tree. Byte slices, raw
// messages and strings are treated as JSON text; anything else is marshaled.
func decode(candidate any) (any, error) {
	var raw []byte
	switch c := candidate.(type) {
	case json.RawMessage:
		raw = c
	case []byte:
		raw = c
	case string:
		raw = []byte(c)
	default:
		b, err := json.Marshal(candidate)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func scanTree(tree any, v *Violation) {
	walk(tree, func(s string) { scanText(s, v) })
}

// Check runs the report-level checks: no disallowed runes, no garbage tokens,
// and both "metadata" and "unit_predictions" present at the top level.
// Present-but-empty values pass; only absence fails. It returns a *Violation
// listing every failed check, or nil.
func Check(candidate any) error {
	v := &Violation{}
	tree, err := decode(candidate)
	if err != nil {
		v.add(CheckStructure, "not valid JSON: "+err.Error())
		return v
	}

	scanTree(tree, v)

	obj, ok := tree.(map[string]any)
	if !ok {
		v.add(CheckStructure, "top level is not an object")
	} else {
		for _, key := range []string{"metadata", "unit_predictions"} {
			if _, present := obj[key]; !present {
				v.add(CheckStructure, "missing "+key)
			}
		}
	}

	if err := v.err(); err != nil {
		zap.L().Debug("guard: report rejected", zap.Strings("checks", v.Checks), zap.Strings("details", v.Details))
		return err
	}
	return nil
}

// Validate is the boolean form of Check.
func Validate(candidate any) bool {
	return Check(candidate) == nil
}

// CheckUnit runs the encoding and garbage checks on one unit analysis and
// requires unit_number plus non-empty short and long answer question lists in
// which every question has text.
func CheckUnit(candidate any) error {
	v := &Violation{}
	tree, err := decode(candidate)
	if err != nil {
		v.add(CheckStructure, "not valid JSON: "+err.Error())
		return v
	}

	scanTree(tree, v)

	obj, ok := tree.(map[string]any)
	if !ok {
		v.add(CheckStructure, "unit is not an object")
		return v
	}
	if _, ok := UnitNumber(obj["unit_number"]); !ok {
		v.add(CheckStructure, "missing or invalid unit_number")
	}
	for _, key := range []string{"short_answer_questions", "long_answer_questions"} {
		list, ok := obj[key].([]any)
		if !ok || len(list) == 0 {
			v.add(CheckStructure, "missing or empty "+key)
			continue
		}
		for i, item := range list {
			q, _ := item.(map[string]any)
			text, _ := q["question"].(string)
			if strings.TrimSpace(text) == "" {
				v.add(CheckStructure, fmt.Sprintf("%s[%d] has no question text", key, i))
				break
			}
		}
	}

	if err := v.err(); err != nil {
		zap.L().Debug("guard: unit rejected", zap.Strings("checks", v.Checks), zap.Strings("details", v.Details))
		return err
	}
	return nil
}

// UnitNumber reads a decoded unit_number: a positive whole JSON number, or a
// string whose last word is one ("3", "Unit 3").
func UnitNumber(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		fields := strings.Fields(n)
		if len(fields) == 0 {
			return 0, false
		}
		i, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || i <= 0 {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

// CountsMatch reports whether unit_predictions has metadata.total_units
// entries. Validate does not apply it: partial results are allowed through.
func CountsMatch(candidate any) bool {
	tree, err := decode(candidate)
	if err != nil {
		return false
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return false
	}
	meta, _ := obj["metadata"].(map[string]any)
	total, ok := meta["total_units"].(float64)
	if !ok {
		return false
	}
	units, _ := obj["unit_predictions"].([]any)
	return int(total) == len(units)
}

var stripDisallowed = runes.Remove(runes.Predicate(Disallowed))

// Sanitize NFC-normalizes text and strips disallowed runes and garbage
// tokens. Allow-listed emoji and interior whitespace are kept; the result is
// trimmed at both ends.
func Sanitize(text string) string {
	out, _, err := transform.String(transform.Chain(norm.NFC, stripDisallowed), text)
	if err != nil {
		out = text
	}
	for _, m := range mojibake {
		out = strings.ReplaceAll(out, m, "")
	}
	out = phraseRE.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
