package guard

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examprep/examprep-cli/internal/model"
)

func validResult() model.AnalysisResult {
	return model.AnalysisResult{
		Metadata: model.ResultMetadata{
			SubjectCode: "CS3491",
			SubjectName: "Artificial Intelligence",
			TotalUnits:  2,
		},
		Methodology: "Weighted by frequency ✅",
		UnitPredictions: []model.UnitAnalysis{
			validUnit(1),
		},
	}
}

func validUnit(n int) model.UnitAnalysis {
	return model.UnitAnalysis{
		UnitNumber:   n,
		Title:        "Search Strategies",
		ShortAnswers: []model.Question{{Question: "Define heuristic.", Answer: "A rule of thumb.", Marks: 2}},
		LongAnswers:  []model.Question{{Question: "Explain A* search 📚", Answer: "f(n) = g(n) + h(n)", Marks: 13}},
	}
}

func TestCheck_ValidResult(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Check(validResult()))
	assert.True(t, Validate(validResult()))
}

func TestCheck_DeniedScripts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
	}{
		{"han", "Explain 搜索 algorithms"},
		{"hiragana", "ひらがな"},
		{"katakana", "カタカナ"},
		{"hangul", "한국어"},
		{"cyrillic", "Поиск"},
		{"arabic", "بحث"},
		{"hebrew", "חיפוש"},
		{"thai", "ค้นหา"},
		{"devanagari", "खोज"},
		{"replacement char", "broken � text"},
		{"control char", "bell\x07"},
		{"unlisted pictograph", "party 🎉"},
		{"ideograph", "漢"},
		{"halfwidth katakana", "ｶ"},
		{"cjk punctuation", "Search strategies。"},
		{"ideographic space", "A*\u3000search"},
		{"fullwidth latin", "ＡＢＣ"},
		{"bopomofo", "ㄅ"},
		{"extended bopomofo", "\u31a0"},
		{"enclosed cjk", "㈠ heuristics"},
		{"cjk compatibility", "㌀"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := validResult()
			r.Methodology = tt.text
			err := Check(r)
			require.Error(t, err)
			var v *Violation
			require.ErrorAs(t, err, &v)
			assert.True(t, v.Failed(CheckEncoding))
			assert.False(t, v.Failed(CheckStructure))
		})
	}
}

func TestCheck_AllowsWhitespaceAndLatin(t *testing.T) {
	t.Parallel()
	r := validResult()
	r.Methodology = "Café résumé\tnaïve\r\nline 2 — α β ≤ ∑ © °"
	assert.NoError(t, Check(r))
}

func TestCheck_GarbageTokens(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"Answer: [object Object]",
		"undefined undefined",
		"Lorem Ipsum dolor sit amet",
		"Hit ratio NaN%",
		"donâ€™t panic",
		"cafÃ©",
	} {
		r := validResult()
		r.UnitPredictions[0].ShortAnswers[0].Answer = text
		err := Check(r)
		require.Error(t, err, text)
		var v *Violation
		require.ErrorAs(t, err, &v)
		assert.True(t, v.Failed(CheckGarbage), text)
	}
}

func TestCheck_Structure(t *testing.T) {
	t.Parallel()

	err := Check(json.RawMessage(`{"metadata":{}}`))
	require.Error(t, err)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.True(t, v.Failed(CheckStructure))
	assert.Contains(t, err.Error(), "missing unit_predictions")

	assert.Error(t, Check([]byte(`{"unit_predictions":[]}`)))
	assert.Error(t, Check(`[1,2,3]`))
	assert.Error(t, Check(`not json`))

	// Present but empty is accepted.
	assert.NoError(t, Check(`{"metadata":{},"unit_predictions":[]}`))
	assert.NoError(t, Check(`{"metadata":null,"unit_predictions":null}`))
}

func TestCheck_EscapedRunesAreDecoded(t *testing.T) {
	t.Parallel()
	assert.Error(t, Check(`{"metadata":{"x":"中"},"unit_predictions":[]}`))
	assert.Error(t, Check(`{"metadata":{"x":"\u0001"},"unit_predictions":[]}`))
}

func TestCheck_ReportsMultipleChecks(t *testing.T) {
	t.Parallel()
	err := Check(`{"metadata":{"note":"中文 [object Object]"}}`)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.True(t, v.Failed(CheckEncoding))
	assert.True(t, v.Failed(CheckGarbage))
	assert.True(t, v.Failed(CheckStructure))
}

func TestCheckUnit(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CheckUnit(validUnit(3)))

	noShort := validUnit(1)
	noShort.ShortAnswers = nil
	assert.Error(t, CheckUnit(noShort))

	blank := validUnit(1)
	blank.LongAnswers = []model.Question{{Question: "  "}}
	assert.Error(t, CheckUnit(blank))

	zero := validUnit(0)
	assert.Error(t, CheckUnit(zero))

	assert.Error(t, CheckUnit(`{"unit_number":1,"short_answer_questions":[{"question":"a"}]}`))

	garbled := validUnit(2)
	garbled.Title = "Пример"
	err := CheckUnit(garbled)
	var v *Violation
	require.ErrorAs(t, err, &v)
	assert.True(t, v.Failed(CheckEncoding))
}

func TestCheckUnit_UnitNumberForms(t *testing.T) {
	t.Parallel()
	const body = `,"short_answer_questions":[{"question":"a"}],"long_answer_questions":[{"question":"b"}]}`
	for _, n := range []string{`3`, `3.0`, `"3"`, `"Unit 3"`, `" unit  3 "`} {
		assert.NoError(t, CheckUnit(`{"unit_number":`+n+body), n)
	}
	for _, n := range []string{`0`, `-1`, `2.5`, `""`, `"Unit three"`, `null`, `true`} {
		err := CheckUnit(`{"unit_number":` + n + body)
		var v *Violation
		require.ErrorAs(t, err, &v, n)
		assert.True(t, v.Failed(CheckStructure), n)
	}
}

func TestCountsMatch(t *testing.T) {
	t.Parallel()
	r := validResult()
	assert.False(t, CountsMatch(r))
	// Partial results still pass Validate.
	assert.True(t, Validate(r))

	r.UnitPredictions = append(r.UnitPredictions, validUnit(2))
	assert.True(t, CountsMatch(r))
	assert.False(t, CountsMatch(`{"unit_predictions":[]}`))
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Plain text", "Plain text"},
		{"Keep ✅ and 📚 emoji", "Keep ✅ and 📚 emoji"},
		{"Drop 中文 script", "Drop  script"},
		{"tab\tand\nnewline", "tab\tand\nnewline"},
		{"value: [object Object]", "value:"},
		{"bad\x00byte�", "badbyte"},
		{"café", "café"},
		{"  Lorem ipsum  ", ""},
		{"  padded\ttext \n", "padded\ttext"},
		{"inner   spaces", "inner   spaces"},
		{"Ｆｕｌｌ width。", "width"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}

func TestSanitizedTextPassesCheck(t *testing.T) {
	t.Parallel()
	r := validResult()
	r.Methodology = Sanitize("Ranked by 頻度 — undefined undefined ⭐\x1b")
	assert.NoError(t, Check(r))
}
