package leadguard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTextStripsAngleBrackets(t *testing.T) {
	cases := map[string]string{
		"plain text":                         "plain text",
		"  padded  ":                         "padded",
		"<script>alert(1)</script>":          "scriptalert(1)/script",
		"a < b > c":                          "a  b  c",
		"< wrapped >":                        "wrapped",
		"":                                   "",
		"   ":                                "",
		"zażółć gęślą jaźń":                  "zażółć gęślą jaźń",
		"<b>Firma</b> Sp. z o.o.":            "bFirma/b Sp. z o.o.",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeText(in), "input %q", in)
	}
}

func TestSanitizeTextCapsLength(t *testing.T) {
	long := strings.Repeat("ą", maxFieldLen+500)
	got := SanitizeText(long)
	assert.Equal(t, maxFieldLen, len([]rune(got)), "cap counts runes, not bytes")
}

func TestSanitizeTextIdempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"  <b> padded </b>  ",
		"< a >",
		strings.Repeat("x ", maxFieldLen),
		"zażółć <gęślą> jaźń",
	}
	for _, in := range inputs {
		once := SanitizeText(in)
		assert.Equal(t, once, SanitizeText(once), "input %q", in)
	}
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "pl", NormalizeLanguage("pl"))
	assert.Equal(t, "en", NormalizeLanguage("en"))
	assert.Equal(t, "pl", NormalizeLanguage("de"))
	assert.Equal(t, "pl", NormalizeLanguage(""))
	assert.Equal(t, "pl", NormalizeLanguage("PL"), "codes are case sensitive")
}

func TestSanitizeSubmission(t *testing.T) {
	sub := &SubmissionRequest{
		Name:             "  <b>Jan</b>  ",
		Email:            "jan@example.com",
		Phone:            " 600 700 800 ",
		Company:          "<Firma>",
		Description:      "Opis <projektu>",
		ProjectType:      "webapp",
		Language:         "xx",
		Price:            &Price{Min: floatPtr(1000), Max: floatPtr(3000)},
		SelectedFeatures: []string{"auth", "payments"},
		FeatureNames:     []string{"Logowanie", "Płatności"},
	}

	clean := SanitizeSubmission(sub)
	require.NotNil(t, clean)
	assert.Equal(t, "bJan/b", clean.Name)
	assert.Equal(t, "jan@example.com", clean.Email)
	assert.Equal(t, "600 700 800", clean.Phone)
	assert.Equal(t, "Firma", clean.Company)
	assert.Equal(t, "Opis projektu", clean.Description)
	assert.Equal(t, "pl", clean.Language)
	assert.Equal(t, 1000.0, clean.PriceMin)
	assert.Equal(t, 3000.0, clean.PriceMax)
	assert.Equal(t, []string{"auth", "payments"}, clean.SelectedFeatures)
	assert.Equal(t, []string{"Logowanie", "Płatności"}, clean.FeatureNames)
}
