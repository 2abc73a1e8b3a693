package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"stardim/internal/datasource"
)

// TableName derives a warehouse identifier from a file reference:
// "data/Ventas Año 2016.csv" becomes "ventas_ano_2016". Accents are
// stripped, anything outside [a-z0-9_] becomes an underscore, runs of
// underscores collapse, and a leading digit gets a "t_" prefix.
func TableName(ref string) string {
	return Identifier(datasource.Stem(ref))
}

// Identifier normalizes s as TableName does, without stripping a path or
// extension.
func Identifier(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok || r == '_' {
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = true
			continue
		}
		b.WriteRune(r)
		underscore = false
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return "t"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "t_" + out
	}
	return out
}
