package transform

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	texttransform "golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"etlpipe/internal/config"
	"etlpipe/pkg/records"
)

var (
	camelBoundaryRe = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	whitespaceRunRe = regexp.MustCompile(`\s+`)
	specialCharsRe  = regexp.MustCompile(`[^a-zA-Z0-9_]`)
	underscoreRunRe = regexp.MustCompile(`_+`)
)

// diacriticsFold decomposes to NFD, drops combining marks, and recomposes,
// so "Průměrná cena" normalizes to "Prumerna cena" before the ASCII pass.
var diacriticsFold = texttransform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeColumns rewrites every column name into a database-friendly form:
// camelCase boundaries become underscores, whitespace runs become the
// configured separator, diacritics are folded, remaining special characters
// are stripped, underscore runs are collapsed, and the result is lowercased.
//
// The mapping is computed per record. If two original columns collapse to the
// same normalized name within a record, the lexically later original wins
// (last-write-wins); this is a documented edge case, not an error.
type NormalizeColumns struct {
	Lowercase      bool
	Separator      string
	RemoveSpecial  bool
	FoldDiacritics bool
	MaxLength      int
}

func newNormalizeColumns(o config.Options) (Transform, error) {
	return &NormalizeColumns{
		Lowercase:      o.Bool("lowercase", true),
		Separator:      o.String("replace_spaces", "_"),
		RemoveSpecial:  o.Bool("remove_special_chars", true),
		FoldDiacritics: o.Bool("fold_diacritics", true),
		MaxLength:      o.Int("max_length", 0),
	}, nil
}

func (t *NormalizeColumns) Name() string { return "normalize_columns" }

func (t *NormalizeColumns) Apply(batch records.Batch) (records.Batch, error) {
	out := perRecord(t.Name(), batch, func(rec records.Record) (records.Record, bool) {
		nr := make(records.Record, len(rec))
		for _, col := range rec.Keys() {
			nr[t.normalize(col)] = rec[col]
		}
		return nr, true
	})
	return out, nil
}

// normalize converts one column name. The steps mirror the order a human
// would apply them: fold accents, split camelCase, map separators, strip the
// rest, then tidy underscores.
func (t *NormalizeColumns) normalize(name string) string {
	s := name

	if t.FoldDiacritics {
		if folded, _, err := texttransform.String(diacriticsFold, s); err == nil {
			s = folded
		}
	}

	s = camelBoundaryRe.ReplaceAllString(s, "${1}_${2}")
	s = whitespaceRunRe.ReplaceAllString(s, t.Separator)
	s = strings.ReplaceAll(s, "-", t.Separator)

	if t.RemoveSpecial {
		s = specialCharsRe.ReplaceAllString(s, "")
	}
	if t.Lowercase {
		s = strings.ToLower(s)
	}

	s = underscoreRunRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")

	// Truncate by rune, not byte: with folding or stripping disabled the name
	// can still carry multi-byte runes, and a byte slice could split one.
	if t.MaxLength > 0 {
		if r := []rune(s); len(r) > t.MaxLength {
			s = string(r[:t.MaxLength])
		}
	}
	if s == "" {
		s = "column"
	}
	return s
}
