package analysis

import (
	"errors"
	"strings"
)

// Language identifies the source ecosystem of an uploaded archive.
type Language string

const (
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
)

// ErrUnknownLanguage is reported when no marker file is present.
var ErrUnknownLanguage = errors.New("unrecognized application language")

// marker pairs a filename suffix with the ecosystem it identifies.
type marker struct {
	suffix string
	lang   Language
}

var markers = []marker{
	{"app.yaml", LanguagePython},
	{"appengine-web.xml", LanguageJava},
}

// Classify returns the language of the first manifest entry whose name ends
// with a registered marker suffix. The winner is decided by the archive's own
// listing order; an archive carrying both markers resolves to whichever entry
// appears first.
func Classify(a *Archive) (Language, error) {
	for _, name := range a.Entries() {
		for _, m := range markers {
			if strings.HasSuffix(name, m.suffix) {
				return m.lang, nil
			}
		}
	}
	return "", ErrUnknownLanguage
}
