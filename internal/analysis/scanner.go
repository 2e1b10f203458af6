package analysis

import (
	"errors"
	"log"
	"strings"
)

// RestrictedToken is the platform API namespace the scanner looks for.
const RestrictedToken = "google.appengine"

// ErrUnsupportedLanguage is reported when deep analysis is requested for an
// ecosystem it has not been implemented for. Only Python is supported today.
var ErrUnsupportedLanguage = errors.New("language analysis not implemented")

const pythonExtension = ".py"

// Scan walks every Python source entry in manifest order and collects each
// line containing the restricted token as "<entry-name>: <line>". An empty
// report is valid evidence that no restricted API usage was detected.
// Each entry is decompressed whole before line splitting, so lines of any
// length are matched. Entries that cannot be read are skipped and logged
// rather than failing the scan; losing one file's evidence beats rejecting
// an otherwise valid submission.
func Scan(a *Archive, lang Language) (string, error) {
	if lang != LanguagePython {
		return "", ErrUnsupportedLanguage
	}
	var report strings.Builder
	for _, name := range a.Entries() {
		if !strings.HasSuffix(name, pythonExtension) {
			continue
		}
		data, err := a.ReadEntry(name)
		if err != nil {
			log.Printf("scan: skipping unreadable entry %s: %v", name, err)
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSuffix(line, "\r")
			if strings.Contains(line, RestrictedToken) {
				report.WriteString(name)
				report.WriteString(": ")
				report.WriteString(line)
				report.WriteString("\n")
			}
		}
	}
	return strings.TrimSpace(report.String()), nil
}
