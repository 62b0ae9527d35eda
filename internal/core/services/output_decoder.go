package services

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

	// A rate (12MBps, 12MB/s) is captured in the third group so it can be skipped.
	sizePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s?(TiB|GiB|MiB|KiB|TB|GB|MB|KB|B)(ps|/s|\b)`)

	finalNamePattern = regexp.MustCompile(`(?im)\b(?:muxing to|renam(?:e|ing|ed) to|save ?name|final file(?:name)?)\s*[:=]?\s*["']?([^"'\r\n]+?)["']?\s*$`)
)

var sizeUnits = map[string]float64{
	"B":   1,
	"KB":  1 << 10,
	"MB":  1 << 20,
	"GB":  1 << 30,
	"TB":  1 << 40,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

// OutputSignals are the facts the recorder reports in free-form text.
type OutputSignals struct {
	FileSize    int64
	HasFileSize bool
	// FinalName is the announced artifact name without directory or extension.
	FinalName string
	// FinalExt is the announced extension without the dot, empty if none was given.
	FinalExt string
}

// DecodeOutput turns one raw chunk of process output into normalized text:
// invalid UTF-8, ANSI escapes and control characters removed, line endings
// collapsed to \n, every line trimmed and blank lines dropped. A chunk that is
// mostly not UTF-8 returns ErrUndecodableOutput.
func DecodeOutput(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.Grow(len(raw))
	invalid := 0
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size <= 1 {
			invalid++
			i++
			continue
		}
		b.WriteRune(r)
		i += size
	}
	if invalid > 0 && invalid*4 >= len(raw) {
		return "", ErrUndecodableOutput
	}

	text := ansiPattern.ReplaceAllString(b.String(), "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), nil
}

// ExtractSignals scans decoded text for a current artifact size and a final
// filename announcement. The first size that is not a transfer rate wins.
func ExtractSignals(text string) OutputSignals {
	var sig OutputSignals

	for _, m := range sizePattern.FindAllStringSubmatch(text, -1) {
		if m[3] == "ps" || m[3] == "/s" {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		sig.FileSize = int64(v * sizeUnits[m[2]])
		sig.HasFileSize = true
		break
	}

	if m := finalNamePattern.FindStringSubmatch(text); m != nil {
		sig.FinalName, sig.FinalExt = splitAnnouncedName(m[1])
	}

	return sig
}

func splitAnnouncedName(announced string) (name, ext string) {
	announced = strings.TrimSpace(strings.ReplaceAll(announced, `\`, "/"))
	base := filepath.Base(announced)
	if base == "." || base == "/" {
		return "", ""
	}
	e := filepath.Ext(base)
	if isMediaExt(e) {
		return strings.TrimSuffix(base, e), strings.ToLower(e[1:])
	}
	return base, ""
}

func isMediaExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	return bytes.ContainsFunc([]byte(ext[1:]), unicode.IsLetter)
}

// splitOutputLines is a bufio.SplitFunc that yields on \n or \r so progress
// bars redrawn with carriage returns arrive as separate tokens.
func splitOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
