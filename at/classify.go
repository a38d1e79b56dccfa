package at

import (
	"strconv"
	"strings"
)

// FinalKind distinguishes the final result codes a command can end with.
type FinalKind int

const (
	FinalOK  FinalKind = iota
	FinalErr           // bare ERROR, no code
	FinalCME           // +CME ERROR:<n>
	FinalCMS           // +CMS ERROR:<n>
)

// Final is a parsed final result line.
//
// Code carries the numeric +CME/+CMS error code, or -1 when the module was
// configured for verbose errors (AT+CMEE=2) and reported text instead. The
// raw text is kept in Message either way.
type Final struct {
	Kind    FinalKind
	Code    int
	Message string
}

func (f Final) OK() bool {
	return f.Kind == FinalOK
}

// ParseFinal reports whether line is a final result code and parses it.
func ParseFinal(line string) (Final, bool) {
	switch line {
	case OK:
		return Final{Kind: FinalOK, Code: -1}, true
	case ERROR:
		return Final{Kind: FinalErr, Code: -1}, true
	}

	var kind FinalKind
	var rest string
	switch {
	case strings.HasPrefix(line, CmeError):
		kind, rest = FinalCME, line[len(CmeError):]
	case strings.HasPrefix(line, CmsError):
		kind, rest = FinalCMS, line[len(CmsError):]
	default:
		return Final{}, false
	}

	rest = strings.TrimSpace(rest)
	code := -1
	if n, err := strconv.Atoi(rest); err == nil {
		code = n
	}
	return Final{Kind: kind, Code: code, Message: rest}, true
}

// URC is one parsed unsolicited result code: the prefix token including the
// trailing colon, and the comma-delimited payload fields with surrounding
// quotes and whitespace stripped.
type URC struct {
	Prefix string
	Fields []string
}

// Field returns field i or the empty string when the URC is shorter.
func (u URC) Field(i int) string {
	if i < 0 || i >= len(u.Fields) {
		return ""
	}
	return u.Fields[i]
}

// ParseURC splits a line of the form "+PREFIX: a,b,\"c\"" into its prefix
// and payload fields. It reports false for lines without a colon-terminated
// prefix token.
func ParseURC(line string) (URC, bool) {
	colon := strings.Index(line, ":")
	if colon <= 0 {
		return URC{}, false
	}
	u := URC{Prefix: line[:colon+1]}
	payload := strings.TrimSpace(line[colon+1:])
	if payload == "" {
		return u, true
	}
	for _, f := range splitFields(payload) {
		u.Fields = append(u.Fields, strings.Trim(strings.TrimSpace(f), `"`))
	}
	return u, true
}

// splitFields splits on commas that are outside double quotes, so quoted
// payload data containing commas survives intact.
func splitFields(s string) []string {
	var fields []string
	start := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, s[start:])
}

// Classify identifies the nature of one framed line. urcPrefix reports
// whether a prefix token is currently registered as a URC prefix; it may be
// nil when no URC prefixes are known.
//
// Final result codes win over everything, so a hostile URC prefix can never
// swallow a command's terminal line. Lines that are neither final nor a
// registered URC are data; whether a data line belongs to an in-flight
// command or is discarded as noise is the reader loop's decision.
func Classify(line string, urcPrefix func(string) bool) ResponseType {
	if _, ok := ParseFinal(line); ok {
		return TypeFinal
	}
	if urcPrefix != nil {
		if u, ok := ParseURC(line); ok && urcPrefix(u.Prefix) {
			return TypeURC
		}
	}
	return TypeData
}
