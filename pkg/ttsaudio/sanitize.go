package ttsaudio

import (
	"net/url"
	"strconv"
	"strings"
)

// isolatedReplacements lists the single-character substitutions applied, in
// order, by SanitizeText. Order matches the original's fixed call sequence.
var isolatedReplacements = []struct {
	search, replace string
}{
	{"$", "dollar"},
	{"#", "pound"},
	{"&", "and"},
	{"|", "bar"},
	{"/", "or"},
}

const silentPunctuation = "?!:;-()"

func isCPunct(b byte) bool {
	return strings.IndexByte(`!"#$%&'()*+,-./:;<=>?@[\]^_`+"`"+`{|}~`, b) >= 0
}

func isCSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	default:
		return false
	}
}

// replaceIfIsolated replaces every occurrence of search in text with replace,
// but only where search is "isolated": the byte immediately before is
// punctuation, whitespace, or the string start, AND the byte immediately
// after is punctuation, whitespace, or the string end.
func replaceIfIsolated(text, search, replace string) string {
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(text[i:], search)
		if idx < 0 {
			b.WriteString(text[i:])
			break
		}
		pos := i + idx
		b.WriteString(text[i:pos])

		punctBefore := pos == 0 || isCPunct(text[pos-1]) || isCSpace(text[pos-1])
		after := pos + len(search)
		punctAfter := after == len(text) || isCPunct(text[after]) || isCSpace(text[after])

		if punctBefore && punctAfter {
			b.WriteString(replace)
		} else {
			b.WriteString(search)
		}
		i = after
	}
	return b.String()
}

// replaceSuccessivePunctuation strips stray '"' characters, then deletes
// every silent punctuation character in the run (of silent punctuation and
// whitespace) that immediately follows a punctuation character; the
// whitespace in that run is kept.
func replaceSuccessivePunctuation(text string) string {
	buf := []byte(text)
	out := make([]byte, 0, len(buf))
	i := 0
	for i < len(buf) {
		if buf[i] == '"' {
			i++
			continue
		}
		if isCPunct(buf[i]) {
			out = append(out, buf[i])
			i++
			for i < len(buf) && (strings.IndexByte(silentPunctuation, buf[i]) >= 0 || isCSpace(buf[i])) {
				if strings.IndexByte(silentPunctuation, buf[i]) >= 0 {
					i++
					continue
				}
				out = append(out, buf[i])
				i++
			}
			continue
		}
		out = append(out, buf[i])
		i++
	}
	return string(out)
}

// curlSanitize percent-encodes text the way libcurl's curl_easy_escape does:
// every byte outside the RFC 3986 unreserved set is percent-encoded, and
// (unlike url.QueryEscape) a space becomes %20, never "+".
func curlSanitize(text string) string {
	escaped := url.QueryEscape(text)
	return strings.ReplaceAll(escaped, "+", "%20")
}

// SanitizeText runs the full pipeline the Speaker applies to outbound
// speech text before it is embedded in the synthesis request URL.
func SanitizeText(text string) string {
	for _, r := range isolatedReplacements {
		text = replaceIfIsolated(text, r.search, r.replace)
	}
	text = replaceSuccessivePunctuation(text)
	return curlSanitize(text)
}

// ConstructURL builds the outbound synthesis request URL:
// <base>voice=<v>&language=<l>&rate=<r>&text=<url-escaped sanitized text>.
// base is the endpoint chosen by the caller (secure or insecure); voice and
// language are omitted if empty; rate is clamped to 100 and always present.
func ConstructURL(base, voice, language string, rate int, text string) string {
	var b strings.Builder
	b.WriteString(base)
	if voice != "" {
		b.WriteString("voice=")
		b.WriteString(voice)
	}
	if language != "" {
		b.WriteString("&language=")
		b.WriteString(language)
	}
	if rate > 100 {
		rate = 100
	}
	b.WriteString("&rate=")
	b.WriteString(strconv.Itoa(rate))
	b.WriteString("&text=")
	b.WriteString(SanitizeText(text))
	return b.String()
}
