// Package template implements the placeholder renderer (C2): extracting
// `{{ ... }}` tags from raw template bytes and substituting each with its
// resolved value, governed by a per-unit injection policy.
//
// Grounded on original_source/src/template.rs: byte-oriented `{{`/`}}`
// search (not a general parser), quoted-key sanitization, and a
// zero-allocation return path when nothing in the input needed to change.
package template

import (
	"bytes"
	"fmt"

	"github.com/bpbradley/locket/internal/config"
)

const (
	openTag  = "{{"
	closeTag = "}}"
)

// Tag is one recognized `{{ ... }}` occurrence within a template.
type Tag struct {
	// Key is the sanitized interior text (quotes and surrounding
	// whitespace stripped).
	Key string
	// Start and End bound the full "{{ ... }}" span, End exclusive.
	Start, End int
}

// Parse scans src for `{{ ... }}` tags without interpreting their contents.
// An unterminated "{{" (no matching "}}") is not reported as a tag; the
// raw text passes through untouched, matching the byte-oriented original.
func Parse(src []byte) []Tag {
	var tags []Tag
	i := 0
	for {
		start := bytes.Index(src[i:], []byte(openTag))
		if start < 0 {
			break
		}
		start += i
		end := bytes.Index(src[start+len(openTag):], []byte(closeTag))
		if end < 0 {
			break
		}
		end += start + len(openTag)
		raw := string(src[start+len(openTag) : end])
		tags = append(tags, Tag{
			Key:   sanitizeKey(raw),
			Start: start,
			End:   end + len(closeTag),
		})
		i = end + len(closeTag)
	}
	return tags
}

// sanitizeKey trims whitespace, then strips one layer of matching single or
// double quotes, then trims whitespace again — mirroring
// original_source/src/template.rs's sanitize_key, which lets
// `{{ "op://..." }}` and `{{ 'op://...' }}` parse identically to the
// unquoted form.
func sanitizeKey(raw string) string {
	s := trimSpace(raw)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = trimSpace(s[1 : len(s)-1])
		}
	}
	return s
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && isSpace(s[start]) {
		start++
	}
	end := len(s)
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// Lookup resolves a tag Key to either a literal replacement value or an
// error. A Key that sanitizes to empty (e.g. "{{}}" or "{{ \"\" }}") is
// never looked up — it renders as its original literal text.
type Lookup func(key string) (value []byte, err error)

// Render substitutes every recognized tag in src using lookup, honoring
// policy for tags whose lookup fails. It returns src unmodified (same
// slice, no copy) when no tag actually changes the output — mirroring the
// original's Cow::Borrowed zero-allocation path.
func Render(src []byte, lookup Lookup, policy config.InjectPolicy) ([]byte, error) {
	tags := Parse(src)
	if len(tags) == 0 {
		return src, nil
	}

	var out bytes.Buffer
	modified := false
	last := 0

	for _, tag := range tags {
		if tag.Key == "" {
			// Empty or whitespace-only placeholder: literal passthrough,
			// never looked up.
			continue
		}

		value, err := lookup(tag.Key)
		if err == nil {
			out.Write(src[last:tag.Start])
			out.Write(value)
			last = tag.End
			modified = true
			continue
		}

		switch policy {
		case config.InjectError:
			return nil, fmt.Errorf("resolving %q: %w", tag.Key, err)
		case config.InjectIgnore:
			out.Write(src[last:tag.Start])
			last = tag.End
			modified = true
		case config.InjectPassthrough, "":
			// Leave the original "{{ ... }}" text in place; nothing to do,
			// last stays where it is so the next Write below includes it.
		default:
			return nil, fmt.Errorf("unknown inject policy %q", policy)
		}
	}

	if !modified {
		return src, nil
	}

	out.Write(src[last:])
	return out.Bytes(), nil
}
