// Package chunker splits long text into pieces small enough for an embedding
// model's input window.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultTargetSize = 400
	DefaultMaxSize    = 600
)

// Options configures chunking behavior. Sizes are in runes.
type Options struct {
	TargetSize int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MaxSize:    DefaultMaxSize,
	}
}

// WithMax derives options for a given max size, targeting two thirds of it.
func WithMax(max int) Options {
	if max <= 0 {
		return DefaultOptions()
	}
	return Options{TargetSize: max * 2 / 3, MaxSize: max}
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// Split breaks text into chunks of at most opts.MaxSize runes. Text that
// already fits is returned as a single chunk; blank text yields nil.
func Split(text string, opts Options) []string {
	if opts.MaxSize <= 0 {
		opts = DefaultOptions()
	}
	if opts.TargetSize <= 0 || opts.TargetSize > opts.MaxSize {
		opts.TargetSize = opts.MaxSize
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if runeLen(text) <= opts.MaxSize {
		return []string{text}
	}

	return merge(paragraphs(text), opts)
}

// paragraphs splits on blank lines and markdown headings.
func paragraphs(text string) []string {
	var out []string
	var current []string

	flush := func() {
		if t := strings.TrimSpace(strings.Join(current, "\n")); t != "" {
			out = append(out, t)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
			continue
		case strings.HasPrefix(trimmed, "#"):
			flush()
		}
		current = append(current, line)
	}
	flush()
	return out
}

// merge packs paragraphs up to TargetSize and hard-splits oversized ones.
func merge(paras []string, opts Options) []string {
	var out []string
	var accum string

	flush := func() {
		if accum == "" {
			return
		}
		if runeLen(accum) > opts.MaxSize {
			out = append(out, hardSplit(accum, opts)...)
		} else {
			out = append(out, accum)
		}
		accum = ""
	}

	for _, p := range paras {
		if accum == "" {
			accum = p
			continue
		}
		combined := accum + "\n\n" + p
		if runeLen(combined) <= opts.TargetSize {
			accum = combined
			continue
		}
		flush()
		accum = p
	}
	flush()
	return out
}

// hardSplit breaks text on word boundaries, falling back to a rune cut for
// words longer than MaxSize.
func hardSplit(text string, opts Options) []string {
	var out []string
	var b strings.Builder
	n := 0

	emit := func() {
		if t := strings.TrimSpace(b.String()); t != "" {
			out = append(out, t)
		}
		b.Reset()
		n = 0
	}

	for _, word := range strings.FieldsFunc(text, unicode.IsSpace) {
		wl := runeLen(word)
		for wl > opts.MaxSize {
			emit()
			r := []rune(word)
			out = append(out, string(r[:opts.MaxSize]))
			word = string(r[opts.MaxSize:])
			wl = runeLen(word)
		}
		if wl == 0 {
			continue
		}
		if n > 0 && n+1+wl > opts.TargetSize {
			emit()
		}
		if n > 0 {
			b.WriteByte(' ')
			n++
		}
		b.WriteString(word)
		n += wl
	}
	emit()
	return out
}
