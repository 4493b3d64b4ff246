// Package router extracts command directives from free-form utterances.
//
// Matching is a fixed, ordered rule table: the first rule whose trigger
// phrase appears anywhere in the lowercased text wins, regardless of
// where the phrase sits in the text. Parameter extraction is a
// boundary-based substring slice relative to the matched trigger. This
// is a deliberately simple heuristic, not an intent parser; new
// triggers are added as table rows, not branches.
package router

import (
	"log/slog"
	"strconv"
	"strings"
)

// Directive is a (command name, parameters) pair extracted from text.
type Directive struct {
	Name   string
	Params map[string]any
}

type rule struct {
	name    string
	match   func(lower string) bool
	extract func(original, lower string) map[string]any
}

// Router turns utterances into directives.
type Router struct {
	logger *slog.Logger
	rules  []rule
}

// New creates a router with the built-in rule table.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	r.rules = []rule{
		{
			name: "schedule_meeting",
			match: func(lower string) bool {
				return strings.Contains(lower, "schedule") && strings.Contains(lower, "meeting")
			},
			extract: func(original, _ string) map[string]any {
				return map[string]any{"text": original}
			},
		},
		{
			name: "today_schedule",
			match: containsAny("today's schedule", "my schedule today", "schedule for today"),
		},
		{
			name:  "next_meeting",
			match: containsAny("next meeting"),
		},
		{
			name:  "free_time",
			match: containsAny("free time"),
		},
		{
			name:  "weather",
			match: containsAny("weather"),
			extract: func(original, lower string) map[string]any {
				if loc := afterPhrase(original, lower, "weather in"); loc != "" {
					return map[string]any{"location": loc}
				}
				return nil
			},
		},
		{
			name:  "news",
			match: containsAny("news"),
			extract: func(original, lower string) map[string]any {
				if cat := afterPhrase(original, lower, "news about"); cat != "" {
					return map[string]any{"category": cat}
				}
				return nil
			},
		},
		{
			name:    "reminder",
			match:   containsAny("remind me to"),
			extract: extractReminder,
		},
		{
			name:    "timer",
			match:   containsAny("timer for"),
			extract: extractTimer,
		},
		{
			name:  "note",
			match: containsAny("note"),
			extract: func(original, lower string) map[string]any {
				text := afterPhrase(original, lower, "note")
				text = strings.TrimLeft(text, ": ")
				text = strings.TrimPrefix(text, "that ")
				return map[string]any{"text": strings.TrimSpace(text)}
			},
		},
		{
			name:  "search",
			match: containsAny("search for"),
			extract: func(original, lower string) map[string]any {
				return map[string]any{"query": afterPhrase(original, lower, "search for")}
			},
		},
		{
			name:    "translate",
			match:   containsAny("translate"),
			extract: extractTranslate,
		},
		{
			name:    "calculate",
			match:   matchCalculate,
			extract: extractCalculate,
		},
		{
			name:  "fact",
			match: containsAny("fact"),
		},
		{
			name:  "joke",
			match: containsAny("joke"),
		},
	}
	return r
}

// Route evaluates the rule table in order. Returns nil when no trigger
// matches; the caller treats the utterance as plain conversation.
func (r *Router) Route(text string) *Directive {
	lower := strings.ToLower(text)

	for _, rule := range r.rules {
		if !rule.match(lower) {
			continue
		}
		d := &Directive{Name: rule.name}
		if rule.extract != nil {
			d.Params = rule.extract(text, lower)
		}
		r.logger.Debug("directive matched", "directive", d.Name)
		return d
	}
	return nil
}

// containsAny matches when any of the phrases appears in the text.
func containsAny(phrases ...string) func(string) bool {
	return func(lower string) bool {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				return true
			}
		}
		return false
	}
}

// afterPhrase returns the original-case text following the first
// occurrence of phrase, cut at the first sentence-ending character.
func afterPhrase(original, lower, phrase string) string {
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return ""
	}
	rest := original[idx+len(phrase):]
	if cut := strings.IndexAny(rest, ".!?,"); cut >= 0 {
		rest = rest[:cut]
	}
	return strings.TrimSpace(rest)
}

func extractReminder(original, lower string) map[string]any {
	text := afterPhrase(original, lower, "remind me to")
	params := map[string]any{"text": text}

	// "remind me to stretch in 20 minutes" carries its own delay.
	tl := strings.ToLower(text)
	if idx := strings.LastIndex(tl, " in "); idx >= 0 {
		tail := strings.TrimSpace(tl[idx+4:])
		fields := strings.Fields(tail)
		if len(fields) == 2 && strings.HasPrefix(fields[1], "minute") {
			if n, err := strconv.Atoi(fields[0]); err == nil && n > 0 {
				params["text"] = strings.TrimSpace(text[:idx])
				params["minutes"] = n
			}
		}
	}
	return params
}

func extractTimer(original, lower string) map[string]any {
	spec := strings.ToLower(afterPhrase(original, lower, "timer for"))
	fields := strings.Fields(spec)
	if len(fields) == 0 {
		return nil
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return nil
	}

	seconds := n
	if len(fields) >= 2 {
		switch {
		case strings.HasPrefix(fields[1], "hour"):
			seconds = n * 3600
		case strings.HasPrefix(fields[1], "minute"):
			seconds = n * 60
		case strings.HasPrefix(fields[1], "second"):
			seconds = n
		}
	}
	return map[string]any{"seconds": seconds}
}

func extractTranslate(original, lower string) map[string]any {
	text := afterPhrase(original, lower, "translate")
	params := map[string]any{}

	tl := strings.ToLower(text)
	if idx := strings.LastIndex(tl, " to "); idx >= 0 {
		params["text"] = strings.TrimSpace(text[:idx])
		lang := strings.TrimSpace(text[idx+4:])
		params["language"] = capitalize(lang)
	} else {
		params["text"] = text
	}
	return params
}

// matchCalculate fires on an explicit "calculate" or on "what is"
// followed by something that looks numeric.
func matchCalculate(lower string) bool {
	if strings.Contains(lower, "calculate") {
		return true
	}
	if idx := strings.Index(lower, "what is"); idx >= 0 {
		return looksNumeric(lower[idx+len("what is"):])
	}
	return false
}

func extractCalculate(original, lower string) map[string]any {
	// Decimal points are operands here, so cut only at ? ! and comma,
	// not at periods like the other extractors.
	expr := sliceAfter(original, lower, "calculate")
	if expr == "" {
		expr = sliceAfter(original, lower, "what is")
	}
	if cut := strings.IndexAny(expr, "?!,"); cut >= 0 {
		expr = expr[:cut]
	}
	return map[string]any{"expression": strings.TrimSpace(expr)}
}

// sliceAfter returns the original-case text following the first
// occurrence of phrase, uncut.
func sliceAfter(original, lower, phrase string) string {
	idx := strings.Index(lower, phrase)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(original[idx+len(phrase):])
}

// looksNumeric reports whether s contains a digit and nothing outside
// the arithmetic character set.
func looksNumeric(s string) bool {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "?"))
	if s == "" {
		return false
	}
	hasDigit := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			hasDigit = true
			continue
		}
		if !strings.ContainsRune("+-*/().= ", c) {
			return false
		}
	}
	return hasDigit
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
