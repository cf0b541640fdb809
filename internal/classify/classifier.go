package classify

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Flavor describes how a fragment was recognized as executable.
type Flavor string

const (
	DirectScript     Flavor = "direct-script"
	MarkupWithScript Flavor = "markup-with-script"
	DetectedScript   Flavor = "detected-script"
)

// Result is the classifier's verdict on one fragment.
type Result struct {
	Executable bool
	Flavor     Flavor
	Source     string
}

// Config tunes the heuristic layer.
type Config struct {
	// MinSignals is the number of independent code signals an untagged
	// fragment must show before it is treated as executable.
	MinSignals int
}

// DefaultConfig returns the empirically chosen threshold.
func DefaultConfig() Config {
	return Config{MinSignals: 2}
}

var scriptTags = map[string]bool{
	"js": true, "javascript": true, "ecmascript": true,
	"mjs": true, "node": true, "jsx": true,
}

var markupTags = map[string]bool{
	"html": true, "xhtml": true, "xml": true, "svg": true, "markup": true,
}

var (
	scriptTagRe    = regexp.MustCompile(`(?is)<script[^>]*>`)
	moduleImportRe = regexp.MustCompile(`(?m)^\s*(import\s+[\w{*]|export\s+(default|const|function|class))`)
	domIdiomRe     = regexp.MustCompile(`document\.(createElement|getElementById|querySelector|querySelectorAll|body)|\.addEventListener\(|\.appendChild\(`)
	statementRe    = regexp.MustCompile(`^\s*(const|let|var|function|class|async|import|for|while|if)\b|^\s*[\w$.\[\]]+\s*=[^=]`)
	markupLineRe   = regexp.MustCompile(`^\s*<[!/a-zA-Z]`)
	styleRuleRe    = regexp.MustCompile(`^\s*[.#@]?[\w-]+(\s*[,>+~]\s*[\w.#-]+)*\s*\{\s*$`)
)

// Heuristic signals, scored independently on untagged fragments.
var signals = []*regexp.Regexp{
	regexp.MustCompile(`\b(if|for|while|switch|return)\s*[({]`),                   // control flow
	regexp.MustCompile(`\bdocument\.\w+|\bwindow\.\w+|\.innerHTML\b`),             // DOM access
	regexp.MustCompile(`\.(map|filter|forEach|push|join|slice|split)\(`),          // built-in calls
	regexp.MustCompile(`(\([\w\s,]*\)|[\w$]+)\s*=>`),                              // arrow functions
	regexp.MustCompile(`\?\.|&&|\|\||\?\?`),                                       // logical / optional chaining
	regexp.MustCompile(`(^|[=(,:\s])/[^/*\n][^\n]*?/[gimsuy]*([\s,);.]|$)`),       // regex literals
	regexp.MustCompile("`[^`]*\\$\\{[^}]+\\}[^`]*`"),                              // template interpolation
}

// IsMarkup reports whether a fence tag declares markup content.
func IsMarkup(tag string) bool {
	return markupTags[strings.ToLower(strings.TrimSpace(tag))]
}

// Classify inspects a fragment's fence tag and text and decides whether it
// is executable. The returned Source is what a sandbox should run.
func Classify(tag, text string, cfg Config) Result {
	decoded := strings.TrimSpace(html.UnescapeString(text))
	if decoded == "" {
		// Empty after decoding: never executable, whatever the tag says.
		return Result{}
	}

	tag = strings.ToLower(strings.TrimSpace(tag))

	if scriptTags[tag] {
		return Result{Executable: true, Flavor: DirectScript, Source: decoded}
	}

	if markupTags[tag] {
		if src, ok := extractFromMarkup(decoded); ok {
			return Result{Executable: true, Flavor: MarkupWithScript, Source: src}
		}
		return Result{}
	}

	// Untagged or unknown tag: heuristics. Known non-script tags (css,
	// python, ...) are excluded up front.
	if tag != "" && !looksUnknown(tag) {
		return Result{}
	}

	if startsLikeMarkup(decoded) || startsLikeStyle(decoded) {
		if src, ok := extractFromMarkup(decoded); ok {
			return Result{Executable: true, Flavor: MarkupWithScript, Source: src}
		}
		return Result{}
	}

	if score(decoded) >= cfg.MinSignals {
		return Result{Executable: true, Flavor: DetectedScript, Source: decoded}
	}
	return Result{}
}

// looksUnknown reports whether a tag is one we have no opinion about and
// should therefore fall through to the heuristic layer.
func looksUnknown(tag string) bool {
	known := map[string]bool{
		"css": true, "scss": true, "less": true,
		"python": true, "py": true, "ruby": true, "go": true, "rust": true,
		"java": true, "c": true, "cpp": true, "csharp": true, "php": true,
		"sql": true, "bash": true, "sh": true, "shell": true, "zsh": true,
		"json": true, "yaml": true, "yml": true, "toml": true, "ini": true,
		"text": true, "txt": true, "plaintext": true, "markdown": true, "md": true,
	}
	return !known[tag]
}

// extractFromMarkup decides whether markup contains executable script and
// pulls the script source out of it.
func extractFromMarkup(text string) (string, bool) {
	if scriptTagRe.MatchString(text) {
		if src := scriptBodies(text); src != "" {
			return src, true
		}
	}
	if moduleImportRe.MatchString(text) || domIdiomRe.MatchString(text) {
		if src := sliceFromFirstStatement(text); src != "" {
			return src, true
		}
	}
	return "", false
}

// scriptBodies concatenates the bodies of all inline script elements.
func scriptBodies(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var parts []string
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		// External scripts carry no inline body.
		if _, external := s.Attr("src"); external {
			return
		}
		if body := strings.TrimSpace(s.Text()); body != "" {
			parts = append(parts, body)
		}
	})
	return strings.Join(parts, "\n")
}

// sliceFromFirstStatement discards leading markup and style lines and
// returns everything from the first line that looks like a statement.
func sliceFromFirstStatement(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || markupLineRe.MatchString(line) || styleRuleRe.MatchString(line) {
			continue
		}
		if statementRe.MatchString(line) {
			return strings.TrimSpace(strings.Join(lines[i:], "\n"))
		}
	}
	return ""
}

func startsLikeMarkup(text string) bool {
	return markupLineRe.MatchString(firstNonBlankLine(text))
}

func startsLikeStyle(text string) bool {
	return styleRuleRe.MatchString(firstNonBlankLine(text))
}

func firstNonBlankLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}

// score counts how many independent code signals the fragment shows.
func score(text string) int {
	n := 0
	for _, re := range signals {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}
