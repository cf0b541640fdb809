package processor

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/codefence/codefence/internal/unit"
)

// Fragment is one candidate block lifted out of a message's markdown:
// a fenced code block or a raw HTML block, with its body located by
// byte offsets into the original source.
type Fragment struct {
	// Tag is the normalized fence language ("" when untagged, "html" for
	// raw HTML blocks).
	Tag string
	// Body is the raw block body, fences excluded.
	Body string
	// Libs lists dependency aliases declared on the fence or in pragmas.
	Libs []string
	// Span locates Body inside the message source.
	Span unit.Span
}

var markdown = goldmark.New()

// libsPragmaRe matches in-body dependency declarations: //# libs: d3, chart
var libsPragmaRe = regexp.MustCompile(`(?m)^\s*//#\s*libs:\s*(.+?)\s*$`)

// ExtractFragments parses message markdown and returns its code-bearing
// blocks in document order. Inline code spans are never candidates.
func ExtractFragments(source string) []Fragment {
	src := []byte(source)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var frags []Fragment
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock:
			if f, ok := fenceFragment(node, src); ok {
				frags = append(frags, f)
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			if f, ok := htmlFragment(node, src); ok {
				frags = append(frags, f)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return frags
}

func fenceFragment(node *ast.FencedCodeBlock, src []byte) (Fragment, bool) {
	body, span, ok := blockBody(node.Lines(), src)
	if !ok {
		return Fragment{}, false
	}

	tag, meta := "", ""
	if node.Info != nil {
		info := strings.TrimSpace(string(node.Info.Segment.Value(src)))
		if i := strings.IndexAny(info, " \t"); i >= 0 {
			tag, meta = info[:i], info[i+1:]
		} else {
			tag = info
		}
	}

	return Fragment{
		Tag:  strings.ToLower(tag),
		Body: body,
		Libs: parseLibs(meta, body),
		Span: span,
	}, true
}

func htmlFragment(node *ast.HTMLBlock, src []byte) (Fragment, bool) {
	body, span, ok := blockBody(node.Lines(), src)
	if !ok {
		return Fragment{}, false
	}
	if node.HasClosure() {
		span.End = node.ClosureLine.Stop
		body = string(src[span.Start:span.End])
	}
	return Fragment{Tag: "html", Body: body, Span: span}, true
}

func blockBody(lines *text.Segments, src []byte) (string, unit.Span, bool) {
	if lines.Len() == 0 {
		return "", unit.Span{}, false
	}
	start := lines.At(0).Start
	end := lines.At(lines.Len() - 1).Stop
	if strings.TrimSpace(string(src[start:end])) == "" {
		return "", unit.Span{}, false
	}
	return string(src[start:end]), unit.Span{Start: start, End: end}, true
}

// parseLibs merges fence-meta declarations (libs=d3,chart) with in-body
// pragmas, preserving request order and dropping repeats.
func parseLibs(meta, body string) []string {
	var raw []string

	for _, token := range strings.Fields(meta) {
		token = strings.Trim(token, "{}")
		if v, ok := strings.CutPrefix(token, "libs="); ok {
			raw = append(raw, strings.Split(v, ",")...)
		}
	}

	for _, m := range libsPragmaRe.FindAllStringSubmatch(body, -1) {
		raw = append(raw, strings.Split(m[1], ",")...)
	}

	var libs []string
	seen := map[string]bool{}
	for _, alias := range raw {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		libs = append(libs, alias)
	}
	return libs
}
