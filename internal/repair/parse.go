package repair

import (
	"regexp"
	"strings"
)

// fenceRe captures the body of the first fenced code block in a
// completion reply, tolerating an info string after the opening fence.
var fenceRe = regexp.MustCompile("(?s)```[^\n]*\n(.*?)```")

// ExtractCode pulls the corrected source out of a completion reply.
// Models usually answer with one fenced block plus prose; when no fence
// is present the whole reply is taken as code.
func ExtractCode(reply string) string {
	if m := fenceRe.FindStringSubmatch(reply); m != nil {
		return strings.TrimRight(m[1], "\n")
	}
	return strings.TrimSpace(reply)
}
