package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{
			name:  "fenced with info string",
			reply: "Here is the fix:\n```javascript\nconst x = 1;\n```\nHope that helps.",
			want:  "const x = 1;",
		},
		{
			name:  "fenced without info string",
			reply: "```\nroot.textContent = 'hi';\n```",
			want:  "root.textContent = 'hi';",
		},
		{
			name:  "first of several fences wins",
			reply: "```js\nfirst();\n```\nor alternatively\n```js\nsecond();\n```",
			want:  "first();",
		},
		{
			name:  "no fence falls back to whole reply",
			reply: "  const y = 2;  ",
			want:  "const y = 2;",
		},
		{
			name:  "multiline body preserved",
			reply: "```js\nline1();\nline2();\n```",
			want:  "line1();\nline2();",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCode(tt.reply))
		})
	}
}
