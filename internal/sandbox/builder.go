package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"

	"github.com/codefence/codefence/internal/deps"
)

// ErrSyntax marks a unit rejected by the pre-check before any execution
// context was created. Syntax errors are never repaired automatically;
// they surface to the manual heal trigger only.
var ErrSyntax = errors.New("sandbox: syntax error")

// BuildInput is everything the builder needs for one code unit.
type BuildInput struct {
	FrameID string
	Source  string
	Bundles []deps.Bundle
}

// Precheck constructs the unit's function without invoking it, mirroring
// exactly how Compose will install the code at runtime. A unit that fails
// here never gets a context, avoiding the cost and confusing error
// surface of a broken one.
func Precheck(source string) error {
	encoded, err := encodeSource(source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	vm := goja.New()
	if _, err := vm.RunString(`new Function("root", ` + encoded + `)`); err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	return nil
}

// Compose synthesizes the complete program for one execution context:
// dependency sources first (global scope, in request order), then the user
// code invoked with the mount element as its sole argument. The user
// source is embedded as a JSON-encoded string literal and installed
// through the Function constructor, so it cannot break out of its slot by
// containing the program's own delimiters.
func Compose(in BuildInput) (string, error) {
	encoded, err := encodeSource(in.Source)
	if err != nil {
		return "", fmt.Errorf("sandbox: encode unit source: %v", err)
	}

	var b strings.Builder
	b.WriteString("try {\n")
	for _, bundle := range in.Bundles {
		b.WriteString("// bundle: ")
		b.WriteString(bundle.Alias)
		b.WriteString("\n")
		b.WriteString(bundle.Source)
		b.WriteString("\n;\n")
	}
	b.WriteString(`(new Function("root", `)
	b.WriteString(encoded)
	b.WriteString(`))(__bridge.mount());`)
	b.WriteString("\n__bridge.done();\n")
	b.WriteString("} catch (e) {\n")
	b.WriteString("__bridge.fail(e && e.stack ? String(e.stack) : String(e));\n")
	b.WriteString("}\n")
	return b.String(), nil
}

// encodeSource turns arbitrary source text into a safe JS string literal.
func encodeSource(source string) (string, error) {
	encoded, err := sonic.Marshal(source)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
