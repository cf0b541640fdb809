package sandbox

import (
	"strconv"
	"strings"
	"sync"
)

// defaultRowHeight is the height contribution of one rendered element when
// nothing more specific is declared. Capping happens host-side, not here.
const defaultRowHeight = 24

// DOM is the lightweight document proxy exposed to sandboxed code. It
// holds a single mount element; insertions under the mount drive the
// completion detector and size changes drive the resize detector.
type DOM struct {
	mu    sync.RWMutex
	body  *Element
	mount *Element

	inserted bool
	onInsert func()
	onResize func(height int)
}

// Element represents one element in the proxy tree. Exported fields and
// methods are visible to sandboxed code through goja's field name mapper
// (TagName → tagName, AppendChild → appendChild, ...).
type Element struct {
	TagName     string
	ID          string
	ClassName   string
	TextContent string
	Attributes  map[string]string
	Children    []*Element

	parent *Element
	dom    *DOM
}

// NewDOM creates the document with its mount element already attached.
func NewDOM() *DOM {
	d := &DOM{}
	d.body = &Element{TagName: "body", Attributes: map[string]string{}, dom: d}
	d.mount = &Element{
		TagName:    "div",
		ID:         "codefence-root",
		Attributes: map[string]string{"id": "codefence-root"},
		dom:        d,
		parent:     d.body,
	}
	d.body.Children = append(d.body.Children, d.mount)
	return d
}

// Mount returns the single mount element handed to user code.
func (d *DOM) Mount() *Element { return d.mount }

// OnInsert registers the completion detector callback, fired on every
// node insertion beneath the mount element.
func (d *DOM) OnInsert(fn func()) { d.onInsert = fn }

// OnResize registers the size detector callback, fired with the new
// estimated height whenever the tree changes.
func (d *DOM) OnResize(fn func(height int)) { d.onResize = fn }

// Inserted reports whether any node was ever inserted under the mount.
func (d *DOM) Inserted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inserted
}

// Height estimates the rendered content height of the mount subtree.
// Uncapped at the source; the router clamps host-side.
func (d *DOM) Height() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h := 0
	for _, c := range d.mount.Children {
		h += heightOf(c)
	}
	return h
}

// CreateElement makes a detached element. Exposed as document.createElement.
func (d *DOM) CreateElement(tag string) *Element {
	return &Element{
		TagName:    strings.ToLower(tag),
		Attributes: map[string]string{},
		dom:        d,
	}
}

// GetElementById finds an element by id anywhere in the document.
func (d *DOM) GetElementById(id string) *Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return findByID(d.body, id)
}

// QuerySelector supports the simple selector forms user code actually
// needs here: #id, .class, and tag.
func (d *DOM) QuerySelector(selector string) *Element {
	if all := d.QuerySelectorAll(selector); len(all) > 0 {
		return all[0]
	}
	return nil
}

// QuerySelectorAll returns all matches for a simple selector.
func (d *DOM) QuerySelectorAll(selector string) []*Element {
	d.mu.RLock()
	defer d.mu.RUnlock()

	selector = strings.TrimSpace(selector)
	switch {
	case strings.HasPrefix(selector, "#"):
		if e := findByID(d.body, strings.TrimPrefix(selector, "#")); e != nil {
			return []*Element{e}
		}
		return nil
	case strings.HasPrefix(selector, "."):
		return findByClass(d.body, strings.TrimPrefix(selector, "."))
	default:
		return findByTag(d.body, selector)
	}
}

// AppendChild attaches a child and fires the detectors when the insertion
// lands inside the mount subtree.
func (e *Element) AppendChild(child *Element) *Element {
	if child == nil || child == e {
		return child
	}

	d := e.dom
	d.mu.Lock()
	if child.parent != nil {
		child.parent.detach(child)
	}
	child.parent = e
	e.Children = append(e.Children, child)
	underMount := e.isUnderMountLocked()
	if underMount {
		d.inserted = true
	}
	d.mu.Unlock()

	if underMount {
		d.notifyMutation()
	}
	return child
}

// RemoveChild detaches a child. Removals change size but are not
// insertions, so only the resize detector fires.
func (e *Element) RemoveChild(child *Element) *Element {
	if child == nil {
		return nil
	}

	d := e.dom
	d.mu.Lock()
	e.detach(child)
	underMount := e.isUnderMountLocked()
	d.mu.Unlock()

	if underMount && d.onResize != nil {
		d.onResize(d.Height())
	}
	return child
}

// SetAttribute sets an attribute, mirroring id/class onto their fields.
func (e *Element) SetAttribute(name, value string) {
	e.dom.mu.Lock()
	e.Attributes[name] = value
	switch name {
	case "id":
		e.ID = value
	case "class":
		e.ClassName = value
	}
	underMount := e.isUnderMountLocked()
	e.dom.mu.Unlock()

	// Height attributes affect layout.
	if underMount && (name == "height" || name == "style") {
		if e.dom.onResize != nil {
			e.dom.onResize(e.dom.Height())
		}
	}
}

// GetAttribute returns an attribute value, or "" when absent.
func (e *Element) GetAttribute(name string) string {
	e.dom.mu.RLock()
	defer e.dom.mu.RUnlock()
	return e.Attributes[name]
}

// detach must be called with the DOM lock held.
func (e *Element) detach(child *Element) {
	kept := e.Children[:0]
	for _, c := range e.Children {
		if c != child {
			kept = append(kept, c)
		}
	}
	e.Children = kept
	child.parent = nil
}

// isUnderMountLocked reports whether e is the mount or below it. Must be
// called with the DOM lock held.
func (e *Element) isUnderMountLocked() bool {
	for cur := e; cur != nil; cur = cur.parent {
		if cur == e.dom.mount {
			return true
		}
	}
	return false
}

// notifyMutation fires the insertion and resize detectors.
func (d *DOM) notifyMutation() {
	if d.onInsert != nil {
		d.onInsert()
	}
	if d.onResize != nil {
		d.onResize(d.Height())
	}
}

func heightOf(e *Element) int {
	declared := 0
	if v := e.Attributes["height"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			declared = n
		}
	}

	sum := 0
	for _, c := range e.Children {
		sum += heightOf(c)
	}

	base := 0
	if len(e.Children) == 0 || strings.TrimSpace(e.TextContent) != "" {
		base = defaultRowHeight
	}

	total := base + sum
	if declared > total {
		total = declared
	}
	return total
}

func findByID(e *Element, id string) *Element {
	if e.ID == id {
		return e
	}
	for _, c := range e.Children {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func findByClass(e *Element, class string) []*Element {
	var out []*Element
	for _, part := range strings.Fields(e.ClassName) {
		if part == class {
			out = append(out, e)
			break
		}
	}
	for _, c := range e.Children {
		out = append(out, findByClass(c, class)...)
	}
	return out
}

func findByTag(e *Element, tag string) []*Element {
	var out []*Element
	if strings.EqualFold(e.TagName, tag) {
		out = append(out, e)
	}
	for _, c := range e.Children {
		out = append(out, findByTag(c, tag)...)
	}
	return out
}
