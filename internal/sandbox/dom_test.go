package sandbox

import (
	"testing"
)

func TestDOMInsertDetection(t *testing.T) {
	dom := NewDOM()

	inserts := 0
	dom.OnInsert(func() { inserts++ })

	if dom.Inserted() {
		t.Error("fresh DOM reports inserted")
	}

	// A detached subtree fires nothing.
	outer := dom.CreateElement("div")
	inner := dom.CreateElement("span")
	outer.AppendChild(inner)
	if inserts != 0 {
		t.Errorf("detached append fired %d insert events", inserts)
	}

	// Attaching under the mount fires once for the subtree root.
	dom.Mount().AppendChild(outer)
	if inserts != 1 {
		t.Errorf("mount append fired %d insert events, want 1", inserts)
	}
	if !dom.Inserted() {
		t.Error("Inserted() false after mount append")
	}

	// Further children under the attached subtree keep firing.
	outer.AppendChild(dom.CreateElement("p"))
	if inserts != 2 {
		t.Errorf("nested append fired %d insert events, want 2", inserts)
	}
}

func TestDOMHeightEstimate(t *testing.T) {
	dom := NewDOM()

	if h := dom.Height(); h != 0 {
		t.Errorf("empty mount height = %d, want 0", h)
	}

	row := dom.CreateElement("div")
	dom.Mount().AppendChild(row)
	if h := dom.Height(); h != defaultRowHeight {
		t.Errorf("single row height = %d, want %d", h, defaultRowHeight)
	}

	tall := dom.CreateElement("canvas")
	tall.SetAttribute("height", "300")
	dom.Mount().AppendChild(tall)
	if h := dom.Height(); h != defaultRowHeight+300 {
		t.Errorf("height = %d, want %d", h, defaultRowHeight+300)
	}

	// Declared height below the natural height does not shrink it.
	short := dom.CreateElement("div")
	short.SetAttribute("height", "1")
	dom.Mount().AppendChild(short)
	if h := dom.Height(); h != defaultRowHeight+300+defaultRowHeight {
		t.Errorf("height = %d after small declared height", h)
	}
}

func TestDOMResizeOnRemove(t *testing.T) {
	dom := NewDOM()

	var last int
	dom.OnResize(func(h int) { last = h })

	a := dom.CreateElement("div")
	b := dom.CreateElement("div")
	dom.Mount().AppendChild(a)
	dom.Mount().AppendChild(b)
	if last != 2*defaultRowHeight {
		t.Fatalf("resize after appends = %d, want %d", last, 2*defaultRowHeight)
	}

	dom.Mount().RemoveChild(b)
	if last != defaultRowHeight {
		t.Errorf("resize after remove = %d, want %d", last, defaultRowHeight)
	}
}

func TestDOMSelectors(t *testing.T) {
	dom := NewDOM()

	div := dom.CreateElement("div")
	div.SetAttribute("id", "chart")
	div.SetAttribute("class", "panel wide")
	dom.Mount().AppendChild(div)

	span := dom.CreateElement("span")
	span.SetAttribute("class", "panel")
	div.AppendChild(span)

	if e := dom.GetElementById("chart"); e != div {
		t.Error("GetElementById missed attached element")
	}
	if e := dom.QuerySelector("#chart"); e != div {
		t.Error("QuerySelector(#id) missed element")
	}
	if got := dom.QuerySelectorAll(".panel"); len(got) != 2 {
		t.Errorf("QuerySelectorAll(.panel) = %d elements, want 2", len(got))
	}
	if got := dom.QuerySelectorAll("span"); len(got) != 1 {
		t.Errorf("QuerySelectorAll(span) = %d elements, want 1", len(got))
	}
	if e := dom.QuerySelector("#missing"); e != nil {
		t.Error("QuerySelector returned element for absent id")
	}
}
