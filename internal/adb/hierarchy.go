// File: internal/adb/hierarchy.go
package adb

import (
	"fmt"

	"github.com/beevik/etree"
)

// keptAttributes are the uiautomator node attributes that carry signal for
// the decision model. Everything else (index, package, checkable flags,
// drawing order) only inflates the prompt.
var keptAttributes = map[string]bool{
	"class":        true,
	"resource-id":  true,
	"text":         true,
	"content-desc": true,
	"bounds":       true,
	"clickable":    true,
	"scrollable":   true,
	"focused":      true,
	"checked":      true,
	"enabled":      true,
}

// flagAttributes are boolean attributes that are only worth keeping when
// they deviate from their default.
var flagAttributes = map[string]string{
	"clickable":  "false",
	"scrollable": "false",
	"focused":    "false",
	"checked":    "false",
	"enabled":    "true",
}

// CompactHierarchy prunes a uiautomator XML dump down to the nodes and
// attributes that matter for deciding the next action: widget class,
// resource id, visible text, accessibility description, screen bounds, and
// interactivity flags. Pure structural containers with nothing interesting
// below them are dropped entirely.
func CompactHierarchy(rawXML string) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(rawXML); err != nil {
		return "", fmt.Errorf("cannot parse UI hierarchy: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return "", fmt.Errorf("UI hierarchy has no root element")
	}

	out := etree.NewDocument()
	outRoot := out.CreateElement(root.Tag)
	for _, child := range root.ChildElements() {
		if compacted := compactNode(child); compacted != nil {
			outRoot.AddChild(compacted)
		}
	}

	out.Indent(2)
	return out.WriteToString()
}

// compactNode returns a pruned copy of the element, or nil when neither the
// node nor any descendant carries signal.
func compactNode(el *etree.Element) *etree.Element {
	copied := etree.NewElement(el.Tag)
	interesting := false

	for _, attr := range el.Attr {
		if !keptAttributes[attr.Key] {
			continue
		}
		if def, isFlag := flagAttributes[attr.Key]; isFlag {
			if attr.Value == def {
				continue
			}
			interesting = true
		}
		if attr.Key == "text" || attr.Key == "content-desc" {
			if attr.Value == "" {
				continue
			}
			interesting = true
		}
		copied.CreateAttr(attr.Key, attr.Value)
	}

	children := 0
	for _, child := range el.ChildElements() {
		if compacted := compactNode(child); compacted != nil {
			copied.AddChild(compacted)
			children++
		}
	}

	if !interesting && children == 0 {
		return nil
	}
	// Collapse single-child wrappers that add no information of their own.
	if !interesting && children == 1 {
		only := copied.ChildElements()[0]
		copied.RemoveChild(only)
		return only
	}
	return copied
}
