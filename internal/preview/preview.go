// Package preview renders a configuration document as an HTML summary
// annotated with the live state of the entities it references. No model
// call is involved.
package preview

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/generator"
)

// Catalog resolves entity IDs to cached records.
type Catalog interface {
	Get(entityID string) (catalog.Record, bool)
}

// Result is a rendered preview.
type Result struct {
	HTML               string   `json:"preview_html"`
	EntitiesReferenced []string `json:"entities_referenced"`
	Warnings           []string `json:"warnings"`
	Errors             []string `json:"errors"`
}

// Render parses configYAML and describes it. Only entity IDs present in
// cat are reported as referenced; those in the unavailable or unknown
// state produce a warning.
func Render(cat Catalog, configYAML, configType string) *Result {
	res := &Result{
		EntitiesReferenced: []string{},
		Warnings:           []string{},
		Errors:             []string{},
	}

	doc, err := generator.ParseYAML(configYAML)
	if err != nil {
		msg := err.Error()
		var pe *generator.ParseError
		if errors.As(err, &pe) {
			msg = pe.Err.Error()
		}
		res.HTML = render(div("error", text("YAML Parse Error: "+msg)))
		res.Errors = append(res.Errors, "Invalid YAML: "+msg)
		return res
	}

	var records []catalog.Record
	for _, id := range generator.ReferencedIDs(configYAML) {
		rec, ok := cat.Get(id)
		if !ok {
			continue
		}
		res.EntitiesReferenced = append(res.EntitiesReferenced, id)
		records = append(records, rec)
		if rec.Unavailable() {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Entity '%s' is %s", id, rec.State))
		}
	}

	root := div("config-preview", elem(atom.H3, text(title(configType)+" Preview")))

	m, _ := doc.(map[string]any)
	switch configType {
	case generator.TypeAutomation:
		appendAll(root, automation(m))
	case generator.TypeScript:
		appendAll(root, script(m))
	case generator.TypeDashboard:
		root.AppendChild(div("info", text("Dashboard preview shows the basic structure")))
	default:
		root.AppendChild(div("info", text("Preview not available for this configuration type")))
	}

	if len(records) > 0 {
		root.AppendChild(elem(atom.H4, text("Referenced Entities")))
		states := div("entity-states")
		for _, rec := range records {
			class := "entity-state available"
			if rec.Unavailable() {
				class = "entity-state unavailable"
			}
			states.AppendChild(div(class,
				elem(atom.Strong, text(rec.Name)),
				text(fmt.Sprintf(" (%s): %s", rec.EntityID, rec.State)),
			))
		}
		root.AppendChild(states)
	}

	res.HTML = render(root)
	return res
}

func automation(m map[string]any) []*html.Node {
	var out []*html.Node
	if alias, ok := m["alias"]; ok {
		out = append(out, elem(atom.H4, text(str(alias))))
	}
	if v, ok := first(m, "trigger", "triggers"); ok {
		out = append(out, elem(atom.H5, text("Triggers:")), list(atom.Ul, v, describeTrigger))
	}
	if v, ok := first(m, "condition", "conditions"); ok {
		out = append(out, elem(atom.H5, text("Conditions:")), list(atom.Ul, v, describeCondition))
	}
	if v, ok := first(m, "action", "actions"); ok {
		out = append(out, elem(atom.H5, text("Actions:")), list(atom.Ul, v, describeAction))
	}
	return out
}

func script(m map[string]any) []*html.Node {
	var out []*html.Node
	if alias, ok := m["alias"]; ok {
		out = append(out, elem(atom.H4, text(str(alias))))
	}
	if v, ok := m["sequence"]; ok {
		out = append(out, elem(atom.H5, text("Sequence:")), list(atom.Ol, v, describeAction))
	}
	return out
}

func describeTrigger(t map[string]any) string {
	kind, ok := t["platform"]
	if !ok {
		kind, ok = t["trigger"]
	}
	if !ok {
		kind = "unknown"
	}
	switch k := str(kind); k {
	case "state":
		return "State change of " + str(t["entity_id"])
	case "time":
		return "Time trigger at " + str(t["at"])
	default:
		return title(k) + " trigger"
	}
}

func describeCondition(c map[string]any) string {
	kind := "unknown"
	if v, ok := c["condition"]; ok {
		kind = str(v)
	}
	if kind == "state" {
		return fmt.Sprintf("%s is %s", str(c["entity_id"]), str(c["state"]))
	}
	return title(kind) + " condition"
}

func describeAction(a map[string]any) string {
	service, ok := a["service"]
	if !ok {
		service, ok = a["action"]
	}
	if ok {
		if target, isMap := a["target"].(map[string]any); isMap {
			if e, has := target["entity_id"]; has {
				return fmt.Sprintf("Call %s on %s", str(service), str(e))
			}
		}
		if e, has := a["entity_id"]; has {
			return fmt.Sprintf("Call %s on %s", str(service), str(e))
		}
		return "Call service " + str(service)
	}
	if d, ok := a["delay"]; ok {
		return "Wait " + str(d)
	}
	return "Unknown action"
}

// list renders v (a single item or a sequence) as a list, describing
// each mapping with describe.
func list(a atom.Atom, v any, describe func(map[string]any) string) *html.Node {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	n := elem(a)
	for _, item := range items {
		m, _ := item.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		n.AppendChild(elem(atom.Li, text(describe(m))))
	}
	return n
}

func first(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// str renders a decoded YAML scalar or list for display.
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = str(p)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// title turns "binary_sensor" into "Binary Sensor".
func title(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func elem(a atom.Atom, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	appendAll(n, children)
	return n
}

func div(class string, children ...*html.Node) *html.Node {
	n := elem(atom.Div, children...)
	n.Attr = []html.Attribute{{Key: "class", Val: class}}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func appendAll(parent *html.Node, children []*html.Node) {
	for _, c := range children {
		parent.AppendChild(c)
	}
}

func render(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		// strings.Builder never fails a write.
		return ""
	}
	return b.String()
}
