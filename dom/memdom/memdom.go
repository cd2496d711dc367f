// Package memdom é um documento em memória que implementa dom.Document.
//
// Serve ao binário headless (cmd/runtime) e aos testes. Suporta seletores
// simples: "#id", ".classe", "[attr]", "[attr=valor]" e nome de tag.
// É seguro para uso concorrente; handlers rodam fora do lock, na goroutine de quem dispara.
package memdom

import (
	"slices"
	"strings"
	"sync"

	"nightmate-runtime/dom"
)

type Document struct {
	mu   sync.RWMutex
	body *node
	seq  int
}

type handlerEntry struct {
	id int
	fn dom.Handler
}

type node struct {
	doc      *Document
	tag      string
	attrs    map[string]string
	classes  []string
	text     string
	parent   *node
	children []*node
	handlers map[string][]handlerEntry
}

var (
	_ dom.Document = (*Document)(nil)
	_ dom.Element  = (*node)(nil)
)

func New() *Document {
	d := &Document{}
	d.body = d.newNode("body")
	return d
}

func (d *Document) newNode(tag string) *node {
	return &node{doc: d, tag: strings.ToLower(tag), attrs: map[string]string{}, handlers: map[string][]handlerEntry{}}
}

func (d *Document) Body() dom.Element { return d.body }

func (d *Document) Create(tag string) dom.Element { return d.newNode(tag) }

func (d *Document) ByID(id string) dom.Element {
	if id == "" {
		return nil
	}
	return d.Query("#" + id)
}

func (d *Document) Query(selector string) dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m := parseSelector(selector)
	var found *node
	walk(d.body, func(n *node) bool {
		if m.match(n) {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	return found
}

func (d *Document) QueryAll(selector string) []dom.Element {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m := parseSelector(selector)
	var out []dom.Element
	walk(d.body, func(n *node) bool {
		if m.match(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// Dispatch dispara um evento no elemento. Os handlers rodam na goroutine atual.
func (d *Document) Dispatch(el dom.Element, ev dom.Event) {
	n, ok := el.(*node)
	if !ok || n == nil {
		return
	}
	d.mu.RLock()
	entries := slices.Clone(n.handlers[ev.Type])
	d.mu.RUnlock()

	ev.Target = el
	for _, h := range entries {
		h.fn(ev)
	}
}

// Click é um atalho para Dispatch de "click".
func (d *Document) Click(el dom.Element) { d.Dispatch(el, dom.Event{Type: "click"}) }

// Input atualiza o atributo value e dispara "input".
func (d *Document) Input(el dom.Element, value string) {
	el.SetAttr("value", value)
	d.Dispatch(el, dom.Event{Type: "input", Value: value})
}

// Change atualiza o atributo value e dispara "change".
func (d *Document) Change(el dom.Element, value string) {
	el.SetAttr("value", value)
	d.Dispatch(el, dom.Event{Type: "change", Value: value})
}

// Listeners conta os handlers de um tipo de evento no elemento.
func (d *Document) Listeners(el dom.Element, eventType string) int {
	n, ok := el.(*node)
	if !ok || n == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(n.handlers[eventType])
}

func walk(n *node, visit func(*node) bool) bool {
	for _, c := range n.children {
		if !visit(c) {
			return false
		}
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

func (n *node) ID() string {
	v, _ := n.Attr("id")
	return v
}

func (n *node) Tag() string { return n.tag }

func (n *node) Attr(name string) (string, bool) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	if name == "class" {
		return strings.Join(n.classes, " "), len(n.classes) > 0
	}
	v, ok := n.attrs[name]
	return v, ok
}

func (n *node) SetAttr(name, value string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if name == "class" {
		n.classes = strings.Fields(value)
		return
	}
	n.attrs[name] = value
}

func (n *node) RemoveAttr(name string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	delete(n.attrs, name)
}

func (n *node) AddClass(class string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if !slices.Contains(n.classes, class) {
		n.classes = append(n.classes, class)
	}
}

func (n *node) RemoveClass(class string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.classes = slices.DeleteFunc(n.classes, func(c string) bool { return c == class })
}

func (n *node) HasClass(class string) bool {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return slices.Contains(n.classes, class)
}

func (n *node) Text() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return n.text
}

func (n *node) SetText(text string) {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	n.text = text
}

func (n *node) Append(child dom.Element) {
	c, ok := child.(*node)
	if !ok || c == nil || c == n {
		return
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if c.parent != nil {
		c.parent.children = slices.DeleteFunc(c.parent.children, func(x *node) bool { return x == c })
	}
	c.parent = n
	n.children = append(n.children, c)
}

func (n *node) Remove() {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if n.parent == nil {
		return
	}
	n.parent.children = slices.DeleteFunc(n.parent.children, func(x *node) bool { return x == n })
	n.parent = nil
}

func (n *node) Children() []dom.Element {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	out := make([]dom.Element, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	return out
}

func (n *node) On(eventType string, h dom.Handler) func() {
	n.doc.mu.Lock()
	n.doc.seq++
	id := n.doc.seq
	n.handlers[eventType] = append(n.handlers[eventType], handlerEntry{id: id, fn: h})
	n.doc.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.doc.mu.Lock()
			defer n.doc.mu.Unlock()
			n.handlers[eventType] = slices.DeleteFunc(n.handlers[eventType], func(e handlerEntry) bool { return e.id == id })
		})
	}
}

type selector struct {
	id, class, tag string
	attr, value    string
	hasValue       bool
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "#"):
		return selector{id: s[1:]}
	case strings.HasPrefix(s, "."):
		return selector{class: s[1:]}
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		inner := s[1 : len(s)-1]
		if name, value, ok := strings.Cut(inner, "="); ok {
			return selector{attr: name, value: strings.Trim(value, `"'`), hasValue: true}
		}
		return selector{attr: inner}
	default:
		return selector{tag: strings.ToLower(s)}
	}
}

// match roda com o lock do documento já adquirido.
func (m selector) match(n *node) bool {
	switch {
	case m.id != "":
		return n.attrs["id"] == m.id
	case m.class != "":
		return slices.Contains(n.classes, m.class)
	case m.attr != "":
		v, ok := n.attrs[m.attr]
		return ok && (!m.hasValue || v == m.value)
	case m.tag != "":
		return n.tag == m.tag
	}
	return false
}

// Add cria um elemento com id e classes e o anexa a parent (ou ao body, se parent for nil).
func (d *Document) Add(parent dom.Element, tag, id string, classes ...string) dom.Element {
	el := d.newNode(tag)
	if id != "" {
		el.attrs["id"] = id
	}
	el.classes = append(el.classes, classes...)
	if parent == nil {
		parent = d.body
	}
	parent.Append(el)
	return el
}
