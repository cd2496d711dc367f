package app

import (
	"nightmate-runtime/dom/memdom"
	"nightmate-runtime/feed"
	"nightmate-runtime/modules"
)

// Tabs devolve as abas na ordem da navegação: feed primeiro, depois as listas.
func Tabs() []string {
	tabs := []string{feed.Tab}
	for _, s := range modules.Lists {
		tabs = append(tabs, s.Tab)
	}
	return tabs
}

// BuildShell monta a casca da página num documento em memória: navegação,
// um painel por aba e os controles do feed.
func BuildShell(doc *memdom.Document) *memdom.Document {
	if doc == nil {
		doc = memdom.New()
	}
	nav := doc.Add(nil, "nav", "tabs")
	panels := doc.Add(nil, "main", "panels")

	for _, tab := range Tabs() {
		btn := doc.Add(nav, "button", "tab-"+tab)
		btn.SetAttr("data-tab", tab)
		btn.SetText(tab)

		panel := doc.Add(panels, "section", "panel-"+tab)
		panel.SetAttr("data-panel", tab)
	}

	panel := doc.ByID("panel-" + feed.Tab)
	doc.Add(panel, "input", feed.SearchID).SetAttr("placeholder", "Search by name, bio or favorite film")
	doc.Add(panel, "select", feed.PrefsID)
	doc.Add(panel, "button", feed.RetryID).SetText("Retry")
	doc.Add(panel, "input", feed.PhotoID).SetAttr("type", "file")
	doc.Add(panel, "img", feed.PreviewID, "hidden")
	doc.Add(panel, "ul", feed.ListID)
	return doc
}
