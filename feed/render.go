package feed

import (
	"strconv"

	"nightmate-runtime/dom"
)

const (
	CardClass  = "feed-card"
	EmptyClass = "feed-empty"

	emptyMessage = "No kindred spirits found yet. Try widening your preferences."
)

// render redesenha a lista a partir do modelo filtrado. Devolve quantos
// perfis o modelo tem após o filtro.
func (m *Module) render() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderLocked()
}

func (m *Module) renderLocked() int {
	if m.list == nil || m.cfg.Doc == nil {
		return 0
	}
	m.renders.Add(1)
	doc := m.cfg.Doc
	visible := filter(m.profiles, m.query)

	dom.Clear(m.list)
	for _, p := range visible {
		card := doc.Create("article")
		card.AddClass(CardClass)
		card.SetAttr("data-id", p.ID)
		if p.Photo != "" {
			card.SetAttr("data-photo", p.Photo)
		}

		title := doc.Create("h3")
		title.SetText(p.Name + ", " + strconv.Itoa(p.Age))
		card.Append(title)

		bio := doc.Create("p")
		bio.SetText(p.Bio)
		card.Append(bio)

		if p.Favorite != "" {
			fav := doc.Create("span")
			fav.AddClass("feed-favorite")
			fav.SetText(p.Favorite)
			card.Append(fav)
		}
		m.list.Append(card)
	}

	if len(visible) == 0 {
		empty := doc.Create("p")
		empty.AddClass(EmptyClass)
		empty.SetText(emptyMessage)
		m.list.Append(empty)
		m.list.SetAttr("data-state", "empty")
	} else {
		m.list.SetAttr("data-state", "ready")
	}
	return len(visible)
}

// reconcileVisibility garante que um modelo com N>0 perfis apareça no DOM.
// Força uma única nova renderização; se ainda não houver cards, marca o
// estado de diagnóstico e para.
func (m *Module) reconcileVisibility() {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected := m.renderLocked()
	if expected == 0 || dom.CountClass(m.list, CardClass) > 0 {
		return
	}

	m.log.WithField("expected", expected).Warn("feed rendered zero cards, forcing one re-render")
	m.renderLocked()
	if dom.CountClass(m.list, CardClass) > 0 {
		return
	}
	m.list.SetAttr("data-state", "render-mismatch")
	m.log.WithField("expected", expected).Error("feed cards still not visible after re-render")
}
