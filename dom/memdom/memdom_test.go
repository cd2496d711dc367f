package memdom

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"nightmate-runtime/dom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_Selectors(t *testing.T) {
	d := New()
	nav := d.Add(nil, "nav", "nav")
	btn := d.Add(nav, "button", "", "tab")
	btn.SetAttr("data-tab", "feed")
	d.Add(nav, "button", "", "tab").SetAttr("data-tab", "events")

	assert.Equal(t, nav, d.ByID("nav"))
	assert.Nil(t, d.ByID("missing"))
	assert.Equal(t, btn, d.Query(`[data-tab="feed"]`))
	assert.Len(t, d.QueryAll(".tab"), 2)
	assert.Len(t, d.QueryAll("[data-tab]"), 2)
	assert.Len(t, d.QueryAll("button"), 2)
}

func TestDocument_EventsAndUnsubscribe(t *testing.T) {
	d := New()
	btn := d.Add(nil, "button", "retry")

	var clicks atomic.Int32
	off := btn.On("click", func(ev dom.Event) {
		clicks.Add(1)
		assert.Equal(t, btn, ev.Target)
	})
	d.Click(btn)
	off()
	off()
	d.Click(btn)

	assert.Equal(t, int32(1), clicks.Load())
	assert.Zero(t, d.Listeners(btn, "click"))
}

func TestDocument_ClassesChildrenAndRemove(t *testing.T) {
	d := New()
	list := d.Add(nil, "div", "list")
	for i := 0; i < 3; i++ {
		d.Add(list, "div", "", "card")
	}
	assert.Equal(t, 3, dom.CountClass(list, "card"))

	dom.Toggle(list, "active", true)
	assert.True(t, list.HasClass("active"))
	cls, _ := list.Attr("class")
	assert.Equal(t, "active", cls)

	dom.Clear(list)
	assert.Empty(t, list.Children())

	list.Remove()
	assert.Nil(t, d.ByID("list"))
}

func TestWaitFor_BoundedPoll(t *testing.T) {
	d := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Add(nil, "div", "late")
	}()

	require.NoError(t, dom.WaitFor(context.Background(), d, 50, 5*time.Millisecond, "late"))

	err := dom.WaitFor(context.Background(), d, 3, time.Millisecond, "never")
	assert.ErrorIs(t, err, dom.ErrNotReady)
	assert.Equal(t, []string{"never"}, dom.Missing(d, "late", "never"))
}
