// Package tray shows the serve status icon using getlantern/systray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem is one entry of the tray menu. A nil entry in the menu is a
// separator.
type MenuItem struct {
	ID       int
	Title    string
	Callback func()
	disabled bool
	item     *systray.MenuItem
}

// Tray owns the icon and its menu. The menu is declared before Run and
// materialized once the platform loop is ready.
type Tray struct {
	mu      sync.Mutex
	tooltip string
	items   []*MenuItem
	readyCh chan struct{}
	quitCh  chan struct{}
}

// New creates a tray with the given tooltip
func New(tooltip string) *Tray {
	return &Tray{
		tooltip: tooltip,
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}
}

func (t *Tray) add(mi *MenuItem) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := len(t.items)
	if mi != nil {
		mi.ID = id
	}
	t.items = append(t.items, mi)
	return id
}

// AddMenuItem appends a clickable item and returns its id
func (t *Tray) AddMenuItem(title string, callback func()) int {
	return t.add(&MenuItem{Title: title, Callback: callback})
}

// AddStatusItem appends a greyed-out informational item
func (t *Tray) AddStatusItem(title string) int {
	return t.add(&MenuItem{Title: title, disabled: true})
}

// AddSeparator appends a separator
func (t *Tray) AddSeparator() {
	t.add(nil)
}

// update runs fn on the item under the lock and returns the live systray
// handle, which is nil before Run.
func (t *Tray) update(id int, fn func(mi *MenuItem)) *systray.MenuItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= len(t.items) || t.items[id] == nil {
		return nil
	}
	mi := t.items[id]
	if fn != nil {
		fn(mi)
	}
	return mi.item
}

// SetItemChecked toggles the check mark of an item
func (t *Tray) SetItemChecked(id int, checked bool) {
	item := t.update(id, nil)
	if item == nil {
		return
	}
	if checked {
		item.Check()
	} else {
		item.Uncheck()
	}
}

// SetItemTitle relabels an item
func (t *Tray) SetItemTitle(id int, title string) {
	if item := t.update(id, func(mi *MenuItem) { mi.Title = title }); item != nil {
		item.SetTitle(title)
	}
}

// SetTooltip changes the icon tooltip
func (t *Tray) SetTooltip(tooltip string) {
	t.mu.Lock()
	t.tooltip = tooltip
	t.mu.Unlock()

	select {
	case <-t.readyCh:
		systray.SetTooltip(tooltip)
	default:
	}
}

// Quit is closed once the tray loop has exited
func (t *Tray) Quit() <-chan struct{} {
	return t.quitCh
}

// Run blocks in the platform event loop until Stop
func (t *Tray) Run() {
	systray.Run(t.onReady, func() { close(t.quitCh) })
}

// Stop ends the event loop
func (t *Tray) Stop() {
	systray.Quit()
}

func (t *Tray) onReady() {
	t.mu.Lock()
	defer t.mu.Unlock()

	systray.SetIcon(getIcon())
	systray.SetTitle("devicesim")
	systray.SetTooltip(t.tooltip)

	for _, mi := range t.items {
		if mi == nil {
			systray.AddSeparator()
			continue
		}
		mi.item = systray.AddMenuItem(mi.Title, "")
		if mi.disabled {
			mi.item.Disable()
		}
		if mi.Callback != nil {
			go t.forwardClicks(mi.item.ClickedCh, mi.Callback)
		}
	}
	close(t.readyCh)
}

func (t *Tray) forwardClicks(clicked <-chan struct{}, callback func()) {
	for {
		select {
		case <-clicked:
			callback()
		case <-t.quitCh:
			return
		}
	}
}
