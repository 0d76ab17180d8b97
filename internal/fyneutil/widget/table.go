package widget

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"go.pairlink.org/internal/dbutil"
)

// TableAttribute is one column. Columns with Actions set show the action
// buttons instead of Value.
type TableAttribute struct {
	Name    string
	Value   func(v dbutil.Saveable) string
	Actions bool
	Width   float32
}

// Table shows one row per value below a header row.
type Table struct {
	widget.Table
	values      []dbutil.Saveable
	attributes  []TableAttribute
	actions     []Action
	refreshChan chan<- struct{}
}

func NewTable(refreshChan chan<- struct{}, attrs []TableAttribute, actions ...Action) *Table {
	t := &Table{
		attributes:  attrs,
		actions:     actions,
		refreshChan: refreshChan,
	}
	t.Length = func() (int, int) {
		return len(t.values) + 1, len(t.attributes)
	}
	t.CreateCell = func() fyne.CanvasObject {
		c := container.NewHBox(widget.NewLabel(""))
		for _, a := range actions {
			c.Add(widget.NewButtonWithIcon(a.Name, a.Icon, nil))
		}
		return c
	}
	t.UpdateCell = t.updateCell
	t.ExtendBaseWidget(t)
	for i, attr := range attrs {
		if attr.Width > 0 {
			t.SetColumnWidth(i, attr.Width)
		}
	}
	return t
}

// UpdateAndRefresh replaces the rows. It must not be called concurrently.
func (t *Table) UpdateAndRefresh(values []dbutil.Saveable) {
	t.values = values
	t.Refresh()
}

func (t *Table) updateCell(id widget.TableCellID, cell fyne.CanvasObject) {
	objects := cell.(*fyne.Container).Objects
	label := objects[0].(*widget.Label)
	buttons := objects[1:]
	attr := t.attributes[id.Col]

	if id.Row == 0 || !attr.Actions {
		for _, b := range buttons {
			b.Hide()
		}
	}
	if id.Row == 0 {
		label.TextStyle = fyne.TextStyle{Bold: true}
		label.SetText(attr.Name)
		return
	}
	label.TextStyle = fyne.TextStyle{}
	index := id.Row - 1
	if index >= len(t.values) {
		label.SetText("")
		return
	}
	value := t.values[index]
	if !attr.Actions {
		maxChars := 23
		if attr.Width > 0 {
			maxChars = int(attr.Width/7) - 5
		}
		label.SetText(removeNewlines(firstNRunes(attr.Value(value), maxChars)))
		return
	}
	label.SetText("")
	for i, a := range t.actions {
		b := buttons[i].(*widget.Button)
		b.OnTapped = a.Func(value, t.refreshChan)
		if a.Enabled == nil || a.Enabled(value) {
			b.Enable()
		} else {
			b.Disable()
		}
		b.Show()
	}
}

func firstNRunes(str string, n int) string {
	i := 0
	for j := range str {
		if i >= n {
			if len(str[j:]) > 2 {
				return str[:j] + "..."
			}
			return str
		}
		i++
	}
	return str
}

func removeNewlines(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
}
