package page

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	widget2 "go.pairlink.org/internal/fyneutil/widget"
)

// NewTable lays out a table below a toolbar holding a refresh button, the
// extra buttons and a notice label. loop owns the table: it runs on its own
// goroutine and redraws it whenever refreshChan receives.
func NewTable(refreshChan chan struct{}, tableAttrs []widget2.TableAttribute, tableActions []widget2.Action, loop func(refreshChan <-chan struct{}, t *widget2.Table, noticeLabel *widget.Label), extra ...fyne.CanvasObject) *fyne.Container {
	noticeLabel := widget.NewLabel("")
	toolbar := container.NewHBox(widget.NewButtonWithIcon("Refresh", theme.ViewRefreshIcon(), func() {
		go func() {
			refreshChan <- struct{}{}
		}()
	}))
	for _, o := range extra {
		toolbar.Add(o)
	}
	toolbar.Add(noticeLabel)
	tableWidget := widget2.NewTable(refreshChan, tableAttrs, tableActions...)

	go loop(refreshChan, tableWidget, noticeLabel)

	return container.NewBorder(toolbar, nil, nil, nil, container.NewScroll(tableWidget))
}
