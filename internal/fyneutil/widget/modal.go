package widget

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// ShowModal shows content in a modal popup. Without a confirm label only
// the dismiss button is shown. The popup stays open while callback fails.
func ShowModal(w fyne.Window, title, confirm, dismiss string, content fyne.CanvasObject, callback func() error) {
	var modal *widget.PopUp
	buttons := []fyne.CanvasObject{
		layout.NewSpacer(),
		widget.NewButtonWithIcon(dismiss, theme.CancelIcon(), func() {
			modal.Hide()
		}),
	}
	if confirm != "" {
		buttons = append(buttons, widget.NewButtonWithIcon(confirm, theme.ConfirmIcon(), func() {
			if err := callback(); err != nil {
				dialog.ShowError(err, w)
				return
			}
			modal.Hide()
		}))
	}
	buttons = append(buttons, layout.NewSpacer())
	top := container.NewVBox(
		widget.NewLabelWithStyle(title, fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		widget.NewSeparator(),
	)
	bottom := container.NewHBox(buttons...)
	modal = widget.NewModalPopUp(container.NewBorder(top, bottom, nil, nil, container.NewVScroll(content)), w.Canvas())

	// the scroll container hides the height of content
	pad := theme.Padding()
	size := fyne.NewSize(
		fyne.Max(content.MinSize().Width, fyne.Max(top.MinSize().Width, bottom.MinSize().Width))+4*pad,
		top.MinSize().Height+content.MinSize().Height+bottom.MinSize().Height+6*pad,
	)
	modal.Resize(size.Min(w.Canvas().Size()))
	modal.Show()
}
