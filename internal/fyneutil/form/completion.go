package form

import (
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	widgetx "fyne.io/x/fyne/widget"

	widget2 "go.pairlink.org/internal/fyneutil/widget"
)

// ShowEntryCompletionPopup asks for one value, suggesting the options that
// filter keeps for the current text.
func ShowEntryCompletionPopup(w fyne.Window, title, description, confirm, placeHolder string, options []string, filter func([]string, string) []string, onSubmit func(string) error) {
	entry := widgetx.NewCompletionEntry(nil)
	entry.OnChanged = func(s string) {
		matches := filter(options, s)
		if len(matches) == 0 {
			entry.HideCompletion()
			return
		}
		entry.SetOptions(matches)
		entry.ShowCompletion()
	}
	entry.SetPlaceHolder(placeHolder)
	content := container.NewVBox(
		widget.NewLabel(description),
		entry,
	)
	widget2.ShowModal(w, title, confirm, "Cancel", content, func() error {
		return onSubmit(strings.TrimSpace(entry.Text))
	})
}

// FilterOptions keeps the options starting with input, ignoring case. An
// exact match offers nothing.
func FilterOptions(options []string, input string) []string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}
	var filtered []string
	for _, option := range options {
		o := strings.ToLower(option)
		if o == input {
			return nil
		}
		if strings.HasPrefix(o, input) {
			filtered = append(filtered, option)
		}
	}
	return filtered
}
