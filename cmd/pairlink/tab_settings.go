package main

import (
	"fmt"
	"sort"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"go.pairlink.org/internal/plugins/background"
	"go.pairlink.org/internal/settings"
)

func tabSettings(w fyne.Window, svc *services) *container.TabItem {
	autostart := widget.NewCheck(fmt.Sprintf("Start %s at login", appName), nil)
	autostart.SetChecked(svc.background.Settings().Bool(background.SettingAutostart))
	autostart.OnChanged = func(b bool) {
		if err := svc.background.Settings().SetBool(background.SettingAutostart, b); err != nil {
			logAndShowError(err, w)
		}
	}

	local := svc.manager.Local()
	listen := svc.cfg.Listen
	if svc.listener != nil {
		listen = svc.listener.Addr().String()
	}
	if listen == "" {
		listen = "disabled"
	}
	f := widget.NewForm(
		widget.NewFormItem("Device name", widget.NewLabel(local.Name)),
		widget.NewFormItem("Device type", widget.NewLabel(local.Type)),
		widget.NewFormItem("Device id", widget.NewLabel(local.ID)),
		widget.NewFormItem("Listening on", widget.NewLabel(listen)),
		widget.NewFormItem("Photos saved in", widget.NewLabel(svc.cfg.Pictures)),
	)
	content := container.NewVBox(
		widget.NewLabelWithStyle("This Device", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		f,
		widget.NewSeparator(),
		widget.NewLabelWithStyle("Background", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}),
		autostart,
	)
	return container.NewTabItemWithIcon("Settings", theme.SettingsIcon(), container.NewScroll(content))
}

func sortedKeys(schema settings.Schema) []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// settingLabel turns "offline-notification" into "Offline notification".
func settingLabel(key string) string {
	s := strings.ReplaceAll(key, "-", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
