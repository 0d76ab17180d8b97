package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

func tabAbout(svc *services) *container.TabItem {
	items := []*widget.Label{
		widget.NewLabel(fmt.Sprintf("%s version %s", appName, appVersion)),
		widget.NewLabel(fmt.Sprintf("%s connects this computer with your phone over the local network.", appName)),
	}
	if svc.cfg.Metrics != "" {
		items = append(items, widget.NewLabel(fmt.Sprintf("Metrics are served on http://%s/metrics", svc.cfg.Metrics)))
	}
	content := container.NewVBox()
	for _, l := range items {
		l.Wrapping = fyne.TextWrapWord
		content.Add(l)
	}
	return container.NewTabItemWithIcon("About", theme.InfoIcon(), container.NewScroll(content))
}
