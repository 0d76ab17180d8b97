package widget

import (
	"fyne.io/fyne/v2"

	"go.pairlink.org/internal/dbutil"
)

// Action is a button of the actions column. Func returns the tap handler
// of one row; Enabled, if set, decides whether the button can be tapped.
type Action struct {
	Name    string
	Icon    fyne.Resource
	Func    func(v dbutil.Saveable, refreshChan chan<- struct{}) func()
	Enabled func(v dbutil.Saveable) bool
}
