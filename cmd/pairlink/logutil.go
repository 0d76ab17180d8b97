package main

import (
	"path/filepath"
	"runtime"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
)

// logError logs err with the location of the caller and returns it.
func logError(err error) error {
	logAt(2, err)
	return err
}

func logAndShowError(err error, w fyne.Window) {
	logAt(2, err)
	dialog.ShowError(err, w)
}

func logAt(skip int, err error) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		loggerInfo.Println(err)
		return
	}
	loggerInfo.Printf("%s:%d: %s", filepath.Base(file), line, err)
}
