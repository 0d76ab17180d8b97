package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/config"
)

const (
	appID      = "org.pairlink"
	appName    = "Pairlink"
	appVersion = "0.1.0"
)

var (
	db          *bolt.DB
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
	logger      = log.Default()
)

func main() {
	// read flags
	configDir, err := os.UserConfigDir()
	if err != nil {
		logger.Println("failed to locate config directory:", err)
		return
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		logger.Println("failed to locate home directory:", err)
		return
	}
	cfg, opts, err := config.Parse(flag.CommandLine, os.Args[1:], config.Default(configDir, homeDir, appID))
	if err != nil {
		logger.Println(err)
		return
	}
	switch {
	case opts.Version:
		fmt.Println(appVersion)
		return
	case opts.Help:
		flag.PrintDefaults()
		return
	}
	if cfg.Debug {
		logger.Println("debug enabled")
		loggerInfo = log.New(os.Stdout, "[INFO] ", log.Ldate|log.Ltime|log.Llongfile|log.Lmsgprefix)
		loggerDebug = log.New(os.Stdout, "[DEBUG] ", log.Ldate|log.Ltime|log.Llongfile|log.Lmsgprefix)
	} else {
		loggerInfo = log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Llongfile|log.Lmsgprefix)
		loggerDebug = log.New(io.Discard, "", 0)
	}

	// create database directory if it does not exist
	if err := os.MkdirAll(filepath.Dir(cfg.DB), 0700); err != nil {
		loggerInfo.Printf("failed to create directory '%s': %s", cfg.DB, err)
		return
	}
	// open database
	db, err = bolt.Open(cfg.DB, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		loggerInfo.Println("failed to open database:", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			loggerInfo.Println("failed to close database:", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := startServices(ctx, cfg)
	if err != nil {
		loggerInfo.Println("failed to start:", err)
		return
	}
	defer svc.Close()

	if opts.Service {
		loggerInfo.Printf("%s %s running without a window", appName, appVersion)
		<-ctx.Done()
		return
	}

	// start GUI
	a := app.NewWithID(appID)
	w := a.NewWindow(appName)
	w.SetMaster()
	a.Settings().SetTheme(theme.LightTheme())
	mainWindow, release := svc.windows.Track(appName)
	defer release()
	w.SetOnClosed(release)
	a.Lifecycle().SetOnEnteredForeground(func() { mainWindow.SetActive(true) })
	a.Lifecycle().SetOnExitedForeground(func() { mainWindow.SetActive(false) })
	go func() {
		<-ctx.Done()
		a.Quit()
	}()
	tabs := container.NewAppTabs(tabDevices(ctx, w, svc), tabSettings(w, svc), tabAbout(svc))
	w.SetContent(tabs)
	w.Resize(fyne.NewSize(1024, 600))
	w.ShowAndRun()
}
