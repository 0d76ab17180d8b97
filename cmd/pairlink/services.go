package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/config"
	"go.pairlink.org/internal/device"
	"go.pairlink.org/internal/metric"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/plugins/background"
	"go.pairlink.org/internal/plugins/connectivityreport"
	"go.pairlink.org/internal/plugins/photo"
	"go.pairlink.org/internal/portal"
	"go.pairlink.org/internal/settings"
	"go.pairlink.org/internal/telephony"
	"go.pairlink.org/internal/transfer"
	"go.pairlink.org/internal/transport"
	"go.pairlink.org/internal/window"
	"go.pairlink.org/internal/workerpool"
)

var errNoSessionBus = errors.New("desktop portal unavailable: no session bus")

// noPortal answers every request when there is no session bus.
type noPortal struct{}

func (noPortal) RequestBackground(context.Context, portal.BackgroundRequest) error {
	return errNoSessionBus
}

// services is everything that runs with or without a window.
type services struct {
	cfg        config.Config
	table      *capability.Table
	store      *settings.Store
	manager    *device.Manager
	background *background.Plugin
	windows    *window.List
	pool       *workerpool.Pool
	listener   *transport.Listener
	metricsSrv *http.Server
	buses      []*dbus.Conn

	// ctx is done once Close is called.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startServices(ctx context.Context, cfg config.Config) (_ *services, err error) {
	ctx, cancel := context.WithCancel(ctx)
	svc := &services{
		cfg:     cfg,
		store:   settings.NewStore(db),
		windows: window.NewList(),
		ctx:     ctx,
		cancel:  cancel,
	}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	localID, err := device.LocalID(db)
	if err != nil {
		return nil, err
	}

	// signal strengths come from ModemManager when the system bus is there
	var monitor telephony.Monitor
	if systemBus, err := dbus.ConnectSystemBus(); err != nil {
		loggerInfo.Println("warning: system bus unavailable, not reporting signal strength:", err)
		monitor = telephony.NewStatic(nil)
	} else {
		svc.buses = append(svc.buses, systemBus)
		monitor = telephony.NewModemManager(systemBus, loggerInfo, loggerDebug)
	}

	// notifications and the background portal need the session bus
	var (
		notifier  notify.Notifier
		requester portal.Requester = noPortal{}
	)
	if sessionBus, err := dbus.ConnectSessionBus(); err != nil {
		loggerInfo.Println("warning: session bus unavailable, logging notifications:", err)
		notifier = notify.NewLogger(loggerInfo)
	} else {
		svc.buses = append(svc.buses, sessionBus)
		n := notify.NewDBus(sessionBus, appName, loggerDebug)
		svc.goRun(func() {
			if err := n.Listen(ctx); err != nil {
				loggerInfo.Println("warning:", err)
			}
		})
		notifier = n
		requester = portal.NewDBus(sessionBus, loggerDebug)
	}

	registry := capability.NewRegistry()
	if err := connectivityreport.Register(registry, monitor); err != nil {
		return nil, err
	}
	if err := photo.Register(registry, cfg.Pictures); err != nil {
		return nil, err
	}
	if svc.table, err = registry.Compile(); err != nil {
		return nil, err
	}

	svc.pool, err = workerpool.NewPool(cfg.TransferWorkers,
		workerpool.Retries(cfg.TransferRetries),
		workerpool.LoggerInfo(loggerInfo),
		workerpool.LoggerDebug(loggerDebug),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer pool: %w", err)
	}

	metrics := metric.New()
	if cfg.Metrics != "" {
		if err := svc.serveMetrics(metrics); err != nil {
			return nil, err
		}
	}

	svc.manager = device.NewManager(device.Identity{
		ID:   localID,
		Name: cfg.DeviceName,
		Type: cfg.DeviceType,
	}, device.Config{
		Table:       svc.table,
		DB:          db,
		Settings:    svc.store,
		Notifier:    notifier,
		Transfers:   transfer.NewExecutor(svc.pool, loggerInfo, loggerDebug),
		Metrics:     metrics,
		LoggerInfo:  loggerInfo,
		LoggerDebug: loggerDebug,
	})
	if err := svc.manager.Restore(); err != nil {
		return nil, err
	}

	svc.background = background.New(svc.store, requester, svc.windows, loggerInfo, loggerDebug)
	svc.background.Start()

	if cfg.Listen != "" {
		svc.listener, err = transport.Listen(cfg.Listen, loggerInfo)
		if err != nil {
			return nil, err
		}
		loggerInfo.Printf("listening on %s as %s (%s)", svc.listener.Addr(), cfg.DeviceName, localID)
		svc.goRun(func() {
			err := svc.listener.Serve(ctx, func(ch *transport.StreamChannel) {
				svc.connect(ctx, ch)
			})
			if err != nil {
				loggerInfo.Println("warning: stopped accepting devices:", err)
			}
		})
	}
	for _, addr := range cfg.Peers {
		addr := addr
		svc.goRun(func() {
			if err := svc.dial(ctx, addr); err != nil {
				logError(err)
			}
		})
	}
	return svc, nil
}

func (svc *services) serveMetrics(metrics *metric.Metrics) error {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	if err := metric.RegisterPool(reg, "transfers", svc.pool); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", svc.cfg.Metrics)
	if err != nil {
		return fmt.Errorf("metrics listen failed: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	svc.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	svc.goRun(func() {
		if err := svc.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			loggerInfo.Println("warning: metrics server stopped:", err)
		}
	})
	loggerInfo.Printf("serving metrics on %s", ln.Addr())
	return nil
}

func (svc *services) goRun(f func()) {
	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		f()
	}()
}

func (svc *services) connect(ctx context.Context, ch transport.Channel) (*device.Session, error) {
	s, err := svc.manager.Connect(ctx, ch)
	if err != nil {
		return nil, logError(err)
	}
	loggerInfo.Printf("connected to %s (%s) at %s", s.Name(), s.ID(), ch.RemoteAddr())
	return s, nil
}

// dial connects to addr and remembers it for the connect dialog.
func (svc *services) dial(ctx context.Context, addr string) error {
	ch, err := transport.Dial(ctx, addr)
	if err != nil {
		return err
	}
	if _, err := svc.connect(ctx, ch); err != nil {
		return err
	}
	if err := savePeer(db, addr, time.Now()); err != nil {
		loggerInfo.Println("warning:", err)
	}
	return nil
}

// Close stops accepting devices, closes every session and waits for the
// background work to finish.
func (svc *services) Close() {
	svc.cancel()
	if svc.background != nil {
		svc.background.Close()
	}
	if svc.manager != nil {
		svc.manager.Close()
	}
	if svc.pool != nil {
		svc.pool.StopAndWait()
	}
	if svc.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := svc.metricsSrv.Shutdown(ctx); err != nil {
			loggerInfo.Println("warning: metrics server shutdown:", err)
		}
		cancel()
	}
	svc.wg.Wait()
	for _, bus := range svc.buses {
		bus.Close()
	}
}
