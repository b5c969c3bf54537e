// Package watchdog implements the bus health watchdog (spec.md §4.5): a
// concurrent supervisor subscribing to CAN controller alerts and driving
// bus-off recovery.
//
// Ground: the background/ticker select-loop lifecycle follows
// pkg/node/controller.go's NodeProcessor (Start/Stop/Wait); the alert
// taxonomy and recovery sequencing are grounded directly on
// vTaskCanBusWatchdog (original_source/esp_can_transport/can_transport/
// h42_can_daemon.c), translated from TWAI alert bits to a Go interface
// the concrete backend (pkg/can/socketcan et al.) would implement.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
)

// Alert mirrors the controller alert bits the original subscribes to
// (TWAI_ALERT_*): ABOVE_ERR_WARN, BELOW_ERR_WARN, ERR_PASSIVE,
// ERR_ACTIVE, BUS_OFF, BUS_RECOVERED (spec.md §4.5).
type Alert int

const (
	AboveErrWarn Alert = iota
	BelowErrWarn
	ErrPassive
	ErrActive
	BusOff
	BusRecovered
)

func (a Alert) String() string {
	switch a {
	case AboveErrWarn:
		return "ABOVE_ERR_WARN"
	case BelowErrWarn:
		return "BELOW_ERR_WARN"
	case ErrPassive:
		return "ERR_PASSIVE"
	case ErrActive:
		return "ERR_ACTIVE"
	case BusOff:
		return "BUS_OFF"
	case BusRecovered:
		return "BUS_RECOVERED"
	default:
		return "UNKNOWN"
	}
}

// AlertSource is the CAN controller driver's alert-subscription surface,
// out of scope as a concrete implementation (spec.md §1) but required by
// the watchdog to do its job.
type AlertSource interface {
	// SubscribeAlerts selects which alerts WaitAlert may report, replacing
	// any previous selection.
	SubscribeAlerts(alerts []Alert) error
	// WaitAlert blocks until an alert fires or ctx is done.
	WaitAlert(ctx context.Context) (Alert, error)
	// InitiateRecovery starts bus-off recovery (128 bus-free sequences in
	// the original TWAI controller).
	InitiateRecovery() error
	// RestartController brings the controller back up after recovery
	// completes.
	RestartController() error
}

// defaultAlerts is the full alert set the watchdog normally subscribes
// to; narrowed to just BusRecovered during bus-off recovery (spec.md
// §4.5).
var defaultAlerts = []Alert{AboveErrWarn, BelowErrWarn, ErrPassive, ErrActive, BusOff, BusRecovered}

// Watchdog supervises bus health on its own goroutine, independent of
// the daemon's event loop (spec.md §5: a separate scheduling
// participant).
type Watchdog struct {
	logger *slog.Logger
	source AlertSource

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(source AlertSource, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{logger: logger.With("service", "[WATCHDOG]"), source: source}
}

// Start subscribes to the default alert set and launches the supervisor
// loop in the background, returning immediately.
func (w *Watchdog) Start(ctx context.Context) error {
	if err := w.source.SubscribeAlerts(defaultAlerts); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(runCtx)
	}()
	return nil
}

// Stop cancels the supervisor loop and waits for it to exit.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watchdog) run(ctx context.Context) {
	for {
		alert, err := w.source.WaitAlert(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("alert wait failed", "err", err)
			continue
		}

		w.logger.Info("controller alert", "alert", alert)

		if alert != BusOff {
			continue
		}
		w.recoverFromBusOff(ctx)
	}
}

// recoverFromBusOff implements spec.md §4.5's recovery sequence:
// narrow the subscription to BUS_RECOVERED only, trigger recovery,
// and once recovered restart the controller and restore the original
// alert set.
func (w *Watchdog) recoverFromBusOff(ctx context.Context) {
	w.logger.Warn("bus-off detected, starting recovery")

	if err := w.source.SubscribeAlerts([]Alert{BusRecovered}); err != nil {
		w.logger.Error("failed to narrow alert subscription for recovery", "err", err)
		return
	}
	if err := w.source.InitiateRecovery(); err != nil {
		w.logger.Error("failed to initiate bus-off recovery", "err", err)
		return
	}

	for {
		alert, err := w.source.WaitAlert(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("alert wait failed during recovery", "err", err)
			continue
		}
		if alert == BusRecovered {
			break
		}
	}

	if err := w.source.RestartController(); err != nil {
		w.logger.Error("failed to restart controller after recovery", "err", err)
		return
	}
	if err := w.source.SubscribeAlerts(defaultAlerts); err != nil {
		w.logger.Error("failed to restore alert subscription after recovery", "err", err)
		return
	}
	w.logger.Info("bus-off recovery complete")
}
