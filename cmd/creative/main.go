//go:build js && wasm

// Command creative is the MESS creative runtime compiled to WebAssembly. It
// negotiates with the hosting editor (or none, when served live) and mirrors
// field values into the page.
//
//	GOOS=js GOARCH=wasm go build -ldflags "-X main.billable=MDTN" -o creative.wasm ./cmd/creative
package main

import (
	"context"
	"net/http"
	"syscall/js"

	"messkit/internal/config"
	"messkit/internal/creative"
	"messkit/internal/logging"
	"messkit/internal/mess"
	"messkit/internal/tracking"

	"go.uber.org/zap"
)

// Set at link time.
var (
	billable = ""
	logLevel = "warn"
)

func main() {
	logger, err := logging.New(config.LoggingConfig{Level: logLevel})
	if err != nil {
		logger = zap.NewNop()
	}

	fields, err := dynamicContent()
	if err != nil {
		logger.Warn("ignoring dynamic content", zap.Error(err))
	}

	cfg := mess.DefaultConfig()
	cfg.Billable = billable

	win := newJSWindow(logger)
	unit := creative.New(win, newDOMReflector(), creative.Config{
		Negotiation: cfg,
		Fields:      fields,
		ClickTag:    clickTag(),
	},
		mess.WithLogger(logger),
		mess.WithTrackerFactory(func(d tracking.Details) mess.Tracker {
			return tracking.NewClient(d,
				tracking.WithDoer(http.DefaultClient),
				tracking.WithLogger(logger),
			)
		}),
	)

	click := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if err := unit.Click(); err != nil {
			logger.Debug("exit failed", zap.Error(err))
		}
		return nil
	})
	js.Global().Get("window").Call("addEventListener", "click", click)

	// Start blocks until the mode resolves; the callbacks run meanwhile.
	go func() {
		r, err := unit.Start(context.Background())
		if err != nil {
			logger.Warn("negotiation failed", zap.Error(err))
			return
		}
		logger.Info("creative ready", zap.Stringer("mode", r.Mode), zap.String("window", win.Name()))
	}()

	select {}
}
