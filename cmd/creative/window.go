//go:build js && wasm

package main

import (
	"encoding/json"
	"fmt"
	"sync"
	"syscall/js"

	"messkit/internal/mess"

	"go.uber.org/zap"
)

// jsWindow is the browsing context the creative runs in.
type jsWindow struct {
	win    js.Value
	logger *zap.Logger
}

var _ mess.Window = (*jsWindow)(nil)

func newJSWindow(logger *zap.Logger) *jsWindow {
	return &jsWindow{win: js.Global().Get("window"), logger: logger}
}

func (w *jsWindow) Name() string {
	name := w.win.Get("name")
	if name.Type() != js.TypeString {
		return ""
	}
	return name.String()
}

// PostToParent posts msg to window.top as a structured object, the shape
// editors expect.
func (w *jsWindow) PostToParent(msg mess.Outbound) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	top := w.win.Get("top")
	if top.IsUndefined() || top.IsNull() {
		return fmt.Errorf("no top window")
	}
	payload := js.Global().Get("JSON").Call("parse", string(raw))
	top.Call("postMessage", payload, "*")
	return nil
}

func (w *jsWindow) Open(url string) error {
	w.win.Call("open", url, "_blank")
	return nil
}

// Listen forwards message events as JSON. String payloads pass through;
// object payloads are stringified only when they carry a messMessage kind.
func (w *jsWindow) Listen(handler func(raw []byte)) (stop func()) {
	fn := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		if len(args) == 0 {
			return nil
		}
		data := args[0].Get("data")
		switch data.Type() {
		case js.TypeString:
			handler([]byte(data.String()))
		case js.TypeObject:
			if data.Get("messMessage").Type() != js.TypeString {
				return nil
			}
			raw, err := stringify(data)
			if err != nil {
				w.logger.Debug("dropping message", zap.Error(err))
				return nil
			}
			handler([]byte(raw))
		}
		return nil
	})
	w.win.Call("addEventListener", "message", fn, false)

	var once sync.Once
	return func() {
		once.Do(func() {
			w.win.Call("removeEventListener", "message", fn, false)
			fn.Release()
		})
	}
}

// dynamicContent reads window.dynamicContent as supplied by the ad server.
// It returns nil when the creative is not served with content.
func dynamicContent() (map[string]any, error) {
	dc := js.Global().Get("dynamicContent")
	if dc.IsUndefined() || dc.IsNull() {
		return nil, nil
	}
	raw, err := stringify(dc)
	if err != nil {
		return nil, fmt.Errorf("encode dynamicContent: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode dynamicContent: %w", err)
	}
	return fields, nil
}

// stringify runs JSON.stringify, turning a thrown exception (cycles,
// BigInt) into an error.
func stringify(v js.Value) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("JSON.stringify: %v", r)
		}
	}()
	out := js.Global().Get("JSON").Call("stringify", v)
	if out.Type() != js.TypeString {
		return "", fmt.Errorf("JSON.stringify returned %s", out.Type())
	}
	return out.String(), nil
}

// clickTag reads the clickTag query parameter of the page URL.
func clickTag() string {
	href := js.Global().Get("location").Get("href").String()
	u := js.Global().Get("URL").New(href)
	v := u.Get("searchParams").Call("get", "clickTag")
	if v.IsNull() {
		return ""
	}
	return v.String()
}
