//go:build js && wasm

package main

import (
	"syscall/js"
	"testing"

	"go.uber.org/zap"
)

func TestStringifyCyclicObject(t *testing.T) {
	obj := js.Global().Get("Object").New()
	obj.Set("messMessage", "MESS_PROP_UPDATE")
	obj.Set("self", obj)

	if _, err := stringify(obj); err == nil {
		t.Fatal("expected an error for a cyclic object")
	}

	ok := js.Global().Get("Object").New()
	ok.Set("messMessage", "MESS_PROP_UPDATE")
	raw, err := stringify(ok)
	if err != nil {
		t.Fatalf("stringify: %v", err)
	}
	if raw != `{"messMessage":"MESS_PROP_UPDATE"}` {
		t.Errorf("unexpected payload %s", raw)
	}
}

func TestListenDropsUnusableObjects(t *testing.T) {
	if js.Global().Get("window").IsUndefined() || js.Global().Get("MessageEvent").IsUndefined() {
		t.Skip("requires a browser window")
	}
	w := newJSWindow(zap.NewNop())
	var got []string
	stop := w.Listen(func(raw []byte) { got = append(got, string(raw)) })
	defer stop()

	cyclic := js.Global().Get("Object").New()
	cyclic.Set("messMessage", "MESS_PROP_UPDATE")
	cyclic.Set("self", cyclic)
	foreign := js.Global().Get("Object").New()
	foreign.Set("type", "resize")

	dispatch(w, cyclic)
	dispatch(w, foreign)
	dispatch(w, js.ValueOf(`{"messMessage":"MESS_PROP_UPDATE","prop":"headline","value":"x"}`))

	if len(got) != 1 {
		t.Fatalf("expected only the string payload, got %v", got)
	}
}

// dispatch fires a synchronous message event at the window.
func dispatch(w *jsWindow, data js.Value) {
	init := js.Global().Get("Object").New()
	init.Set("data", data)
	event := js.Global().Get("MessageEvent").New("message", init)
	w.win.Call("dispatchEvent", event)
}
