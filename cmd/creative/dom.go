//go:build js && wasm

package main

import (
	"fmt"
	"syscall/js"
)

var mediaClasses = []string{"absolute", "inset-0", "object-cover", "w-full", "h-full"}

// domReflector mirrors field values into the creative template.
type domReflector struct {
	doc   js.Value
	cache map[string]js.Value

	// Current media sources, so clearing one of video/videoStream keeps the
	// other playing.
	video       string
	videoStream string
}

func newDOMReflector() *domReflector {
	return &domReflector{
		doc:   js.Global().Get("document"),
		cache: make(map[string]js.Value),
	}
}

func (r *domReflector) element(selector string) js.Value {
	if el, ok := r.cache[selector]; ok {
		return el
	}
	el := r.doc.Call("querySelector", selector)
	if !el.IsNull() {
		r.cache[selector] = el
	}
	return el
}

func (r *domReflector) Reflect(field string, value any) {
	switch field {
	case "backgroundColor":
		r.setRootVar("--bgColor", value)
	case "contentColor":
		r.setRootVar("--contentColor", value)
	case "headline":
		r.setText(".headline", value)
	case "cta":
		r.setText("button span", value)
	case "ctaRounding":
		if btn := r.element("button"); !btn.IsNull() {
			btn.Get("style").Set("borderRadius", text(value))
		}
	case "useCta":
		r.toggleCta(truthy(value))
	case "video":
		r.video = text(value)
		r.reflectVideo()
	case "videoStream":
		r.videoStream = text(value)
		r.reflectVideo()
	case "image":
		r.reflectImage(text(value))
	case "lang":
		r.doc.Get("documentElement").Set("lang", text(value))
	}
}

func (r *domReflector) setRootVar(name string, value any) {
	root := r.element(":root")
	if root.IsNull() {
		return
	}
	root.Get("style").Call("setProperty", name, text(value))
}

func (r *domReflector) setText(selector string, value any) {
	if el := r.element(selector); !el.IsNull() {
		el.Set("innerText", text(value))
	}
}

// toggleCta detaches the button from its wrapper; the cache keeps it for
// re-attachment.
func (r *domReflector) toggleCta(show bool) {
	wrap := r.element(".button-wrap")
	btn := r.element("button")
	if wrap.IsNull() || btn.IsNull() {
		return
	}
	attached := btn.Get("parentNode").Equal(wrap)
	switch {
	case show && !attached:
		wrap.Call("appendChild", btn)
	case !show && attached:
		wrap.Call("removeChild", btn)
	}
}

func (r *domReflector) reflectVideo() {
	wrap := r.element(".video-wrap")
	if wrap.IsNull() {
		return
	}
	wrap.Set("innerHTML", "")

	src := r.video
	if r.videoStream != "" {
		src = r.videoStream
	}
	if src == "" {
		return
	}

	video := r.create("video")
	for _, attr := range []string{"autoplay", "muted", "playsinline", "loop"} {
		video.Set(attr, true)
	}
	video.Set("src", src)
	wrap.Call("appendChild", video)
}

func (r *domReflector) reflectImage(src string) {
	wrap := r.element(".image-wrap")
	if wrap.IsNull() {
		return
	}
	wrap.Set("innerHTML", "")
	if src == "" {
		return
	}
	img := r.create("img")
	img.Set("src", src)
	wrap.Call("appendChild", img)
}

func (r *domReflector) create(tag string) js.Value {
	el := r.doc.Call("createElement", tag)
	classList := el.Get("classList")
	for _, c := range mediaClasses {
		classList.Call("add", c)
	}
	return el
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case nil:
		return false
	default:
		return true
	}
}
