package sandbox

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
)

const customEventSource = `function CustomEvent(type, init) {
  this.type = String(type);
  this.detail = init && init.detail !== undefined ? init.detail : null;
}`

func isNullish(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v) || goja.IsNull(v)
}

// installEvents exposes the shared window event surface to a realm
func installEvents(r *Runtime, ev *events) {
	vm := r.vm
	_, _ = vm.RunString(customEventSource)

	vm.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		once := false
		if opts := call.Argument(2); !isNullish(opts) {
			if o, isObj := opts.(*goja.Object); isObj {
				once = o.Get("once") != nil && o.Get("once").ToBoolean()
			}
		}
		ev.AddListener(name, func(detail any) {
			e := vm.NewObject()
			_ = e.Set("type", name)
			_ = e.Set("detail", detail)
			r.Call(fn, e)
		}, once)
		return goja.Undefined()
	})

	vm.Set("dispatchEvent", func(call goja.FunctionCall) goja.Value {
		e, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return vm.ToValue(false)
		}
		t := e.Get("type")
		if isNullish(t) {
			return vm.ToValue(false)
		}
		var detail any
		if d := e.Get("detail"); !isNullish(d) {
			detail = d.Export()
		}
		ev.Dispatch(t.String(), detail)
		return vm.ToValue(true)
	})
}

// installDocument exposes a read-only document and location to a realm
func installDocument(r *Runtime, p *Page) {
	vm := r.vm
	doc := goquery.NewDocumentFromNode(p.root)

	location := vm.NewObject()
	_ = location.Set("href", p.u.String())
	_ = location.Set("host", p.u.Host)
	_ = location.Set("origin", p.u.Scheme+"://"+p.u.Host)
	vm.Set("location", location)

	document := vm.NewObject()
	_ = document.Set("URL", p.u.String())
	_ = document.Set("title", doc.Find("title").First().Text())
	_ = document.DefineAccessorProperty("readyState", vm.ToValue(func() string {
		return p.ReadyState().String()
	}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	_ = document.Set("querySelector", func(call goja.FunctionCall) goja.Value {
		sel := doc.Find(call.Argument(0).String()).First()
		if sel.Length() == 0 {
			return goja.Null()
		}
		return vm.ToValue(elementProxy(sel))
	})
	_ = document.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value {
		var out []map[string]any
		doc.Find(call.Argument(0).String()).Each(func(_ int, s *goquery.Selection) {
			out = append(out, elementProxy(s))
		})
		return vm.ToValue(out)
	})
	vm.Set("document", document)
}

func elementProxy(s *goquery.Selection) map[string]any {
	id, _ := s.Attr("id")
	class, _ := s.Attr("class")
	return map[string]any{
		"tagName":     strings.ToUpper(goquery.NodeName(s)),
		"id":          id,
		"className":   class,
		"textContent": s.Text(),
		"getAttribute": func(name string) any {
			if v, ok := s.Attr(name); ok {
				return v
			}
			return nil
		},
	}
}
