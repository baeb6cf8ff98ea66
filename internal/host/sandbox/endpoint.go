package sandbox

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/injection/bridge"
)

// pageEndpoint is the page realm end of a bound bridge
type pageEndpoint struct {
	page *Page
	peer host.Peer
	// names maps announced ids to the element name they will be placed under
	names map[string]string
}

func (e *pageEndpoint) Deliver(msg host.Message) error {
	switch msg.Cmd {
	case bridge.CmdScriptData:
		data, err := bridge.Decode[bridge.ScriptData](msg)
		if err != nil {
			return err
		}
		for _, d := range data.Items {
			e.names[d.ID] = d.DisplayName()
			e.peer.SetStatus(d.ID, int(bridge.StatusPending))
		}
		if e.page.browser.config.Platform.Family == host.FamilyFirefox {
			e.requestList(data)
		}
		return nil

	case bridge.CmdPlant:
		plant, err := bridge.Decode[bridge.Plant](msg)
		if err != nil {
			return err
		}
		e.plant(plant)
		return nil

	case bridge.CmdRun:
		run, err := bridge.Decode[bridge.Run](msg)
		if err != nil {
			return err
		}
		if e.page.ranScript(e.names[run.ID]) {
			e.peer.SetStatus(run.ID, int(bridge.StatusStarted))
		}
		return nil

	case bridge.CmdWriteVault:
		wv, err := bridge.Decode[bridge.WriteVault](msg)
		if err != nil {
			return err
		}
		e.page.mu.Lock()
		e.page.vaults[wv.VaultID] = true
		e.page.mu.Unlock()
		return nil
	}
	return fmt.Errorf("page realm: unknown command %q", msg.Cmd)
}

// requestList makes the page side pull its list on the next task, the way
// the Firefox page bridge does
func (e *pageEndpoint) requestList(data bridge.ScriptData) {
	payload, err := sonic.Marshal(bridge.InjectList{RunAt: data.RunAt})
	if err != nil {
		return
	}
	e.page.NextTask(func() {
		e.peer.Receive(host.Message{Cmd: bridge.CmdInjectList, Data: payload})
	})
}

// plant defines the one-shot function a wrapped script calls with its body.
// It removes itself on first use and reports the start before running it.
func (e *pageEndpoint) plant(p bridge.Plant) {
	r := e.page.page
	global := r.vm.GlobalObject()
	_ = global.Set(p.Key, func(call goja.FunctionCall) goja.Value {
		_ = global.Delete(p.Key)
		e.peer.SetStatus(p.ID, int(bridge.StatusStarted))
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			r.Call(fn)
		}
		return goja.Undefined()
	})
}

// isolatedEndpoint runs isolated batches inside the post
type isolatedEndpoint struct {
	page *Page
	peer host.Peer
}

func (e *isolatedEndpoint) Deliver(msg host.Message) error {
	if msg.Cmd != bridge.CmdScriptData {
		return nil
	}
	data, err := bridge.Decode[bridge.ScriptData](msg)
	if err != nil {
		return err
	}
	r := e.page.isolated
	for _, d := range data.Items {
		e.peer.SetStatus(d.ID, int(bridge.StatusPending))
		prog, err := r.Compile(d.DisplayName(), "(function(){\n"+d.Source()+"\n})()")
		if err != nil {
			r.record("error", err.Error())
			e.page.logger.Debug("isolated script failed to compile", zap.String("script", d.ID), zap.Error(err))
			continue
		}
		e.peer.SetStatus(d.ID, int(bridge.StatusStarted))
		_, _ = r.RunProgram(prog)
	}
	return nil
}
