package bridge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/injectcore/internal/host"
	"github.com/GriffinCanCode/injectcore/internal/script"
)

type recordingEndpoint struct {
	msgs []host.Message
	err  error
	pan  bool
}

func (e *recordingEndpoint) Deliver(msg host.Message) error {
	if e.pan {
		panic("hostile page")
	}
	e.msgs = append(e.msgs, msg)
	return e.err
}

func TestStatusStarted(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusNone, false},
		{StatusPending, false},
		{StatusInjecting, false},
		{StatusBadRealm, false},
		{StatusStarted, true},
		{Status(42), true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.Started(), tt.status.String())
	}
}

func TestTableBadRealmIsSticky(t *testing.T) {
	tbl := NewTable()
	tbl.Set("a", StatusBadRealm)
	tbl.Set("a", StatusStarted)
	assert.Equal(t, StatusBadRealm, tbl.Get("a"))

	tbl.Set("b", StatusPending)
	assert.Equal(t, StatusInjecting, tbl.Advance("b"))
	assert.Equal(t, StatusInjecting, tbl.Advance("b"))
	assert.Equal(t, StatusNone, tbl.Advance("missing"))
}

func TestPostSerializesPagePayloads(t *testing.T) {
	b := New(nil)
	page := &recordingEndpoint{}
	content := &recordingEndpoint{}
	b.Attach(script.RealmPage, page)
	b.Attach(script.RealmContent, content)

	plant := Plant{ID: "1", Key: "vmabc"}
	require.True(t, b.Post(CmdPlant, plant, script.RealmPage))
	require.True(t, b.Post(CmdPlant, plant, script.RealmContent))

	require.Len(t, page.msgs, 1)
	assert.Nil(t, page.msgs[0].Payload)
	assert.JSONEq(t, `{"id":"1","key":"vmabc"}`, string(page.msgs[0].Data))

	require.Len(t, content.msgs, 1)
	assert.Nil(t, content.msgs[0].Data)
	assert.Equal(t, plant, content.msgs[0].Payload)

	for _, msg := range []host.Message{page.msgs[0], content.msgs[0]} {
		got, err := Decode[Plant](msg)
		require.NoError(t, err)
		assert.Equal(t, plant, got)
	}
}

func TestPostSwallowsFailures(t *testing.T) {
	b := New(nil)
	assert.False(t, b.Post(CmdRun, Run{ID: "x"}, script.RealmPage), "no endpoint")

	b.Attach(script.RealmPage, &recordingEndpoint{err: errors.New("detached")})
	assert.False(t, b.Post(CmdRun, Run{ID: "x"}, script.RealmPage))

	b.Attach(script.RealmPage, &recordingEndpoint{pan: true})
	assert.NotPanics(t, func() {
		assert.False(t, b.Post(CmdRun, Run{ID: "x"}, script.RealmPage))
	})
}

func TestReceiveDispatchesHandlers(t *testing.T) {
	b := New(nil)
	var got InjectList
	b.Handle(CmdInjectList, func(msg host.Message) {
		var err error
		got, err = Decode[InjectList](msg)
		require.NoError(t, err)
	})
	b.Handle("Boom", func(host.Message) { panic("broken handler") })

	b.Receive(host.Message{Cmd: CmdInjectList, Data: []byte(`{"run_at":"body"}`)})
	assert.Equal(t, script.RunBody, got.RunAt)

	assert.NotPanics(t, func() {
		b.Receive(host.Message{Cmd: "Boom"})
		b.Receive(host.Message{Cmd: "Unknown"})
	})
}

func TestPeerStatus(t *testing.T) {
	b := New(nil)
	var peer host.Peer = b
	peer.SetStatus("s", int(StatusPending))
	assert.Equal(t, int(StatusPending), peer.Status("s"))
	assert.Equal(t, StatusPending, b.Table().Get("s"))
}

func TestDecodeRejectsWrongPayload(t *testing.T) {
	_, err := Decode[Run](host.Message{Cmd: CmdRun, Payload: Plant{}})
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = Decode[Run](host.Message{Cmd: CmdRun, Data: []byte("{")})
	assert.Error(t, err)
}
