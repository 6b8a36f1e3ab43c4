package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metronome/internal/core"
)

func newDummy(t *testing.T, cfg DummyConfig) *Dummy {
	t.Helper()
	tr, err := NewDummyFactory(cfg)(context.Background())
	require.NoError(t, err)
	return tr.(*Dummy)
}

func TestDummy_EchoesRequest(t *testing.T) {
	d := newDummy(t, DummyConfig{Delay: 10 * time.Millisecond})
	msg := &core.Message{Payload: []byte("ping"), Headers: map[string]string{"k": "v"}}

	start := time.Now()
	resp, err := d.Send(context.Background(), msg, core.NewMeasurementUnit(0, nil))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, "ping", string(resp.Payload))
	assert.Equal(t, "v", resp.Headers["k"])
}

func TestDummy_SendHonoursContext(t *testing.T) {
	d := newDummy(t, DummyConfig{Delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.Send(ctx, &core.Message{}, core.NewMeasurementUnit(0, nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDummy_FailEvery(t *testing.T) {
	factory := NewDummyFactory(DummyConfig{FailEvery: 3})
	a, _ := factory(context.Background())
	b, _ := factory(context.Background())

	var failures int
	for i := 0; i < 6; i++ {
		tr := a
		if i%2 == 1 {
			tr = b
		}
		if _, err := tr.Send(context.Background(), &core.Message{}, core.NewMeasurementUnit(int64(i), nil)); err != nil {
			assert.ErrorIs(t, err, ErrInjected)
			failures++
		}
	}
	assert.Equal(t, 2, failures, "counter is shared between instances")
}

func TestDummy_AsyncReply(t *testing.T) {
	d := newDummy(t, DummyConfig{Async: true, Delay: 5 * time.Millisecond})
	replies := make(chan *core.Response, 1)
	d.OnReply(func(r *core.Response) { replies <- r })

	resp, err := d.Send(context.Background(), &core.Message{Payload: []byte("1:hello")}, core.NewMeasurementUnit(0, nil))
	require.NoError(t, err)
	assert.Nil(t, resp)

	select {
	case r := <-replies:
		assert.Equal(t, "1:hello", string(r.Payload))
	case <-time.After(time.Second):
		t.Fatal("no async reply")
	}
	require.NoError(t, d.Close())
	assert.Error(t, d.PreSend(context.Background(), &core.Message{}))
}

func TestLookup(t *testing.T) {
	c, err := Lookup("dummy")
	require.NoError(t, err)
	f, err := c(core.Properties{"delay": "1ms", "async": "true"})
	require.NoError(t, err)
	tr, err := f(context.Background())
	require.NoError(t, err)
	assert.True(t, tr.(*Dummy).cfg.Async)

	_, err = c(core.Properties{"delay": "soon"})
	assert.ErrorIs(t, err, core.ErrConfig)

	_, err = Lookup("carrier-pigeon")
	assert.ErrorIs(t, err, core.ErrConfig)
	assert.Equal(t, []string{"dummy", "http", "mqtt"}, Names())

	mqttCtor, err := Lookup("mqtt")
	require.NoError(t, err)
	_, err = mqttCtor(core.Properties{"broker": "tcp://localhost:1883"})
	assert.ErrorIs(t, err, core.ErrConfig, "request topic required")
	_, err = mqttCtor(core.Properties{"broker": "tcp://localhost:1883", "requestTopic": "t", "qos": "3"})
	assert.ErrorIs(t, err, core.ErrConfig)
}
