package natsutil

import (
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier_SetGet(t *testing.T) {
	msg := &nats.Msg{Subject: "t"}
	c := (*natsHeaderCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Errorf("empty carrier returned %q", got)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("got %q", got)
	}
	if msg.Header.Get("traceparent") != "00-abc-def-01" {
		t.Error("carrier did not write through to message headers")
	}
}

func TestHeaderCarrier_Keys(t *testing.T) {
	msg := &nats.Msg{Subject: "t"}
	c := (*natsHeaderCarrier)(msg)

	if keys := c.Keys(); len(keys) != 0 {
		t.Errorf("empty carrier keys = %v", keys)
	}
	c.Set("a", "1")
	c.Set("b", "2")
	if keys := c.Keys(); len(keys) != 2 {
		t.Errorf("keys = %v", keys)
	}
}
