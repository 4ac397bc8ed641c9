// Package grouptest provides an in-memory group.Connection for tests.
//
// A Recorder keeps every message a group sends to it and tracks its own
// subscriptions, so group behavior can be asserted without a transport.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    v := group.NewVariable("counter", 0)
//	    c := grouptest.NewRecorder("c1")
//	    c.Subscribe(v)
//
//	    v.Set(5)
//
//	    msg := c.Last()
//	    if msg.Func() != "set" {
//	        t.Fatalf("func = %q, want set", msg.Func())
//	    }
//	}
//
// # Waiting for Asynchronous Replies
//
// LocalFunction replies arrive from another goroutine; use Wait:
//
//	msgs, err := c.Wait(1, time.Second)
//	if err != nil {
//	    t.Fatal(err)
//	}
package grouptest
