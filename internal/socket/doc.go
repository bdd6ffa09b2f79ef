// Package socket provides a reconnecting WebSocket client.
//
// A Manager owns at most one transport at a time and drives it through the
// connecting, open, closing and closed phases. Abnormal closures are retried
// after a fixed delay; closures with code 1000 (normal) or 1001 (going away)
// are terminal until Start is called again.
//
// Inbound frames are decoded as JSON into the manager's type parameter and
// handed to a single OnMessage callback. Frames that fail to decode are
// dropped and logged. The connection is kept.
//
// Callbacks run one at a time in transport delivery order, on the manager's
// event-loop goroutine. The one exception is the connecting transition that
// Start reports before returning. Callbacks must not call Start or Stop.
//
// Example usage:
//
//	mgr := socket.NewManager[sensor.Record](socket.Config{
//	    ReconnectDelay: 3 * time.Second,
//	})
//	mgr.SetLogger(logger)
//
//	err := mgr.Start(ctx, "ws://localhost:5000", socket.Callbacks[sensor.Record]{
//	    OnMessage: func(rec sensor.Record) { store.Upsert(rec) },
//	})
//	if err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//
//	_ = mgr.Send(socket.Connect("sensor-123"))
package socket
