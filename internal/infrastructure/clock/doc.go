// Package clock abstracts timer scheduling so that reconnect timing can be
// tested without sleeping.
//
// Production code injects Real(); tests inject a Fake and move time forward
// explicitly with Advance:
//
//	clk := clock.NewFake(time.Unix(0, 0))
//	clk.AfterFunc(3*time.Second, reconnect)
//	clk.Advance(3 * time.Second) // reconnect runs here, synchronously
package clock
