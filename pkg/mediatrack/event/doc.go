// Package event models the messages exchanged with the host event bus and
// routes inbound ones to a single handler each.
//
// # Events
//
// An Event carries a (Type, Source) discriminator and an optional Data
// payload. Classify maps the discriminator onto the closed Kind set;
// everything else is KindUnknown and is ignored by the Router.
//
// Payload lookups preserve the difference between a missing key, an
// explicit null and a value:
//
//	f := evt.Data.Lookup(event.KeySessionID)
//	switch f.Presence {
//	case event.Absent: // key not sent
//	case event.Null:   // key sent as null
//	case event.Set:    // f.Value holds the value, possibly ""
//	}
//
// # Routing
//
// Router is a dispatch table resolved at startup: one handler per Kind.
// Middleware wraps handlers at registration time, so Use must be called
// before Register:
//
//	r := event.NewRouter(event.RouterConfig{OnError: logErr})
//	r.Use(event.RecoveryMiddleware())
//	r.Register(event.KindTrack, trackHandler)
//	r.Route(ctx, evt)
//
// Route never returns an error. Handler failures go to OnError.
package event
