// Package conversation drives the chat workflow that turns a topic into a
// published LinkedIn post.
//
// # Engine
//
// The Engine is a per-user state machine:
//
//	idle -> awaiting_topic -> generating -> awaiting_media_decision
//	     -> [awaiting_media] -> previewing <-> editing -> publishing -> idle
//
// Front ends translate platform messages into Events (Command, ButtonChoice,
// TextMessage, MediaMessage) and call HandleEvent. The returned Outbound
// messages are the immediate replies; choices on an Outbound are rendered as
// buttons or keywords.
//
// Only the configured authorized user is served. Events from anyone else get
// a fixed denial and never touch the session store.
//
// # Async Operations
//
// Generation, publishing, and background logins run in goroutines. Each
// operation carries an ID stored on the session; a completion is applied only
// if the session still names that ID, so results of cancelled or superseded
// operations are dropped. Completions deliver their messages through a
// Notifier, usually a Broadcaster that the front end subscribes to.
//
// A session persisted while an operation was running, then loaded by a new
// process, is repaired on the next event: an interrupted draft is dropped and
// an interrupted publish returns to the preview.
//
// # Storage
//
// Sessions live behind SessionStore. MemoryStore is the in-process default;
// the store package provides durable backends.
package conversation
