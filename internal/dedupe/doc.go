// Package dedupe drops repeated Matrix events. Homeservers can replay events
// after a reconnect or a sync token reset; the bridge checks each event ID
// here before handing the message to the conversation engine.
package dedupe
