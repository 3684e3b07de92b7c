// Package bridge connects Matrix rooms to the conversation engine.
//
// # Inbound
//
// The sync loop hands each m.room.message to handleMessageEvent, which drops
// the bot's own messages, events from before startup, replayed event IDs, and
// rooms outside matrix.allowed_rooms. Accepted messages are queued per sender
// and translated:
//
//   - "/name args" becomes a Command
//   - a keyword matching a choice from the last message sent to that user
//     becomes a ButtonChoice ("approve", "!edit", "yes")
//   - images and files are downloaded, decrypted if needed, and become a
//     MediaMessage
//   - anything else is a TextMessage, passed through unmodified
//
// # Outbound
//
// Replies are rendered as text with a "Reply with:" keyword line and an HTML
// body rendered by goldmark. Staged images are uploaded first and sent as
// m.image, encrypted when the room is.
//
// # Ordering
//
// Async results from the engine arrive through the Subscriber and go onto
// the same per-user queue as inbound messages. A result produced while an
// event is being handled is therefore sent after that event's replies, to
// the room the user last wrote from.
//
// # Encryption
//
// With matrix.encryption enabled the bridge sets up mautrix cryptohelper with
// a store key derived from matrix.pickle_key, and verifies the device with
// matrix.recovery_key when one is configured.
package bridge
