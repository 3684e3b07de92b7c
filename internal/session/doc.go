// Package session obtains and caches authenticated sessions with the
// publishing platform.
//
// # Broker
//
// Broker is the only component that creates or destroys a Session. Callers
// ask for one with Acquire; if none is active the broker drives a LoginFlow
// until the flow reports success, fails, or the login timeout passes.
//
//   - Concurrent Acquire calls for the same user share a single login
//     attempt (golang.org/x/sync/singleflight).
//   - The attempt runs on the broker's own context, so one caller giving up
//     does not abort the login for the others.
//   - Invalidate cancels any in-flight attempt and forgets the session.
//
// Per-user state moves NoSession -> Acquiring -> Active, or
// Acquiring -> Failed. A failed user starts from scratch on the next Acquire.
//
// # Login flows
//
//   - OAuthFlow: authorization-code flow. The user opens a URL; the HTTP
//     callback calls OAuthFlow.Complete with the returned code. The state
//     parameter is a short-lived HS256 JWT naming the user.
//   - BrowserFlow: opens a visible Chrome window (chromedp) with a per-user
//     profile and waits for the user to reach the logged-in page.
//   - StaticFlow: a pre-issued access token from configuration.
//
// # Persistence
//
// With a TokenStore configured, token sessions survive restarts: Acquire
// restores a stored, unexpired token before starting a new login, and
// Invalidate deletes it.
package session
