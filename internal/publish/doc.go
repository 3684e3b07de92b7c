// Package publish submits approved posts to the social network.
//
// Client.Publish wraps a Submitter, which performs exactly one attempt on a
// fresh submission surface, in the shared retry policy. Only transient
// failures are retried. Authentication and content rejections end the loop
// at once, and so does cancellation of the caller's context.
//
// Submitters:
//
//   - LinkedIn: the REST API (image upload via registerUpload, then ugcPosts).
//   - Webhook: a JSON relay for setups where another service does the posting.
//   - Browser: drives the logged-in browser of a browser session with chromedp,
//     opening a new tab for every attempt.
//
// A post counts as published once the platform accepts it. The locator (a
// link to the live post) is best effort and may be empty on success.
package publish
