// Package server exposes herald's small HTTP surface.
//
// # Routes
//
//   - /health: liveness, always 200
//   - /health/ready: 503 until the chat connection is up
//   - /oauth/callback: OAuth redirect target, mounted when the oauth login flow is used
//   - metrics path: Prometheus exposition, when metrics are enabled
//
// # Listeners
//
// By default the server listens on server.http_addr. With tailscale enabled
// it joins the tailnet through tsnet and serves plain HTTP on :80, HTTPS with
// tailnet certificates on :443, or a public Funnel on :443. The OAuth
// provider must be able to reach the callback, which usually means Funnel.
package server
