// Package server implements the HTTP side of jardeploy.
//
// It provides:
//   - POST /in/{project}: GitHub push webhooks that rebuild and redeploy a
//     project in the background and report the result as a commit status
//   - GET /jnlp/*: the deployed jar tree, answering jar requests with the
//     pack200 companion when the client accepts pack200-gzip
//   - GET /health, /status, /status/{project} and /runs/{id}: monitoring
//     backed by the SQLite deployment ledger
//
// Webhook requests are authenticated with the X-Hub-Signature-256 HMAC,
// limited to 1MB and rate limited per client IP. Only one webhook run
// writes the deploy tree at a time; concurrent pushes are refused with
// 429 and recorded as skipped.
package server
