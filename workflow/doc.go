// Package workflow coordinates the lifecycle of a separation job: it
// prepares and submits jobs, learns about completion by polling or by
// callback, materializes result artifacts to local files and cleans up
// server side task state.
//
// Completion detection is chosen per job with a Detection value, Poll or
// Callback. Callback deliveries go through a Tracker so a task delivered
// more than once is materialized once.
package workflow
