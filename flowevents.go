package oauthpopup

import "time"

// FlowStarted is published on the events bus when a popup has been opened.
type FlowStarted struct {
	Nonce string
	URL   string
}

// FlowFinished is published when a flow ends for any reason. Outcome is the terminal
// classification ("code", "closed", "detached"), "state_mismatch", "timeout", or the teardown
// reason ("teardown", "relaunch", "context done").
//
// Subscribers are called asynchronously; FlowFinished may be observed before FlowStarted for
// very short flows.
type FlowFinished struct {
	Nonce   string
	Outcome string
	Elapsed time.Duration
}
