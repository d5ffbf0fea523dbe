package sdk

// FallbackDeviceLimit applies when neither the local config nor the server
// provides a limit.
const FallbackDeviceLimit = 1

// LimitDecision is the outcome of evaluating an attach response against the
// active configuration.
type LimitDecision struct {
	Limit    int
	Exceeded bool
}

// Evaluate resolves the effective device limit and decides whether the
// attached-device count exceeds it. Precedence: explicit local OverallLimit,
// else the server's default_device_limit, else FallbackDeviceLimit.
//
// Evaluate is pure: same inputs, same decision.
func Evaluate(res AttachResult, cfg LimitConfig) LimitDecision {
	limit := FallbackDeviceLimit
	switch {
	case cfg.OverallLimit != nil:
		limit = *cfg.OverallLimit
	case res.DefaultDeviceLimit != nil:
		limit = *res.DefaultDeviceLimit
	}
	return LimitDecision{
		Limit:    limit,
		Exceeded: res.AttachedDevices > limit,
	}
}

// ShouldBlock decides whether the blocking dialog must be shown. This is
// separate from Exceeded: a local ShowBlockingDialog override wins, else the
// server's block_over_usage hint applies, else the safe default is to not
// lock the user out.
func ShouldBlock(decision LimitDecision, res AttachResult, appearance AppearanceConfig) bool {
	if !decision.Exceeded {
		return false
	}
	if appearance.ShowBlockingDialog != nil {
		return *appearance.ShowBlockingDialog
	}
	if res.BlockOverUsage != nil {
		return *res.BlockOverUsage
	}
	return false
}
