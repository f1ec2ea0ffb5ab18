package authcore

import "sync/atomic"

// MetricID identifies one flow counter.
type MetricID uint8

const (
	MetricSignupStarted MetricID = iota
	MetricSignupVerified
	MetricLoginSuccess
	MetricLoginFailure
	MetricVerificationRequested
	MetricTwoFactorRequired
	MetricPasswordResetRequested
	MetricPasswordResetCompleted
	MetricSettingsUpdated
	MetricOAuthLogin
	MetricLogout

	metricCount
)

var metricNames = [metricCount]string{
	MetricSignupStarted:          "signup_started",
	MetricSignupVerified:         "signup_verified",
	MetricLoginSuccess:           "login_success",
	MetricLoginFailure:           "login_failure",
	MetricVerificationRequested:  "verification_requested",
	MetricTwoFactorRequired:      "two_factor_required",
	MetricPasswordResetRequested: "password_reset_requested",
	MetricPasswordResetCompleted: "password_reset_completed",
	MetricSettingsUpdated:        "settings_updated",
	MetricOAuthLogin:             "oauth_login",
	MetricLogout:                 "logout",
}

// Metrics is a fixed set of in-process atomic counters. The zero value
// is ready to use.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

// Inc increments one counter. Out-of-range IDs are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(1)
}

// Snapshot returns a point-in-time copy of all counters keyed by
// metric name.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, metricCount)
	if m == nil {
		return out
	}
	for id := MetricID(0); id < metricCount; id++ {
		out[metricNames[id]] = m.counters[id].Load()
	}
	return out
}
