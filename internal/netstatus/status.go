// Package netstatus tracks connectivity and link quality. It is a pure signal
// source: it never retries and never talks to the remote backend.
package netstatus

import (
	"log/slog"
	"time"
)

// Connection types reported by hosts that expose an effective link type.
const (
	ConnSlow2G   = "slow-2g"
	Conn2G       = "2g"
	Conn3G       = "3g"
	Conn4G       = "4g"
	ConnWifi     = "wifi"
	ConnEthernet = "ethernet"
	ConnUnknown  = "unknown"
)

// Status is one snapshot of the connectivity signal.
type Status struct {
	Online         bool          `json:"online"`
	Slow           bool          `json:"slow"`
	ConnectionType string        `json:"connectionType,omitempty"`
	Downlink       float64       `json:"downlink,omitempty"` // Mbps
	RTT            time.Duration `json:"rtt,omitempty"`
	SaveData       bool          `json:"saveData,omitempty"`
}

// LogValue renders the status compactly for slog.
func (s Status) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("online", s.Online),
		slog.Bool("slow", s.Slow),
		slog.String("type", s.ConnectionType),
		slog.Float64("downlink_mbps", s.Downlink),
		slog.Duration("rtt", s.RTT),
	)
}

// Thresholds decide when a link counts as slow.
type Thresholds struct {
	MinDownlinkMbps float64
	MaxRTT          time.Duration
}

// DefaultThresholds marks links under 1.5 Mbps or above 400ms RTT as slow.
var DefaultThresholds = Thresholds{
	MinDownlinkMbps: 1.5,
	MaxRTT:          400 * time.Millisecond,
}

// IsSlow applies the thresholds to s. Unknown measurements (zero) never make
// a link slow on their own.
func (t Thresholds) IsSlow(s Status) bool {
	if !s.Online {
		return false
	}

	switch s.ConnectionType {
	case ConnSlow2G, Conn2G:
		return true
	}

	if s.Downlink > 0 && t.MinDownlinkMbps > 0 && s.Downlink < t.MinDownlinkMbps {
		return true
	}

	if s.RTT > 0 && t.MaxRTT > 0 && s.RTT > t.MaxRTT {
		return true
	}

	return false
}
