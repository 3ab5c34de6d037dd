package viewer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/chronologos/godesk/internal/transport"
	"github.com/chronologos/godesk/internal/version"
)

// logProfileSummary logs traffic totals for the session that just ended
// and, on QUIC, the connection's RTT and loss. It also writes the numbers
// as JSON to the temp directory.
func (v *Viewer) logProfileSummary(conn transport.Conn, start time.Time) {
	p := v.profile(conn, time.Now(), start)

	fields := []zap.Field{
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		zap.Int64("frames_received", p.Traffic.FramesRecv),
		zap.String("screen_bytes", formatBytes(uint64(p.Traffic.ScreenBytes))),
		zap.Int64("events_sent", p.Traffic.EventsSent),
	}
	if pc, ok := conn.(transport.ProfileableConn); ok {
		stats := pc.ConnectionStats()
		fields = append(fields,
			zap.String("rtt_min", formatDuration(stats.MinRTT)),
			zap.String("rtt_smooth", formatDuration(stats.SmoothedRTT)),
			zap.String("jitter", formatDuration(stats.MeanDeviation)),
			zap.String("sent", fmt.Sprintf("%s/%dpkts", formatBytes(stats.BytesSent), stats.PacketsSent)),
			zap.String("recv", fmt.Sprintf("%s/%dpkts", formatBytes(stats.BytesReceived), stats.PacketsReceived)),
			zap.Uint64("pkts_lost", stats.PacketsLost),
		)
	}
	v.log.Info("session profile", fields...)

	v.writeProfileJSON(p)
}

// profileJSON is the structured output written to the temp directory.
type profileJSON struct {
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Commit    string         `json:"commit"`
	Host      string         `json:"host"`
	Transport string         `json:"transport"`
	DurationS float64        `json:"duration_s"`
	HostSize  *Size          `json:"host_size,omitempty"`
	RTT       *profileRTT    `json:"rtt,omitempty"`
	Traffic   profileTraffic `json:"traffic"`
}

type profileRTT struct {
	MinMs    float64 `json:"min_ms"`
	SmoothMs float64 `json:"smooth_ms"`
	LatestMs float64 `json:"latest_ms"`
	JitterMs float64 `json:"jitter_ms"`
}

type profileTraffic struct {
	FramesRecv  int64  `json:"frames_recv"`
	ScreenBytes int64  `json:"screen_bytes"`
	EventsSent  int64  `json:"events_sent"`
	BytesSent   uint64 `json:"bytes_sent,omitempty"`
	BytesRecv   uint64 `json:"bytes_recv,omitempty"`
	PktsSent    uint64 `json:"pkts_sent,omitempty"`
	PktsRecv    uint64 `json:"pkts_recv,omitempty"`
	PktsLost    uint64 `json:"pkts_lost,omitempty"`
}

func (v *Viewer) profile(conn transport.Conn, now, start time.Time) profileJSON {
	p := profileJSON{
		Timestamp: now.UTC().Format(time.RFC3339),
		Version:   version.VERSION,
		Commit:    version.Commit,
		Host:      v.cfg.Host,
		Transport: string(v.cfg.Mode),
		DurationS: now.Sub(start).Seconds(),
		Traffic: profileTraffic{
			FramesRecv:  v.framesReceived.Load(),
			ScreenBytes: v.bytesReceived.Load(),
		},
	}
	if v.input != nil {
		p.Traffic.EventsSent = v.input.Sent()
	}
	if size, ok := v.scaler.Host(); ok {
		p.HostSize = &size
	}
	if pc, ok := conn.(transport.ProfileableConn); ok {
		stats := pc.ConnectionStats()
		p.RTT = &profileRTT{
			MinMs:    msFloat(stats.MinRTT),
			SmoothMs: msFloat(stats.SmoothedRTT),
			LatestMs: msFloat(stats.LatestRTT),
			JitterMs: msFloat(stats.MeanDeviation),
		}
		p.Traffic.BytesSent = stats.BytesSent
		p.Traffic.BytesRecv = stats.BytesReceived
		p.Traffic.PktsSent = stats.PacketsSent
		p.Traffic.PktsRecv = stats.PacketsReceived
		p.Traffic.PktsLost = stats.PacketsLost
	}
	return p
}

// writeProfileJSON dumps a JSON profile to $TMPDIR/godesk-profile-<timestamp>.json.
func (v *Viewer) writeProfileJSON(p profileJSON) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		v.log.Warn("profile: json marshal", zap.Error(err))
		return
	}

	filename := filepath.Join(os.TempDir(),
		fmt.Sprintf("godesk-profile-%s.json", time.Now().Format("20060102-150405")))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		v.log.Warn("profile: write", zap.String("path", filename), zap.Error(err))
		return
	}
	v.log.Info("profile written", zap.String("path", filename))
}

// msFloat converts a Duration to milliseconds as float64.
func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// formatDuration formats a duration as milliseconds with one decimal.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0ms"
	}
	ms := float64(d) / float64(time.Millisecond)
	return fmt.Sprintf("%.1fms", ms)
}
