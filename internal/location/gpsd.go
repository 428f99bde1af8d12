package location

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
)

const gpsdWatch = `?WATCH={"enable":true,"json":true}` + "\n"

// GPSDProvider reads fixes from a gpsd daemon using its JSON protocol.
// Each request opens a fresh watch so no background reader is kept alive
// between samples.
type GPSDProvider struct {
	Address     string
	DialTimeout time.Duration
	Logger      zerolog.Logger
}

// tpv is the subset of a gpsd TPV report we consume.
type tpv struct {
	Class string    `json:"class"`
	Mode  int       `json:"mode"`
	Time  time.Time `json:"time"`
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	EPX   float64   `json:"epx"`
	EPY   float64   `json:"epy"`
}

// CurrentPosition waits for the first usable TPV report. With HighAccuracy a
// 3D fix (mode 3) is required, otherwise a 2D fix is enough.
func (p *GPSDProvider) CurrentPosition(ctx context.Context, opts Options) (Fix, error) {
	dialer := net.Dialer{Timeout: p.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		if ctx.Err() != nil {
			return Fix{}, ctx.Err()
		}
		return Fix{}, fmt.Errorf("%w: dial gpsd %s: %v", ErrPositionUnavailable, p.Address, err)
	}
	defer conn.Close()

	// Unblock the scanner when the request is abandoned.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(gpsdWatch)); err != nil {
		return Fix{}, fmt.Errorf("%w: write watch: %v", ErrPositionUnavailable, err)
	}

	minMode := 2
	if opts.HighAccuracy {
		minMode = 3
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			p.Logger.Debug().Err(err).Msg("Skipping malformed gpsd report")
			continue
		}
		if report.Class != "TPV" || report.Mode < minMode {
			continue
		}
		accuracy := report.EPX
		if report.EPY > accuracy {
			accuracy = report.EPY
		}
		return Fix{
			Latitude:  report.Lat,
			Longitude: report.Lon,
			Accuracy:  accuracy,
			Time:      report.Time,
		}, nil
	}

	if ctx.Err() != nil {
		return Fix{}, ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return Fix{}, fmt.Errorf("%w: read gpsd: %v", ErrPositionUnavailable, err)
	}
	return Fix{}, fmt.Errorf("%w: gpsd closed the connection", ErrPositionUnavailable)
}
