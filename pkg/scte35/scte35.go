// Package scte35 implements parts of SCTE-35 according to SCTE-214-1 from 2022.
package scte35

import (
	"fmt"

	"github.com/Comcast/gots/v2/scte35"
)

const (
	SchemeIDURI = "urn:scte:scte35:2013:bin"
)

// Decode parses a raw splice_info_section (the bytes carried in an
// EXT-X-DATERANGE SCTE35-CMD attribute or a DASH EventStream's SCTE-35
// binary payload) and returns a short human-readable summary of its
// splice command, for logging and for model.TimelineRegionAdded's
// SCTE35Summary field.
func Decode(payload []byte) (string, error) {
	parsed, err := scte35.NewSCTE35(payload)
	if err != nil {
		return "", fmt.Errorf("scte35: decoding splice_info_section: %w", err)
	}
	switch cmd := parsed.CommandInfo().(type) {
	case *scte35.SpliceInsertCommand:
		dir := "splice-in"
		if cmd.IsOut() {
			dir = "splice-out"
		}
		summary := fmt.Sprintf("%s event=%d", dir, cmd.EventID())
		if cmd.HasDuration() {
			summary += fmt.Sprintf(" duration=%dms", uint64(cmd.Duration())/90)
		}
		return summary, nil
	case *scte35.TimeSignalCommand:
		return "time-signal", nil
	default:
		return fmt.Sprintf("splice command %T", cmd), nil
	}
}
