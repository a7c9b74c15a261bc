// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dashparser

import (
	"encoding/base64"
	"log/slog"
	"strconv"

	"github.com/beevik/etree"
	"github.com/oklog/ulid/v2"

	"github.com/videoedge/manifestcore/internal/model"
	"github.com/videoedge/manifestcore/pkg/scte35"
)

// extractEvents walks every <Period><EventStream><Event> in the
// xlink-resolved generic XML tree into the unified
// model.TimelineRegionAdded shape an HLS EXT-X-DATERANGE also produces.
// This reads the same etree.Document resolveXlink already builds for
// xlink resolution, rather than the typed mpd.MPD tree:
// github.com/Eyevinn/dash-mpd's generated types carry no Event binding
// (its own EventStream usage elsewhere is limited to the empty in-band
// descriptor in livempd.go), so the generic-XML walk this module
// already uses for xlink is the grounded way to reach it.
func extractEvents(root *etree.Element) []model.TimelineRegionAdded {
	var events []model.TimelineRegionAdded
	for _, period := range root.ChildElements() {
		if period.Tag != "Period" {
			continue
		}
		for _, es := range period.ChildElements() {
			if es.Tag != "EventStream" {
				continue
			}
			events = append(events, eventsFromStream(es)...)
		}
	}
	return events
}

func eventsFromStream(es *etree.Element) []model.TimelineRegionAdded {
	schemeIDURI := es.SelectAttrValue("schemeIdUri", "")
	value := es.SelectAttrValue("value", "")
	timescale := uint64(1)
	if ts := es.SelectAttrValue("timescale", ""); ts != "" {
		if n, err := strconv.ParseUint(ts, 10, 64); err == nil && n > 0 {
			timescale = n
		}
	}

	var out []model.TimelineRegionAdded
	for _, ev := range es.SelectElements("Event") {
		id := ev.SelectAttrValue("id", "")
		if id == "" {
			// Event@id is OPTIONAL per the DASH schema; callers still
			// need a stable handle to correlate this event across
			// manifest updates, so mint one.
			id = ulid.Make().String()
		}
		tre := model.TimelineRegionAdded{SchemeIDURI: schemeIDURI, Value: value, ID: id}
		if pt := ev.SelectAttrValue("presentationTime", ""); pt != "" {
			if n, err := strconv.ParseUint(pt, 10, 64); err == nil {
				tre.StartTime = float64(n) / float64(timescale)
			}
		}
		tre.EndTime = tre.StartTime
		if d := ev.SelectAttrValue("duration", ""); d != "" {
			if n, err := strconv.ParseUint(d, 10, 64); err == nil {
				tre.EndTime = tre.StartTime + float64(n)/float64(timescale)
			}
		}
		tre.Payload = eventPayload(ev)
		if tre.SchemeIDURI == scte35.SchemeIDURI && len(tre.Payload) > 0 {
			summary, err := scte35.Decode(tre.Payload)
			if err != nil {
				slog.Warn("dashparser: scte35 decode failed", "event", tre.ID, "err", err)
			} else {
				tre.SCTE35Summary = summary
			}
		}
		out = append(out, tre)
	}
	return out
}

// eventPayload extracts an Event's binary signal, base64-decoding it
// per the DASH-IF "2013:bin" SCTE-35 carriage convention (messageData
// attribute or element text, whichever is present).
func eventPayload(ev *etree.Element) []byte {
	raw := ev.SelectAttrValue("messageData", "")
	if raw == "" {
		raw = ev.Text()
	}
	if raw == "" {
		return nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded
	}
	return []byte(raw)
}
