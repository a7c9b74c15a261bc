// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"regexp"
	"strconv"
	"strings"
)

// reAttr matches KEY=VALUE pairs in an HLS attribute list, VALUE being
// either a quoted-string or an unquoted token up to the next comma.
// Grounded on mogiioin-hls-m3u8/m3u8/reader.go's identical reKeyValue.
var reAttr = regexp.MustCompile(`([a-zA-Z0-9_-]+)=("[^"]*"|[^",]*)`)

// parseAttrs parses the attribute-list portion of a tag line (the part
// after the first ':') into a key->value map. Quoted values are
// unquoted; unquoted values (integers, enumerated-strings, resolutions)
// are returned verbatim for the caller to further parse.
func parseAttrs(value string) map[string]string {
	out := map[string]string{}
	for _, m := range reAttr.FindAllStringSubmatch(value, -1) {
		key, val := m[1], m[2]
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		out[strings.ToUpper(key)] = val
	}
	return out
}

func attrInt(attrs map[string]string, key string) (int, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func attrFloat(attrs map[string]string, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, err == nil
}

func attrBool(attrs map[string]string, key string) bool {
	return strings.EqualFold(attrs[key], "YES")
}

// resolution parses a RESOLUTION=WIDTHxHEIGHT attribute.
func resolution(v string) (w, h int, ok bool) {
	parts := strings.SplitN(v, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil {
		return 0, 0, false
	}
	return w, h, true
}

// tagValue splits "#EXT-X-FOO:VALUE" into ("#EXT-X-FOO", "VALUE"); a
// tag with no colon (e.g. #EXT-X-ENDLIST) returns ("#EXT-X-ENDLIST", "").
func tagValue(line string) (tag, value string) {
	idx := strings.IndexByte(line, ':')
	if idx == -1 {
		return line, ""
	}
	return line[:idx], line[idx+1:]
}
