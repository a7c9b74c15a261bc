// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package uritemplate implements DASH's $RepresentationID$/$Number$/
// $Bandwidth$/$Time$ URI template expansion (ISO/IEC 23009-1:2014
// §5.3.9.4.4), generalizing the inline replaceTime/replaceNumber
// helpers in cmd/dashfetcher/app/fetcher.go into the full
// identifier/width/radix grammar.
package uritemplate

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// identifierPattern matches a literal "$$" (group 1) or "$<Id>$" /
// "$<Id>%0<width><conv>$" (groups 2-4).
var identifierPattern = regexp.MustCompile(`(\$\$)|\$(RepresentationID|Number|Bandwidth|Time)(?:%0(\d+)([diouxX]))?\$`)

// Params carries the values substitutable into a template; a nil
// pointer field means "not available" and yields the DASH "None"
// behavior (untouched match + warning).
type Params struct {
	RepresentationID *string
	Number           *uint64
	Bandwidth        *uint64
	Time             *float64
}

// Fill expands template against params.
func Fill(template string, params Params) string {
	return identifierPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := identifierPattern.FindStringSubmatch(match)
		if sub[1] == "$$" {
			return "$"
		}
		id, widthStr, conv := sub[2], sub[3], sub[4]

		width := 0
		if widthStr != "" {
			width, _ = strconv.Atoi(widthStr)
		}

		switch id {
		case "RepresentationID":
			if params.RepresentationID == nil {
				slog.Warn("uritemplate: RepresentationID unavailable", "template", template)
				return match
			}
			if width > 0 {
				slog.Warn("uritemplate: RepresentationID ignores width specifier", "template", template)
			}
			return *params.RepresentationID
		case "Number":
			if params.Number == nil {
				slog.Warn("uritemplate: Number unavailable", "template", template)
				return match
			}
			return formatInt(*params.Number, width, conv)
		case "Bandwidth":
			if params.Bandwidth == nil {
				slog.Warn("uritemplate: Bandwidth unavailable", "template", template)
				return match
			}
			return formatInt(*params.Bandwidth, width, conv)
		case "Time":
			if params.Time == nil {
				slog.Warn("uritemplate: Time unavailable", "template", template)
				return match
			}
			t := *params.Time
			rounded := math.Round(t)
			if math.Abs(t-rounded) > 0.2 {
				slog.Warn("uritemplate: Time not within 0.2 of an integer", "time", t)
			}
			return formatInt(uint64(rounded), width, conv)
		default:
			slog.Warn("uritemplate: unknown identifier left verbatim", "id", id)
			return match
		}
	})
}

func formatInt(v uint64, width int, conv string) string {
	var s string
	switch conv {
	case "o":
		s = strconv.FormatUint(v, 8)
	case "x":
		s = strconv.FormatUint(v, 16)
	case "X":
		s = strings.ToUpper(strconv.FormatUint(v, 16))
	case "d", "i", "u", "":
		s = strconv.FormatUint(v, 10)
	default:
		s = strconv.FormatUint(v, 10)
	}
	if width > len(s) {
		s = fmt.Sprintf("%0*s", width, s)
	}
	return s
}
