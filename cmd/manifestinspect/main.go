// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/videoedge/manifestcore/cmd/manifestinspect/app"
	"github.com/videoedge/manifestcore/internal"
	"github.com/videoedge/manifestcore/pkg/logging"
	flag "github.com/spf13/pflag"
)

var usg = `Usage of %s:

%s fetches a DASH MPD or HLS master playlist, parses it into its full
presentation tree (periods, variants, segment indexes, timeline events),
and prints a summary.

$ %s https://livesim2.dashif.org/livesim2/testpic_2s/Manifest.mpd
$ %s -w 30 https://example.com/live/master.m3u8
`

func parseOptions() *app.Options {
	name := os.Args[0]
	o := app.Options{}
	flag.StringVarP(&o.ConfigFile, "config", "c", "", "JSON config file (see internal/config.Options)")
	logFormatUsage := fmt.Sprintf("format and type of log: %v", logging.LogFormats)
	flag.StringVarP(&o.LogFile, "logfile", "l", "", "log file [default stdout]")
	flag.StringVarP(&o.LogFormat, "logformat", "", logging.LogText, logFormatUsage)
	flag.StringVarP(&o.LogLevel, "loglevel", "", "info", "initial log level")
	flag.IntVarP(&o.WatchS, "watch", "w", 0, "keep watching a live manifest's update loop for this many seconds, then print again")
	flag.BoolVarP(&o.Version, "version", "v", false, "print version and date")
	flag.CommandLine.SortFlags = false

	flag.Usage = func() {
		parts := strings.Split(name, "/")
		short := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, usg, short, short, short, short)
		fmt.Fprintf(os.Stderr, "\nRun as %s [options] manifestURL\n\n", short)
		flag.PrintDefaults()
		os.Exit(2)
	}

	flag.Parse()
	if o.Version {
		fmt.Printf("manifestinspect: %s\n", internal.GetVersion())
		os.Exit(0)
	}

	if len(flag.Args()) != 1 {
		flag.Usage()
	}
	o.AssetURL = flag.Args()[0]

	return &o
}

func main() {
	o := parseOptions()

	if err := logging.InitSlog(o.LogLevel, o.LogFormat); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}

	slog.Info("starting", "version", internal.GetVersion())
	if err := app.Inspect(o); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
