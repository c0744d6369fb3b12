package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile   string
	MapFile      string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	ReplayFile   string
	FeatureCache string
	GridSpacing  float64
	Seed         int64
	HttpPort     int
	Keypoints    bool
	RenderOnly   bool
	PrintConfig  bool
	MqttMode     bool
	HttpMode     bool
}

// Runner is what run dispatches to; App implements it
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunKeypoints() error
	RunRender() error
	RunReplay() error
	RunPrintConfig() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("glsampler", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.MapFile, "map", "", "Global map: map_server YAML or JSON grid")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --keypoints, --render and --replay")
	fs.StringVar(&opts.RenderFormat, "format", "raster", "Render format: raster, vector, both or field")
	fs.StringVar(&opts.VectorFormat, "vector-format", "svg", "Vector output format: svg or png")
	fs.StringVar(&opts.ReplayFile, "replay", "", "Replay a JSONL recording of map, odom and scan records and exit")
	fs.StringVar(&opts.FeatureCache, "feature-cache", "", "Feature cache file for the global map (overrides config)")
	fs.Float64Var(&opts.GridSpacing, "grid-spacing", 1.0, "Grid line spacing in metres for vector output")
	fs.Int64Var(&opts.Seed, "seed", 0, "Random seed for pose sampling (0 keeps the configured seed)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.BoolVar(&opts.Keypoints, "keypoints", false, "Extract keypoints from --map, print them and exit")
	fs.BoolVar(&opts.RenderOnly, "render", false, "Render --map with its keypoints and exit")
	fs.BoolVar(&opts.PrintConfig, "print-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT service mode for live pose sampling")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server for state, poses and map images")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "glsampler version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.PrintConfig:
		return app.RunPrintConfig()
	case opts.Keypoints:
		return app.RunKeypoints()
	case opts.RenderOnly:
		return app.RunRender()
	case opts.ReplayFile != "":
		return app.RunReplay()
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	}

	fmt.Fprintln(out, "glsampler service starting...")
	fmt.Fprintln(out, "Use --keypoints --map=FILE to list map keypoints")
	fmt.Fprintln(out, "Use --render --map=FILE to render a map with its keypoints")
	fmt.Fprintln(out, "Use --replay=FILE to run the sampler over a recording")
	fmt.Fprintln(out, "Use --print-config to show the effective configuration")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT settings, topics, frames and sampler parameters")
	return nil
}
