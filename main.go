package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions carries parsed CLI flags into the runner
type AppOptions struct {
	ConfigFile   string
	PuzzleFile   string
	DataDir      string
	ResultCache  string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	HttpPort     int
	ParseOnly    bool
	CheckOnly    bool
	RenderOnly   bool
	DemoMode     bool
	MqttMode     bool
	HttpMode     bool
}

// runner abstracts the App so flag dispatch is testable with a mock
type runner interface {
	ApplyOptions(opts AppOptions)
	RunParseOnly()
	RunCheck()
	RunRender()
	RunDemo()
	RunService()
}

// run parses flags and dispatches to the matching app mode
func run(args []string, out io.Writer, app runner) error {
	fs := flag.NewFlagSet("bemo-engine", flag.ContinueOnError)
	fs.SetOutput(out)

	configFile := fs.String("config", "config.yaml", "Path to configuration file")
	puzzleFile := fs.String("puzzle", "", "Path to a puzzle JSON file (default: built-in cat)")
	parseOnly := fs.Bool("parse-only", false, "Decode frame captures and exit (test mode)")
	checkOnly := fs.Bool("check", false, "Validate frame captures against the puzzle and exit")
	renderOnly := fs.Bool("render", false, "Render a placement image and exit")
	demoMode := fs.Bool("demo", false, "Replay the puzzle solution as synthetic frames")
	outputFile := fs.String("output", "placement.png", "Output file for --render mode")
	dataDir := fs.String("data-dir", ".", "Directory containing frame captures for test modes")
	resultCache := fs.String("result-cache", ".validation-cache.json", "Path to validation result cache file")
	mqttMode := fs.Bool("mqtt", false, "Run MQTT service mode for live frame processing")
	httpMode := fs.Bool("http", false, "Enable HTTP server for validation state and overlays")
	httpPort := fs.Int("http-port", 8080, "HTTP server port (default 8080)")
	// Overlay rendering flags
	renderFormat := fs.String("format", "raster", "Render format: raster, vector, or both")
	vectorFormat := fs.String("vector-format", "svg", "Vector output format: svg or png")
	gridSpacing := fs.Float64("grid-spacing", 100.0, "Overlay grid line spacing in scene units")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintf(out, "bemo-engine version: %s\n", Version)

	app.ApplyOptions(AppOptions{
		ConfigFile:   *configFile,
		PuzzleFile:   *puzzleFile,
		DataDir:      *dataDir,
		ResultCache:  *resultCache,
		OutputFile:   *outputFile,
		RenderFormat: *renderFormat,
		VectorFormat: *vectorFormat,
		GridSpacing:  *gridSpacing,
		HttpPort:     *httpPort,
		ParseOnly:    *parseOnly,
		CheckOnly:    *checkOnly,
		RenderOnly:   *renderOnly,
		DemoMode:     *demoMode,
		MqttMode:     *mqttMode,
		HttpMode:     *httpMode,
	})

	if *parseOnly {
		app.RunParseOnly()
		return nil
	}

	if *checkOnly {
		app.RunCheck()
		return nil
	}

	if *renderOnly {
		app.RunRender()
		return nil
	}

	if *demoMode {
		app.RunDemo()
		return nil
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return nil
	}

	fmt.Fprintln(out, "bemo-engine service starting...")
	fmt.Fprintln(out, "Use --parse-only to decode captured frames")
	fmt.Fprintln(out, "Use --check to validate captured frames against the puzzle")
	fmt.Fprintln(out, "Use --render to output a placement image")
	fmt.Fprintln(out, "Use --demo to replay the puzzle solution")
	fmt.Fprintln(out, "Use --mqtt to run MQTT service mode")
	fmt.Fprintln(out, "Use --http to run HTTP server mode")
	fmt.Fprintln(out, "Use --mqtt --http to run both MQTT and HTTP together")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - MQTT broker, frame source, and engine tuning")
	fmt.Fprintln(out, "  .validation-cache.json - Last published validation result (cached)")
	return nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
}
