package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/ai-power-rangers/bemo-app-sub011/tangram"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *tangram.ServiceConfig
	Puzzle       *tangram.GamePuzzleData
	Engine       *tangram.Engine
	StateTracker *tangram.StateTracker
	MQTTClient   *tangram.MQTTClient
	Publisher    *tangram.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile   string
	PuzzleFile   string
	DataDir      string
	ResultCache  string
	OutputFile   string
	RenderFormat string
	VectorFormat string
	GridSpacing  float64
	HttpPort     int
	MqttMode     bool
	HttpMode     bool

	// The engine is single-threaded by contract, so every frame source
	// and control surface funnels through these channels to one consumer.
	frames   chan tangram.Frame
	controls chan tangram.ControlCommand
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		frames:   make(chan tangram.Frame, 16),
		controls: make(chan tangram.ControlCommand, 4),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.PuzzleFile = opts.PuzzleFile
	a.DataDir = opts.DataDir
	a.ResultCache = opts.ResultCache
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.GridSpacing = opts.GridSpacing
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolveConfigPath resolves the config file relative to data-dir when the
// flag still points at its default
func (a *App) resolveConfigPath() string {
	if a.DataDir != "." && a.DataDir != "" && a.ConfigFile == "config.yaml" {
		return filepath.Join(a.DataDir, "config.yaml")
	}
	return a.ConfigFile
}

func (a *App) resolveCachePath() string {
	if a.DataDir != "." && a.DataDir != "" && a.ResultCache == ".validation-cache.json" {
		return filepath.Join(a.DataDir, ".validation-cache.json")
	}
	return a.ResultCache
}

// loadOptionalConfig loads the service config when the file exists.
// Offline modes run fine without one; RunService enforces its own rules.
func (a *App) loadOptionalConfig() {
	path := a.resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		return
	}
	config, err := tangram.LoadServiceConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	a.Config = config
	log.Printf("Loaded config from %s", path)
}

// loadPuzzle resolves the active puzzle: the --puzzle flag wins, then the
// config file's puzzle path, then the built-in cat silhouette
func (a *App) loadPuzzle() *tangram.GamePuzzleData {
	path := a.PuzzleFile
	if path == "" && a.Config != nil {
		path = a.Config.Puzzle
	}
	if path == "" {
		return tangram.CatPuzzle()
	}
	puzzle, err := tangram.LoadPuzzleFile(path)
	if err != nil {
		log.Fatalf("Failed to load puzzle %s: %v", path, err)
	}
	return puzzle
}

func (a *App) engineConfig() tangram.EngineConfig {
	cfg := tangram.DefaultEngineConfig()
	if a.Config != nil {
		cfg = tangram.ApplyEngineOverrides(cfg, a.Config.Engine)
	}
	return cfg
}

// findFrameFiles globs captured observation frames in the data directory
func (a *App) findFrameFiles() []string {
	pattern := filepath.Join(a.DataDir, "frame-*.json")
	files, err := filepath.Glob(pattern)
	if err != nil {
		log.Fatalf("Error finding frame files: %v", err)
	}

	if len(files) == 0 {
		// Try current directory
		files, _ = filepath.Glob("frame-*.json")
	}

	sort.Strings(files)
	return files
}

// RunParseOnly finds and decodes all captured observation frames
func (a *App) RunParseOnly() {
	a.loadOptionalConfig()

	files := a.findFrameFiles()
	if len(files) == 0 {
		log.Fatal("No frame-*.json files found")
	}

	fmt.Printf("Found %d frame capture(s)\n\n", len(files))

	for _, file := range files {
		a.parseAndPrint(file)
	}
}

func (a *App) parseAndPrint(path string) {
	fmt.Printf("=== %s ===\n", filepath.Base(path))

	frame, err := tangram.DecodeFrameFile(path)
	if err != nil {
		fmt.Printf("ERROR: %v\n\n", err)
		return
	}

	fmt.Printf("Timestamp: %s\n", frame.Timestamp.Format(time.RFC3339))
	fmt.Printf("Observations: %d\n", len(frame.Observations))
	for _, o := range frame.Observations {
		flip := ""
		if o.IsFlipped {
			flip = " flipped"
		}
		fmt.Printf("  %-10s %-18s pos(%.1f, %.1f)  rot %.1f deg%s  speed %.1f\n",
			o.ID, o.Type, o.Position.X, o.Position.Y, tangram.RadToDeg(o.Rotation), flip, o.Speed())
	}

	groups := tangram.GroupObservations(frame.Observations, a.engineConfig().GroupDist)
	groupIDs := make([]string, 0, len(groups))
	for id := range groups {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)
	fmt.Printf("Groups: %d\n", len(groups))
	for _, id := range groupIDs {
		fmt.Printf("  %s: %s\n", id, strings.Join(groups[id], ", "))
	}
	fmt.Println()
}

// RunCheck validates captured frames against the active puzzle and prints
// per-piece verdicts
func (a *App) RunCheck() {
	a.loadOptionalConfig()
	puzzle := a.loadPuzzle()
	a.Puzzle = puzzle

	files := a.findFrameFiles()
	if len(files) == 0 {
		log.Fatal("No frame-*.json files found")
	}

	fmt.Printf("Puzzle: %s (%d targets)\n", puzzle.Name, len(puzzle.Targets))

	engine := tangram.NewEngine(puzzle, a.engineConfig())

	var result *tangram.ValidationResult
	for _, file := range files {
		frame, err := tangram.DecodeFrameFile(file)
		if err != nil {
			log.Fatalf("Failed to decode %s: %v", file, err)
		}

		result = engine.ProcessFrame(*frame)
		fmt.Printf("\n=== %s ===\n", filepath.Base(file))
		printVerdicts(result)
	}

	if result != nil {
		validated := len(result.ValidatedTargets)
		fmt.Printf("\nProgress: %d/%d targets validated", validated, len(puzzle.Targets))
		if validated == len(puzzle.Targets) && len(puzzle.Targets) > 0 {
			fmt.Print("  PUZZLE COMPLETE")
		}
		fmt.Println()
	}
}

func printVerdicts(result *tangram.ValidationResult) {
	ids := make([]string, 0, len(result.PieceStates))
	for id := range result.PieceStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state := result.PieceStates[id]
		if state.Valid {
			fmt.Printf("  %-10s OK -> %s (confidence %.2f)\n", id, state.TargetID, state.Confidence)
			continue
		}
		if f, ok := result.Failures[id]; ok {
			switch f.Kind {
			case tangram.FailureWrongPosition:
				fmt.Printf("  %-10s %s  off by (%.1f, %.1f)\n", id, f.Kind, f.Offset.X, f.Offset.Y)
			case tangram.FailureWrongRotation:
				fmt.Printf("  %-10s %s  off by %.1f deg\n", id, f.Kind, f.DegreesOff)
			default:
				fmt.Printf("  %-10s %s\n", id, f.Kind)
			}
			continue
		}
		fmt.Printf("  %-10s no verdict (still moving or unmapped)\n", id)
	}

	if n := result.PrimaryNudge; n != nil {
		fmt.Printf("  nudge [%s] %s\n", n.Level, n.Message)
	}
}

// solutionFrame synthesizes settled observations sitting exactly on every
// target, the layout a finished puzzle produces
func solutionFrame(puzzle *tangram.GamePuzzleData, ts time.Time) *tangram.Frame {
	frame := &tangram.Frame{Timestamp: ts}
	for i, t := range puzzle.Targets {
		pose := t.ExpectedPose()
		frame.Observations = append(frame.Observations, tangram.PieceObservation{
			ID:        fmt.Sprintf("piece-%d", i+1),
			Type:      t.Type,
			Position:  pose.Position,
			Rotation:  pose.Rotation,
			IsFlipped: pose.IsFlipped,
			Timestamp: ts,
		})
	}
	return frame
}

// RunRender validates the newest captured frame (or the solved layout when
// none exists) and writes a placement image
func (a *App) RunRender() {
	a.loadOptionalConfig()
	puzzle := a.loadPuzzle()

	var frame *tangram.Frame
	files := a.findFrameFiles()
	if len(files) > 0 {
		newest := files[len(files)-1]
		f, err := tangram.DecodeFrameFile(newest)
		if err != nil {
			log.Fatalf("Failed to decode %s: %v", newest, err)
		}
		frame = f
		fmt.Printf("Rendering %s\n", newest)
	} else {
		frame = solutionFrame(puzzle, time.Now())
		fmt.Println("No frame captures found; rendering the solved layout")
	}

	engine := tangram.NewEngine(puzzle, a.engineConfig())
	result := engine.ProcessFrame(*frame)

	switch a.RenderFormat {
	case "vector":
		a.renderVector(puzzle, frame, result, a.OutputFile)
	case "both":
		a.renderRaster(puzzle, frame, result, a.OutputFile)
		vectorFile := strings.TrimSuffix(a.OutputFile, ".png") + "." + a.VectorFormat
		a.renderVector(puzzle, frame, result, vectorFile)
	default:
		a.renderRaster(puzzle, frame, result, a.OutputFile)
	}
}

func (a *App) renderRaster(puzzle *tangram.GamePuzzleData, frame *tangram.Frame, result *tangram.ValidationResult, path string) {
	renderer := tangram.NewSnapshotRenderer(puzzle, frame, result)
	if err := renderer.SavePNG(path); err != nil {
		log.Fatalf("Failed to save %s: %v", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
}

func (a *App) renderVector(puzzle *tangram.GamePuzzleData, frame *tangram.Frame, result *tangram.ValidationResult, path string) {
	renderer := tangram.NewOverlayRenderer(puzzle, frame, result)
	if a.GridSpacing > 0 {
		renderer.GridSpacing = a.GridSpacing
	}

	out, err := os.Create(path)
	if err != nil {
		log.Fatalf("Failed to create %s: %v", path, err)
	}
	defer out.Close()

	if a.VectorFormat == "png" || strings.HasSuffix(path, ".png") {
		err = renderer.RenderToPNG(out)
	} else {
		err = renderer.RenderToSVG(out)
	}
	if err != nil {
		log.Fatalf("Failed to render %s: %v", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
}

// RunDemo replays the solved layout one piece at a time, driving the engine
// with synthetic frames the way a table camera would
func (a *App) RunDemo() {
	a.loadOptionalConfig()
	puzzle := a.loadPuzzle()
	a.Puzzle = puzzle

	cfg := a.engineConfig()
	engine := tangram.NewEngine(puzzle, cfg)
	a.Engine = engine

	fmt.Printf("Demo: solving %q (%d pieces)\n\n", puzzle.Name, len(puzzle.Targets))

	now := time.Now()
	solved := solutionFrame(puzzle, now)

	var placed []tangram.PieceObservation
	var result *tangram.ValidationResult
	for _, obs := range solved.Observations {
		// A short slide toward the target before settling, so the
		// velocity gate is exercised too.
		approach := obs
		approach.Position.X += 60
		approach.Velocity = tangram.Point{X: -60}
		moving := append(append([]tangram.PieceObservation(nil), placed...), approach)
		engine.ProcessFrame(tangram.Frame{Observations: moving, Timestamp: now})
		now = now.Add(cfg.Validation.DwellInterval)

		obs.Timestamp = now
		placed = append(placed, obs)
		settled := append([]tangram.PieceObservation(nil), placed...)
		result = engine.ProcessFrame(tangram.Frame{Observations: settled, Timestamp: now})
		now = now.Add(cfg.Validation.DwellInterval)

		state := result.PieceStates[obs.ID]
		if state.Valid {
			fmt.Printf("  %-10s -> %-12s (%d/%d)\n", obs.ID, state.TargetID, len(result.ValidatedTargets), len(puzzle.Targets))
		} else if f, ok := result.Failures[obs.ID]; ok {
			fmt.Printf("  %-10s %s\n", obs.ID, f.Kind)
		} else {
			fmt.Printf("  %-10s pending\n", obs.ID)
		}
	}

	validated := len(result.ValidatedTargets)
	fmt.Printf("\n%d/%d targets validated", validated, len(puzzle.Targets))
	if validated == len(puzzle.Targets) {
		fmt.Print("  PUZZLE COMPLETE")
	}
	fmt.Println()
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() {
	fmt.Println("Starting bemo-engine service...")

	// 1. Resolve configuration paths relative to data-dir if provided
	resolvedConfig := a.resolveConfigPath()
	resolvedCache := a.resolveCachePath()

	// 2. Load config.yaml (required for MQTT mode)
	if _, err := os.Stat(resolvedConfig); err == nil {
		config, err := tangram.LoadServiceConfig(resolvedConfig)
		if err != nil {
			log.Fatalf("Failed to load config: %v (looked at %s)", err, resolvedConfig)
		}
		a.Config = config
		log.Printf("Loaded config from %s", resolvedConfig)
	} else if a.MqttMode {
		log.Fatalf("MQTT mode needs a config file with broker settings (looked at %s)", resolvedConfig)
	} else {
		log.Printf("Warning: no config file at %s, using built-in defaults", resolvedConfig)
	}

	// 3. Load the puzzle
	puzzle := a.loadPuzzle()
	a.Puzzle = puzzle
	log.Printf("Puzzle: %s (%d targets)", puzzle.Name, len(puzzle.Targets))

	// 4. Create the state tracker, warm-started from the result cache
	a.StateTracker = tangram.NewStateTrackerWithCache(puzzle, resolvedCache)
	if a.StateTracker.HasResult() {
		validated, total := a.StateTracker.Progress()
		log.Printf("Restored cached validation state from %s (%d/%d targets)", resolvedCache, validated, total)
	}

	// 5. Create the validation engine and start its single consumer
	a.Engine = tangram.NewEngine(puzzle, a.engineConfig())
	go a.consumeFrames()

	// 6. Start MQTT if enabled
	if a.MqttMode {
		frameHandler := func(rawPayload []byte, frame *tangram.Frame, err error) {
			if err != nil {
				log.Printf("Error decoding frame payload (%d bytes): %v", len(rawPayload), err)
				return
			}
			a.frames <- *frame
		}

		mqttClient, err := tangram.InitMQTT(a.Config, frameHandler)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient

		mqttClient.SetControlHandler(func(cmd tangram.ControlCommand) {
			a.controls <- cmd
		})

		a.Publisher = tangram.NewPublisher(mqttClient.GetClient(), a.Config.MQTT.PublishPrefix)
		fmt.Println("MQTT validation publisher initialized")
	}

	// 7. Poll an HTTP frame source if configured
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if a.Config != nil && a.Config.Source.URL != "" {
		source := a.Config.Source
		go func() {
			err := tangram.PollFrames(ctx, source, func(f *tangram.Frame) {
				a.frames <- *f
			})
			if err != nil && ctx.Err() == nil {
				log.Printf("Frame poller stopped: %v", err)
			}
		}()
		log.Printf("Polling frames from %s every %s", source.URL, source.PollInterval())
	}

	// 8. Start HTTP server if enabled
	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.frames, a.controls, a.GridSpacing)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	// 9. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		publishPrefix := a.Config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "tangram"
		}
		fmt.Println("\nMQTT:")
		fmt.Printf("  Frames from: %s\n", a.Config.MQTT.FrameTopic)
		fmt.Printf("  Validation results: %s/validation\n", publishPrefix)
		fmt.Printf("  Progress updates: %s/progress\n", publishPrefix)
		fmt.Printf("  Nudges: %s/nudge\n", publishPrefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health         - Health check")
		fmt.Println("  GET  /api/validation - Latest validation result")
		fmt.Println("  GET  /api/progress   - Puzzle progress summary")
		fmt.Println("  GET  /api/targets    - Puzzle target layout")
		fmt.Println("  GET  /api/mapping/   - Anchor mappings per group")
		fmt.Println("  POST /api/frame      - Submit an observation frame")
		fmt.Println("  POST /api/control    - Submit a control command")
		fmt.Println("  GET  /overlay.svg    - Live placement overlay (vector)")
		fmt.Println("  GET  /overlay.png    - Live placement overlay (raster)")
		fmt.Println("  GET  /placement.png  - Debug placement snapshot")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 10. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// consumeFrames is the engine's single writer. All frame processing and
// control commands run here, in arrival order.
func (a *App) consumeFrames() {
	for {
		select {
		case frame := <-a.frames:
			result := a.Engine.ProcessFrame(frame)
			a.StateTracker.UpdateFrame(frame)
			a.StateTracker.UpdateResult(result)

			if a.Publisher != nil {
				if err := a.Publisher.PublishResult(result, a.Puzzle); err != nil {
					log.Printf("Error publishing validation result: %v", err)
				}
			}
		case cmd := <-a.controls:
			a.applyControl(cmd)
		}
	}
}

// applyControl dispatches table-side control commands onto the engine
func (a *App) applyControl(cmd tangram.ControlCommand) {
	switch cmd.Command {
	case "removePiece":
		if cmd.GroupID == "" || cmd.PieceID == "" {
			log.Printf("Control: removePiece needs groupId and pieceId")
			return
		}
		a.Engine.RemovePair(cmd.GroupID, cmd.PieceID)
		log.Printf("Control: removed piece %s from group %s", cmd.PieceID, cmd.GroupID)
	case "unmarkTarget":
		if cmd.GroupID == "" || cmd.TargetID == "" {
			log.Printf("Control: unmarkTarget needs groupId and targetId")
			return
		}
		a.Engine.UnmarkTargetConsumed(cmd.GroupID, cmd.TargetID)
		log.Printf("Control: released target %s in group %s", cmd.TargetID, cmd.GroupID)
	case "reset":
		if cmd.GroupID != "" {
			a.Engine.InvalidateGroup(cmd.GroupID)
			log.Printf("Control: reset group %s", cmd.GroupID)
			return
		}
		a.Engine.Reset()
		log.Printf("Control: reset all validation state")
	default:
		log.Printf("Control: unknown command %q", cmd.Command)
	}
}
