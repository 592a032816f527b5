package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/ai-power-rangers/bemo-app-sub011/tangram"
)

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *tangram.StateTracker, frames chan<- tangram.Frame, controls chan<- tangram.ControlCommand, gridSpacing float64) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		validated, total := stateTracker.Progress()
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			HasResult bool      `json:"hasResult"`
			Validated int       `json:"validated"`
			Total     int       `json:"total"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasResult: stateTracker.HasResult(),
			Validated: validated,
			Total:     total,
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Latest validation result
	mux.HandleFunc("/api/validation", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil {
			http.Error(w, "No validation result yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			log.Printf("Error encoding validation result: %v", err)
		}
	})

	// Puzzle progress summary
	mux.HandleFunc("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		puzzle := stateTracker.GetPuzzle()
		validated, total := stateTracker.Progress()
		progress := struct {
			PuzzleID  string `json:"puzzleId"`
			Name      string `json:"name"`
			Validated int    `json:"validated"`
			Total     int    `json:"total"`
			Complete  bool   `json:"complete"`
		}{
			PuzzleID:  puzzle.ID,
			Name:      puzzle.Name,
			Validated: validated,
			Total:     total,
			Complete:  total > 0 && validated == total,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(progress); err != nil {
			log.Printf("Error encoding progress: %v", err)
		}
	})

	// Puzzle target layout, with poses decoded from the transforms
	mux.HandleFunc("/api/targets", func(w http.ResponseWriter, r *http.Request) {
		puzzle := stateTracker.GetPuzzle()

		type targetInfo struct {
			ID       string            `json:"id"`
			Type     tangram.PieceType `json:"type"`
			X        float64           `json:"x"`
			Y        float64           `json:"y"`
			Rotation float64           `json:"rotation"`
			Flipped  bool              `json:"flipped"`
		}
		targets := make([]targetInfo, 0, len(puzzle.Targets))
		for _, t := range puzzle.Targets {
			pos := t.Position()
			targets = append(targets, targetInfo{
				ID:       t.ID,
				Type:     t.Type,
				X:        pos.X,
				Y:        pos.Y,
				Rotation: t.Rotation(),
				Flipped:  t.IsFlipped(),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(targets); err != nil {
			log.Printf("Error encoding targets: %v", err)
		}
	})

	// Anchor mappings from the latest result: /api/mapping/ lists all
	// groups, /api/mapping/{groupID} returns one.
	mux.HandleFunc("/api/mapping/", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.GetResult()
		if result == nil {
			http.Error(w, "No validation result yet", http.StatusServiceUnavailable)
			return
		}

		groupID := strings.TrimPrefix(r.URL.Path, "/api/mapping/")
		if groupID == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-cache")
			if err := json.NewEncoder(w).Encode(result.GroupMappings); err != nil {
				log.Printf("Error encoding mappings: %v", err)
			}
			return
		}

		mapping, ok := result.GroupMappings[groupID]
		if !ok || mapping == nil {
			http.Error(w, fmt.Sprintf("No mapping for group %q", groupID), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(mapping); err != nil {
			log.Printf("Error encoding mapping: %v", err)
		}
	})

	// Frame ingestion and readback. Accepted frames go through the
	// engine's queue, so a 202 means queued, not yet validated.
	mux.HandleFunc("/api/frame", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			frame := stateTracker.GetFrame()
			if frame == nil {
				http.Error(w, "No frames received yet", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Cache-Control", "no-cache")
			if err := json.NewEncoder(w).Encode(frame); err != nil {
				log.Printf("Error encoding frame: %v", err)
			}
		case http.MethodPost:
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
			if err != nil {
				http.Error(w, "Failed to read request body", http.StatusBadRequest)
				return
			}
			frame, err := tangram.DecodeFrame(body)
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid frame: %v", err), http.StatusBadRequest)
				return
			}
			select {
			case frames <- *frame:
				w.WriteHeader(http.StatusAccepted)
			default:
				http.Error(w, "Frame queue full", http.StatusServiceUnavailable)
			}
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Control commands: removePiece, unmarkTarget, reset
	mux.HandleFunc("/api/control", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var cmd tangram.ControlCommand
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&cmd); err != nil {
			http.Error(w, fmt.Sprintf("Invalid command: %v", err), http.StatusBadRequest)
			return
		}
		if cmd.Command == "" {
			http.Error(w, "command is required", http.StatusBadRequest)
			return
		}

		select {
		case controls <- cmd:
			w.WriteHeader(http.StatusAccepted)
		default:
			http.Error(w, "Control queue full", http.StatusServiceUnavailable)
		}
	})

	// Live placement overlay, vector
	mux.HandleFunc("/overlay.svg", func(w http.ResponseWriter, r *http.Request) {
		frame := stateTracker.GetFrame()
		if frame == nil {
			http.Error(w, "No frames received yet", http.StatusServiceUnavailable)
			return
		}

		renderer := tangram.NewOverlayRenderer(stateTracker.GetPuzzle(), frame, stateTracker.GetResult())
		if gridSpacing > 0 {
			renderer.GridSpacing = gridSpacing
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding overlay SVG: %v", err)
		}
	})

	// Live placement overlay, rasterized through the same vector scene
	mux.HandleFunc("/overlay.png", func(w http.ResponseWriter, r *http.Request) {
		frame := stateTracker.GetFrame()
		if frame == nil {
			http.Error(w, "No frames received yet", http.StatusServiceUnavailable)
			return
		}

		renderer := tangram.NewOverlayRenderer(stateTracker.GetPuzzle(), frame, stateTracker.GetResult())
		if gridSpacing > 0 {
			renderer.GridSpacing = gridSpacing
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderToPNG(w); err != nil {
			log.Printf("Error encoding overlay PNG: %v", err)
		}
	})

	// Debug snapshot with piece ids and a verdict legend
	mux.HandleFunc("/placement.png", func(w http.ResponseWriter, r *http.Request) {
		frame := stateTracker.GetFrame()
		if frame == nil {
			http.Error(w, "No frames received yet", http.StatusServiceUnavailable)
			return
		}

		renderer := tangram.NewSnapshotRenderer(stateTracker.GetPuzzle(), frame, stateTracker.GetResult())
		img := renderer.Render()

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := png.Encode(w, img); err != nil {
			log.Printf("Error encoding placement PNG: %v", err)
		}
	})

	// Default route serves HTML page embedding the SVG overlay
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>bemo-engine</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/overlay.svg" alt="Placement Overlay">
<script>setInterval(function(){document.querySelector("img").src="/overlay.svg?t="+Date.now()},1000)</script>
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}
