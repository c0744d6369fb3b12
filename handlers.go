package main

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/glsampler/sampler"
)

// poseArrowLength is the heading arrow length in the GeoJSON pose output (m)
const poseArrowLength = 0.3

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *sampler.StateTracker, config *sampler.Config) http.Handler {
	mux := http.NewServeMux()

	frames := sampler.DefaultConfig().Frames
	if config != nil {
		frames = config.Frames
	}

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Status    string        `json:"status"`
			Timestamp time.Time     `json:"timestamp"`
			HasMap    bool          `json:"hasMap"`
			Stats     sampler.Stats `json:"stats"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			HasMap:    stateTracker.HasMap(),
			Stats:     stateTracker.Stats(),
		}
		writeJSON(w, status)
	})

	// Latest pose batch, raw or as GeoJSON arrows
	mux.HandleFunc("/poses.json", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.LastCycle()
		if result == nil || result.MatchingSkipped {
			http.Error(w, "No pose hypotheses available", http.StatusServiceUnavailable)
			return
		}
		batch := result.Batch(frames.Map)
		if r.URL.Query().Get("format") == "geojson" {
			writeJSON(w, sampler.PosesToFeatureCollection(batch, poseArrowLength))
			return
		}
		writeJSON(w, batch)
	})

	// Keypoints of the global map or of the latest local map
	mux.HandleFunc("/keypoints.geojson", func(w http.ResponseWriter, r *http.Request) {
		var fm *sampler.FeatureMap
		frame := frames.Map
		switch set := r.URL.Query().Get("set"); set {
		case "", "global":
			fm = stateTracker.GlobalFeatures()
		case "local":
			if result := stateTracker.LastCycle(); result != nil {
				fm = result.Local
			}
			frame = frames.Odom
		default:
			http.Error(w, fmt.Sprintf("unknown keypoint set %q (use global or local)", set), http.StatusBadRequest)
			return
		}
		if fm == nil {
			http.Error(w, "No maps available", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		if err := json.NewEncoder(w).Encode(sampler.KeypointsToFeatureCollection(fm, frame)); err != nil {
			log.Printf("Error encoding keypoints: %v", err)
		}
	})

	// Global map with keypoints and the latest hypotheses
	mux.HandleFunc("/global-map.png", func(w http.ResponseWriter, r *http.Request) {
		fm := stateTracker.GlobalFeatures()
		if fm == nil {
			http.Error(w, "No maps available", http.StatusServiceUnavailable)
			return
		}
		renderer := sampler.NewMapRenderer(fm)
		if result := stateTracker.LastCycle(); result != nil && !result.MatchingSkipped {
			renderer.Poses = result.Hypotheses
		}
		writePNGResponse(w, "global map", renderer.Render())
	})

	// Latest local map with its keypoints and the odometry pose
	mux.HandleFunc("/local-map.png", func(w http.ResponseWriter, r *http.Request) {
		result := stateTracker.LastCycle()
		if result == nil {
			http.Error(w, "No local map available", http.StatusServiceUnavailable)
			return
		}
		renderer := sampler.NewMapRenderer(result.Local)
		pose := result.OdomPose
		renderer.Odometry = &pose
		writePNGResponse(w, "local map", renderer.Render())
	})

	// Global map as SVG; ?grid= sets the grid spacing in metres
	mux.HandleFunc("/map.svg", func(w http.ResponseWriter, r *http.Request) {
		fm := stateTracker.GlobalFeatures()
		if fm == nil {
			http.Error(w, "No maps available", http.StatusServiceUnavailable)
			return
		}
		vectorRenderer := sampler.NewVectorRenderer(fm)
		if g := r.URL.Query().Get("grid"); g != "" {
			spacing, err := strconv.ParseFloat(g, 64)
			if err != nil || spacing < 0 {
				http.Error(w, fmt.Sprintf("invalid grid spacing %q", g), http.StatusBadRequest)
				return
			}
			vectorRenderer.GridSpacing = spacing
		}
		if result := stateTracker.LastCycle(); result != nil && !result.MatchingSkipped {
			vectorRenderer.Poses = result.Hypotheses
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if err := vectorRenderer.RenderToSVG(w); err != nil {
			log.Printf("Error encoding map SVG: %v", err)
		}
	})

	// Global distance field as greyscale
	mux.HandleFunc("/field.png", func(w http.ResponseWriter, r *http.Request) {
		fm := stateTracker.GlobalFeatures()
		if fm == nil {
			http.Error(w, "No maps available", http.StatusServiceUnavailable)
			return
		}
		if fm.Field == nil {
			http.Error(w, "No distance field available (features loaded from cache)", http.StatusServiceUnavailable)
			return
		}
		writePNGResponse(w, "distance field", sampler.RenderField(fm.Field))
	})

	// Default route serves HTML page embedding the SVG map
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
<meta http-equiv="refresh" content="5">
<title>glsampler</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
html,body{width:100%;height:100%;overflow:hidden;background:#1a1a1a}
img{display:block;width:100vw;height:100vh;object-fit:contain}
</style>
</head>
<body>
<img src="/map.svg" alt="Global Map">
</body>
</html>`)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func writePNGResponse(w http.ResponseWriter, what string, img image.Image) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := png.Encode(w, img); err != nil {
		log.Printf("Error encoding %s PNG: %v", what, err)
	}
}
