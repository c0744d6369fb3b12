package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kwv/glsampler/sampler"
	"gopkg.in/yaml.v3"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *sampler.Config
	StateTracker *sampler.StateTracker
	MQTTClient   *sampler.MQTTClient
	Publisher    *sampler.Publisher
	Out          io.Writer

	// CLI Flags (effectively dependencies)
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
	MqttMode     bool
	HttpMode     bool

	transforms *sampler.TransformBuffer

	// pipeline is nil until the sensor offset is known; inputs arriving
	// earlier are parked in the pending fields
	mu          sync.Mutex
	pipeline    *sampler.Sampler
	pendingMap  *sampler.OccupancyGrid
	pendingOdom *sampler.Pose2D
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: sampler.NewStateTracker(),
		Out:          os.Stdout,
		transforms:   sampler.NewTransformBuffer(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.MapFile = opts.MapFile
	a.OutputFile = opts.OutputFile
	a.RenderFormat = opts.RenderFormat
	a.VectorFormat = opts.VectorFormat
	a.ReplayFile = opts.ReplayFile
	a.FeatureCache = opts.FeatureCache
	a.GridSpacing = opts.GridSpacing
	a.Seed = opts.Seed
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// applyOverrides lets command line flags win over the config file
func (a *App) applyOverrides(config *sampler.Config) {
	if a.FeatureCache != "" {
		config.FeatureCache = a.FeatureCache
	}
	if a.Seed != 0 {
		config.Sampler.RandomSeed = a.Seed
	}
}

// offlineConfig loads the config file when present and falls back to the
// defaults otherwise. Offline modes never need a broker.
func (a *App) offlineConfig() (*sampler.Config, error) {
	config := sampler.DefaultConfig()
	if _, err := os.Stat(a.ConfigFile); err == nil {
		config, err = sampler.ReadConfig(a.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", a.ConfigFile, err)
		}
		log.Printf("Loaded config from %s", a.ConfigFile)
	}
	a.applyOverrides(config)
	a.Config = config
	return config, nil
}

// loadFeatureMap loads --map and extracts (or reads cached) features
func (a *App) loadFeatureMap(config *sampler.Config) (*sampler.FeatureMap, error) {
	if a.MapFile == "" {
		return nil, fmt.Errorf("--map is required")
	}
	grid, err := sampler.LoadMap(a.MapFile)
	if err != nil {
		return nil, err
	}
	return sampler.LoadOrBuildFeatureMap(config.FeatureCache, grid, config.Sampler)
}

// RunKeypoints prints the keypoints of --map and optionally writes them
// as GeoJSON
func (a *App) RunKeypoints() error {
	config, err := a.offlineConfig()
	if err != nil {
		return err
	}
	fm, err := a.loadFeatureMap(config)
	if err != nil {
		return err
	}

	g := fm.Grid
	fmt.Fprintf(a.Out, "Map: %s\n", a.MapFile)
	fmt.Fprintf(a.Out, "Size: %dx%d cells at %.3f m (origin %.2f, %.2f, %.2f rad)\n",
		g.Width, g.Height, g.Resolution, g.Origin.X, g.Origin.Y, g.Origin.Yaw)

	counts := sampler.CountByClass(fm.Keypoints)
	fmt.Fprintf(a.Out, "Keypoints: %d (maximum %d, minimum %d, saddle %d)\n",
		len(fm.Keypoints), counts[sampler.Maximum], counts[sampler.Minimum], counts[sampler.Saddle])

	for i, kp := range fm.Keypoints {
		fmt.Fprintf(a.Out, "  %3d %-8s cell(%d,%d) world(%.3f, %.3f)", i, kp.Class, kp.U, kp.V, kp.X, kp.Y)
		if i < len(fm.Features) {
			f := fm.Features[i]
			fmt.Fprintf(a.Out, " orientation %5.1f° avg %.3f m", f.DominantOrientation*180/math.Pi, f.AverageDistance)
		}
		fmt.Fprintln(a.Out)
	}

	if a.OutputFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(sampler.KeypointsToFeatureCollection(fm, config.Frames.Map), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling keypoints: %w", err)
	}
	if err := os.WriteFile(a.OutputFile, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", a.OutputFile, err)
	}
	fmt.Fprintf(a.Out, "Created GeoJSON: %s\n", a.OutputFile)
	return nil
}

// RunRender renders --map with its keypoints
func (a *App) RunRender() error {
	format := a.RenderFormat
	if format != "raster" && format != "vector" && format != "both" && format != "field" {
		return fmt.Errorf("invalid format: %s (must be raster, vector, both or field)", format)
	}

	config, err := a.offlineConfig()
	if err != nil {
		return err
	}
	fm, err := a.loadFeatureMap(config)
	if err != nil {
		return err
	}

	output := a.OutputFile
	if output == "" {
		output = "map.png"
	}
	fmt.Fprintf(a.Out, "Rendering %s (%d keypoints) to %s...\n", a.MapFile, len(fm.Keypoints), output)

	if format == "field" {
		field := fm.Field
		if field == nil {
			// cached feature maps carry no field
			if field, err = sampler.BuildDistanceField(fm.Grid, config.Sampler.Blur); err != nil {
				return err
			}
		}
		if err := writePNG(output, sampler.RenderField(field)); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Created distance field: %s\n", output)
		return nil
	}

	if format == "raster" || format == "both" {
		outputPath := output
		if format == "both" && !strings.HasSuffix(outputPath, ".png") {
			outputPath = strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
		}
		if err := sampler.NewMapRenderer(fm).SavePNG(outputPath); err != nil {
			return fmt.Errorf("rendering raster: %w", err)
		}
		fmt.Fprintf(a.Out, "Created raster: %s\n", outputPath)
	}

	if format == "vector" || format == "both" {
		vectorRenderer := sampler.NewVectorRenderer(fm)
		if a.GridSpacing > 0 {
			vectorRenderer.GridSpacing = a.GridSpacing
		}

		outputPath := output
		base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
		switch {
		case a.VectorFormat == "svg":
			outputPath = base + ".svg"
		case format == "both":
			// keep clear of the raster output
			outputPath = base + "-vector.png"
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output file %s: %w", outputPath, err)
		}
		defer func() {
			if err := outFile.Close(); err != nil {
				log.Printf("Warning: error closing output file %s: %v", outputPath, err)
			}
		}()

		switch a.VectorFormat {
		case "svg":
			err = vectorRenderer.RenderToSVG(outFile)
		case "png":
			err = vectorRenderer.RenderToPNG(outFile)
		default:
			err = fmt.Errorf("unknown vector format %q (use svg or png)", a.VectorFormat)
		}
		if err != nil {
			return fmt.Errorf("rendering vector: %w", err)
		}
		fmt.Fprintf(a.Out, "Created vector %s: %s\n", strings.ToUpper(a.VectorFormat), outputPath)
	}

	fmt.Fprintln(a.Out, "Done!")
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}

// RunReplay runs the sampler over a JSONL recording. With --output every
// pose batch is written as one JSON line.
func (a *App) RunReplay() error {
	config, err := a.offlineConfig()
	if err != nil {
		return err
	}

	in, err := os.Open(a.ReplayFile)
	if err != nil {
		return fmt.Errorf("opening replay: %w", err)
	}
	defer in.Close()

	offset := sampler.Pose2D{}
	if config.SensorOffset != nil {
		offset = *config.SensorOffset
	} else {
		log.Printf("Warning: no sensorOffset configured, assuming the laser sits at the base origin")
	}
	s := sampler.NewSampler(config.Sampler, offset, nil)

	if a.MapFile != "" {
		fm, err := a.loadFeatureMap(config)
		if err != nil {
			return err
		}
		s.SetFeatureMap(fm)
		fmt.Fprintf(a.Out, "Global map %s: %d keypoints\n", a.MapFile, len(fm.Keypoints))
	}

	var enc *json.Encoder
	if a.OutputFile != "" {
		out, err := os.Create(a.OutputFile)
		if err != nil {
			return fmt.Errorf("creating %s: %w", a.OutputFile, err)
		}
		defer func() {
			if err := out.Close(); err != nil {
				log.Printf("Warning: error closing output file %s: %v", a.OutputFile, err)
			}
		}()
		enc = json.NewEncoder(out)
	}

	var writeErr error
	n := 0
	onCycle := func(r *sampler.CycleResult) {
		n++
		status := fmt.Sprintf("%d accepted matches, %d hypotheses",
			len(sampler.AcceptedMatches(r.Matches)), len(r.Hypotheses))
		if r.MatchingSkipped {
			status = "matching skipped (no global map)"
		}
		fmt.Fprintf(a.Out, "Cycle %d odom(%.2f, %.2f, %.2f): %d local keypoints, %s\n",
			n, r.OdomPose.X, r.OdomPose.Y, r.OdomPose.Yaw, len(r.Local.Keypoints), status)

		if enc != nil && !r.MatchingSkipped && writeErr == nil {
			writeErr = enc.Encode(r.Batch(config.Frames.Map))
		}
	}

	summary, err := sampler.Replay(in, s, onCycle)
	if err != nil {
		return fmt.Errorf("replaying %s: %w", a.ReplayFile, err)
	}
	if writeErr != nil {
		return fmt.Errorf("writing pose batches: %w", writeErr)
	}

	fmt.Fprintf(a.Out, "\nReplayed %s\n", a.ReplayFile)
	fmt.Fprintf(a.Out, "  Maps: %d, odometry: %d, scans: %d (%d invalid)\n",
		summary.Maps, summary.Odometry, summary.Scans, summary.InvalidScans)
	fmt.Fprintf(a.Out, "  Cycles: %d, hypotheses: %d\n", summary.Cycles, summary.Hypotheses)
	if a.OutputFile != "" {
		fmt.Fprintf(a.Out, "Created pose batches: %s\n", a.OutputFile)
	}
	return nil
}

// RunPrintConfig prints the effective configuration as YAML
func (a *App) RunPrintConfig() error {
	config, err := a.offlineConfig()
	if err != nil {
		return err
	}
	shown := *config
	if shown.MQTT.Password != "" {
		shown.MQTT.Password = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = a.Out.Write(data)
	return err
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() error {
	fmt.Fprintln(a.Out, "Starting glsampler service...")

	// 1. Load config.yaml; only MQTT mode needs a broker
	load := sampler.ReadConfig
	if a.MqttMode {
		load = sampler.LoadConfig
	}
	config, err := load(a.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, a.ConfigFile)
	}
	a.applyOverrides(config)
	a.Config = config
	log.Printf("Loaded config from %s", a.ConfigFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 2)

	// 2. Start MQTT if enabled
	if a.MqttMode {
		mqttClient, err := sampler.InitMQTT(config, a.handlers())
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured in config.yaml")
		}
		a.MQTTClient = mqttClient
		defer mqttClient.Disconnect()

		a.Publisher = sampler.NewPublisher(mqttClient.GetClient(), config.Topics, config.Frames)
		if os.Getenv("MQTT_PUBLISH_PREFIX") == "" && config.MQTT.PublishPrefix != "" {
			a.Publisher.SetPrefix(config.MQTT.PublishPrefix)
		}
		fmt.Fprintln(a.Out, "MQTT pose publisher initialized")
	}

	// 3. A map file stands in for (or precedes) the map topic
	if a.MapFile != "" {
		grid, err := sampler.LoadMap(a.MapFile)
		if err != nil {
			return fmt.Errorf("loading map: %w", err)
		}
		a.handleMap(grid)
	}

	// 4. Start HTTP server if enabled
	if a.HttpMode {
		server := &http.Server{
			Addr:              fmt.Sprintf("0.0.0.0:%d", a.HttpPort),
			Handler:           newHTTPServer(a.StateTracker, config),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Printf("[HTTP] Starting server on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("[HTTP] server error: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("[HTTP] Shutdown error: %v", err)
			}
		}()
	}

	a.printServiceInfo(config)

	// 5. The sampler cannot start without the base→laser offset
	offset, err := sampler.AcquireSensorOffset(ctx, a.sensorLookup(config),
		config.Frames.Base, config.Frames.Laser, config.TransformTimeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(a.Out, "\nShutting down service...")
			return nil
		}
		return err
	}
	a.startPipeline(offset)

	// 6. Watchdog
	watchdog := &sampler.Watchdog{Interval: config.WatchdogInterval, Source: a}
	go func() {
		if err := watchdog.Run(ctx); err != nil {
			errCh <- fmt.Errorf("watchdog: %w", err)
		}
	}()

	// 7. Wait for interrupt signal or a fatal error
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	fmt.Fprintln(a.Out, "\nShutting down service...")
	return runErr
}

func (a *App) printServiceInfo(config *sampler.Config) {
	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")

	if a.MqttMode {
		fmt.Fprintln(a.Out, "\nMQTT:")
		fmt.Fprintln(a.Out, "  Subscribed topics:")
		fmt.Fprintf(a.Out, "    - %s (map)\n", config.Topics.Map)
		fmt.Fprintf(a.Out, "    - %s (scan)\n", config.Topics.Scan)
		fmt.Fprintf(a.Out, "    - %s (odometry)\n", config.Topics.Odom)
		if config.Topics.Transform != "" {
			fmt.Fprintf(a.Out, "    - %s (transforms)\n", config.Topics.Transform)
		}
		publishPrefix := os.Getenv("MQTT_PUBLISH_PREFIX")
		if publishPrefix == "" {
			publishPrefix = config.MQTT.PublishPrefix
		}
		if publishPrefix == "" {
			publishPrefix = "glsampler"
		}
		fmt.Fprintf(a.Out, "  Publishing to: %s/{topic}\n", publishPrefix)
		fmt.Fprintf(a.Out, "  Sampled poses: %s/%s\n", publishPrefix, strings.TrimPrefix(config.Topics.Poses, "/"))
	}

	if a.HttpMode {
		fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Fprintln(a.Out, "  GET /health             - Health check and counters")
		fmt.Fprintln(a.Out, "  GET /poses.json        - Latest pose batch (?format=geojson)")
		fmt.Fprintln(a.Out, "  GET /keypoints.geojson - Keypoints (?set=global|local)")
		fmt.Fprintln(a.Out, "  GET /global-map.png    - Global map with keypoints and poses")
		fmt.Fprintln(a.Out, "  GET /local-map.png     - Latest local map with keypoints")
		fmt.Fprintln(a.Out, "  GET /map.svg           - Global map as SVG")
		fmt.Fprintln(a.Out, "  GET /field.png         - Global distance field")
	}

	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")
}

// sensorLookup prefers a configured offset over transforms announced on
// the transform topic
func (a *App) sensorLookup(config *sampler.Config) sampler.TransformLookup {
	if config.SensorOffset != nil {
		return sampler.NewStaticTransformLookup(config.Frames.Base, config.Frames.Laser, *config.SensorOffset)
	}
	if !a.MqttMode {
		log.Printf("Warning: no sensorOffset configured and MQTT is off; the transform wait will time out")
	}
	return a.transforms
}

// startPipeline creates the sampler and replays the inputs parked while
// the sensor offset was unknown
func (a *App) startPipeline(offset sampler.Pose2D) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := sampler.NewSampler(a.Config.Sampler, offset, nil)
	a.pipeline = s
	if a.pendingOdom != nil {
		s.UpdateOdometry(*a.pendingOdom)
		a.pendingOdom = nil
	}
	if a.pendingMap != nil {
		a.installMap(s, a.pendingMap)
		a.pendingMap = nil
	}
	log.Printf("Sampler started (window %d scans, %d random samples)",
		a.Config.Sampler.KeyScansNum, a.Config.Sampler.RandomSamplesNum)
}

// Pipeline returns the running sampler, or nil before startup finished
func (a *App) Pipeline() *sampler.Sampler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pipeline
}

// HasMap implements sampler.ReadinessSource
func (a *App) HasMap() bool {
	s := a.Pipeline()
	return s != nil && s.HasMap()
}

// HasOdometry implements sampler.ReadinessSource
func (a *App) HasOdometry() bool {
	s := a.Pipeline()
	return s != nil && s.HasOdometry()
}

func (a *App) handlers() sampler.Handlers {
	return sampler.Handlers{
		OnMap:       a.handleMap,
		OnScan:      a.handleScan,
		OnOdometry:  a.handleOdometry,
		OnTransform: a.handleTransform,
	}
}

func (a *App) handleMap(grid *sampler.OccupancyGrid) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline == nil {
		log.Printf("[DEBUG] holding %dx%d map until the sensor offset is known", grid.Width, grid.Height)
		a.pendingMap = grid
		return
	}
	a.installMap(a.pipeline, grid)
}

// installMap extracts the global features and hands them to s. Callers
// hold a.mu.
func (a *App) installMap(s *sampler.Sampler, grid *sampler.OccupancyGrid) {
	fm, err := sampler.LoadOrBuildFeatureMap(a.Config.FeatureCache, grid, a.Config.Sampler)
	if err != nil {
		log.Printf("Error building global features: %v", err)
		return
	}
	s.SetFeatureMap(fm)
	a.StateTracker.RecordMap(fm)

	counts := sampler.CountByClass(fm.Keypoints)
	log.Printf("Global map %dx%d at %.3f m: %d keypoints (%d maximum, %d minimum, %d saddle)",
		grid.Width, grid.Height, grid.Resolution, len(fm.Keypoints),
		counts[sampler.Maximum], counts[sampler.Minimum], counts[sampler.Saddle])

	if a.Publisher != nil {
		if err := a.Publisher.PublishKeypoints(fm, false); err != nil {
			log.Printf("Error publishing global keypoints: %v", err)
		}
	}
}

func (a *App) handleOdometry(odom *sampler.Odometry) {
	a.StateTracker.RecordOdometry(odom.Pose)

	a.mu.Lock()
	s := a.pipeline
	if s == nil {
		pose := odom.Pose
		a.pendingOdom = &pose
	}
	a.mu.Unlock()

	if s != nil {
		s.UpdateOdometry(odom.Pose)
	}
}

func (a *App) handleScan(scan *sampler.LaserScan) {
	s := a.Pipeline()
	if s == nil {
		log.Printf("[DEBUG] dropping scan: sensor offset not known yet")
		return
	}

	result, err := s.ProcessScan(*scan)
	a.StateTracker.RecordScan(err)
	switch {
	case errors.Is(err, sampler.ErrInvalidScan):
		log.Printf("[DEBUG] scan rejected: %v (valid ratio %.2f)", err, scan.ValidRatio())
		return
	case errors.Is(err, sampler.ErrNoOdometry):
		log.Printf("[DEBUG] dropping scan: %v", err)
		return
	case err != nil:
		log.Printf("Error processing scan: %v", err)
		return
	}
	if result == nil {
		return
	}

	a.StateTracker.RecordCycle(result)
	log.Printf("Cycle %s: %d local keypoints, %d accepted matches, %d hypotheses",
		result.ID, len(result.Local.Keypoints), len(sampler.AcceptedMatches(result.Matches)), len(result.Hypotheses))

	if a.Publisher != nil {
		// per-topic failures are logged by PublishCycle
		_ = a.Publisher.PublishCycle(result)
	}
}

func (a *App) handleTransform(tf *sampler.TransformStamped) {
	log.Printf("[DEBUG] transform %s -> %s: (%.3f, %.3f, %.3f rad)",
		tf.Parent, tf.Child, tf.Transform.X, tf.Transform.Y, tf.Transform.Yaw)
	a.transforms.Add(*tf)
}
