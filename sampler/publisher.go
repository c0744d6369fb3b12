package sampler

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher publishes cycle outputs to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	topics        TopicConfig
	frames        FrameConfig
	qos           byte
	retain        bool
	published     int
	mu            sync.RWMutex
}

// NewPublisher creates a new publisher. Topics are published below the
// MQTT_PUBLISH_PREFIX prefix (default "glsampler").
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, topics TopicConfig, frames FrameConfig) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "glsampler"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		topics:        topics,
		frames:        frames,
		qos:           0,    // fire and forget; every cycle replaces the last
		retain:        true, // late subscribers get the latest batch
	}
}

// topic joins the prefix and a configured topic name
func (p *Publisher) topic(name string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.publishPrefix + "/" + strings.TrimPrefix(name, "/")
}

// publish sends one payload and waits briefly for the broker
func (p *Publisher) publish(name string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()

	topic := p.topic(name)
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// PublishPoses publishes a pose batch as JSON
func (p *Publisher) PublishPoses(batch PoseBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshaling pose batch: %w", err)
	}
	if err := p.publish(p.topics.Poses, payload); err != nil {
		return err
	}
	log.Printf("Published %d pose hypotheses (batch %s)", len(batch.Poses), batch.ID)
	return nil
}

// PublishLocalMap publishes a local map as a PNG with embedded metadata
func (p *Publisher) PublishLocalMap(grid *OccupancyGrid) error {
	payload, err := EncodeGridPNG(grid)
	if err != nil {
		return err
	}
	return p.publish(p.topics.LocalMap, payload)
}

// PublishKeypoints publishes a feature map's keypoints as GeoJSON on the
// global or the local keypoint topic
func (p *Publisher) PublishKeypoints(fm *FeatureMap, local bool) error {
	name, frame := p.topics.Keypoints, p.frames.Map
	if local {
		name, frame = p.topics.LocalKeypoints, p.frames.Odom
	}
	payload, err := json.Marshal(KeypointsToFeatureCollection(fm, frame))
	if err != nil {
		return fmt.Errorf("marshaling keypoints: %w", err)
	}
	return p.publish(name, payload)
}

// PublishCycle publishes everything a cycle produced. Poses are only
// published when matching ran; a failure on one topic does not stop the
// others and the first error is returned.
func (p *Publisher) PublishCycle(result *CycleResult) error {
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Printf("Error publishing cycle %s: %v", result.ID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if !result.MatchingSkipped {
		keep(p.PublishPoses(result.Batch(p.frames.Map)))
	}
	keep(p.PublishLocalMap(result.LocalMap))
	keep(p.PublishKeypoints(result.Local, true))
	return firstErr
}

// Published returns the number of successful publishes
func (p *Publisher) Published() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.mu.Lock()
		p.qos = qos
		p.mu.Unlock()
	}
}

// SetPrefix replaces the topic prefix
func (p *Publisher) SetPrefix(prefix string) {
	p.mu.Lock()
	p.publishPrefix = strings.TrimSuffix(prefix, "/")
	p.mu.Unlock()
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	p.retain = retain
	p.mu.Unlock()
}
