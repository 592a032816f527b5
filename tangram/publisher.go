package tangram

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher pushes engine output to MQTT for UI layers: the full validation
// result, a compact progress summary, and the primary nudge when one fires.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	lastResult    *ValidationResult
	mu            sync.RWMutex
}

// NewPublisher creates a validation result publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "tangram"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for per-frame updates (fire and forget)
		retain:        true, // Retain so UIs joining late see the latest state
	}
}

// PublishResult publishes one frame's validation output: the full result to
// {prefix}/validation, a progress summary to {prefix}/progress, and the
// primary nudge (if any) to {prefix}/nudge.
func (p *Publisher) PublishResult(result *ValidationResult, puzzle *GamePuzzleData) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	if result == nil {
		return fmt.Errorf("nil validation result")
	}

	p.mu.Lock()
	p.lastResult = result
	p.mu.Unlock()

	if err := p.publishValidation(result); err != nil {
		log.Printf("Error publishing validation result: %v", err)
		return err
	}

	if err := p.publishProgress(result, puzzle); err != nil {
		log.Printf("Error publishing progress: %v", err)
		return err
	}

	if result.PrimaryNudge != nil {
		if err := p.publishNudge(result.PrimaryNudge); err != nil {
			log.Printf("Error publishing nudge: %v", err)
			return err
		}
	}

	return nil
}

// publishValidation publishes the full per-frame result.
func (p *Publisher) publishValidation(result *ValidationResult) error {
	topic := fmt.Sprintf("%s/validation", p.publishPrefix)

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling validation result: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// progressMessage is the compact summary published per frame.
type progressMessage struct {
	PuzzleID  string `json:"puzzleId"`
	Validated int    `json:"validated"`
	Total     int    `json:"total"`
	Complete  bool   `json:"complete"`
	Timestamp int64  `json:"timestamp"`
}

// publishProgress publishes validated/total counts for lightweight consumers.
func (p *Publisher) publishProgress(result *ValidationResult, puzzle *GamePuzzleData) error {
	topic := fmt.Sprintf("%s/progress", p.publishPrefix)

	msg := progressMessage{Timestamp: time.Now().Unix()}
	if puzzle != nil {
		msg.PuzzleID = puzzle.ID
		msg.Total = len(puzzle.Targets)
	}
	for _, ok := range result.ValidatedTargets {
		if ok {
			msg.Validated++
		}
	}
	msg.Complete = result.AllTargetsValidated(puzzle)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	if msg.Complete {
		log.Printf("Puzzle %s complete: %d/%d targets validated", msg.PuzzleID, msg.Validated, msg.Total)
	}
	return nil
}

// publishNudge publishes the primary nudge. Nudges are transient hints, so
// they are never retained regardless of the publisher's retain setting.
func (p *Publisher) publishNudge(n *Nudge) error {
	topic := fmt.Sprintf("%s/nudge", p.publishPrefix)

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling nudge: %w", err)
	}

	token := p.client.Publish(topic, p.qos, false, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published nudge for piece %s: %s", n.PieceID, n.Message)
	return nil
}

// LastResult returns the most recently published result, or nil.
func (p *Publisher) LastResult() *ValidationResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastResult
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
