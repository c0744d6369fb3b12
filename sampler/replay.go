package sampler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
)

// maxReplayLine bounds a single JSONL record; maps can be large
const maxReplayLine = 64 << 20

// ReplayRecord is one line of a recorded session. Data holds the same JSON
// payload the MQTT topic of that type carries.
type ReplayRecord struct {
	Type string          `json:"type"` // map, odom or scan
	Data json.RawMessage `json:"data"`
}

// ReplaySummary counts what a replay fed to the sampler
type ReplaySummary struct {
	Maps         int `json:"maps"`
	Odometry     int `json:"odometry"`
	Scans        int `json:"scans"`
	InvalidScans int `json:"invalidScans"`
	Cycles       int `json:"cycles"`
	Hypotheses   int `json:"hypotheses"`
}

// Replay feeds a JSONL recording through s in file order. onCycle, when not
// nil, receives every cycle result. Records of unknown type are skipped with
// a warning; malformed records abort the replay.
func Replay(r io.Reader, s *Sampler, onCycle func(*CycleResult)) (ReplaySummary, error) {
	var summary ReplaySummary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReplayLine)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec ReplayRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return summary, fmt.Errorf("line %d: %w", line, err)
		}

		switch rec.Type {
		case "map":
			grid, err := DecodeGrid(rec.Data)
			if err != nil {
				return summary, fmt.Errorf("line %d: %w", line, err)
			}
			if _, err := s.SetMap(grid); err != nil {
				return summary, fmt.Errorf("line %d: %w", line, err)
			}
			summary.Maps++

		case "odom":
			odom, err := DecodeOdometry(rec.Data)
			if err != nil {
				return summary, fmt.Errorf("line %d: %w", line, err)
			}
			s.UpdateOdometry(odom.Pose)
			summary.Odometry++

		case "scan":
			scan, err := DecodeScan(rec.Data)
			if err != nil {
				return summary, fmt.Errorf("line %d: %w", line, err)
			}
			summary.Scans++
			result, err := s.ProcessScan(*scan)
			switch {
			case errors.Is(err, ErrInvalidScan):
				summary.InvalidScans++
				continue
			case errors.Is(err, ErrNoOdometry):
				log.Printf("Warning: line %d: scan before odometry, skipped", line)
				continue
			case err != nil:
				return summary, fmt.Errorf("line %d: %w", line, err)
			}
			if result == nil {
				continue
			}
			summary.Cycles++
			summary.Hypotheses += len(result.Hypotheses)
			if onCycle != nil {
				onCycle(result)
			}

		default:
			log.Printf("Warning: line %d: unknown record type %q", line, rec.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("reading replay: %w", err)
	}
	return summary, nil
}

// WriteReplayRecord appends one record to a JSONL recording
func WriteReplayRecord(w io.Writer, recordType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", recordType, err)
	}
	line, err := json.Marshal(ReplayRecord{Type: recordType, Data: data})
	if err != nil {
		return fmt.Errorf("marshaling %s record: %w", recordType, err)
	}
	line = append(line, '\n')
	_, err = w.Write(line)
	return err
}
