package sampler

import (
	"errors"
	"sync"
	"time"
)

// Stats counts pipeline inputs and outputs for the HTTP endpoints
type Stats struct {
	Scans          int       `json:"scans"`
	InvalidScans   int       `json:"invalidScans"`
	OdometryCount  int       `json:"odometry"`
	Cycles         int       `json:"cycles"`
	SkippedCycles  int       `json:"skippedCycles"`
	Hypotheses     int       `json:"hypotheses"`
	GlobalKeypoint int       `json:"globalKeypoints"`
	LastMap        time.Time `json:"lastMap,omitempty"`
	LastScan       time.Time `json:"lastScan,omitempty"`
	LastOdometry   time.Time `json:"lastOdometry,omitempty"`
	LastCycle      time.Time `json:"lastCycle,omitempty"`
	LastPose       *Pose2D   `json:"lastOdometryPose,omitempty"`
}

// StateTracker keeps the latest pipeline outputs for the HTTP endpoints
type StateTracker struct {
	mu        sync.RWMutex
	stats     Stats
	global    *FeatureMap
	lastCycle *CycleResult
	now       func() time.Time
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{now: time.Now}
}

// RecordMap stores the global feature map
func (st *StateTracker) RecordMap(fm *FeatureMap) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.global = fm
	st.stats.GlobalKeypoint = len(fm.Keypoints)
	st.stats.LastMap = st.now()
}

// RecordOdometry notes an odometry sample
func (st *StateTracker) RecordOdometry(pose Pose2D) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.OdometryCount++
	st.stats.LastOdometry = st.now()
	st.stats.LastPose = &pose
}

// RecordScan notes a processed scan and the error ProcessScan returned
func (st *StateTracker) RecordScan(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.stats.Scans++
	st.stats.LastScan = st.now()
	if errors.Is(err, ErrInvalidScan) {
		st.stats.InvalidScans++
	}
}

// RecordCycle stores the latest cycle result
func (st *StateTracker) RecordCycle(result *CycleResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastCycle = result
	st.stats.LastCycle = st.now()
	if result.MatchingSkipped {
		st.stats.SkippedCycles++
		return
	}
	st.stats.Cycles++
	st.stats.Hypotheses += len(result.Hypotheses)
}

// Stats returns a copy of the counters
func (st *StateTracker) Stats() Stats {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.stats
	if s.LastPose != nil {
		p := *s.LastPose
		s.LastPose = &p
	}
	return s
}

// GlobalFeatures returns the global feature map, or nil
func (st *StateTracker) GlobalFeatures() *FeatureMap {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.global
}

// LastCycle returns the latest cycle result, or nil
func (st *StateTracker) LastCycle() *CycleResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastCycle
}

// HasMap reports whether a global map was recorded
func (st *StateTracker) HasMap() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.global != nil
}
