/*
 * Copyright 2018-present Open Networking Foundation

 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at

 * http://www.apache.org/licenses/LICENSE-2.0

 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mibsync keeps a device's local MIB mirror synchronized with the
// device itself.  Each device runs one Synchronizer, a single-goroutine state
// machine driven by triggers: internal ones fired by entry actions, timers
// and task completions, and external ones derived from receive events on the
// OMCI bus.  Transitions are validated against a declarative table; a trigger
// fired in a state that does not allow it is logged and dropped.
package mibsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opencord/pon-core/metrics"
	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/task"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// Config holds the synchronizer delays
type Config struct {
	// TimeoutDelay is the retry delay after a failed upload, audit or
	// counter examination
	TimeoutDelay time.Duration
	// AuditDelay is the interval between periodic counter audits; zero
	// disables auditing
	AuditDelay time.Duration
	// ResyncDelay is how long after the last successful sync an audit is
	// escalated to a full row-by-row resynchronization; zero disables
	// escalation
	ResyncDelay time.Duration
	// RetryDelay is the delay before re-auditing an out-of-sync device
	RetryDelay time.Duration
}

// DefaultConfig returns the stock delays
func DefaultConfig() Config {
	return Config{
		TimeoutDelay: 5 * time.Second,
		AuditDelay:   15 * time.Second,
		ResyncDelay:  300 * time.Second,
		RetryDelay:   time.Second,
	}
}

const (
	triggerQueueDepth = 16
	rxQueueDepth      = 64
)

// Synchronizer drives the MIB synchronization cycle of one device
type Synchronizer struct {
	deviceID  string
	db        *mibdb.Database
	bus       *event.Bus
	runner    *task.Runner
	transport Transport
	cfg       Config

	mu           sync.Mutex
	state        State
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	done         chan struct{}
	triggers     chan Trigger
	rx           chan event.Message
	subs         map[event.Topic]<-chan event.Message
	timer        *time.Timer
	cancels      map[uint64]context.CancelFunc
	nextCancelID uint64

	mibDataSync uint32
	lastSync    time.Time
	isNewOnu    bool
	diffs       *ResyncDiffs
}

// New creates a stopped synchronizer.  Zero delays in cfg fall back to the
// defaults, except AuditDelay and ResyncDelay which stay zero to mean
// disabled.
func New(deviceID string, db *mibdb.Database, bus *event.Bus, runner *task.Runner, transport Transport, cfg Config) *Synchronizer {
	def := DefaultConfig()
	if cfg.TimeoutDelay <= 0 {
		cfg.TimeoutDelay = def.TimeoutDelay
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Synchronizer{
		deviceID:  deviceID,
		db:        db,
		bus:       bus,
		runner:    runner,
		transport: transport,
		cfg:       cfg,
		state:     Disabled,
		cancels:   make(map[uint64]context.CancelFunc),
	}
}

// DeviceID returns the device this synchronizer manages
func (s *Synchronizer) DeviceID() string {
	return s.deviceID
}

// State returns the current state
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSyncTime returns when the device last reached in-sync, zero if never
func (s *Synchronizer) LastSyncTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Start launches the state machine and begins the synchronization cycle
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("mib synchronizer already running for %s", s.deviceID)
	}
	s.running = true
	s.state = Disabled
	s.diffs = nil
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.triggers = make(chan Trigger, triggerQueueDepth)
	s.rx = make(chan event.Message, rxQueueDepth)
	s.done = make(chan struct{})
	s.mu.Unlock()

	logger.Infow(ctx, "mib-sync-starting", log.Fields{"device-id": s.deviceID})
	go s.run()
	s.fire(TriggerStart)
	return nil
}

// Stop disables the state machine, cancelling timers and in-flight tasks.
// The synchronizer can be started again afterwards.
func (s *Synchronizer) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	done := s.done
	s.mu.Unlock()

	s.fire(TriggerStop)
	<-done
	logger.Infow(ctx, "mib-sync-stopped", log.Fields{"device-id": s.deviceID})
}

// ForceResync requests a full row-by-row resynchronization.  The trigger is
// only honored while an audit is in progress; fired in any other state it is
// logged and dropped by the transition table, not latched for a later audit.
func (s *Synchronizer) ForceResync(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("mib synchronizer not running for %s", s.deviceID)
	}
	s.fire(TriggerForceResync)
	return nil
}

func (s *Synchronizer) run() {
	ctx := s.ctx
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()
	for {
		select {
		case trigger := <-s.triggers:
			if s.handleTrigger(ctx, trigger) {
				return
			}
		case msg := <-s.rx:
			s.handleMessage(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handleTrigger validates and applies one transition, then runs the entry
// action of the destination state.  It reports whether the machine reached
// Disabled and the loop should exit.
func (s *Synchronizer) handleTrigger(ctx context.Context, trigger Trigger) bool {
	from := s.State()
	to, valid := nextState(from, trigger)
	if !valid {
		logger.Errorw(ctx, "trigger-invalid-in-state", log.Fields{"device-id": s.deviceID, "state": from.String(), "trigger": trigger.String()})
		return false
	}
	s.stopTimer()
	s.mu.Lock()
	s.state = to
	s.mu.Unlock()
	metrics.MibSyncTransitions.WithLabelValues(from.String(), to.String(), trigger.String()).Inc()
	logger.Debugw(ctx, "mib-sync-transition", log.Fields{"device-id": s.deviceID, "from": from.String(), "to": to.String(), "trigger": trigger.String()})

	switch to {
	case Starting:
		s.onStarting(ctx)
	case Uploading:
		s.onUploading(ctx)
	case ExaminingMds:
		s.onExaminingMds(ctx)
	case InSync:
		s.onInSync(ctx)
	case OutOfSync:
		s.onOutOfSync(ctx)
	case Auditing:
		s.onAuditing(ctx)
	case Resynchronizing:
		s.onResynchronizing(ctx)
	case Disabled:
		s.onDisabled(ctx)
		return true
	}
	return false
}

func (s *Synchronizer) onStarting(ctx context.Context) {
	if !s.db.Has(s.deviceID) {
		if err := s.db.Add(ctx, s.deviceID); err != nil {
			logger.Errorw(ctx, "mib-db-seed-failed", log.Fields{"device-id": s.deviceID, "error": err})
		}
	}
	mds, err := s.db.GetMibDataSync(ctx, s.deviceID)
	if err != nil {
		logger.Errorw(ctx, "mib-data-sync-load-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
	lastSync, err := s.db.GetLastSync(ctx, s.deviceID)
	if err != nil {
		logger.Errorw(ctx, "last-sync-load-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
	s.mu.Lock()
	s.mibDataSync = mds
	s.lastSync = lastSync
	s.isNewOnu = lastSync.IsZero()
	isNew := s.isNewOnu
	s.mu.Unlock()

	s.subscribe(ctx)

	// a device that has never been synchronized gets a full upload; a known
	// one only has its sync counter examined
	if isNew {
		s.fire(TriggerUploadMib)
	} else {
		s.fire(TriggerExamineMds)
	}
}

func (s *Synchronizer) onUploading(ctx context.Context) {
	s.publishSyncStatus(ctx, false)
	s.submit(ctx, "mib-upload", func(taskCtx context.Context) (interface{}, error) {
		return nil, s.transport.UploadMib(taskCtx, s.deviceID)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "mib-upload-failed", log.Fields{"device-id": s.deviceID, "error": res.Err})
			s.fireAfter(TriggerTimeout, s.cfg.TimeoutDelay)
			return
		}
		s.fire(TriggerSuccess)
	})
}

func (s *Synchronizer) onExaminingMds(ctx context.Context) {
	mds, err := s.db.GetMibDataSync(ctx, s.deviceID)
	if err != nil {
		logger.Errorw(ctx, "mib-data-sync-load-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
	s.setSyncCounter(mds)
	s.submit(ctx, "mib-data-sync-get", func(taskCtx context.Context) (interface{}, error) {
		return s.transport.GetMibDataSync(taskCtx, s.deviceID)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "mib-data-sync-get-failed", log.Fields{"device-id": s.deviceID, "error": res.Err})
			s.fireAfter(TriggerTimeout, s.cfg.TimeoutDelay)
			return
		}
		device := res.Output.(uint32)
		if device == s.syncCounter() {
			s.fire(TriggerSuccess)
			return
		}
		logger.Infow(ctx, "mib-data-sync-mismatch", log.Fields{"device-id": s.deviceID, "local": s.syncCounter(), "device": device})
		s.fire(TriggerMismatch)
	})
}

func (s *Synchronizer) onInSync(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	s.lastSync = now
	s.diffs = nil
	s.mu.Unlock()
	if err := s.db.SaveLastSync(ctx, s.deviceID, now); err != nil {
		logger.Errorw(ctx, "last-sync-save-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
	s.publishSyncStatus(ctx, true)
	if s.cfg.AuditDelay > 0 {
		s.fireAfter(TriggerAuditMib, s.cfg.AuditDelay)
	}
}

func (s *Synchronizer) onOutOfSync(ctx context.Context) {
	s.publishSyncStatus(ctx, false)
	diffs := s.getDiffs()
	if diffs.Empty() {
		s.fireAfter(TriggerAuditMib, s.cfg.RetryDelay)
		return
	}
	s.submit(ctx, "mib-reconcile", func(taskCtx context.Context) (interface{}, error) {
		return nil, s.reconcile(taskCtx, diffs)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "mib-reconcile-failed", log.Fields{"device-id": s.deviceID, "error": res.Err})
		}
		s.fireAfter(TriggerAuditMib, s.cfg.RetryDelay)
	})
}

func (s *Synchronizer) onAuditing(ctx context.Context) {
	if s.cfg.ResyncDelay > 0 && time.Since(s.LastSyncTime()) >= s.cfg.ResyncDelay {
		s.fire(TriggerForceResync)
		return
	}
	s.submit(ctx, "mib-audit", func(taskCtx context.Context) (interface{}, error) {
		return s.transport.GetMibDataSync(taskCtx, s.deviceID)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "mib-audit-failed", log.Fields{"device-id": s.deviceID, "error": res.Err})
			s.fireAfter(TriggerTimeout, s.cfg.TimeoutDelay)
			return
		}
		device := res.Output.(uint32)
		if device == s.syncCounter() {
			s.fire(TriggerSuccess)
			return
		}
		logger.Infow(ctx, "mib-audit-mismatch", log.Fields{"device-id": s.deviceID, "local": s.syncCounter(), "device": device})
		s.publishSyncStatus(ctx, false)
		s.fire(TriggerMismatch)
	})
}

func (s *Synchronizer) onResynchronizing(ctx context.Context) {
	s.submit(ctx, "mib-resync", func(taskCtx context.Context) (interface{}, error) {
		local, err := s.db.QueryDevice(taskCtx, s.deviceID)
		if err != nil {
			return nil, err
		}
		return s.transport.Resync(taskCtx, s.deviceID, local)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "mib-resync-failed", log.Fields{"device-id": s.deviceID, "error": res.Err})
			s.setDiffs(nil)
			s.fireAfter(TriggerTimeout, s.cfg.TimeoutDelay)
			return
		}
		diffs := res.Output.(*ResyncDiffs)
		if diffs.Empty() {
			s.fire(TriggerSuccess)
			return
		}
		logger.Infow(ctx, "mib-resync-diffs", log.Fields{"device-id": s.deviceID,
			"core-only": len(diffs.CoreOnly), "device-only": len(diffs.DeviceOnly), "attributes": len(diffs.Attributes)})
		s.setDiffs(diffs)
		s.fire(TriggerDiffsFound)
	})
}

func (s *Synchronizer) onDisabled(ctx context.Context) {
	s.stopTimer()
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[uint64]context.CancelFunc)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	s.unsubscribe(ctx)
	s.publishSyncStatus(ctx, false)
	s.cancel()
}

// reconcile issues corrective operations for one diff set.  The local
// database is the master for attribute values; instances the device alone
// knows about are adopted locally rather than deleted remotely.
func (s *Synchronizer) reconcile(ctx context.Context, diffs *ResyncDiffs) error {
	var lastErr error
	for _, ref := range diffs.CoreOnly {
		attrs, err := s.db.QueryInstance(ctx, s.deviceID, ref.ClassID, ref.EntityID)
		if err != nil {
			lastErr = err
			continue
		}
		if err := s.transport.CreateInstance(ctx, s.deviceID, ref.ClassID, ref.EntityID, attrs); err != nil {
			logger.Warnw(ctx, "reconcile-create-failed", log.Fields{"device-id": s.deviceID, "class-id": ref.ClassID, "entity-id": ref.EntityID, "error": err})
			lastErr = err
		}
	}
	for _, snap := range diffs.DeviceOnly {
		if _, err := s.db.Set(ctx, s.deviceID, snap.ClassID, snap.EntityID, snap.Attributes); err != nil {
			logger.Warnw(ctx, "reconcile-adopt-failed", log.Fields{"device-id": s.deviceID, "class-id": snap.ClassID, "entity-id": snap.EntityID, "error": err})
			lastErr = err
		}
	}
	for _, diff := range diffs.Attributes {
		attrs, err := s.db.QueryAttributes(ctx, s.deviceID, diff.ClassID, diff.EntityID, diff.Name)
		if err != nil || len(attrs) == 0 {
			logger.Warnw(ctx, "reconcile-attribute-missing", log.Fields{"device-id": s.deviceID, "class-id": diff.ClassID, "entity-id": diff.EntityID, "name": diff.Name, "error": err})
			continue
		}
		if err := s.transport.SetAttributes(ctx, s.deviceID, diff.ClassID, diff.EntityID, attrs); err != nil {
			logger.Warnw(ctx, "reconcile-set-failed", log.Fields{"device-id": s.deviceID, "class-id": diff.ClassID, "entity-id": diff.EntityID, "error": err})
			lastErr = err
		}
	}
	return lastErr
}

// handleMessage applies one receive event, enforcing per-state validity
func (s *Synchronizer) handleMessage(ctx context.Context, msg event.Message) {
	state := s.State()
	switch msg.Topic.Type {
	case event.MibReset:
		s.onMibReset(ctx, state, msg)
	case event.AVCNotification:
		s.onAVC(ctx, state, msg)
	case event.MibUpload:
		s.onMibUpload(ctx, state, msg)
	case event.MibUploadNext:
		s.onMibUploadNext(ctx, state, msg)
	case event.Create:
		s.onCreateResponse(ctx, state, msg)
	case event.Delete:
		s.onDeleteResponse(ctx, state, msg)
	case event.Set:
		s.onSetResponse(ctx, state, msg)
	case event.Capabilities:
		s.onCapabilities(ctx, state, msg)
	default:
		logger.Debugw(ctx, "unhandled-event", log.Fields{"device-id": s.deviceID, "type": msg.Topic.Type.String()})
	}
}

func (s *Synchronizer) onMibReset(ctx context.Context, state State, msg event.Message) {
	if state != Uploading {
		logger.Errorw(ctx, "mib-reset-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	resp, ok := msg.Response.(event.MibResetResponse)
	if !ok {
		logger.Errorw(ctx, "unexpected-mib-reset-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	if resp.Status != me.Success {
		logger.Warnw(ctx, "mib-reset-rejected", log.Fields{"device-id": s.deviceID, "status": resp.Status.String()})
		return
	}
	if err := s.db.OnMibReset(ctx, s.deviceID); err != nil {
		logger.Errorw(ctx, "mib-reset-db-failed", log.Fields{"device-id": s.deviceID, "error": err})
		return
	}
	s.setSyncCounter(0)
}

// onAVC applies an autonomous attribute change.  The sync counter is never
// touched: the device changed its own MIB, so both sides moved together.
func (s *Synchronizer) onAVC(ctx context.Context, state State, msg event.Message) {
	if state == Uploading {
		logger.Debugw(ctx, "avc-ignored-during-upload", log.Fields{"device-id": s.deviceID})
		return
	}
	notice, ok := msg.Response.(event.AVCNotice)
	if !ok {
		logger.Errorw(ctx, "unexpected-avc-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	if _, err := s.db.QueryInstance(ctx, s.deviceID, notice.ClassID, notice.EntityID); err != nil {
		logger.Debugw(ctx, "avc-for-unknown-instance", log.Fields{"device-id": s.deviceID, "class-id": notice.ClassID, "entity-id": notice.EntityID})
		return
	}
	if _, err := s.db.Set(ctx, s.deviceID, notice.ClassID, notice.EntityID, notice.Attributes); err != nil {
		logger.Errorw(ctx, "avc-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
}

func (s *Synchronizer) onMibUpload(ctx context.Context, state State, msg event.Message) {
	if state != Uploading {
		logger.Errorw(ctx, "mib-upload-response-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	if resp, ok := msg.Response.(event.MibUploadResponse); ok {
		logger.Debugw(ctx, "mib-upload-segments", log.Fields{"device-id": s.deviceID, "count": resp.SegmentCount})
	}
}

func (s *Synchronizer) onMibUploadNext(ctx context.Context, state State, msg event.Message) {
	switch state {
	case Uploading:
	case Resynchronizing:
		// the resync task consumes its own upload rows
		return
	default:
		logger.Errorw(ctx, "mib-upload-next-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	resp, ok := msg.Response.(event.MibUploadNextResponse)
	if !ok {
		logger.Errorw(ctx, "unexpected-mib-upload-next-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	if resp.ClassID == me.OntDataClassID {
		logger.Debugw(ctx, "ont-data-row-skipped", log.Fields{"device-id": s.deviceID, "entity-id": resp.EntityID})
		return
	}
	if _, err := s.db.Set(ctx, s.deviceID, resp.ClassID, resp.EntityID, resp.Attributes); err != nil {
		logger.Errorw(ctx, "mib-upload-db-update-failed", log.Fields{"device-id": s.deviceID, "class-id": resp.ClassID, "error": err})
	}
}

func (s *Synchronizer) onCreateResponse(ctx context.Context, state State, msg event.Message) {
	if state == Disabled || state == Uploading {
		logger.Errorw(ctx, "create-response-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	resp, ok := msg.Response.(event.CreateResponse)
	if !ok {
		logger.Errorw(ctx, "unexpected-create-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	req, _ := msg.Request.(event.CreateRequest)
	// an instance that already exists means a previous create succeeded and
	// the response was lost, so it is treated as success
	if resp.Status != me.Success && resp.Status != me.InstanceExists {
		logger.Warnw(ctx, "create-rejected", log.Fields{"device-id": s.deviceID, "class-id": resp.ClassID, "entity-id": resp.EntityID, "status": resp.Status.String()})
		return
	}
	changed, err := s.db.Set(ctx, s.deviceID, resp.ClassID, resp.EntityID, req.Attributes)
	if err != nil {
		logger.Errorw(ctx, "create-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
		return
	}
	if changed {
		s.incrementSyncCounter(ctx)
	}
	s.fetchMissingAttributes(ctx, resp.ClassID, resp.EntityID, req.Attributes)
}

// fetchMissingAttributes issues a follow-up get for set-by-create or writable
// attributes the original create did not carry, so the mirror holds their
// device-side values.  The sync counter is not touched.
func (s *Synchronizer) fetchMissingAttributes(ctx context.Context, classID me.ClassID, entityID me.EntityID, supplied me.AttributeMap) {
	var missing []string
	for _, name := range s.transport.SetByCreateAttributes(classID) {
		if _, ok := supplied[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return
	}
	s.submit(ctx, "attribute-get", func(taskCtx context.Context) (interface{}, error) {
		return s.transport.GetRequest(taskCtx, s.deviceID, classID, entityID, missing)
	}, func(res task.Result) {
		if res.Err != nil {
			logger.Warnw(ctx, "attribute-get-failed", log.Fields{"device-id": s.deviceID, "class-id": classID, "entity-id": entityID, "error": res.Err})
			return
		}
		attrs := res.Output.(me.AttributeMap)
		if _, err := s.db.Set(ctx, s.deviceID, classID, entityID, attrs); err != nil {
			logger.Errorw(ctx, "attribute-get-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
		}
	})
}

func (s *Synchronizer) onDeleteResponse(ctx context.Context, state State, msg event.Message) {
	if state == Disabled || state == Uploading {
		logger.Errorw(ctx, "delete-response-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	resp, ok := msg.Response.(event.DeleteResponse)
	if !ok {
		logger.Errorw(ctx, "unexpected-delete-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	if resp.Status != me.Success {
		logger.Warnw(ctx, "delete-rejected", log.Fields{"device-id": s.deviceID, "class-id": resp.ClassID, "entity-id": resp.EntityID, "status": resp.Status.String()})
		return
	}
	existed, err := s.db.Delete(ctx, s.deviceID, resp.ClassID, resp.EntityID)
	if err != nil {
		logger.Errorw(ctx, "delete-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
		return
	}
	if existed {
		s.incrementSyncCounter(ctx)
	}
}

func (s *Synchronizer) onSetResponse(ctx context.Context, state State, msg event.Message) {
	if state == Disabled || state == Uploading {
		logger.Errorw(ctx, "set-response-in-invalid-state", log.Fields{"device-id": s.deviceID, "state": state.String()})
		return
	}
	resp, ok := msg.Response.(event.SetResponse)
	if !ok {
		logger.Errorw(ctx, "unexpected-set-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	req, _ := msg.Request.(event.SetRequest)
	if resp.Status != me.Success {
		logger.Warnw(ctx, "set-rejected", log.Fields{"device-id": s.deviceID, "class-id": resp.ClassID, "entity-id": resp.EntityID, "status": resp.Status.String()})
		return
	}
	changed, err := s.db.Set(ctx, s.deviceID, resp.ClassID, resp.EntityID, req.Attributes)
	if err != nil {
		logger.Errorw(ctx, "set-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
		return
	}
	if changed {
		s.incrementSyncCounter(ctx)
	}
}

func (s *Synchronizer) onCapabilities(ctx context.Context, state State, msg event.Message) {
	if state == Disabled {
		return
	}
	notice, ok := msg.Response.(event.CapabilitiesNotice)
	if !ok {
		logger.Errorw(ctx, "unexpected-capabilities-payload", log.Fields{"device-id": s.deviceID})
		return
	}
	if err := s.db.UpdateSupportedManagedEntities(ctx, s.deviceID, notice.SupportedClasses); err != nil {
		logger.Errorw(ctx, "capabilities-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
	if err := s.db.UpdateSupportedMessageTypes(ctx, s.deviceID, notice.SupportedMessageTypes); err != nil {
		logger.Errorw(ctx, "capabilities-db-update-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
}

// submit runs fn on the device's task runner and hands the result to handle.
// The task context is cancelled when the synchronizer is disabled.
func (s *Synchronizer) submit(ctx context.Context, name string, fn func(context.Context) (interface{}, error), handle func(task.Result)) {
	s.mu.Lock()
	loopCtx := s.ctx
	s.mu.Unlock()
	wrapped := func(runCtx context.Context) (interface{}, error) {
		taskCtx, cancel := context.WithCancel(runCtx)
		s.mu.Lock()
		id := s.nextCancelID
		s.nextCancelID++
		s.cancels[id] = cancel
		s.mu.Unlock()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
		}()
		return fn(taskCtx)
	}
	ch := s.runner.Submit(ctx, &task.Func{TaskName: name, Fn: wrapped})
	go func() {
		select {
		case res := <-ch:
			handle(res)
		case <-loopCtx.Done():
		}
	}()
}

func (s *Synchronizer) subscribe(ctx context.Context) {
	s.mu.Lock()
	if s.subs != nil {
		s.mu.Unlock()
		return
	}
	s.subs = make(map[event.Topic]<-chan event.Message, len(event.RxTypes))
	loopCtx, rx := s.ctx, s.rx
	for _, typ := range event.RxTypes {
		topic := event.Topic{DeviceID: s.deviceID, Type: typ}
		ch := s.bus.Subscribe(topic)
		s.subs[topic] = ch
		go forward(loopCtx, ch, rx)
	}
	s.mu.Unlock()
	logger.Debugw(ctx, "mib-sync-subscribed", log.Fields{"device-id": s.deviceID, "topics": len(event.RxTypes)})
}

func (s *Synchronizer) unsubscribe(ctx context.Context) {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for topic, ch := range subs {
		s.bus.Unsubscribe(topic, ch)
	}
}

func forward(ctx context.Context, in <-chan event.Message, out chan<- event.Message) {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Synchronizer) publishSyncStatus(ctx context.Context, inSync bool) {
	notice := event.InSyncNotice{InSync: inSync}
	if inSync {
		notice.LastSyncTime = s.LastSyncTime().Unix()
	}
	s.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: s.deviceID, Type: event.InSync},
		Response: notice,
	})
}

func (s *Synchronizer) fire(trigger Trigger) {
	s.mu.Lock()
	triggers, running := s.triggers, s.running
	s.mu.Unlock()
	if !running || triggers == nil {
		return
	}
	select {
	case triggers <- trigger:
	default:
		logger.Warnw(context.Background(), "trigger-queue-full", log.Fields{"device-id": s.deviceID, "trigger": trigger.String()})
	}
}

func (s *Synchronizer) fireAfter(trigger Trigger, delay time.Duration) {
	if delay <= 0 {
		s.fire(trigger)
		return
	}
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() { s.fire(trigger) })
	s.mu.Unlock()
}

func (s *Synchronizer) stopTimer() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *Synchronizer) syncCounter() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mibDataSync
}

func (s *Synchronizer) setSyncCounter(value uint32) {
	s.mu.Lock()
	s.mibDataSync = value % 256
	s.mu.Unlock()
}

func (s *Synchronizer) incrementSyncCounter(ctx context.Context) {
	s.mu.Lock()
	s.mibDataSync = (s.mibDataSync + 1) % 256
	value := s.mibDataSync
	s.mu.Unlock()
	if err := s.db.SaveMibDataSync(ctx, s.deviceID, value); err != nil {
		logger.Errorw(ctx, "mib-data-sync-save-failed", log.Fields{"device-id": s.deviceID, "error": err})
	}
}

func (s *Synchronizer) getDiffs() *ResyncDiffs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diffs
}

func (s *Synchronizer) setDiffs(diffs *ResyncDiffs) {
	s.mu.Lock()
	s.diffs = diffs
	s.mu.Unlock()
}
