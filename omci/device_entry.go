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

package omci

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/mibsync"
	"github.com/opencord/pon-core/omci/task"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// restartMaxElapsed bounds the backoff when restarting the synchronizer of a
// device that came back online.
const restartMaxElapsed = 2 * time.Minute

// DeviceEntry is the per-ONU lifecycle holder.  It owns the device's task
// runner and MIB synchronizer, watches the device's sync and transport status
// on the OMCI bus, and republishes sync status to the controller bus.
type DeviceEntry struct {
	deviceID     string
	shard        *shard
	db           *mibdb.Database
	bus          *event.Bus
	transport    mibsync.Transport
	statusSender StatusSender
	syncConfig   mibsync.Config
	firstInSync  FirstInSyncCallback

	mu          sync.Mutex
	started     bool
	runner      *task.Runner
	sync        *mibsync.Synchronizer
	watchCancel context.CancelFunc
	inSyncSub   <-chan event.Message
	statusSub   <-chan event.Message
	seenInSync  bool
}

func newDeviceEntry(deviceID string, s *shard, db *mibdb.Database, bus *event.Bus,
	transport mibsync.Transport, statusSender StatusSender, syncConfig mibsync.Config,
	firstInSync FirstInSyncCallback) *DeviceEntry {
	return &DeviceEntry{
		deviceID:     deviceID,
		shard:        s,
		db:           db,
		bus:          bus,
		transport:    transport,
		statusSender: statusSender,
		syncConfig:   syncConfig,
		firstInSync:  firstInSync,
	}
}

// DeviceID returns the device this entry manages
func (e *DeviceEntry) DeviceID() string {
	return e.deviceID
}

// Shard returns the runner shard this entry is assigned to
func (e *DeviceEntry) Shard() string {
	return e.shard.name
}

// SyncState returns the current MIB synchronizer state
func (e *DeviceEntry) SyncState() mibsync.State {
	e.mu.Lock()
	s := e.sync
	e.mu.Unlock()
	if s == nil {
		return mibsync.Disabled
	}
	return s.State()
}

// LastSyncTime returns when the device last reached in-sync, zero if never
func (e *DeviceEntry) LastSyncTime() time.Time {
	e.mu.Lock()
	s := e.sync
	e.mu.Unlock()
	if s == nil {
		return time.Time{}
	}
	return s.LastSyncTime()
}

// Start creates the runner and synchronizer and begins the sync cycle.
// Starting a started entry is a no-op.
func (e *DeviceEntry) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		logger.Debugw(ctx, "device-entry-already-started", log.Fields{"device-id": e.deviceID})
		return nil
	}
	watchCtx, watchCancel := context.WithCancel(e.shard.ctx)
	e.runner = task.NewRunner(e.shard.ctx, e.deviceID)
	e.sync = mibsync.New(e.deviceID, e.db, e.bus, e.runner, e.transport, e.syncConfig)
	e.watchCancel = watchCancel
	e.inSyncSub = e.bus.Subscribe(event.Topic{DeviceID: e.deviceID, Type: event.InSync})
	e.statusSub = e.bus.Subscribe(event.Topic{DeviceID: e.deviceID, Type: event.DeviceStatus})
	e.seenInSync = false
	e.started = true
	synchronizer := e.sync
	inSyncSub, statusSub := e.inSyncSub, e.statusSub
	e.mu.Unlock()

	go e.watch(watchCtx, inSyncSub, statusSub)

	if err := synchronizer.Start(ctx); err != nil {
		logger.Errorw(ctx, "mib-sync-start-failed", log.Fields{"device-id": e.deviceID, "error": err})
		e.Stop(ctx)
		return err
	}
	logger.Infow(ctx, "device-entry-started", log.Fields{"device-id": e.deviceID, "shard": e.shard.name})
	return nil
}

// Stop disables the synchronizer and releases the runner.  Stopping a
// stopped entry is a no-op.
func (e *DeviceEntry) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	synchronizer := e.sync
	runner := e.runner
	watchCancel := e.watchCancel
	inSyncSub, statusSub := e.inSyncSub, e.statusSub
	e.inSyncSub, e.statusSub = nil, nil
	e.mu.Unlock()

	synchronizer.Stop(ctx)
	runner.Stop(ctx)
	watchCancel()
	e.bus.Unsubscribe(event.Topic{DeviceID: e.deviceID, Type: event.InSync}, inSyncSub)
	e.bus.Unsubscribe(event.Topic{DeviceID: e.deviceID, Type: event.DeviceStatus}, statusSub)
	logger.Infow(ctx, "device-entry-stopped", log.Fields{"device-id": e.deviceID})
}

func (e *DeviceEntry) watch(ctx context.Context, inSyncSub, statusSub <-chan event.Message) {
	for {
		select {
		case msg, ok := <-inSyncSub:
			if !ok {
				return
			}
			e.onSyncStatus(ctx, msg)
		case msg, ok := <-statusSub:
			if !ok {
				return
			}
			e.onDeviceStatus(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// onSyncStatus republishes a sync-status change to the controller bus.  The
// first in-sync after start additionally fires the one-shot callback.
func (e *DeviceEntry) onSyncStatus(ctx context.Context, msg event.Message) {
	notice, ok := msg.Response.(event.InSyncNotice)
	if !ok {
		logger.Errorw(ctx, "unexpected-in-sync-payload", log.Fields{"device-id": e.deviceID})
		return
	}
	mds, err := e.db.GetMibDataSync(ctx, e.deviceID)
	if err != nil {
		logger.Warnw(ctx, "mib-data-sync-load-failed", log.Fields{"device-id": e.deviceID, "error": err})
	}
	var lastSync time.Time
	if notice.LastSyncTime > 0 {
		lastSync = time.Unix(notice.LastSyncTime, 0)
	}
	if e.statusSender != nil {
		if err := e.statusSender.SendSyncStatus(ctx, e.deviceID, notice.InSync, uint8(mds), lastSync); err != nil {
			logger.Warnw(ctx, "sync-status-publish-failed", log.Fields{"device-id": e.deviceID, "error": err})
		}
	}
	if !notice.InSync {
		return
	}
	e.mu.Lock()
	first := !e.seenInSync
	e.seenInSync = true
	cb := e.firstInSync
	e.mu.Unlock()
	if first && cb != nil {
		cb(ctx, e.deviceID)
	}
}

// onDeviceStatus reacts to transport reachability changes: an unreachable
// device has its synchronizer disabled, a device coming back gets it
// restarted with backoff.
func (e *DeviceEntry) onDeviceStatus(ctx context.Context, msg event.Message) {
	notice, ok := msg.Response.(event.DeviceStatusNotice)
	if !ok {
		logger.Errorw(ctx, "unexpected-device-status-payload", log.Fields{"device-id": e.deviceID})
		return
	}
	e.mu.Lock()
	started := e.started
	synchronizer := e.sync
	e.mu.Unlock()
	if !started {
		return
	}
	if !notice.Reachable {
		logger.Infow(ctx, "device-unreachable-disabling-sync", log.Fields{"device-id": e.deviceID})
		synchronizer.Stop(ctx)
		return
	}
	go e.restartSync(ctx, synchronizer)
}

func (e *DeviceEntry) restartSync(ctx context.Context, synchronizer *mibsync.Synchronizer) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = restartMaxElapsed
	err := backoff.Retry(func() error {
		if synchronizer.State() != mibsync.Disabled {
			return nil
		}
		return synchronizer.Start(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		logger.Errorw(ctx, "mib-sync-restart-failed", log.Fields{"device-id": e.deviceID, "error": err})
		return
	}
	logger.Infow(ctx, "mib-sync-restarted", log.Fields{"device-id": e.deviceID})
}
