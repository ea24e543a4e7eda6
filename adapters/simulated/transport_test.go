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

package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/mibsync"
	"github.com/opencord/pon-core/omci/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportHarness struct {
	db        *mibdb.Database
	bus       *event.Bus
	transport *Transport
	sync      *mibsync.Synchronizer
}

// newTransportHarness wires a simulated ONU to a real synchronizer
func newTransportHarness(t *testing.T, deviceID string, cfg mibsync.Config) *transportHarness {
	ctx := context.Background()
	db := mibdb.New(nil)
	bus := event.NewBus()
	runner := task.NewRunner(ctx, deviceID)
	t.Cleanup(func() { runner.Stop(ctx) })

	transport := NewTransport(bus, db)
	transport.AddOnu(deviceID, "SIM00000001")
	h := &transportHarness{
		db:        db,
		bus:       bus,
		transport: transport,
		sync:      mibsync.New(deviceID, db, bus, runner, transport, cfg),
	}
	require.NoError(t, h.sync.Start(ctx))
	t.Cleanup(func() { h.sync.Stop(ctx) })
	return h
}

func fastSyncConfig() mibsync.Config {
	return mibsync.Config{
		TimeoutDelay: 5 * time.Millisecond,
		AuditDelay:   0,
		ResyncDelay:  time.Hour,
		RetryDelay:   5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, msg)
}

func TestUploadSeedsMirror(t *testing.T) {
	ctx := context.Background()
	h := newTransportHarness(t, "onu-1", fastSyncConfig())

	waitFor(t, "synchronizer never reached in-sync", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	attrs, err := h.db.QueryInstance(ctx, "onu-1", 256, 0)
	require.NoError(t, err)
	assert.Equal(t, "SIM00000001", attrs["serial_number"])
	// the ont-data row carries the counter, it is never mirrored as an instance
	_, err = h.db.QueryInstance(ctx, "onu-1", me.OntDataClassID, 0)
	assert.ErrorIs(t, err, mibdb.ErrInstanceNotFound)

	mirrorMds, err := h.db.GetMibDataSync(ctx, "onu-1")
	require.NoError(t, err)
	deviceMds, err := h.transport.MibDataSync("onu-1")
	require.NoError(t, err)
	assert.Equal(t, deviceMds, mirrorMds)
}

func TestDriftIsAdoptedOnAudit(t *testing.T) {
	ctx := context.Background()
	cfg := fastSyncConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newTransportHarness(t, "onu-2", cfg)

	waitFor(t, "synchronizer never reached in-sync", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	// the device grows an instance behind the core's back
	require.NoError(t, h.transport.Drift("onu-2", 268, 1025, me.AttributeMap{"port_id": "1025"}))

	waitFor(t, "drifted instance never adopted", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-2", 268, 1025)
		return err == nil && attrs["port_id"] == "1025"
	})
	waitFor(t, "synchronizer never settled after drift", func() bool {
		return h.sync.State() == mibsync.InSync
	})
}

func TestAVCLeavesCountersAligned(t *testing.T) {
	ctx := context.Background()
	cfg := fastSyncConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newTransportHarness(t, "onu-3", cfg)

	waitFor(t, "synchronizer never reached in-sync", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	require.NoError(t, h.transport.NotifyAVC(ctx, "onu-3", 256, 0, me.AttributeMap{"version": "go-simulators-2"}))

	waitFor(t, "avc never mirrored", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-3", 256, 0)
		return err == nil && attrs["version"] == "go-simulators-2"
	})
	deviceMds, err := h.transport.MibDataSync("onu-3")
	require.NoError(t, err)
	assert.Zero(t, deviceMds)
	mirrorMds, err := h.db.GetMibDataSync(ctx, "onu-3")
	require.NoError(t, err)
	assert.Zero(t, mirrorMds)
	waitFor(t, "synchronizer never settled after avc", func() bool {
		return h.sync.State() == mibsync.InSync
	})
}

func TestConfigurationMovesBothCounters(t *testing.T) {
	ctx := context.Background()
	cfg := fastSyncConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newTransportHarness(t, "onu-4", cfg)

	waitFor(t, "synchronizer never reached in-sync", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	require.NoError(t, h.transport.CreateInstance(ctx, "onu-4", 266, 1, me.AttributeMap{"alloc_id": "1024"}))

	waitFor(t, "created instance never mirrored", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-4", 266, 1)
		return err == nil && attrs["alloc_id"] == "1024"
	})
	waitFor(t, "counters never moved together", func() bool {
		deviceMds, err := h.transport.MibDataSync("onu-4")
		if err != nil {
			return false
		}
		mirrorMds, err := h.db.GetMibDataSync(ctx, "onu-4")
		return err == nil && deviceMds == 1 && mirrorMds == 1
	})
	waitFor(t, "synchronizer never settled after create", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	require.NoError(t, h.transport.SetAttributes(ctx, "onu-4", 266, 1, me.AttributeMap{"tp_pointer": "257"}))
	waitFor(t, "set never mirrored", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-4", 266, 1)
		return err == nil && attrs["tp_pointer"] == "257"
	})

	require.NoError(t, h.transport.DeleteInstance(ctx, "onu-4", 266, 1))
	waitFor(t, "delete never mirrored", func() bool {
		_, err := h.db.QueryInstance(ctx, "onu-4", 266, 1)
		return err != nil
	})
	waitFor(t, "counters never converged after delete", func() bool {
		deviceMds, err := h.transport.MibDataSync("onu-4")
		if err != nil {
			return false
		}
		mirrorMds, err := h.db.GetMibDataSync(ctx, "onu-4")
		return err == nil && deviceMds == 3 && mirrorMds == 3
	})
}

func TestResyncReportsDifferences(t *testing.T) {
	ctx := context.Background()
	bus := event.NewBus()
	db := mibdb.New(nil)
	transport := NewTransport(bus, db)
	transport.AddOnu("onu-5", "SIM00000005")

	local := map[me.ClassID]map[me.EntityID]me.AttributeMap{
		256: {0: {"vendor_id": "SIM", "version": "stale"}},
		266: {1: {"alloc_id": "1024"}},
	}
	diffs, err := transport.Resync(ctx, "onu-5", local)
	require.NoError(t, err)

	// 266/1 exists only locally
	require.Len(t, diffs.CoreOnly, 1)
	assert.Equal(t, mibsync.InstanceRef{ClassID: 266, EntityID: 1}, diffs.CoreOnly[0])
	// the baseline instances the local snapshot does not carry
	assert.Len(t, diffs.DeviceOnly, 3)
	// the version attribute disagrees
	require.Len(t, diffs.Attributes, 1)
	assert.Equal(t, "version", diffs.Attributes[0].Name)

	_, err = transport.Resync(ctx, "no-such-onu", nil)
	assert.Error(t, err)
}

func TestDropInstanceFoundByResync(t *testing.T) {
	ctx := context.Background()
	cfg := fastSyncConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newTransportHarness(t, "onu-6", cfg)

	waitFor(t, "synchronizer never reached in-sync", func() bool {
		return h.sync.State() == mibsync.InSync
	})

	// the device loses its ani-g; reconcile recreates it from the mirror
	require.NoError(t, h.transport.DropInstance("onu-6", 263, 32769))
	waitFor(t, "dropped instance never recreated", func() bool {
		attrs, err := h.transport.GetRequest(ctx, "onu-6", 263, 32769, []string{"sr_indication"})
		return err == nil && attrs["sr_indication"] == "1"
	})
}
