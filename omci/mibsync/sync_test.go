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

package mibsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu          sync.Mutex
	db          *mibdb.Database
	bus         *event.Bus
	deviceMds   uint32
	uploadRows  []event.MibUploadNextResponse
	uploadErrs  []error
	uploadGate  chan struct{}
	uploads     int
	mdsGets     int
	resyncs     int
	diffs       *ResyncDiffs
	resyncErr   error
	setByCreate map[me.ClassID][]string
	getAttrs    me.AttributeMap
	created     []InstanceRef
	deleted     []InstanceRef
	setCalls    []InstanceRef
	gets        []InstanceRef
}

func (f *fakeTransport) UploadMib(ctx context.Context, deviceID string) error {
	f.mu.Lock()
	f.uploads++
	var err error
	if len(f.uploadErrs) > 0 {
		err, f.uploadErrs = f.uploadErrs[0], f.uploadErrs[1:]
	}
	rows := f.uploadRows
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, row := range rows {
		f.bus.Publish(ctx, event.Message{
			Topic:    event.Topic{DeviceID: deviceID, Type: event.MibUploadNext},
			Response: row,
		})
	}
	// wait for the rows to land so the upload only reports success once the
	// mirror holds them, like a real upload exchange would
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.rowsLanded(ctx, deviceID, rows) {
			f.mu.Lock()
			gate := f.uploadGate
			f.mu.Unlock()
			if gate != nil {
				<-gate
			}
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return errors.New("upload rows never landed")
}

func (f *fakeTransport) rowsLanded(ctx context.Context, deviceID string, rows []event.MibUploadNextResponse) bool {
	for _, row := range rows {
		if row.ClassID == me.OntDataClassID {
			continue
		}
		if _, err := f.db.QueryInstance(ctx, deviceID, row.ClassID, row.EntityID); err != nil {
			return false
		}
	}
	return true
}

func (f *fakeTransport) GetMibDataSync(ctx context.Context, deviceID string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mdsGets++
	return f.deviceMds, nil
}

func (f *fakeTransport) setDeviceMds(value uint32) {
	f.mu.Lock()
	f.deviceMds = value
	f.mu.Unlock()
}

func (f *fakeTransport) Resync(ctx context.Context, deviceID string, local map[me.ClassID]map[me.EntityID]me.AttributeMap) (*ResyncDiffs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	if f.resyncErr != nil {
		return nil, f.resyncErr
	}
	if f.diffs == nil {
		return &ResyncDiffs{}, nil
	}
	return f.diffs, nil
}

func (f *fakeTransport) GetRequest(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, names []string) (me.AttributeMap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, InstanceRef{ClassID: classID, EntityID: entityID})
	out := make(me.AttributeMap, len(names))
	for _, name := range names {
		if v, ok := f.getAttrs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (f *fakeTransport) CreateInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, InstanceRef{ClassID: classID, EntityID: entityID})
	return nil
}

func (f *fakeTransport) DeleteInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, InstanceRef{ClassID: classID, EntityID: entityID})
	return nil
}

func (f *fakeTransport) SetAttributes(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls = append(f.setCalls, InstanceRef{ClassID: classID, EntityID: entityID})
	return nil
}

func (f *fakeTransport) SetByCreateAttributes(classID me.ClassID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setByCreate[classID]
}

func (f *fakeTransport) createdRefs() []InstanceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InstanceRef(nil), f.created...)
}

func (f *fakeTransport) getRefs() []InstanceRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InstanceRef(nil), f.gets...)
}

func (f *fakeTransport) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *fakeTransport) mdsGetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mdsGets
}

func (f *fakeTransport) resyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

type syncHarness struct {
	db        *mibdb.Database
	bus       *event.Bus
	runner    *task.Runner
	transport *fakeTransport
	sync      *Synchronizer
}

func newHarness(t *testing.T, deviceID string, cfg Config) *syncHarness {
	ctx := context.Background()
	db := mibdb.New(nil)
	bus := event.NewBus()
	runner := task.NewRunner(ctx, deviceID)
	t.Cleanup(func() { runner.Stop(ctx) })
	transport := &fakeTransport{db: db, bus: bus}
	return &syncHarness{
		db:        db,
		bus:       bus,
		runner:    runner,
		transport: transport,
		sync:      New(deviceID, db, bus, runner, transport, cfg),
	}
}

func (h *syncHarness) publish(t *testing.T, deviceID string, typ event.Type, req, resp interface{}) {
	h.bus.Publish(context.Background(), event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: typ},
		Request:  req,
		Response: resp,
	})
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.FailNow(t, msg)
}

func waitForState(t *testing.T, s *Synchronizer, state State) {
	t.Helper()
	waitFor(t, 2*time.Second, "state never reached "+state.String(), func() bool {
		return s.State() == state
	})
}

func fastConfig() Config {
	return Config{
		TimeoutDelay: 5 * time.Millisecond,
		AuditDelay:   0,
		ResyncDelay:  time.Hour,
		RetryDelay:   5 * time.Millisecond,
	}
}

func TestStopAlwaysValid(t *testing.T) {
	states := []State{Disabled, Starting, Uploading, ExaminingMds, InSync, OutOfSync, Auditing, Resynchronizing}
	for _, state := range states {
		to, ok := nextState(state, TriggerStop)
		assert.True(t, ok, state.String())
		assert.Equal(t, Disabled, to, state.String())
	}
}

func TestInvalidTriggersRejected(t *testing.T) {
	_, ok := nextState(Disabled, TriggerSuccess)
	assert.False(t, ok)
	_, ok = nextState(InSync, TriggerUploadMib)
	assert.False(t, ok)
	_, ok = nextState(Uploading, TriggerMismatch)
	assert.False(t, ok)
	_, ok = nextState(InSync, TriggerForceResync)
	assert.False(t, ok)
}

func TestNewDeviceUploadsFullMib(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-1", fastConfig())
	h.transport.uploadRows = []event.MibUploadNextResponse{
		{ClassID: 256, EntityID: 0, Attributes: me.AttributeMap{"vendor_id": "BRCM"}},
		{ClassID: 6, EntityID: 257, Attributes: me.AttributeMap{"type": "pptp"}},
		{ClassID: me.OntDataClassID, EntityID: 0, Attributes: me.AttributeMap{"mib_data_sync": "0"}},
	}

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	assert.Equal(t, 1, h.transport.uploadCount())
	attrs, err := h.db.QueryInstance(ctx, "onu-1", 256, 0)
	require.NoError(t, err)
	assert.Equal(t, "BRCM", attrs["vendor_id"])
	// the ONT data row is never mirrored
	_, err = h.db.QueryInstance(ctx, "onu-1", me.OntDataClassID, 0)
	assert.ErrorIs(t, err, mibdb.ErrInstanceNotFound)
	assert.False(t, h.sync.LastSyncTime().IsZero())
}

func TestKnownDeviceSkipsUploadWhenCountersMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-2", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-2"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-2", 7))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-2", time.Now().Add(-time.Minute)))
	h.transport.setDeviceMds(7)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	assert.Equal(t, 0, h.transport.uploadCount())
}

func TestKnownDeviceUploadsOnCounterMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-3", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-3"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-3", 7))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-3", time.Now().Add(-time.Minute)))
	h.transport.setDeviceMds(9)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	assert.Equal(t, 1, h.transport.uploadCount())
}

func TestUploadFailureRetriesFromStarting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-4", fastConfig())
	h.transport.uploadErrs = []error{errors.New("omci timeout")}

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	assert.Equal(t, 2, h.transport.uploadCount())
}

func TestAuditMismatchResynchronizesAndReconciles(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newHarness(t, "onu-5", cfg)
	require.NoError(t, h.db.Add(ctx, "onu-5"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-5", 5))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-5", time.Now()))
	_, err := h.db.Set(ctx, "onu-5", 266, 1, me.AttributeMap{"alloc_id": "1024"})
	require.NoError(t, err)
	h.transport.setDeviceMds(5)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	// the device drifts: its counter moves and it lost an instance
	h.transport.mu.Lock()
	h.transport.diffs = &ResyncDiffs{CoreOnly: []InstanceRef{{ClassID: 266, EntityID: 1}}}
	h.transport.mu.Unlock()
	h.transport.setDeviceMds(6)

	waitFor(t, 2*time.Second, "reconcile never recreated the instance", func() bool {
		refs := h.transport.createdRefs()
		return len(refs) > 0 && refs[0] == InstanceRef{ClassID: 266, EntityID: 1}
	})

	// drift repaired, audits converge again
	h.transport.mu.Lock()
	h.transport.diffs = nil
	h.transport.mu.Unlock()
	h.transport.setDeviceMds(5)
	waitForState(t, h.sync, InSync)
}

func TestResyncAdoptsDeviceOnlyInstances(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newHarness(t, "onu-6", cfg)
	require.NoError(t, h.db.Add(ctx, "onu-6"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-6", 3))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-6", time.Now()))
	h.transport.setDeviceMds(3)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.transport.mu.Lock()
	h.transport.diffs = &ResyncDiffs{DeviceOnly: []InstanceSnapshot{{
		InstanceRef: InstanceRef{ClassID: 84, EntityID: 10},
		Attributes:  me.AttributeMap{"tp_pointer": "257"},
	}}}
	h.transport.mu.Unlock()
	h.transport.setDeviceMds(4)

	waitFor(t, 2*time.Second, "device-only instance never adopted", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-6", 84, 10)
		return err == nil && attrs["tp_pointer"] == "257"
	})
}

func TestCreateResponseIncrementsSyncCounter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-7", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-7"))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-7", time.Now()))
	h.transport.setDeviceMds(0)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.publish(t, "onu-7", event.Create,
		event.CreateRequest{ClassID: 45, EntityID: 1, Attributes: me.AttributeMap{"max_age": "20"}},
		event.CreateResponse{ClassID: 45, EntityID: 1, Status: me.Success})
	waitFor(t, 2*time.Second, "create never applied", func() bool {
		mds, err := h.db.GetMibDataSync(ctx, "onu-7")
		return err == nil && mds == 1
	})

	// replaying the same create changes nothing, the counter stays put
	h.publish(t, "onu-7", event.Create,
		event.CreateRequest{ClassID: 45, EntityID: 1, Attributes: me.AttributeMap{"max_age": "20"}},
		event.CreateResponse{ClassID: 45, EntityID: 1, Status: me.Success})
	time.Sleep(20 * time.Millisecond)
	mds, err := h.db.GetMibDataSync(ctx, "onu-7")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mds)

	h.publish(t, "onu-7", event.Delete,
		event.DeleteRequest{ClassID: 45, EntityID: 1},
		event.DeleteResponse{ClassID: 45, EntityID: 1, Status: me.Success})
	waitFor(t, 2*time.Second, "delete never applied", func() bool {
		mds, err := h.db.GetMibDataSync(ctx, "onu-7")
		return err == nil && mds == 2
	})

	// deleting an absent instance is a no-op
	h.publish(t, "onu-7", event.Delete,
		event.DeleteRequest{ClassID: 45, EntityID: 1},
		event.DeleteResponse{ClassID: 45, EntityID: 1, Status: me.Success})
	time.Sleep(20 * time.Millisecond)
	mds, err = h.db.GetMibDataSync(ctx, "onu-7")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), mds)
}

func TestInstanceExistsTreatedAsSuccess(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-8", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-8"))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-8", time.Now()))

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.publish(t, "onu-8", event.Create,
		event.CreateRequest{ClassID: 47, EntityID: 2, Attributes: me.AttributeMap{"bridge_id": "1"}},
		event.CreateResponse{ClassID: 47, EntityID: 2, Status: me.InstanceExists})
	waitFor(t, 2*time.Second, "instance-exists create never applied", func() bool {
		_, err := h.db.QueryInstance(ctx, "onu-8", 47, 2)
		return err == nil
	})
	mds, err := h.db.GetMibDataSync(ctx, "onu-8")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mds)
}

func TestSyncCounterWrapsAt256(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-9", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-9"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-9", 255))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-9", time.Now()))
	h.transport.setDeviceMds(255)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.publish(t, "onu-9", event.Set,
		event.SetRequest{ClassID: 131, EntityID: 0, Attributes: me.AttributeMap{"admin_state": "0"}},
		event.SetResponse{ClassID: 131, EntityID: 0, Status: me.Success})
	waitFor(t, 2*time.Second, "counter never wrapped", func() bool {
		mds, err := h.db.GetMibDataSync(ctx, "onu-9")
		return err == nil && mds == 0
	})
}

func TestAVCNeverTouchesSyncCounter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-10", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-10"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-10", 12))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-10", time.Now()))
	_, err := h.db.Set(ctx, "onu-10", 263, 0, me.AttributeMap{"arc": "0"})
	require.NoError(t, err)
	h.transport.setDeviceMds(12)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.publish(t, "onu-10", event.AVCNotification, nil,
		event.AVCNotice{ClassID: 263, EntityID: 0, Attributes: me.AttributeMap{"arc": "1"}})
	waitFor(t, 2*time.Second, "avc never applied", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-10", 263, 0)
		return err == nil && attrs["arc"] == "1"
	})
	mds, err := h.db.GetMibDataSync(ctx, "onu-10")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), mds)

	// an AVC for an instance the mirror does not hold is dropped, not created
	h.publish(t, "onu-10", event.AVCNotification, nil,
		event.AVCNotice{ClassID: 263, EntityID: 99, Attributes: me.AttributeMap{"arc": "1"}})
	time.Sleep(20 * time.Millisecond)
	_, err = h.db.QueryInstance(ctx, "onu-10", 263, 99)
	assert.ErrorIs(t, err, mibdb.ErrInstanceNotFound)
}

func TestCreateFetchesUnsuppliedWritableAttributes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-11", fastConfig())
	require.NoError(t, h.db.Add(ctx, "onu-11"))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-11", time.Now()))
	h.transport.setByCreate = map[me.ClassID][]string{
		130: {"tp_pointer", "interwork_tp_pointer"},
	}
	h.transport.getAttrs = me.AttributeMap{"interwork_tp_pointer": "65535"}

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	h.publish(t, "onu-11", event.Create,
		event.CreateRequest{ClassID: 130, EntityID: 1, Attributes: me.AttributeMap{"tp_pointer": "257"}},
		event.CreateResponse{ClassID: 130, EntityID: 1, Status: me.Success})
	waitFor(t, 2*time.Second, "follow-up get never merged", func() bool {
		attrs, err := h.db.QueryInstance(ctx, "onu-11", 130, 1)
		return err == nil && attrs["interwork_tp_pointer"] == "65535"
	})
	require.Len(t, h.transport.getRefs(), 1)
	// the follow-up get refreshes the mirror without advancing the counter
	mds, err := h.db.GetMibDataSync(ctx, "onu-11")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mds)
}

func TestMibResetClearsMirror(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-12", fastConfig())
	h.transport.uploadRows = []event.MibUploadNextResponse{
		{ClassID: 256, EntityID: 0, Attributes: me.AttributeMap{"vendor_id": "BRCM"}},
	}
	require.NoError(t, h.db.Add(ctx, "onu-12"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-12", 44))
	_, err := h.db.Set(ctx, "onu-12", 6, 257, me.AttributeMap{"type": "pptp"})
	require.NoError(t, err)

	gate := make(chan struct{})
	h.transport.uploadGate = gate

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)

	// the upload is held open on the gate; deliver the reset while it is
	// still in progress
	waitForState(t, h.sync, Uploading)
	h.publish(t, "onu-12", event.MibReset, nil, event.MibResetResponse{Status: me.Success})
	waitFor(t, 2*time.Second, "reset never zeroed the counter", func() bool {
		mds, err := h.db.GetMibDataSync(ctx, "onu-12")
		return err == nil && mds == 0
	})
	_, err = h.db.QueryInstance(ctx, "onu-12", 6, 257)
	assert.ErrorIs(t, err, mibdb.ErrInstanceNotFound)

	close(gate)
	waitForState(t, h.sync, InSync)
}

func TestStopFromInSyncAndRestart(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newHarness(t, "onu-13", cfg)

	require.NoError(t, h.sync.Start(ctx))
	waitForState(t, h.sync, InSync)
	h.sync.Stop(ctx)
	assert.Equal(t, Disabled, h.sync.State())

	// a stopped synchronizer is restartable and the device now counts as known
	require.NoError(t, h.sync.Start(ctx))
	waitForState(t, h.sync, InSync)
	h.sync.Stop(ctx)
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-14", fastConfig())
	require.NoError(t, h.sync.Start(ctx))
	waitForState(t, h.sync, InSync)
	h.sync.Stop(ctx)
	h.sync.Stop(ctx)
	assert.Equal(t, Disabled, h.sync.State())
}

func TestForceResyncRequiresRunning(t *testing.T) {
	h := newHarness(t, "onu-15", fastConfig())
	assert.Error(t, h.sync.ForceResync(context.Background()))
}

func TestSyncStatusPublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "onu-16", fastConfig())
	statusCh := h.bus.Subscribe(event.Topic{DeviceID: "onu-16", Type: event.InSync})
	defer h.bus.Unsubscribe(event.Topic{DeviceID: "onu-16", Type: event.InSync}, statusCh)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)

	var sawOutOfSync, sawInSync bool
	deadline := time.After(2 * time.Second)
	for !sawInSync {
		select {
		case msg := <-statusCh:
			notice := msg.Response.(event.InSyncNotice)
			if notice.InSync {
				assert.NotZero(t, notice.LastSyncTime)
				sawInSync = true
			} else {
				sawOutOfSync = true
			}
		case <-deadline:
			require.FailNow(t, "sync status events never arrived")
		}
	}
	assert.True(t, sawOutOfSync)
}

func TestAuditMismatchPublishesOutOfSync(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	h := newHarness(t, "onu-17", cfg)
	require.NoError(t, h.db.Add(ctx, "onu-17"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-17", 5))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-17", time.Now()))
	h.transport.setDeviceMds(5)
	statusCh := h.bus.Subscribe(event.Topic{DeviceID: "onu-17", Type: event.InSync})
	defer h.bus.Unsubscribe(event.Topic{DeviceID: "onu-17", Type: event.InSync}, statusCh)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	// the device counter drifts but the row-by-row comparison comes back
	// clean; the mismatch itself must still be reported
	h.transport.setDeviceMds(6)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-statusCh:
			notice := msg.Response.(event.InSyncNotice)
			if !notice.InSync {
				return
			}
		case <-deadline:
			require.FailNow(t, "audit mismatch never published an out-of-sync notice")
		}
	}
}

func TestStaleLastSyncSkipsAuditAndForcesResync(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.AuditDelay = 5 * time.Millisecond
	cfg.ResyncDelay = time.Millisecond
	h := newHarness(t, "onu-18", cfg)
	require.NoError(t, h.db.Add(ctx, "onu-18"))
	require.NoError(t, h.db.SaveMibDataSync(ctx, "onu-18", 5))
	require.NoError(t, h.db.SaveLastSync(ctx, "onu-18", time.Now()))
	h.transport.setDeviceMds(5)

	require.NoError(t, h.sync.Start(ctx))
	defer h.sync.Stop(ctx)
	waitForState(t, h.sync, InSync)

	// every audit now finds last_sync older than the resync delay and must
	// escalate straight to a resynchronization without reading the counter
	base := h.transport.mdsGetCount()
	waitFor(t, 2*time.Second, "stale audit never escalated to a resync", func() bool {
		return h.transport.resyncCount() >= 2
	})
	assert.Equal(t, base, h.transport.mdsGetCount())
}
