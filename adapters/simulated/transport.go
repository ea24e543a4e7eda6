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
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opencord/pon-core/omci/event"
	"github.com/opencord/pon-core/omci/me"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/pon-core/omci/mibsync"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
)

// uploadMirrorTimeout bounds how long an upload waits for its rows to appear
// in the mirror before reporting failure
const uploadMirrorTimeout = 10 * time.Second

// setByCreateAttrs is the simulated managed-entity schema: per class, the
// attributes a create may carry
var setByCreateAttrs = map[me.ClassID][]string{
	266: {"alloc_id", "tp_pointer"},
	268: {"port_id", "tcont_pointer"},
}

// onuMib is the MIB a simulated ONU holds on its side of the channel
type onuMib struct {
	mds       uint32
	instances map[me.ClassID]map[me.EntityID]me.AttributeMap
}

// Transport is a simulated OMCI channel.  Each ONU added to it owns an
// in-memory MIB; requests mutate that MIB and the matching response events
// are published on the bus, so the synchronizer sees the same exchange a
// real channel would carry.
type Transport struct {
	bus    *event.Bus
	mirror *mibdb.Database

	lock    sync.Mutex
	devices map[string]*onuMib
}

// NewTransport creates an empty simulated channel.  The mirror is observed
// to decide when uploaded rows have landed, standing in for the final
// upload-next acknowledgement of a real exchange.
func NewTransport(bus *event.Bus, mirror *mibdb.Database) *Transport {
	return &Transport{
		bus:     bus,
		mirror:  mirror,
		devices: make(map[string]*onuMib),
	}
}

// AddOnu attaches an ONU with a freshly booted baseline MIB and a zero
// data-sync counter
func (t *Transport) AddOnu(deviceID, serialNumber string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.devices[deviceID] = &onuMib{
		instances: map[me.ClassID]map[me.EntityID]me.AttributeMap{
			256: {0: {"vendor_id": "SIM", "version": "go-simulators", "serial_number": serialNumber}},
			257: {0: {"equipment_id": "simulated_onu", "omcc_version": "163"}},
			263: {32769: {"sr_indication": "1", "total_tcont_number": "8"}},
			264: {257: {"administrative_state": "0"}},
		},
	}
}

func (t *Transport) onu(deviceID string) (*onuMib, error) {
	mib, ok := t.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("unknown simulated onu %s", deviceID)
	}
	return mib, nil
}

// UploadMib publishes the ONU's full MIB as upload-next events and returns
// once the rows are visible in the mirror
func (t *Transport) UploadMib(ctx context.Context, deviceID string) error {
	t.lock.Lock()
	mib, err := t.onu(deviceID)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	rows := make([]event.MibUploadNextResponse, 0, 8)
	for classID, instances := range mib.instances {
		for entityID, attrs := range instances {
			rows = append(rows, event.MibUploadNextResponse{ClassID: classID, EntityID: entityID, Attributes: attrs.Copy()})
		}
	}
	rows = append(rows, event.MibUploadNextResponse{
		ClassID:    me.OntDataClassID,
		EntityID:   0,
		Attributes: me.AttributeMap{"mib_data_sync": strconv.FormatUint(uint64(mib.mds), 10)},
	})
	t.lock.Unlock()

	logger.Infow(ctx, "mib-upload", log.Fields{"device-id": deviceID, "rows": len(rows)})
	t.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: event.MibUpload},
		Response: event.MibUploadResponse{SegmentCount: uint16(len(rows))},
	})
	for _, row := range rows {
		t.bus.Publish(ctx, event.Message{
			Topic:    event.Topic{DeviceID: deviceID, Type: event.MibUploadNext},
			Response: row,
		})
	}

	deadline := time.Now().Add(uploadMirrorTimeout)
	for {
		if t.rowsMirrored(ctx, deviceID, rows) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("upload rows not mirrored for %s", deviceID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (t *Transport) rowsMirrored(ctx context.Context, deviceID string, rows []event.MibUploadNextResponse) bool {
	for _, row := range rows {
		if row.ClassID == me.OntDataClassID {
			continue
		}
		if _, err := t.mirror.QueryInstance(ctx, deviceID, row.ClassID, row.EntityID); err != nil {
			return false
		}
	}
	return true
}

// GetMibDataSync reads the ONU's data-sync counter
func (t *Transport) GetMibDataSync(ctx context.Context, deviceID string) (uint32, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return 0, err
	}
	return mib.mds, nil
}

// Resync compares the ONU's MIB row by row against the local snapshot
func (t *Transport) Resync(ctx context.Context, deviceID string, local map[me.ClassID]map[me.EntityID]me.AttributeMap) (*mibsync.ResyncDiffs, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return nil, err
	}

	diffs := &mibsync.ResyncDiffs{}
	for classID, instances := range local {
		for entityID, localAttrs := range instances {
			deviceAttrs, ok := mib.instances[classID][entityID]
			if !ok {
				diffs.CoreOnly = append(diffs.CoreOnly, mibsync.InstanceRef{ClassID: classID, EntityID: entityID})
				continue
			}
			for name, localValue := range localAttrs {
				if deviceValue, have := deviceAttrs[name]; !have || deviceValue != localValue {
					diffs.Attributes = append(diffs.Attributes, mibsync.AttrDiff{
						InstanceRef: mibsync.InstanceRef{ClassID: classID, EntityID: entityID},
						Name:        name,
					})
				}
			}
		}
	}
	for classID, instances := range mib.instances {
		for entityID, deviceAttrs := range instances {
			if _, ok := local[classID][entityID]; !ok {
				diffs.DeviceOnly = append(diffs.DeviceOnly, mibsync.InstanceSnapshot{
					InstanceRef: mibsync.InstanceRef{ClassID: classID, EntityID: entityID},
					Attributes:  deviceAttrs.Copy(),
				})
			}
		}
	}
	logger.Debugw(ctx, "resync-compared", log.Fields{"device-id": deviceID,
		"core-only": len(diffs.CoreOnly), "device-only": len(diffs.DeviceOnly), "attributes": len(diffs.Attributes)})
	return diffs, nil
}

// GetRequest fetches the named attributes of one instance
func (t *Transport) GetRequest(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, names []string) (me.AttributeMap, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return nil, err
	}
	attrs, ok := mib.instances[classID][entityID]
	if !ok {
		return nil, fmt.Errorf("unknown instance %d/%d on %s", classID, entityID, deviceID)
	}
	out := make(me.AttributeMap, len(names))
	for _, name := range names {
		if value, have := attrs[name]; have {
			out[name] = value
		}
	}
	return out, nil
}

// CreateInstance creates an instance on the ONU and publishes the create
// response.  An instance that already exists is reported as such rather
// than failed, matching the OMCI result code.
func (t *Transport) CreateInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	t.lock.Lock()
	mib, err := t.onu(deviceID)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	response := me.Success
	if _, exists := mib.instances[classID][entityID]; exists {
		response = me.InstanceExists
	} else {
		if mib.instances[classID] == nil {
			mib.instances[classID] = make(map[me.EntityID]me.AttributeMap)
		}
		mib.instances[classID][entityID] = attrs.Copy()
		mib.mds++
	}
	t.lock.Unlock()

	t.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: event.Create},
		Request:  event.CreateRequest{ClassID: classID, EntityID: entityID, Attributes: attrs},
		Response: event.CreateResponse{ClassID: classID, EntityID: entityID, Status: response},
	})
	return nil
}

// DeleteInstance deletes an instance from the ONU and publishes the delete
// response
func (t *Transport) DeleteInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID) error {
	t.lock.Lock()
	mib, err := t.onu(deviceID)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	response := me.UnknownInstance
	if _, exists := mib.instances[classID][entityID]; exists {
		delete(mib.instances[classID], entityID)
		mib.mds++
		response = me.Success
	}
	t.lock.Unlock()

	t.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: event.Delete},
		Request:  event.DeleteRequest{ClassID: classID, EntityID: entityID},
		Response: event.DeleteResponse{ClassID: classID, EntityID: entityID, Status: response},
	})
	return nil
}

// SetAttributes writes attribute values on the ONU and publishes the set
// response
func (t *Transport) SetAttributes(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	t.lock.Lock()
	mib, err := t.onu(deviceID)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	response := me.UnknownInstance
	if existing, exists := mib.instances[classID][entityID]; exists {
		if existing.Merge(attrs) {
			mib.mds++
		}
		response = me.Success
	}
	t.lock.Unlock()

	t.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: event.Set},
		Request:  event.SetRequest{ClassID: classID, EntityID: entityID, Attributes: attrs},
		Response: event.SetResponse{ClassID: classID, EntityID: entityID, Status: response},
	})
	return nil
}

// SetByCreateAttributes lists the create-carried attributes of a class per
// the simulated schema
func (t *Transport) SetByCreateAttributes(classID me.ClassID) []string {
	return setByCreateAttrs[classID]
}

// Drift mutates the ONU's MIB behind the core's back, bumping the data-sync
// counter the way an out-of-band management action would
func (t *Transport) Drift(deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return err
	}
	if mib.instances[classID] == nil {
		mib.instances[classID] = make(map[me.EntityID]me.AttributeMap)
	}
	if existing, exists := mib.instances[classID][entityID]; exists {
		existing.Merge(attrs)
	} else {
		mib.instances[classID][entityID] = attrs.Copy()
	}
	mib.mds++
	return nil
}

// DropInstance removes an instance from the ONU's MIB behind the core's
// back, bumping the data-sync counter
func (t *Transport) DropInstance(deviceID string, classID me.ClassID, entityID me.EntityID) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return err
	}
	if _, exists := mib.instances[classID][entityID]; !exists {
		return fmt.Errorf("unknown instance %d/%d on %s", classID, entityID, deviceID)
	}
	delete(mib.instances[classID], entityID)
	mib.mds++
	return nil
}

// NotifyAVC applies an autonomous attribute change and publishes the AVC
// notification.  The data-sync counter is not touched; both sides move
// together on an AVC.
func (t *Transport) NotifyAVC(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error {
	t.lock.Lock()
	mib, err := t.onu(deviceID)
	if err != nil {
		t.lock.Unlock()
		return err
	}
	if existing, exists := mib.instances[classID][entityID]; exists {
		existing.Merge(attrs)
	}
	t.lock.Unlock()

	t.bus.Publish(ctx, event.Message{
		Topic:    event.Topic{DeviceID: deviceID, Type: event.AVCNotification},
		Response: event.AVCNotice{ClassID: classID, EntityID: entityID, Attributes: attrs},
	})
	return nil
}

// MibDataSync reads the ONU-side data-sync counter, for assertions in tests
// and the admin surface
func (t *Transport) MibDataSync(deviceID string) (uint32, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	mib, err := t.onu(deviceID)
	if err != nil {
		return 0, err
	}
	return mib.mds, nil
}
