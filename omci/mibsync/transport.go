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

	"github.com/opencord/pon-core/omci/me"
)

// InstanceRef identifies one managed-entity instance
type InstanceRef struct {
	ClassID  me.ClassID
	EntityID me.EntityID
}

// InstanceSnapshot is an instance together with its attribute values
type InstanceSnapshot struct {
	InstanceRef
	Attributes me.AttributeMap
}

// AttrDiff names one attribute whose value differs between the local
// database and the device
type AttrDiff struct {
	InstanceRef
	Name string
}

// ResyncDiffs is the outcome of a row-by-row comparison of the local
// database against the device's MIB
type ResyncDiffs struct {
	// CoreOnly lists instances present in the local database but absent
	// from the device
	CoreOnly []InstanceRef
	// DeviceOnly lists instances present on the device but absent from
	// the local database
	DeviceOnly []InstanceSnapshot
	// Attributes lists attributes whose values disagree
	Attributes []AttrDiff
}

// Empty reports whether the comparison found no differences
func (d *ResyncDiffs) Empty() bool {
	return d == nil || (len(d.CoreOnly) == 0 && len(d.DeviceOnly) == 0 && len(d.Attributes) == 0)
}

// Transport is the OMCI channel a synchronizer drives its device through.
// Implementations own the message encoding and the per-vendor managed-entity
// schema; the synchronizer only sees decoded results.
type Transport interface {
	// UploadMib triggers a full MIB upload.  The uploaded rows arrive as
	// mib-upload-next events on the bus; the call returns once the device
	// has acknowledged the final segment.
	UploadMib(ctx context.Context, deviceID string) error

	// GetMibDataSync reads the device's MIB data sync counter
	GetMibDataSync(ctx context.Context, deviceID string) (uint32, error)

	// Resync compares the device's MIB row by row against the given local
	// snapshot and returns the differences
	Resync(ctx context.Context, deviceID string, local map[me.ClassID]map[me.EntityID]me.AttributeMap) (*ResyncDiffs, error)

	// GetRequest fetches the named attributes of one instance
	GetRequest(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, names []string) (me.AttributeMap, error)

	// CreateInstance creates an instance on the device
	CreateInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error

	// DeleteInstance deletes an instance from the device
	DeleteInstance(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID) error

	// SetAttributes writes attribute values on the device
	SetAttributes(ctx context.Context, deviceID string, classID me.ClassID, entityID me.EntityID, attrs me.AttributeMap) error

	// SetByCreateAttributes lists the attribute names of a class that are
	// set-by-create or writable, per the schema the transport encodes with
	SetByCreateAttributes(classID me.ClassID) []string
}
