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

// Package event provides the in-process OMCI event bus.  Topics are typed
// values rather than free-form strings so that a bad subscription fails to
// compile instead of silently never matching.
package event

import (
	"fmt"

	"github.com/opencord/pon-core/omci/me"
)

// Type enumerates the OMCI event kinds carried on the bus
type Type int

const (
	MibReset Type = iota
	AVCNotification
	MibUpload
	MibUploadNext
	Create
	Delete
	Set
	Capabilities
	DeviceStatus
	InSync
)

func (t Type) String() string {
	switch t {
	case MibReset:
		return "mib-reset"
	case AVCNotification:
		return "avc-notification"
	case MibUpload:
		return "mib-upload"
	case MibUploadNext:
		return "mib-upload-next"
	case Create:
		return "create"
	case Delete:
		return "delete"
	case Set:
		return "set"
	case Capabilities:
		return "capabilities"
	case DeviceStatus:
		return "device-status"
	case InSync:
		return "in-sync"
	}
	return "unknown"
}

// RxTypes lists the receive-event kinds a synchronizer subscribes to while active
var RxTypes = []Type{MibReset, AVCNotification, MibUpload, MibUploadNext, Create, Delete, Set}

// Topic identifies a per-device, per-event-type subscription
type Topic struct {
	DeviceID string
	Type     Type
}

func (t Topic) String() string {
	return fmt.Sprintf("omci-device:%s:%s", t.DeviceID, t.Type)
}

// Message is the envelope published on a topic.  Request carries the original
// tx request when the event is a response to one; Response carries the typed
// rx payload.
type Message struct {
	Topic    Topic
	Request  interface{}
	Response interface{}
}

// CreateRequest is the tx side of a create response event
type CreateRequest struct {
	ClassID    me.ClassID
	EntityID   me.EntityID
	Attributes me.AttributeMap
}

// DeleteRequest is the tx side of a delete response event
type DeleteRequest struct {
	ClassID  me.ClassID
	EntityID me.EntityID
}

// SetRequest is the tx side of a set response event
type SetRequest struct {
	ClassID    me.ClassID
	EntityID   me.EntityID
	Attributes me.AttributeMap
}

// CreateResponse reports the outcome of a create request
type CreateResponse struct {
	ClassID  me.ClassID
	EntityID me.EntityID
	Status   me.ResponseStatus
}

// DeleteResponse reports the outcome of a delete request
type DeleteResponse struct {
	ClassID  me.ClassID
	EntityID me.EntityID
	Status   me.ResponseStatus
}

// SetResponse reports the outcome of a set request
type SetResponse struct {
	ClassID  me.ClassID
	EntityID me.EntityID
	Status   me.ResponseStatus
}

// MibResetResponse reports the outcome of a mib reset request
type MibResetResponse struct {
	Status me.ResponseStatus
}

// MibUploadResponse reports the number of upload-next segments to follow
type MibUploadResponse struct {
	SegmentCount uint16
}

// MibUploadNextResponse carries one managed-entity row of a mib upload
type MibUploadNextResponse struct {
	ClassID    me.ClassID
	EntityID   me.EntityID
	Attributes me.AttributeMap
}

// AVCNotice is an autonomous attribute-value-change notification
type AVCNotice struct {
	ClassID    me.ClassID
	EntityID   me.EntityID
	Attributes me.AttributeMap
}

// CapabilitiesNotice reports the device's supported entities and message types
type CapabilitiesNotice struct {
	SupportedClasses      []me.ClassID
	SupportedMessageTypes []uint8
}

// DeviceStatusNotice reports a device transport status change
type DeviceStatusNotice struct {
	Reachable bool
}

// InSyncNotice reports a synchronizer sync-status change
type InSyncNotice struct {
	InSync       bool
	LastSyncTime int64
}
