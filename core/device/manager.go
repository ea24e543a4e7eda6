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

package device

import (
	"context"

	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
)

// Manager is the southbound contract the logical agent needs from the
// physical device layer.  The adapter-facing implementation lives with the
// device handlers; tests provide fakes.
type Manager interface {
	GetDevice(ctx context.Context, deviceID string) (*voltha.Device, error)
	ListDevicePorts(ctx context.Context, deviceID string) (map[uint32]*voltha.Port, error)

	// GetDeviceVlan returns the access vlan provisioned for a leaf device,
	// used when generating its default rules.
	GetDeviceVlan(ctx context.Context, deviceID string) (uint32, error)

	AddFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error
	DeleteFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error
	UpdateFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error

	// DeleteParentFlows removes the flows anchored on the given UNI from the
	// parent device.  Used when no route exists anymore, e.g. after a child
	// device has been deleted.
	DeleteParentFlows(ctx context.Context, deviceID string, uniPort uint32) error

	PacketOut(ctx context.Context, deviceID string, egressPortNo uint32, packet *ofp.OfpPacketOut) error
}

// EventSender is the northbound contract for controller-facing
// notifications.  The kafka client implements it.
type EventSender interface {
	SendChangeEvent(ctx context.Context, logicalDeviceID string, reason ofp.OfpPortReason, desc *ofp.OfpPort)
	SendFlowRemoved(ctx context.Context, logicalDeviceID string, flow *ofp.OfpFlowStats)
	SendPacketIn(ctx context.Context, logicalDeviceID string, packet *ofp.OfpPacketIn)
}
