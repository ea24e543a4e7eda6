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

	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// listLogicalPorts returns a snapshot of the logical port map
func (agent *LogicalAgent) listLogicalPorts() map[uint32]*voltha.LogicalPort {
	agent.portLock.RLock()
	defer agent.portLock.RUnlock()
	ret := make(map[uint32]*voltha.LogicalPort, len(agent.ports))
	for portNo, port := range agent.ports {
		ret[portNo] = port
	}
	return ret
}

// ListLogicalDevicePorts returns the logical device ports
func (agent *LogicalAgent) ListLogicalDevicePorts(ctx context.Context) *voltha.LogicalPorts {
	ports := agent.listLogicalPorts()
	items := make([]*voltha.LogicalPort, 0, len(ports))
	for _, port := range ports {
		items = append(items, port)
	}
	return &voltha.LogicalPorts{Items: items}
}

// AddLogicalPort adds a logical port and incrementally extends the route
// table with the paths it opens up.  Adding an existing port number is an
// error; use UpdatePortState for state changes.
func (agent *LogicalAgent) AddLogicalPort(ctx context.Context, port *voltha.LogicalPort) error {
	if port == nil || port.OfpPort == nil {
		return status.Error(codes.InvalidArgument, "port-nil")
	}
	portNo := port.OfpPort.PortNo
	logger.Infow(ctx, "adding-logical-port", log.Fields{"logical-device-id": agent.logicalDeviceID, "port-no": portNo, "device-id": port.DeviceId})

	agent.portLock.Lock()
	if _, have := agent.ports[portNo]; have {
		agent.portLock.Unlock()
		return status.Errorf(codes.AlreadyExists, "port-exists:%d", portNo)
	}
	agent.ports[portNo] = port
	agent.portLock.Unlock()

	// Extend the routes with the new port.  Route failures are temporary
	// states, e.g. a UNI added before its PON peer is known.
	go func() {
		if err := agent.updateRoutes(context.Background(), port); err != nil {
			logger.Infow(ctx, "routes-not-ready-after-port-add", log.Fields{"logical-device-id": agent.logicalDeviceID, "port-no": portNo, "error": err})
		}
	}()

	agent.eventSender.SendChangeEvent(ctx, agent.logicalDeviceID, ofp.OfpPortReason_OFPPR_ADD, port.OfpPort)
	return nil
}

// DeleteLogicalPort removes the logical port and invalidates the routes
// through it
func (agent *LogicalAgent) DeleteLogicalPort(ctx context.Context, portNo uint32) error {
	logger.Infow(ctx, "deleting-logical-port", log.Fields{"logical-device-id": agent.logicalDeviceID, "port-no": portNo})

	agent.portLock.Lock()
	port, have := agent.ports[portNo]
	if !have {
		agent.portLock.Unlock()
		logger.Debugw(ctx, "port-not-found", log.Fields{"port-no": portNo})
		return nil
	}
	delete(agent.ports, portNo)
	agent.portLock.Unlock()

	// Reset the routes; they are rebuilt lazily on next access
	go func() {
		if err := agent.buildRoutes(context.Background()); err != nil {
			logger.Warnw(ctx, "routes-not-ready-after-port-delete", log.Fields{"logical-device-id": agent.logicalDeviceID, "error": err})
		}
	}()

	agent.eventSender.SendChangeEvent(ctx, agent.logicalDeviceID, ofp.OfpPortReason_OFPPR_DELETE, port.OfpPort)
	return nil
}

// UpdatePortState updates the operational state of a logical port.  A MODIFY
// change event is emitted only when the port description actually changed.
func (agent *LogicalAgent) UpdatePortState(ctx context.Context, portNo uint32, operStatus voltha.OperStatus_Types) error {
	logger.Infow(ctx, "update-port-state", log.Fields{"logical-device-id": agent.logicalDeviceID, "port-no": portNo, "state": operStatus})

	agent.portLock.Lock()
	oldPort, have := agent.ports[portNo]
	if !have {
		agent.portLock.Unlock()
		return status.Errorf(codes.NotFound, "port-%d-not-exist", portNo)
	}
	newPort := clonePortSetState(oldPort, operStatus)
	agent.ports[portNo] = newPort
	agent.portLock.Unlock()

	if proto.Equal(oldPort.OfpPort, newPort.OfpPort) {
		// nothing actually changed, do not notify
		return nil
	}
	agent.eventSender.SendChangeEvent(ctx, agent.logicalDeviceID, ofp.OfpPortReason_OFPPR_MODIFY, newPort.OfpPort)
	return nil
}

func clonePortSetState(oldPort *voltha.LogicalPort, state voltha.OperStatus_Types) *voltha.LogicalPort {
	newPort := *oldPort // only clone the struct(s) that will be changed
	newOfpPort := *oldPort.OfpPort
	newPort.OfpPort = &newOfpPort

	if state == voltha.OperStatus_ACTIVE {
		newOfpPort.Config = newOfpPort.Config & ^uint32(ofp.OfpPortConfig_OFPPC_PORT_DOWN)
		newOfpPort.State = uint32(ofp.OfpPortState_OFPPS_LIVE)
	} else {
		newOfpPort.Config = newOfpPort.Config | uint32(ofp.OfpPortConfig_OFPPC_PORT_DOWN)
		newOfpPort.State = uint32(ofp.OfpPortState_OFPPS_LINK_DOWN)
	}
	return &newPort
}

func (agent *LogicalAgent) isNNIPort(portNo uint32) bool {
	agent.portLock.RLock()
	defer agent.portLock.RUnlock()
	port, have := agent.ports[portNo]
	return have && port.RootPort
}

// GetNNIPorts returns the logical port numbers of the NNI ports
func (agent *LogicalAgent) GetNNIPorts() map[uint32]struct{} {
	agent.portLock.RLock()
	defer agent.portLock.RUnlock()
	nniPorts := make(map[uint32]struct{})
	for portNo, port := range agent.ports {
		if port.RootPort {
			nniPorts[portNo] = struct{}{}
		}
	}
	return nniPorts
}

// GetWildcardInputPorts returns all the logical ports, except the one passed
// in, as the candidate ingress ports of a wildcard-in-port flow
func (agent *LogicalAgent) GetWildcardInputPorts(ctx context.Context, excludePort uint32) map[uint32]struct{} {
	agent.portLock.RLock()
	defer agent.portLock.RUnlock()
	inPorts := make(map[uint32]struct{})
	for portNo := range agent.ports {
		if portNo != excludePort {
			inPorts[portNo] = struct{}{}
		}
	}
	return inPorts
}

func (agent *LogicalAgent) getUNILogicalPortNo(flow *ofp.OfpFlowStats) (uint32, error) {
	var uniPort uint32
	inPortNo := fu.GetInPort(flow)
	outPortNo := fu.GetOutPort(flow)
	if agent.isNNIPort(inPortNo) {
		uniPort = outPortNo
	} else if agent.isNNIPort(outPortNo) {
		uniPort = inPortNo
	}
	if uniPort != 0 {
		return uniPort, nil
	}
	return 0, status.Errorf(codes.NotFound, "no-uni-port: %v", flow)
}
