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
	"sync"
	"time"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LogicalManager owns the logical device agents of this core instance and
// exposes the northbound surface over them
type LogicalManager struct {
	deviceMgr       Manager
	eventSender     EventSender
	internalTimeout time.Duration

	lock          sync.RWMutex
	logicalAgents map[string]*LogicalAgent
}

func NewLogicalManager(deviceMgr Manager, eventSender EventSender, internalTimeout time.Duration) *LogicalManager {
	return &LogicalManager{
		deviceMgr:       deviceMgr,
		eventSender:     eventSender,
		internalTimeout: internalTimeout,
		logicalAgents:   make(map[string]*LogicalAgent),
	}
}

// CreateLogicalDevice creates and starts the agent for a newly activated
// root device
func (ldMgr *LogicalManager) CreateLogicalDevice(ctx context.Context, logicalDeviceID string, serialNumber string, rootDeviceID string) (*LogicalAgent, error) {
	logger.Infow(ctx, "create-logical-device", log.Fields{"logical-device-id": logicalDeviceID, "root-device-id": rootDeviceID})
	ldMgr.lock.Lock()
	if _, exist := ldMgr.logicalAgents[logicalDeviceID]; exist {
		ldMgr.lock.Unlock()
		return nil, status.Errorf(codes.AlreadyExists, "logical-device-exists:%s", logicalDeviceID)
	}
	agent := NewLogicalAgent(logicalDeviceID, serialNumber, rootDeviceID, ldMgr.deviceMgr, ldMgr.eventSender, ldMgr.internalTimeout)
	ldMgr.logicalAgents[logicalDeviceID] = agent
	ldMgr.lock.Unlock()

	if err := agent.Start(ctx); err != nil {
		ldMgr.lock.Lock()
		delete(ldMgr.logicalAgents, logicalDeviceID)
		ldMgr.lock.Unlock()
		return nil, err
	}
	return agent, nil
}

// DeleteLogicalDevice stops and removes the agent of a deleted root device
func (ldMgr *LogicalManager) DeleteLogicalDevice(ctx context.Context, logicalDeviceID string) error {
	logger.Infow(ctx, "delete-logical-device", log.Fields{"logical-device-id": logicalDeviceID})
	ldMgr.lock.Lock()
	agent, exist := ldMgr.logicalAgents[logicalDeviceID]
	delete(ldMgr.logicalAgents, logicalDeviceID)
	ldMgr.lock.Unlock()
	if !exist {
		return status.Errorf(codes.NotFound, "%s", logicalDeviceID)
	}
	return agent.Stop(ctx)
}

// Stop stops every logical device agent
func (ldMgr *LogicalManager) Stop(ctx context.Context) {
	ldMgr.lock.Lock()
	agents := make([]*LogicalAgent, 0, len(ldMgr.logicalAgents))
	for _, agent := range ldMgr.logicalAgents {
		agents = append(agents, agent)
	}
	ldMgr.logicalAgents = make(map[string]*LogicalAgent)
	ldMgr.lock.Unlock()
	for _, agent := range agents {
		if err := agent.Stop(ctx); err != nil {
			logger.Warnw(ctx, "stop-logical-device-agent-failed", log.Fields{"logical-device-id": agent.logicalDeviceID, "error": err})
		}
	}
}

func (ldMgr *LogicalManager) getLogicalDeviceAgent(ctx context.Context, logicalDeviceID string) *LogicalAgent {
	ldMgr.lock.RLock()
	defer ldMgr.lock.RUnlock()
	return ldMgr.logicalAgents[logicalDeviceID]
}

// GetLogicalDevice provides a cloned most up to date logical device
func (ldMgr *LogicalManager) GetLogicalDevice(ctx context.Context, id *voltha.ID) (*voltha.LogicalDevice, error) {
	logger.Debugw(ctx, "get-logical-device", log.Fields{"logical-device-id": id.Id})
	if agent := ldMgr.getLogicalDeviceAgent(ctx, id.Id); agent != nil {
		return agent.GetLogicalDeviceReadOnly(ctx)
	}
	return nil, status.Errorf(codes.NotFound, "%s", id.Id)
}

// ListLogicalDevices returns the list of all logical devices
func (ldMgr *LogicalManager) ListLogicalDevices(ctx context.Context, _ *empty.Empty) (*voltha.LogicalDevices, error) {
	logger.Debug(ctx, "list-logical-devices")
	ldMgr.lock.RLock()
	agents := make([]*LogicalAgent, 0, len(ldMgr.logicalAgents))
	for _, agent := range ldMgr.logicalAgents {
		agents = append(agents, agent)
	}
	ldMgr.lock.RUnlock()

	logicalDevices := make([]*voltha.LogicalDevice, 0, len(agents))
	for _, agent := range agents {
		ld, err := agent.GetLogicalDeviceReadOnly(ctx)
		if err != nil {
			return nil, err
		}
		logicalDevices = append(logicalDevices, ld)
	}
	return &voltha.LogicalDevices{Items: logicalDevices}, nil
}

// ListLogicalDevicePorts returns logical device ports
func (ldMgr *LogicalManager) ListLogicalDevicePorts(ctx context.Context, id *voltha.ID) (*voltha.LogicalPorts, error) {
	logger.Debugw(ctx, "list-logical-device-ports", log.Fields{"logical-device-id": id.Id})
	if agent := ldMgr.getLogicalDeviceAgent(ctx, id.Id); agent != nil {
		return agent.ListLogicalDevicePorts(ctx), nil
	}
	return nil, status.Errorf(codes.NotFound, "%s", id.Id)
}

// ListLogicalDeviceFlows returns the flows of logical device
func (ldMgr *LogicalManager) ListLogicalDeviceFlows(ctx context.Context, id *voltha.ID) (*ofp.Flows, error) {
	logger.Debugw(ctx, "list-logical-device-flows", log.Fields{"logical-device-id": id.Id})
	if agent := ldMgr.getLogicalDeviceAgent(ctx, id.Id); agent != nil {
		return agent.ListLogicalDeviceFlows(ctx), nil
	}
	return nil, status.Errorf(codes.NotFound, "%s", id.Id)
}

// ListLogicalDeviceFlowGroups returns logical device flow groups
func (ldMgr *LogicalManager) ListLogicalDeviceFlowGroups(ctx context.Context, id *voltha.ID) (*ofp.FlowGroups, error) {
	logger.Debugw(ctx, "list-logical-device-flow-groups", log.Fields{"logical-device-id": id.Id})
	if agent := ldMgr.getLogicalDeviceAgent(ctx, id.Id); agent != nil {
		return agent.ListLogicalDeviceFlowGroups(ctx), nil
	}
	return nil, status.Errorf(codes.NotFound, "%s", id.Id)
}

// UpdateLogicalDeviceFlowTable updates logical device flow table
func (ldMgr *LogicalManager) UpdateLogicalDeviceFlowTable(ctx context.Context, flow *ofp.FlowTableUpdate) (*empty.Empty, error) {
	logger.Debugw(ctx, "update-logical-device-flow-table", log.Fields{"logical-device-id": flow.Id})
	agent := ldMgr.getLogicalDeviceAgent(ctx, flow.Id)
	if agent == nil {
		return nil, status.Errorf(codes.NotFound, "%s", flow.Id)
	}
	return &empty.Empty{}, agent.UpdateFlowTable(ctx, flow.FlowMod)
}

// UpdateLogicalDeviceFlowGroupTable updates logical device flow group table
func (ldMgr *LogicalManager) UpdateLogicalDeviceFlowGroupTable(ctx context.Context, flow *ofp.FlowGroupTableUpdate) (*empty.Empty, error) {
	logger.Debugw(ctx, "update-logical-device-flow-group-table", log.Fields{"logical-device-id": flow.Id})
	agent := ldMgr.getLogicalDeviceAgent(ctx, flow.Id)
	if agent == nil {
		return nil, status.Errorf(codes.NotFound, "%s", flow.Id)
	}
	return &empty.Empty{}, agent.UpdateGroupTable(ctx, flow.GroupMod)
}

// PacketOut dispatches a controller packet-out to the owning agent.  Packets
// for an unknown logical device are dropped and logged.
func (ldMgr *LogicalManager) PacketOut(ctx context.Context, logicalDeviceID string, packet *ofp.OfpPacketOut) {
	logger.Debugw(ctx, "packet-out", log.Fields{"logical-device-id": logicalDeviceID, "port": packet.InPort})
	if agent := ldMgr.getLogicalDeviceAgent(ctx, logicalDeviceID); agent != nil {
		agent.PacketOut(ctx, packet)
		return
	}
	logger.Errorw(ctx, "logical-device-not-exist", log.Fields{"logical-device-id": logicalDeviceID})
}
