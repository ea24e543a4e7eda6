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
	"encoding/hex"
	"sync"
	"time"

	"github.com/opencord/pon-core/core/device/flow"
	"github.com/opencord/pon-core/core/device/group"
	fd "github.com/opencord/pon-core/flowdecomposition"
	"github.com/opencord/pon-core/route"
	coreutils "github.com/opencord/pon-core/utils"
	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LogicalAgent owns a logical device: its flow table, group table, logical
// ports and the routes between them.  Table updates are decomposed into
// per-physical-device rules and pushed through the device manager.
type LogicalAgent struct {
	logicalDeviceID string
	serialNumber    string
	rootDeviceID    string
	logicalDevice   *voltha.LogicalDevice

	deviceMgr      Manager
	eventSender    EventSender
	deviceRoutes   *route.DeviceRoutes
	flowDecomposer *fd.FlowDecomposer
	requestQueue   *coreutils.RequestQueue

	flowCache  *flow.Cache
	groupCache *group.Cache

	portLock sync.RWMutex
	ports    map[uint32]*voltha.LogicalPort

	internalTimeout time.Duration
	startOnce       sync.Once
	stopOnce        sync.Once
	stopped         bool
}

func NewLogicalAgent(logicalDeviceID string, serialNumber string, rootDeviceID string,
	deviceMgr Manager, eventSender EventSender, internalTimeout time.Duration) *LogicalAgent {
	return &LogicalAgent{
		logicalDeviceID: logicalDeviceID,
		serialNumber:    serialNumber,
		rootDeviceID:    rootDeviceID,
		deviceMgr:       deviceMgr,
		eventSender:     eventSender,
		deviceRoutes:    route.NewDeviceRoutes(logicalDeviceID, rootDeviceID, deviceMgr.ListDevicePorts),
		flowDecomposer:  fd.NewFlowDecomposer(deviceMgr.GetDevice),
		requestQueue:    coreutils.NewRequestQueue(),
		internalTimeout: internalTimeout,

		flowCache:  flow.NewCache(),
		groupCache: group.NewCache(),
		ports:      make(map[uint32]*voltha.LogicalPort),
	}
}

// Start creates the logical device and readies the agent for table updates
func (agent *LogicalAgent) Start(ctx context.Context) error {
	var startErr error
	started := false
	agent.startOnce.Do(func() { started = true })
	if !started {
		logger.Debugw(ctx, "logical-device-agent-already-started", log.Fields{"logical-device-id": agent.logicalDeviceID})
		return nil
	}
	logger.Infow(ctx, "starting-logical-device-agent", log.Fields{"logical-device-id": agent.logicalDeviceID, "root-device-id": agent.rootDeviceID})

	ld := &voltha.LogicalDevice{Id: agent.logicalDeviceID, RootDeviceId: agent.rootDeviceID}
	datapathID, err := coreutils.CreateDataPathID(agent.serialNumber)
	if err != nil {
		logger.Errorw(ctx, "failed-to-create-datapath-id", log.Fields{"serial-number": agent.serialNumber, "error": err})
		startErr = err
		return startErr
	}
	ld.DatapathId = datapathID
	agent.logicalDevice = ld
	return startErr
}

// Stop stops the logical device agent
func (agent *LogicalAgent) Stop(ctx context.Context) error {
	var returnErr error
	agent.stopOnce.Do(func() {
		logger.Infow(ctx, "stopping-logical-device-agent", log.Fields{"logical-device-id": agent.logicalDeviceID})

		if err := agent.requestQueue.WaitForGreenLight(ctx); err != nil {
			returnErr = err
			return
		}
		defer agent.requestQueue.RequestComplete()

		agent.stopped = true
		logger.Info(ctx, "logical-device-agent-stopped")
	})
	return returnErr
}

// GetLogicalDeviceReadOnly returns the latest logical device data
func (agent *LogicalAgent) GetLogicalDeviceReadOnly(ctx context.Context) (*voltha.LogicalDevice, error) {
	if err := agent.requestQueue.WaitForGreenLight(ctx); err != nil {
		return nil, err
	}
	defer agent.requestQueue.RequestComplete()
	return agent.logicalDevice, nil
}

func (agent *LogicalAgent) addFlowsAndGroupsToDevices(ctx context.Context, deviceRules *fu.DeviceRules) []coreutils.Response {
	logger.Debugw(ctx, "send-add-flows-to-device-manager", log.Fields{"logical-device-id": agent.logicalDeviceID, "device-rules": deviceRules})

	responses := make([]coreutils.Response, 0)
	for deviceID, value := range deviceRules.GetRules() {
		response := coreutils.NewResponse()
		responses = append(responses, response)
		go func(deviceID string, value *fu.FlowsAndGroups) {
			subCtx, cancel := context.WithTimeout(log.WithSpanFromContext(context.Background(), ctx), agent.internalTimeout)
			defer cancel()

			start := time.Now()
			if err := agent.deviceMgr.AddFlowsAndGroups(subCtx, deviceID, value.ListFlows(), value.ListGroups()); err != nil {
				logger.Errorw(ctx, "flow-add-failed", log.Fields{
					"device-id": deviceID,
					"error":     err,
					"wait-time": time.Since(start),
				})
				response.Error(status.Errorf(codes.Internal, "flow-add-failed: %s", deviceID))
			}
			response.Done()
		}(deviceID, value)
	}
	// Return responses (an array of channels) for the caller to wait for a response from the far end.
	return responses
}

func (agent *LogicalAgent) deleteFlowsAndGroupsFromDevices(ctx context.Context, deviceRules *fu.DeviceRules, mod *ofp.OfpFlowMod) []coreutils.Response {
	logger.Debugw(ctx, "send-delete-flows-to-device-manager", log.Fields{"logical-device-id": agent.logicalDeviceID})

	responses := make([]coreutils.Response, 0)
	for deviceID, value := range deviceRules.GetRules() {
		response := coreutils.NewResponse()
		responses = append(responses, response)
		go func(deviceID string, value *fu.FlowsAndGroups) {
			subCtx, cancel := context.WithTimeout(log.WithSpanFromContext(context.Background(), ctx), agent.internalTimeout)
			defer cancel()

			start := time.Now()
			if err := agent.deviceMgr.DeleteFlowsAndGroups(subCtx, deviceID, value.ListFlows(), value.ListGroups()); err != nil {
				logger.Errorw(ctx, "flows-and-groups-delete-failed", log.Fields{
					"device-id":   deviceID,
					"error":       err,
					"flow-cookie": mod.Cookie,
					"wait-time":   time.Since(start),
				})
				response.Error(status.Errorf(codes.Internal, "flow-delete-failed: %s", deviceID))
			}
			response.Done()
		}(deviceID, value)
	}
	return responses
}

func (agent *LogicalAgent) updateFlowsAndGroupsOfDevice(ctx context.Context, deviceRules *fu.DeviceRules) []coreutils.Response {
	logger.Debugw(ctx, "send-update-flows-to-device-manager", log.Fields{"logical-device-id": agent.logicalDeviceID})

	responses := make([]coreutils.Response, 0)
	for deviceID, value := range deviceRules.GetRules() {
		response := coreutils.NewResponse()
		responses = append(responses, response)
		go func(deviceID string, value *fu.FlowsAndGroups) {
			subCtx, cancel := context.WithTimeout(log.WithSpanFromContext(context.Background(), ctx), agent.internalTimeout)
			defer cancel()

			if err := agent.deviceMgr.UpdateFlowsAndGroups(subCtx, deviceID, value.ListFlows(), value.ListGroups()); err != nil {
				logger.Errorw(ctx, "flow-update-failed", log.Fields{"device-id": deviceID, "error": err})
				response.Error(status.Errorf(codes.Internal, "flow-update-failed: %s", deviceID))
			}
			response.Done()
		}(deviceID, value)
	}
	return responses
}

// deleteFlowsFromParentDevice removes flows anchored on the flow's UNI from the
// root device.  Used when the route through a child device no longer exists.
func (agent *LogicalAgent) deleteFlowsFromParentDevice(ctx context.Context, flows map[uint64]*ofp.OfpFlowStats, mod *ofp.OfpFlowMod) []coreutils.Response {
	logger.Debugw(ctx, "deleting-flows-from-parent-device", log.Fields{"logical-device-id": agent.logicalDeviceID, "flows": flows})
	responses := make([]coreutils.Response, 0)
	for _, f := range flows {
		response := coreutils.NewResponse()
		responses = append(responses, response)

		uniPort, err := agent.getUNILogicalPortNo(f)
		if err != nil {
			logger.Errorw(ctx, "no-uni-port-in-flow", log.Fields{"device-id": agent.rootDeviceID, "flow": f, "error": err})
			response.Error(err)
			response.Done()
			continue
		}
		go func(uniPort uint32) {
			subCtx, cancel := context.WithTimeout(log.WithSpanFromContext(context.Background(), ctx), agent.internalTimeout)
			defer cancel()

			if err := agent.deviceMgr.DeleteParentFlows(subCtx, agent.rootDeviceID, uniPort); err != nil {
				logger.Errorw(ctx, "flow-delete-failed-from-parent-device", log.Fields{
					"device-id":   agent.rootDeviceID,
					"error":       err,
					"flow-cookie": mod.Cookie,
				})
				response.Error(status.Errorf(codes.Internal, "flow-delete-failed: %s %v", agent.rootDeviceID, err))
			}
			response.Done()
		}(uniPort)
	}
	return responses
}

// sendFlowsRemoved emits a removal announcement for every deleted flow whose
// flags asked for one
func (agent *LogicalAgent) sendFlowsRemoved(ctx context.Context, flows map[uint64]*ofp.OfpFlowStats) {
	for _, f := range flows {
		if f.Flags&uint32(ofp.OfpFlowModFlags_OFPFF_SEND_FLOW_REM) != 0 {
			agent.eventSender.SendFlowRemoved(ctx, agent.logicalDeviceID, f)
		}
	}
}

// PacketOut sends the packet out the port indicated by the packet's output action
func (agent *LogicalAgent) PacketOut(ctx context.Context, packet *ofp.OfpPacketOut) {
	if logger.V(log.InfoLevel) {
		logger.Infow(ctx, "packet-out", log.Fields{
			"packet":  hex.EncodeToString(packet.Data),
			"in-port": packet.GetInPort(),
		})
	}
	outPort := fu.GetPacketOutPort(packet)
	if err := agent.deviceMgr.PacketOut(ctx, agent.rootDeviceID, outPort, packet); err != nil {
		logger.Errorw(ctx, "packet-out-failed", log.Fields{"logical-device-id": agent.logicalDeviceID, "error": err})
	}
}

// PacketIn wraps a raw frame received on a logical port into an OpenFlow
// packet-in and forwards it to the controller channel
func (agent *LogicalAgent) PacketIn(ctx context.Context, port uint32, packet []byte) {
	if logger.V(log.InfoLevel) {
		logger.Infow(ctx, "packet-in", log.Fields{
			"port":   port,
			"packet": hex.EncodeToString(packet),
		})
	}

	packetIn := fu.MkPacketIn(port, packet)
	agent.eventSender.SendPacketIn(ctx, agent.logicalDeviceID, packetIn)
	logger.Debugw(ctx, "sending-packet-in", log.Fields{"packet": hex.EncodeToString(packetIn.Data)})
}
