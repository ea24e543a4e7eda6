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

	"github.com/opencord/pon-core/route"
	coreutils "github.com/opencord/pon-core/utils"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GetRoute returns the route between the ingress and egress logical ports
func (agent *LogicalAgent) GetRoute(ctx context.Context, ingressPortNo uint32, egressPortNo uint32) ([]route.Hop, error) {
	logger.Debugw(ctx, "getting-route", log.Fields{"ingress-port": ingressPortNo, "egress-port": egressPortNo})

	// Controller-bound flow
	if egressPortNo != 0 && ((egressPortNo & 0x7fffffff) == uint32(ofp.OfpPortNo_OFPP_CONTROLLER)) {
		logger.Debugw(ctx, "controller-flow", log.Fields{"ingress-port": ingressPortNo, "egress-port": egressPortNo})
		if agent.isNNIPort(ingressPortNo) {
			// This is a trap on the NNI port
			if agent.deviceRoutes.IsRoutesEmpty() {
				// If there are no routes set (usually when the logical device has only NNI port(s), then just return an
				// route with same IngressHop and EgressHop
				hop := route.Hop{DeviceID: agent.rootDeviceID, Ingress: agent.mapPortNoToDevicePortNo(ingressPortNo), Egress: agent.mapPortNoToDevicePortNo(ingressPortNo)}
				return []route.Hop{hop, hop}, nil
			}
			return agent.deviceRoutes.GetHalfRoute(true, 0, 0)
		}
		// Treat it as if the output port is the first NNI of the OLT
		var err error
		if egressPortNo, err = agent.getAnyNNIPort(); err != nil {
			logger.Warnw(ctx, "no-nni-port", log.Fields{"error": err})
			return nil, err
		}
	}

	// If ingress port is not specified (nil), it may be a wildcarded route if egress port is OFPP_CONTROLLER or a nni
	// logical port, in which case we need to create a half-route where only the egress hop is filled, the first hop is nil
	if ingressPortNo == 0 && agent.isNNIPort(egressPortNo) {
		return agent.deviceRoutes.GetHalfRoute(true, ingressPortNo, egressPortNo)
	}

	// If egress port is not specified (nil), we can also can have a half-route where only the ingress hop is filled
	if egressPortNo == 0 {
		return agent.deviceRoutes.GetHalfRoute(false, ingressPortNo, egressPortNo)
	}

	// Return the pre-calculated route
	return agent.deviceRoutes.GetRoute(ctx, ingressPortNo, egressPortNo)
}

// GetDeviceRoutes returns device graph
func (agent *LogicalAgent) GetDeviceRoutes() *route.DeviceRoutes {
	return agent.deviceRoutes
}

func (agent *LogicalAgent) getAnyNNIPort() (uint32, error) {
	for portNo := range agent.GetNNIPorts() {
		return portNo, nil
	}
	return 0, status.Error(codes.NotFound, "no-nni-port")
}

func (agent *LogicalAgent) mapPortNoToDevicePortNo(portNo uint32) uint32 {
	agent.portLock.RLock()
	defer agent.portLock.RUnlock()
	if port, have := agent.ports[portNo]; have {
		return port.DevicePortNo
	}
	return portNo
}

// buildRoutes rebuilds the entire route table and the per-leaf default rules
// from scratch
func (agent *LogicalAgent) buildRoutes(ctx context.Context) error {
	logger.Debugw(ctx, "building-routes", log.Fields{"logical-device-id": agent.logicalDeviceID})
	if err := agent.requestQueue.WaitForGreenLight(ctx); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	if err := agent.deviceRoutes.ComputeRoutes(ctx, agent.listLogicalPorts()); err != nil {
		return err
	}
	if err := agent.deviceRoutes.Print(ctx); err != nil {
		return err
	}
	return agent.pushDefaultRules(ctx)
}

// updateRoutes incrementally updates the route table with a new logical port
func (agent *LogicalAgent) updateRoutes(ctx context.Context, lp *voltha.LogicalPort) error {
	logger.Debugw(ctx, "updating-routes", log.Fields{"logical-device-id": agent.logicalDeviceID, "port-no": lp.OfpPort.PortNo, "device-id": lp.DeviceId})
	if err := agent.requestQueue.WaitForGreenLight(ctx); err != nil {
		return err
	}
	defer agent.requestQueue.RequestComplete()

	devicePorts, err := agent.deviceMgr.ListDevicePorts(ctx, lp.DeviceId)
	if err != nil {
		return err
	}
	if err := agent.deviceRoutes.AddPort(ctx, lp, lp.DeviceId, devicePorts, agent.listLogicalPorts()); err != nil {
		return err
	}
	if err := agent.deviceRoutes.Print(ctx); err != nil {
		return err
	}
	return agent.pushDefaultRules(ctx)
}

// pushDefaultRules regenerates the per-leaf default rules and pushes them to
// the leaf devices.  The root device gets no default rules.
func (agent *LogicalAgent) pushDefaultRules(ctx context.Context) error {
	defaultRules, err := agent.deviceRoutes.ComputeDefaultRules(ctx, agent.deviceMgr.GetDeviceVlan)
	if err != nil {
		return err
	}
	logger.Debugw(ctx, "default-rules", log.Fields{"rules": defaultRules.String()})

	respChnls := agent.updateFlowsAndGroupsOfDevice(ctx, defaultRules)
	go func() {
		if res := coreutils.WaitForNilOrErrorResponses(agent.internalTimeout, respChnls...); res != nil {
			logger.Warnw(ctx, "failure-pushing-default-rules", log.Fields{"logical-device-id": agent.logicalDeviceID, "errors": res})
		}
	}()
	return nil
}
