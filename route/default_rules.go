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

package route

import (
	"context"
	"fmt"

	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
)

// DefaultRulePriority is the priority of the baseline per-leaf rules.  Flows
// decomposed from the logical table carry higher priorities and win.
const DefaultRulePriority = 500

// getDeviceVlanFunc returns the VLAN assigned to a device
type getDeviceVlanFunc func(ctx context.Context, deviceID string) (uint32, error)

// ComputeDefaultRules builds the baseline rules every device needs before
// any logical flow is decomposed onto it.  The root device baseline is
// empty.  Each leaf device gets three rules bridging its UNI and its
// upstream PON port: tag priority-tagged upstream traffic with the device
// VLAN, push and tag untagged upstream traffic, and retag downstream
// traffic back to priority-tagged.  Call after ComputeRoutes so the PON
// port cache is populated.
func (dr *DeviceRoutes) ComputeDefaultRules(ctx context.Context, getVlan getDeviceVlanFunc) (*fu.DeviceRules, error) {
	dr.routeBuildLock.RLock()
	leafUpstreamPort := make(map[string]uint32)
	for deviceID, ports := range dr.devicesPonPorts {
		for _, port := range ports {
			if port.Type == voltha.Port_PON_ONU {
				leafUpstreamPort[deviceID] = port.PortNo
				break
			}
		}
	}
	dr.routeBuildLock.RUnlock()

	rules := fu.NewDeviceRules()
	rules.CreateEntryIfNotExist(dr.rootDeviceID)

	for deviceID, upstreamPort := range leafUpstreamPort {
		devicePorts, err := dr.listDevicePorts(ctx, deviceID)
		if err != nil {
			logger.Errorw(ctx, "device-not-found", log.Fields{"device-id": deviceID, "error": err})
			return nil, err
		}
		uniPort, found := uint32(0), false
		for _, port := range devicePorts {
			if port.Type == voltha.Port_ETHERNET_UNI {
				uniPort, found = port.PortNo, true
				break
			}
		}
		if !found {
			logger.Warnw(ctx, "leaf-device-without-uni-port", log.Fields{"device-id": deviceID})
			continue
		}
		vlan, err := getVlan(ctx, deviceID)
		if err != nil {
			return nil, fmt.Errorf("device vlan %s: %w", deviceID, err)
		}
		fg, err := leafDefaultRules(uniPort, upstreamPort, vlan)
		if err != nil {
			return nil, err
		}
		rules.AddFlowsAndGroup(deviceID, fg)
	}
	return rules, nil
}

func leafDefaultRules(uniPort, upstreamPort, vlan uint32) (*fu.FlowsAndGroups, error) {
	fg := fu.NewFlowsAndGroups()

	fs, err := fu.MkFlowStat(&fu.FlowArgs{
		KV: fu.OfpFlowModArgs{"priority": DefaultRulePriority},
		MatchFields: []*ofp.OfpOxmOfbField{
			fu.InPort(uniPort),
			fu.VlanVid(uint32(ofp.OfpVlanId_OFPVID_PRESENT) | 0),
		},
		Actions: []*ofp.OfpAction{
			fu.SetField(fu.VlanVid(uint32(ofp.OfpVlanId_OFPVID_PRESENT) | vlan)),
			fu.Output(upstreamPort),
		},
	})
	if err != nil {
		return nil, err
	}
	fg.AddFlow(fs)

	fs, err = fu.MkFlowStat(&fu.FlowArgs{
		KV: fu.OfpFlowModArgs{"priority": DefaultRulePriority},
		MatchFields: []*ofp.OfpOxmOfbField{
			fu.InPort(uniPort),
			fu.VlanVid(0),
		},
		Actions: []*ofp.OfpAction{
			fu.PushVlan(0x8100),
			fu.SetField(fu.VlanVid(uint32(ofp.OfpVlanId_OFPVID_PRESENT) | vlan)),
			fu.Output(upstreamPort),
		},
	})
	if err != nil {
		return nil, err
	}
	fg.AddFlow(fs)

	fs, err = fu.MkFlowStat(&fu.FlowArgs{
		KV: fu.OfpFlowModArgs{"priority": DefaultRulePriority},
		MatchFields: []*ofp.OfpOxmOfbField{
			fu.InPort(upstreamPort),
			fu.VlanVid(uint32(ofp.OfpVlanId_OFPVID_PRESENT) | vlan),
		},
		Actions: []*ofp.OfpAction{
			fu.SetField(fu.VlanVid(uint32(ofp.OfpVlanId_OFPVID_PRESENT) | 0)),
			fu.Output(uniPort),
		},
	})
	if err != nil {
		return nil, err
	}
	fg.AddFlow(fs)

	return fg, nil
}
