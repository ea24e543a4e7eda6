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
	"testing"

	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTopology(t *testing.T) {
	ctx := context.Background()
	olt := NewOlt(Config{DeviceID: "olt-1", NumOnus: 2})

	root, err := olt.GetDevice(ctx, "olt-1")
	require.NoError(t, err)
	assert.True(t, root.Root)
	assert.NotEmpty(t, root.SerialNumber)
	assert.NotEmpty(t, root.MacAddress)

	ports, err := olt.ListDevicePorts(ctx, "olt-1")
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, voltha.Port_ETHERNET_NNI, ports[OltNniPortNo].Type)
	assert.Equal(t, voltha.Port_PON_OLT, ports[OltPonPortNo].Type)
	assert.Len(t, ports[OltPonPortNo].Peers, 2)

	onus := olt.Onus()
	require.Len(t, onus, 2)
	assert.Equal(t, uint32(initialUniPortNo), onus[0].UniPortNo)
	assert.Equal(t, uint32(initialUniPortNo+1), onus[1].UniPortNo)
	for _, onu := range onus {
		device, err := olt.GetDevice(ctx, onu.DeviceID)
		require.NoError(t, err)
		assert.False(t, device.Root)
		assert.Equal(t, "olt-1", device.ParentId)
		assert.Equal(t, onu.SerialNumber, device.SerialNumber)

		onuPorts, err := olt.ListDevicePorts(ctx, onu.DeviceID)
		require.NoError(t, err)
		require.Len(t, onuPorts, 2)
		assert.Equal(t, voltha.Port_PON_ONU, onuPorts[OnuPonPortNo].Type)
		require.Len(t, onuPorts[OnuPonPortNo].Peers, 1)
		assert.Equal(t, "olt-1", onuPorts[OnuPonPortNo].Peers[0].DeviceId)
		assert.Equal(t, voltha.Port_ETHERNET_UNI, onuPorts[OnuUniPortNo].Type)

		vlan, err := olt.GetDeviceVlan(ctx, onu.DeviceID)
		require.NoError(t, err)
		assert.Equal(t, onu.Vlan, vlan)
	}

	_, err = olt.GetDevice(ctx, "no-such-device")
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = olt.GetDeviceVlan(ctx, "olt-1")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestFlowAndGroupTables(t *testing.T) {
	ctx := context.Background()
	olt := NewOlt(Config{DeviceID: "olt-1", NumOnus: 1})

	flowA := &ofp.OfpFlowStats{Id: 1, Priority: 1000}
	flowB := &ofp.OfpFlowStats{Id: 2, Priority: 500}
	group := &ofp.OfpGroupEntry{Desc: &ofp.OfpGroupDesc{GroupId: 7}}

	require.NoError(t, olt.AddFlowsAndGroups(ctx, "olt-1", []*ofp.OfpFlowStats{flowA, flowB}, []*ofp.OfpGroupEntry{group}))
	assert.Len(t, olt.Flows("olt-1"), 2)
	assert.Len(t, olt.Groups("olt-1"), 1)

	// re-adding the same identity replaces rather than duplicates
	require.NoError(t, olt.AddFlowsAndGroups(ctx, "olt-1", []*ofp.OfpFlowStats{{Id: 1, Priority: 2000}}, nil))
	assert.Len(t, olt.Flows("olt-1"), 2)

	require.NoError(t, olt.DeleteFlowsAndGroups(ctx, "olt-1", []*ofp.OfpFlowStats{flowB}, []*ofp.OfpGroupEntry{group}))
	assert.Len(t, olt.Flows("olt-1"), 1)
	assert.Empty(t, olt.Groups("olt-1"))

	require.NoError(t, olt.UpdateFlowsAndGroups(ctx, "olt-1", []*ofp.OfpFlowStats{{Id: 9}}, nil))
	flows := olt.Flows("olt-1")
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(9), flows[0].Id)

	err := olt.AddFlowsAndGroups(ctx, "no-such-device", nil, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestDeleteParentFlowsByTunnelID(t *testing.T) {
	ctx := context.Background()
	olt := NewOlt(Config{DeviceID: "olt-1", NumOnus: 1})

	anchored, err := fu.MkFlowStat(&fu.FlowArgs{
		KV: fu.OfpFlowModArgs{"priority": 1000},
		MatchFields: []*ofp.OfpOxmOfbField{
			fu.InPort(OltPonPortNo),
			fu.TunnelId(uint64(initialUniPortNo)),
		},
		Actions: []*ofp.OfpAction{fu.Output(OltNniPortNo)},
	})
	require.NoError(t, err)
	other, err := fu.MkFlowStat(&fu.FlowArgs{
		KV: fu.OfpFlowModArgs{"priority": 1000},
		MatchFields: []*ofp.OfpOxmOfbField{
			fu.InPort(OltNniPortNo),
		},
		Actions: []*ofp.OfpAction{fu.Output(OltPonPortNo)},
	})
	require.NoError(t, err)

	require.NoError(t, olt.AddFlowsAndGroups(ctx, "olt-1", []*ofp.OfpFlowStats{anchored, other}, nil))
	require.NoError(t, olt.DeleteParentFlows(ctx, "olt-1", initialUniPortNo))

	flows := olt.Flows("olt-1")
	require.Len(t, flows, 1)
	assert.Equal(t, other.Id, flows[0].Id)
}

func TestPacketOutRecorded(t *testing.T) {
	ctx := context.Background()
	olt := NewOlt(Config{DeviceID: "olt-1", NumOnus: 1})

	packet := &ofp.OfpPacketOut{Data: []byte{0x01, 0x02, 0x03}}
	require.NoError(t, olt.PacketOut(ctx, "olt-1", OltNniPortNo, packet))

	outs := olt.PacketOuts()
	require.Len(t, outs, 1)
	assert.Equal(t, "olt-1", outs[0].DeviceID)
	assert.Equal(t, uint32(OltNniPortNo), outs[0].EgressPortNo)
	assert.Equal(t, packet.Data, outs[0].Packet.Data)
}
