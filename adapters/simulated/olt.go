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
	"math/rand"
	"strings"
	"sync"
	"time"

	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Fixed port numbering of the simulated topology.  The OLT carries one NNI
// and one PON port; every ONU hangs off the PON port and carries one UNI.
const (
	OltNniPortNo = 1
	OltPonPortNo = 2
	OnuPonPortNo = 1
	OnuUniPortNo = 2
)

// initialUniPortNo is the logical port number of the first ONU's UNI; the
// following ONUs take consecutive numbers
const initialUniPortNo = 100

// Config shapes the simulated PON
type Config struct {
	// DeviceID of the OLT; defaults to "simulated-olt"
	DeviceID string
	// NumOnus is how many ONUs hang off the PON port; defaults to 4
	NumOnus int
	// BaseVlan is the access vlan of the first ONU; the following ONUs take
	// consecutive vlans.  Defaults to 100.
	BaseVlan uint32
}

func (cfg Config) withDefaults() Config {
	if cfg.DeviceID == "" {
		cfg.DeviceID = "simulated-olt"
	}
	if cfg.NumOnus <= 0 {
		cfg.NumOnus = 4
	}
	if cfg.BaseVlan == 0 {
		cfg.BaseVlan = 100
	}
	return cfg
}

// OnuInfo describes one simulated ONU for callers wiring up the logical plane
type OnuInfo struct {
	DeviceID     string
	SerialNumber string
	// UniPortNo is the logical port number the ONU's UNI should surface as
	UniPortNo uint32
	Vlan      uint32
}

// PacketOutRecord is one packet the OLT was asked to emit
type PacketOutRecord struct {
	DeviceID     string
	EgressPortNo uint32
	Packet       *ofp.OfpPacketOut
}

type simDevice struct {
	device *voltha.Device
	ports  map[uint32]*voltha.Port
	vlan   uint32
	flows  map[uint64]*ofp.OfpFlowStats
	groups map[uint32]*ofp.OfpGroupEntry
}

// Olt is a simulated OLT together with its ONUs.  It satisfies the device
// manager contract of the logical plane: pushed flows and groups land in
// per-device tables, packet-outs are recorded.
type Olt struct {
	cfg  Config
	lock sync.RWMutex
	// devices holds the OLT itself and every ONU
	devices    map[string]*simDevice
	onus       []OnuInfo
	packetOuts []PacketOutRecord
}

// NewOlt builds the simulated topology: one OLT with an NNI and a PON port,
// and cfg.NumOnus ONUs each with a PON and a UNI port
func NewOlt(cfg Config) *Olt {
	cfg = cfg.withDefaults()
	o := &Olt{
		cfg:     cfg,
		devices: make(map[string]*simDevice, cfg.NumOnus+1),
		onus:    make([]OnuInfo, 0, cfg.NumOnus),
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	oltPeers := make([]*voltha.Port_PeerPort, 0, cfg.NumOnus)
	for i := 0; i < cfg.NumOnus; i++ {
		onuID := fmt.Sprintf("%s-onu-%d", cfg.DeviceID, i+1)
		serial := randomSerialNumber(rng)
		o.devices[onuID] = &simDevice{
			device: &voltha.Device{
				Id:            onuID,
				Type:          "simulated_onu",
				Vendor:        "simulators",
				Model:         "go-simulators",
				SerialNumber:  serial,
				MacAddress:    strings.ToUpper(randomMacAddress(rng)),
				ParentId:      cfg.DeviceID,
				ParentPortNo:  OltPonPortNo,
				ConnectStatus: voltha.ConnectStatus_REACHABLE,
				OperStatus:    voltha.OperStatus_ACTIVE,
			},
			ports: map[uint32]*voltha.Port{
				OnuPonPortNo: {
					PortNo:     OnuPonPortNo,
					Label:      fmt.Sprintf("pon-%d", OnuPonPortNo),
					Type:       voltha.Port_PON_ONU,
					OperStatus: voltha.OperStatus_ACTIVE,
					DeviceId:   onuID,
					Peers:      []*voltha.Port_PeerPort{{DeviceId: cfg.DeviceID, PortNo: OltPonPortNo}},
				},
				OnuUniPortNo: {
					PortNo:     OnuUniPortNo,
					Label:      fmt.Sprintf("uni-%d", OnuUniPortNo),
					Type:       voltha.Port_ETHERNET_UNI,
					OperStatus: voltha.OperStatus_ACTIVE,
					DeviceId:   onuID,
				},
			},
			vlan:   cfg.BaseVlan + uint32(i),
			flows:  make(map[uint64]*ofp.OfpFlowStats),
			groups: make(map[uint32]*ofp.OfpGroupEntry),
		}
		o.onus = append(o.onus, OnuInfo{
			DeviceID:     onuID,
			SerialNumber: serial,
			UniPortNo:    initialUniPortNo + uint32(i),
			Vlan:         cfg.BaseVlan + uint32(i),
		})
		oltPeers = append(oltPeers, &voltha.Port_PeerPort{DeviceId: onuID, PortNo: OnuPonPortNo})
	}

	o.devices[cfg.DeviceID] = &simDevice{
		device: &voltha.Device{
			Id:            cfg.DeviceID,
			Type:          "simulated_olt",
			Root:          true,
			Vendor:        "simulators",
			Model:         "go-simulators",
			SerialNumber:  randomSerialNumber(rng),
			MacAddress:    strings.ToUpper(randomMacAddress(rng)),
			ConnectStatus: voltha.ConnectStatus_REACHABLE,
			OperStatus:    voltha.OperStatus_ACTIVE,
		},
		ports: map[uint32]*voltha.Port{
			OltNniPortNo: {
				PortNo:     OltNniPortNo,
				Label:      fmt.Sprintf("nni-%d", OltNniPortNo),
				Type:       voltha.Port_ETHERNET_NNI,
				OperStatus: voltha.OperStatus_ACTIVE,
				DeviceId:   cfg.DeviceID,
			},
			OltPonPortNo: {
				PortNo:     OltPonPortNo,
				Label:      fmt.Sprintf("pon-%d", OltPonPortNo),
				Type:       voltha.Port_PON_OLT,
				OperStatus: voltha.OperStatus_ACTIVE,
				DeviceId:   cfg.DeviceID,
				Peers:      oltPeers,
			},
		},
		flows:  make(map[uint64]*ofp.OfpFlowStats),
		groups: make(map[uint32]*ofp.OfpGroupEntry),
	}
	return o
}

// DeviceID returns the OLT's device id
func (o *Olt) DeviceID() string {
	return o.cfg.DeviceID
}

// Onus returns the simulated ONUs in UNI port order
func (o *Olt) Onus() []OnuInfo {
	return append([]OnuInfo(nil), o.onus...)
}

// GetDevice returns a copy of the device
func (o *Olt) GetDevice(ctx context.Context, deviceID string) (*voltha.Device, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "%s", deviceID)
	}
	return proto.Clone(dev.device).(*voltha.Device), nil
}

// ListDevicePorts returns a copy of the device's ports
func (o *Olt) ListDevicePorts(ctx context.Context, deviceID string) (map[uint32]*voltha.Port, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "%s", deviceID)
	}
	ports := make(map[uint32]*voltha.Port, len(dev.ports))
	for portNo, port := range dev.ports {
		ports[portNo] = proto.Clone(port).(*voltha.Port)
	}
	return ports, nil
}

// GetDeviceVlan returns the access vlan provisioned for an ONU
func (o *Olt) GetDeviceVlan(ctx context.Context, deviceID string) (uint32, error) {
	o.lock.RLock()
	defer o.lock.RUnlock()
	dev, ok := o.devices[deviceID]
	if !ok || dev.vlan == 0 {
		return 0, status.Errorf(codes.NotFound, "no-vlan-for-%s", deviceID)
	}
	return dev.vlan, nil
}

// AddFlowsAndGroups merges the given flows and groups into the device tables,
// replacing entries with the same identity
func (o *Olt) AddFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return status.Errorf(codes.NotFound, "%s", deviceID)
	}
	logger.Debugw(ctx, "add-flows-and-groups", log.Fields{"device-id": deviceID, "flows": len(flows), "groups": len(groups)})
	for _, flow := range flows {
		dev.flows[flow.Id] = flow
	}
	for _, group := range groups {
		dev.groups[group.Desc.GroupId] = group
	}
	return nil
}

// DeleteFlowsAndGroups removes the given flows and groups from the device tables
func (o *Olt) DeleteFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return status.Errorf(codes.NotFound, "%s", deviceID)
	}
	logger.Debugw(ctx, "delete-flows-and-groups", log.Fields{"device-id": deviceID, "flows": len(flows), "groups": len(groups)})
	for _, flow := range flows {
		delete(dev.flows, flow.Id)
	}
	for _, group := range groups {
		delete(dev.groups, group.Desc.GroupId)
	}
	return nil
}

// UpdateFlowsAndGroups replaces the device tables wholesale
func (o *Olt) UpdateFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return status.Errorf(codes.NotFound, "%s", deviceID)
	}
	logger.Debugw(ctx, "update-flows-and-groups", log.Fields{"device-id": deviceID, "flows": len(flows), "groups": len(groups)})
	dev.flows = make(map[uint64]*ofp.OfpFlowStats, len(flows))
	for _, flow := range flows {
		dev.flows[flow.Id] = flow
	}
	dev.groups = make(map[uint32]*ofp.OfpGroupEntry, len(groups))
	for _, group := range groups {
		dev.groups[group.Desc.GroupId] = group
	}
	return nil
}

// DeleteParentFlows removes the flows anchored on the given UNI, identified
// by their tunnel id
func (o *Olt) DeleteParentFlows(ctx context.Context, deviceID string, uniPort uint32) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return status.Errorf(codes.NotFound, "%s", deviceID)
	}
	for id, flow := range dev.flows {
		if fu.GetTunnelId(flow) == uint64(uniPort) {
			delete(dev.flows, id)
		}
	}
	return nil
}

// PacketOut records the packet; a simulated port has nowhere to send it
func (o *Olt) PacketOut(ctx context.Context, deviceID string, egressPortNo uint32, packet *ofp.OfpPacketOut) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	if _, ok := o.devices[deviceID]; !ok {
		return status.Errorf(codes.NotFound, "%s", deviceID)
	}
	logger.Debugw(ctx, "packet-out", log.Fields{"device-id": deviceID, "egress-port-no": egressPortNo, "bytes": len(packet.Data)})
	o.packetOuts = append(o.packetOuts, PacketOutRecord{DeviceID: deviceID, EgressPortNo: egressPortNo, Packet: packet})
	return nil
}

// Flows returns a copy of the device's flow table
func (o *Olt) Flows(deviceID string) []*ofp.OfpFlowStats {
	o.lock.RLock()
	defer o.lock.RUnlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return nil
	}
	flows := make([]*ofp.OfpFlowStats, 0, len(dev.flows))
	for _, flow := range dev.flows {
		flows = append(flows, flow)
	}
	return flows
}

// Groups returns a copy of the device's group table
func (o *Olt) Groups(deviceID string) []*ofp.OfpGroupEntry {
	o.lock.RLock()
	defer o.lock.RUnlock()
	dev, ok := o.devices[deviceID]
	if !ok {
		return nil
	}
	groups := make([]*ofp.OfpGroupEntry, 0, len(dev.groups))
	for _, group := range dev.groups {
		groups = append(groups, group)
	}
	return groups
}

// PacketOuts returns the packets recorded so far
func (o *Olt) PacketOuts() []PacketOutRecord {
	o.lock.RLock()
	defer o.lock.RUnlock()
	return append([]PacketOutRecord(nil), o.packetOuts...)
}

func randomSerialNumber(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		rng.Intn(255),
		rng.Intn(255),
		rng.Intn(255),
		rng.Intn(255),
		rng.Intn(9000)+1000,
	)
}

func randomMacAddress(rng *rand.Rand) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		rng.Intn(128),
		rng.Intn(128),
		rng.Intn(128),
		rng.Intn(128),
		rng.Intn(128),
		rng.Intn(128),
	)
}
