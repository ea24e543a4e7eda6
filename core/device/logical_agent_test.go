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
	"fmt"
	"sync"
	"testing"
	"time"

	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testOltID    = "olt-1"
	testNNIPort  = uint32(100)
	anyPort      = uint64(ofp.OfpPortNo_OFPP_ANY)
	anyGroup     = uint64(ofp.OfpGroup_OFPG_ANY)
	allTables    = uint64(ofp.OfpTable_OFPTT_ALL)
	vidPresent   = uint32(ofp.OfpVlanId_OFPVID_PRESENT)
	testInterval = 5 * time.Millisecond
)

func testOnuID(i int) string     { return fmt.Sprintf("onu-%d", i) }
func testUNIPort(i int) uint32   { return uint32(101 + i) }
func flowModCommand(c ofp.OfpFlowModCommand) *ofp.OfpFlowModCommand { return &c }

type pushedRules struct {
	flows  []*ofp.OfpFlowStats
	groups []*ofp.OfpGroupEntry
}

type fakeManager struct {
	mu          sync.Mutex
	devices     map[string]*voltha.Device
	devicePorts map[string]map[uint32]*voltha.Port
	vlans       map[string]uint32

	added      map[string][]pushedRules
	deleted    map[string][]pushedRules
	updated    map[string][]pushedRules
	parentDels []uint32
	packetOuts []uint32

	failAdd bool
}

func newFakeManager(numOnus int) *fakeManager {
	m := &fakeManager{
		devices:     make(map[string]*voltha.Device),
		devicePorts: make(map[string]map[uint32]*voltha.Port),
		vlans:       make(map[string]uint32),
		added:       make(map[string][]pushedRules),
		deleted:     make(map[string][]pushedRules),
		updated:     make(map[string][]pushedRules),
	}
	m.devices[testOltID] = &voltha.Device{Id: testOltID, Root: true}
	oltPeers := make([]*voltha.Port_PeerPort, 0, numOnus)
	for i := 0; i < numOnus; i++ {
		onu := testOnuID(i)
		m.devices[onu] = &voltha.Device{Id: onu, ParentId: testOltID}
		m.devicePorts[onu] = map[uint32]*voltha.Port{
			1: {PortNo: 1, Type: voltha.Port_PON_ONU, DeviceId: onu,
				Peers: []*voltha.Port_PeerPort{{DeviceId: testOltID, PortNo: 2}}},
			2: {PortNo: 2, Type: voltha.Port_ETHERNET_UNI, DeviceId: onu},
		}
		m.vlans[onu] = uint32(100 + i)
		oltPeers = append(oltPeers, &voltha.Port_PeerPort{DeviceId: onu, PortNo: 1})
	}
	m.devicePorts[testOltID] = map[uint32]*voltha.Port{
		1: {PortNo: 1, Type: voltha.Port_ETHERNET_NNI, DeviceId: testOltID},
		2: {PortNo: 2, Type: voltha.Port_PON_OLT, DeviceId: testOltID, Peers: oltPeers},
	}
	return m
}

func (m *fakeManager) GetDevice(ctx context.Context, deviceID string) (*voltha.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	device, ok := m.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	return device, nil
}

func (m *fakeManager) ListDevicePorts(ctx context.Context, deviceID string) (map[uint32]*voltha.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ports, ok := m.devicePorts[deviceID]
	if !ok {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	return ports, nil
}

func (m *fakeManager) GetDeviceVlan(ctx context.Context, deviceID string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vlan, ok := m.vlans[deviceID]
	if !ok {
		return 0, fmt.Errorf("no vlan for device %s", deviceID)
	}
	return vlan, nil
}

func (m *fakeManager) AddFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd {
		return fmt.Errorf("add rejected by %s", deviceID)
	}
	m.added[deviceID] = append(m.added[deviceID], pushedRules{flows: flows, groups: groups})
	return nil
}

func (m *fakeManager) DeleteFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted[deviceID] = append(m.deleted[deviceID], pushedRules{flows: flows, groups: groups})
	return nil
}

func (m *fakeManager) UpdateFlowsAndGroups(ctx context.Context, deviceID string, flows []*ofp.OfpFlowStats, groups []*ofp.OfpGroupEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated[deviceID] = append(m.updated[deviceID], pushedRules{flows: flows, groups: groups})
	return nil
}

func (m *fakeManager) DeleteParentFlows(ctx context.Context, deviceID string, uniPort uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentDels = append(m.parentDels, uniPort)
	return nil
}

func (m *fakeManager) PacketOut(ctx context.Context, deviceID string, egressPortNo uint32, packet *ofp.OfpPacketOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packetOuts = append(m.packetOuts, egressPortNo)
	return nil
}

func (m *fakeManager) addCallCount(deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.added[deviceID])
}

func (m *fakeManager) setFailAdd(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAdd = fail
}

type changeEvent struct {
	reason ofp.OfpPortReason
	desc   *ofp.OfpPort
}

type fakeEventSender struct {
	mu        sync.Mutex
	changes   []changeEvent
	removed   []*ofp.OfpFlowStats
	packetIns []*ofp.OfpPacketIn
}

func (s *fakeEventSender) SendChangeEvent(ctx context.Context, logicalDeviceID string, reason ofp.OfpPortReason, desc *ofp.OfpPort) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, changeEvent{reason: reason, desc: desc})
}

func (s *fakeEventSender) SendFlowRemoved(ctx context.Context, logicalDeviceID string, flow *ofp.OfpFlowStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, flow)
}

func (s *fakeEventSender) SendPacketIn(ctx context.Context, logicalDeviceID string, packet *ofp.OfpPacketIn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packetIns = append(s.packetIns, packet)
}

func (s *fakeEventSender) changesByReason(reason ofp.OfpPortReason) []changeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]changeEvent, 0)
	for _, c := range s.changes {
		if c.reason == reason {
			out = append(out, c)
		}
	}
	return out
}

func newAgentHarness(t *testing.T, numOnus int) (*LogicalAgent, *fakeManager, *fakeEventSender) {
	ctx := context.Background()
	mgr := newFakeManager(numOnus)
	events := &fakeEventSender{}
	agent := NewLogicalAgent("ld-1", "1234abcd", testOltID, mgr, events, 500*time.Millisecond)
	require.NoError(t, agent.Start(ctx))

	require.NoError(t, agent.AddLogicalPort(ctx, &voltha.LogicalPort{
		Id: "nni", DeviceId: testOltID, DevicePortNo: 1, RootPort: true,
		OfpPort: &ofp.OfpPort{PortNo: testNNIPort},
	}))
	for i := 0; i < numOnus; i++ {
		require.NoError(t, agent.AddLogicalPort(ctx, &voltha.LogicalPort{
			Id: fmt.Sprintf("uni-%d", i), DeviceId: testOnuID(i), DevicePortNo: 2,
			OfpPort: &ofp.OfpPort{PortNo: testUNIPort(i)},
		}))
	}
	require.NoError(t, agent.buildRoutes(ctx))
	return agent, mgr, events
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(testInterval)
	}
	require.Fail(t, "condition not met before timeout")
}

// upstreamFlowMod builds an OLT-stage upstream flow mod: table 1, in the UNI
// logical port, tagged, out the NNI.
func upstreamFlowMod(uniPort uint32, vid uint32, cookie uint64, flags uint64) *ofp.OfpFlowMod {
	matchFields := []*ofp.OfpOxmField{
		{Field: &ofp.OfpOxmField_OfbField{OfbField: fu.InPort(uniPort)}},
		{Field: &ofp.OfpOxmField_OfbField{OfbField: fu.VlanVid(vidPresent | vid)}},
	}
	actions := []*ofp.OfpAction{
		fu.SetField(fu.VlanVid(vidPresent | 1000)),
		fu.Output(testNNIPort),
	}
	return fu.MkSimpleFlowMod(matchFields, actions, flowModCommand(ofp.OfpFlowModCommand_OFPFC_ADD),
		fu.OfpFlowModArgs{"priority": 10, "table_id": 1, "cookie": cookie, "flags": flags})
}

func TestFlowAddIdempotence(t *testing.T) {
	ctx := context.Background()
	agent, mgr, _ := newAgentHarness(t, 1)

	mod := upstreamFlowMod(testUNIPort(0), 101, 5, 0)
	require.NoError(t, agent.UpdateFlowTable(ctx, mod))
	require.Len(t, agent.ListLogicalDeviceFlows(ctx).Items, 1)
	waitUntil(t, 2*time.Second, func() bool { return mgr.addCallCount(testOltID) >= 1 })

	// simulate counters accumulated on the installed flow
	flowID := agent.ListLogicalDeviceFlows(ctx).Items[0].Id
	handle, have := agent.flowCache.Lock(flowID)
	require.True(t, have)
	withStats := handle.GetReadOnly()
	withStats.ByteCount = 4242
	withStats.PacketCount = 17
	require.NoError(t, handle.Update(ctx, withStats))
	handle.Unlock()

	// identical re-add is a no-op: no table growth, no new push
	pushes := mgr.addCallCount(testOltID)
	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	flows := agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(4242), flows[0].ByteCount)
	assert.Equal(t, uint64(17), flows[0].PacketCount)
	assert.Equal(t, pushes, mgr.addCallCount(testOltID))
}

func TestFlowAddReplacePreservesCounters(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	flowID := agent.ListLogicalDeviceFlows(ctx).Items[0].Id
	handle, have := agent.flowCache.Lock(flowID)
	require.True(t, have)
	withStats := handle.GetReadOnly()
	withStats.ByteCount = 999
	withStats.PacketCount = 9
	require.NoError(t, handle.Update(ctx, withStats))
	handle.Unlock()

	// same identity, different action set: entry replaced, counters kept
	replacement := upstreamFlowMod(testUNIPort(0), 101, 5, 0)
	replacement.Instructions = fu.MkSimpleFlowMod(nil, []*ofp.OfpAction{
		fu.SetField(fu.VlanVid(vidPresent | 2000)),
		fu.Output(testNNIPort),
	}, flowModCommand(ofp.OfpFlowModCommand_OFPFC_ADD), nil).Instructions
	require.NoError(t, agent.UpdateFlowTable(ctx, replacement))

	flows := agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(999), flows[0].ByteCount)
	assert.Equal(t, uint64(9), flows[0].PacketCount)
	matchVid := fu.GetVlanVid(flows[0])
	require.NotNil(t, matchVid)
	assert.Equal(t, vidPresent|101, *matchVid)
	var setVid uint32
	for _, action := range fu.GetActions(flows[0]) {
		if action.Type == ofp.OfpActionType_OFPAT_SET_FIELD {
			setVid = action.GetSetField().Field.GetOfbField().GetVlanVid()
		}
	}
	assert.Equal(t, vidPresent|2000, setVid) // match untouched, actions replaced

	// RESET_COUNTS zeroes the counters on replacement
	reset := upstreamFlowMod(testUNIPort(0), 101, 5, uint64(ofp.OfpFlowModFlags_OFPFF_RESET_COUNTS))
	require.NoError(t, agent.UpdateFlowTable(ctx, reset))
	flows = agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	assert.Zero(t, flows[0].ByteCount)
	assert.Zero(t, flows[0].PacketCount)
}

func TestFlowAddRevertedOnPushFailure(t *testing.T) {
	ctx := context.Background()
	agent, mgr, _ := newAgentHarness(t, 1)
	mgr.setFailAdd(true)

	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	waitUntil(t, 5*time.Second, func() bool {
		return len(agent.ListLogicalDeviceFlows(ctx).Items) == 0
	})
}

func TestWildcardFlowDelete(t *testing.T) {
	ctx := context.Background()
	agent, mgr, _ := newAgentHarness(t, 1)

	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 102, 9, 0)))
	require.Len(t, agent.ListLogicalDeviceFlows(ctx).Items, 2)

	// delete by cookie only
	del := fu.MkSimpleFlowMod(nil, nil, flowModCommand(ofp.OfpFlowModCommand_OFPFC_DELETE),
		fu.OfpFlowModArgs{"cookie": 5, "cookie_mask": 0xffffffffffffffff,
			"table_id": allTables, "out_port": anyPort, "out_group": anyGroup})
	require.NoError(t, agent.UpdateFlowTable(ctx, del))

	flows := agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(9), flows[0].Cookie)
	waitUntil(t, 2*time.Second, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return len(mgr.deleted[testOltID]) >= 1
	})

	// empty mod covers everything left
	delAll := fu.MkSimpleFlowMod(nil, nil, flowModCommand(ofp.OfpFlowModCommand_OFPFC_DELETE),
		fu.OfpFlowModArgs{"table_id": allTables, "out_port": anyPort, "out_group": anyGroup})
	require.NoError(t, agent.UpdateFlowTable(ctx, delAll))
	assert.Empty(t, agent.ListLogicalDeviceFlows(ctx).Items)
}

func TestFlowDeleteWithExactMatchFields(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 102, 5, 0)))

	// a non-empty match list selects only the exactly-matching flow
	del := upstreamFlowMod(testUNIPort(0), 101, 0, 0)
	del.Command = ofp.OfpFlowModCommand_OFPFC_DELETE
	del.OutPort = uint32(anyPort)
	del.OutGroup = uint32(anyGroup)
	del.TableId = uint32(allTables)
	require.NoError(t, agent.UpdateFlowTable(ctx, del))

	flows := agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	vid := fu.GetVlanVid(flows[0])
	require.NotNil(t, vid)
	assert.Equal(t, vidPresent|102, *vid)
}

func TestFlowDeleteStrict(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 101, 5, 0)))
	require.NoError(t, agent.UpdateFlowTable(ctx, upstreamFlowMod(testUNIPort(0), 102, 5, 0)))

	strict := upstreamFlowMod(testUNIPort(0), 101, 5, 0)
	strict.Command = ofp.OfpFlowModCommand_OFPFC_DELETE_STRICT
	require.NoError(t, agent.UpdateFlowTable(ctx, strict))
	require.Len(t, agent.ListLogicalDeviceFlows(ctx).Items, 1)

	// deleting an absent flow is not an error
	require.NoError(t, agent.UpdateFlowTable(ctx, strict))
	require.Len(t, agent.ListLogicalDeviceFlows(ctx).Items, 1)
}

func TestFlowModifyUnimplemented(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	mod := upstreamFlowMod(testUNIPort(0), 101, 5, 0)
	mod.Command = ofp.OfpFlowModCommand_OFPFC_MODIFY
	assert.Error(t, agent.UpdateFlowTable(ctx, mod))

	mod.Command = ofp.OfpFlowModCommand_OFPFC_MODIFY_STRICT
	assert.Error(t, agent.UpdateFlowTable(ctx, mod))
}

func multicastFlowMod(groupID uint32, flags uint64) *ofp.OfpFlowMod {
	matchFields := []*ofp.OfpOxmField{
		{Field: &ofp.OfpOxmField_OfbField{OfbField: fu.InPort(testNNIPort)}},
		{Field: &ofp.OfpOxmField_OfbField{OfbField: fu.VlanVid(vidPresent | 4000)}},
	}
	actions := []*ofp.OfpAction{fu.Group(groupID)}
	return fu.MkSimpleFlowMod(matchFields, actions, flowModCommand(ofp.OfpFlowModCommand_OFPFC_ADD),
		fu.OfpFlowModArgs{"priority": 10, "flags": flags})
}

func TestGroupAddExistsAndModifyMissing(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	buckets := []*ofp.OfpBucket{{Actions: []*ofp.OfpAction{fu.PopVlan(), fu.Output(testUNIPort(0))}}}
	require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(7, buckets, nil)))

	err := agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(7, buckets, nil))
	require.Error(t, err)

	modify := ofp.OfpGroupModCommand_OFPGC_MODIFY
	err = agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(99, buckets, &modify))
	require.Error(t, err)
}

func TestGroupDeleteCascadesToReferencingFlows(t *testing.T) {
	ctx := context.Background()
	agent, _, events := newAgentHarness(t, 1)

	buckets := []*ofp.OfpBucket{{Actions: []*ofp.OfpAction{fu.PopVlan(), fu.Output(testUNIPort(0))}}}
	require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(7, buckets, nil)))

	// F1 references group 7 and asks for a removal announcement; F2 does not
	f1 := multicastFlowMod(7, uint64(ofp.OfpFlowModFlags_OFPFF_SEND_FLOW_REM))
	f2 := upstreamFlowMod(testUNIPort(0), 101, 5, 0)
	require.NoError(t, agent.UpdateFlowTable(ctx, f1))
	require.NoError(t, agent.UpdateFlowTable(ctx, f2))
	require.Len(t, agent.ListLogicalDeviceFlows(ctx).Items, 2)

	del := ofp.OfpGroupModCommand_OFPGC_DELETE
	require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(7, nil, &del)))

	flows := agent.ListLogicalDeviceFlows(ctx).Items
	require.Len(t, flows, 1)
	assert.Equal(t, uint64(5), flows[0].Cookie)
	assert.Empty(t, agent.ListLogicalDeviceFlowGroups(ctx).Items)

	events.mu.Lock()
	removed := append([]*ofp.OfpFlowStats(nil), events.removed...)
	events.mu.Unlock()
	require.Len(t, removed, 1)
	assert.True(t, fu.FlowHasOutGroup(removed[0], 7))
}

func TestGroupDeleteAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	agent, _, _ := newAgentHarness(t, 1)

	for _, id := range []uint32{10, 11, 12} {
		buckets := []*ofp.OfpBucket{{Actions: []*ofp.OfpAction{fu.Output(testUNIPort(0))}}}
		require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(id, buckets, nil)))
	}
	captured := agent.ListLogicalDeviceFlowGroups(ctx).Items
	require.Len(t, captured, 3)

	del := ofp.OfpGroupModCommand_OFPGC_DELETE
	require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(uint32(ofp.OfpGroup_OFPG_ALL), nil, &del)))
	require.Empty(t, agent.ListLogicalDeviceFlowGroups(ctx).Items)

	// re-adding the captured groups restores an equivalent table
	for _, g := range captured {
		require.NoError(t, agent.UpdateGroupTable(ctx, fu.MkMulticastGroupMod(g.Desc.GroupId, g.Desc.Buckets, nil)))
	}
	restored := agent.ListLogicalDeviceFlowGroups(ctx).Items
	require.Len(t, restored, 3)
	want := map[uint32]struct{}{10: {}, 11: {}, 12: {}}
	for _, g := range restored {
		delete(want, g.Desc.GroupId)
	}
	assert.Empty(t, want)
}

func TestPortLifecycle(t *testing.T) {
	ctx := context.Background()
	agent, _, events := newAgentHarness(t, 2)

	require.Len(t, events.changesByReason(ofp.OfpPortReason_OFPPR_ADD), 3)

	// duplicate port number is rejected
	err := agent.AddLogicalPort(ctx, &voltha.LogicalPort{
		Id: "dup", DeviceId: testOnuID(0), DevicePortNo: 2,
		OfpPort: &ofp.OfpPort{PortNo: testUNIPort(0)},
	})
	require.Error(t, err)

	// state change emits MODIFY once; repeating the same state is silent
	require.NoError(t, agent.UpdatePortState(ctx, testUNIPort(0), voltha.OperStatus_ACTIVE))
	require.Len(t, events.changesByReason(ofp.OfpPortReason_OFPPR_MODIFY), 1)
	require.NoError(t, agent.UpdatePortState(ctx, testUNIPort(0), voltha.OperStatus_ACTIVE))
	require.Len(t, events.changesByReason(ofp.OfpPortReason_OFPPR_MODIFY), 1)

	assert.Error(t, agent.UpdatePortState(ctx, 999, voltha.OperStatus_ACTIVE))

	require.NoError(t, agent.DeleteLogicalPort(ctx, testUNIPort(1)))
	require.Len(t, events.changesByReason(ofp.OfpPortReason_OFPPR_DELETE), 1)
	// deleting an absent port is a no-op
	require.NoError(t, agent.DeleteLogicalPort(ctx, testUNIPort(1)))
	require.Len(t, events.changesByReason(ofp.OfpPortReason_OFPPR_DELETE), 1)
}

func TestDefaultRulesPushedToLeaves(t *testing.T) {
	agent, mgr, _ := newAgentHarness(t, 2)
	_ = agent

	waitUntil(t, 2*time.Second, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return len(mgr.updated[testOnuID(0)]) >= 1 && len(mgr.updated[testOnuID(1)]) >= 1
	})
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	last := mgr.updated[testOnuID(0)][len(mgr.updated[testOnuID(0)])-1]
	require.Len(t, last.flows, 3)
	for _, f := range last.flows {
		assert.Equal(t, uint32(500), f.Priority)
	}
}

func TestPacketOut(t *testing.T) {
	ctx := context.Background()
	agent, mgr, _ := newAgentHarness(t, 1)

	packet := &ofp.OfpPacketOut{
		Actions: []*ofp.OfpAction{fu.Output(testNNIPort)},
		Data:    []byte{0x01, 0x02, 0x03},
	}
	agent.PacketOut(ctx, packet)

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	require.Len(t, mgr.packetOuts, 1)
	assert.Equal(t, testNNIPort, mgr.packetOuts[0])
}

func TestPacketIn(t *testing.T) {
	ctx := context.Background()
	agent, _, events := newAgentHarness(t, 1)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	agent.PacketIn(ctx, testUNIPort(0), payload)

	events.mu.Lock()
	defer events.mu.Unlock()
	require.Len(t, events.packetIns, 1)
	assert.Equal(t, payload, events.packetIns[0].Data)
	require.NotNil(t, events.packetIns[0].Match)
	require.Len(t, events.packetIns[0].Match.OxmFields, 1)
	assert.Equal(t, testUNIPort(0), events.packetIns[0].Match.OxmFields[0].GetOfbField().GetPort())
}
