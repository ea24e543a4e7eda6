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
	"errors"

	"github.com/opencord/pon-core/metrics"
	"github.com/opencord/pon-core/route"
	coreutils "github.com/opencord/pon-core/utils"
	fu "github.com/opencord/voltha-lib-go/v7/pkg/flows"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// listLogicalDeviceFlows returns a snapshot of the logical flow table
func (agent *LogicalAgent) listLogicalDeviceFlows() map[uint64]*ofp.OfpFlowStats {
	flowIDs := agent.flowCache.ListIDs()
	flows := make(map[uint64]*ofp.OfpFlowStats, len(flowIDs))
	for flowID := range flowIDs {
		if flowHandle, have := agent.flowCache.Lock(flowID); have {
			flows[flowID] = flowHandle.GetReadOnly()
			flowHandle.Unlock()
		}
	}
	return flows
}

// ListLogicalDeviceFlows returns the logical device flows
func (agent *LogicalAgent) ListLogicalDeviceFlows(ctx context.Context) *ofp.Flows {
	flows := agent.listLogicalDeviceFlows()
	items := make([]*ofp.OfpFlowStats, 0, len(flows))
	for _, f := range flows {
		items = append(items, f)
	}
	return &ofp.Flows{Items: items}
}

// UpdateFlowTable applies a flow mod to the flow table of the logical device
func (agent *LogicalAgent) UpdateFlowTable(ctx context.Context, flowMod *ofp.OfpFlowMod) error {
	logger.Debugw(ctx, "update-flow-table", log.Fields{"logical-device-id": agent.logicalDeviceID, "flow-mod": flowMod})
	if flowMod == nil {
		return nil
	}

	switch flowMod.GetCommand() {
	case ofp.OfpFlowModCommand_OFPFC_ADD:
		return agent.flowAdd(ctx, flowMod)
	case ofp.OfpFlowModCommand_OFPFC_DELETE:
		return agent.flowDelete(ctx, flowMod)
	case ofp.OfpFlowModCommand_OFPFC_DELETE_STRICT:
		return agent.flowDeleteStrict(ctx, flowMod)
	case ofp.OfpFlowModCommand_OFPFC_MODIFY:
		return agent.flowModify(flowMod)
	case ofp.OfpFlowModCommand_OFPFC_MODIFY_STRICT:
		return agent.flowModifyStrict(flowMod)
	}
	return status.Errorf(codes.Internal,
		"unhandled-command: logical-device-id:%s, command:%s", agent.logicalDeviceID, flowMod.GetCommand())
}

// flowAdd adds a flow to the flow table of the logical device
func (agent *LogicalAgent) flowAdd(ctx context.Context, mod *ofp.OfpFlowMod) error {
	flow, err := fu.FlowStatsEntryFromFlowModMessage(mod)
	if err != nil {
		logger.Errorw(ctx, "flow-add-failed", log.Fields{"flow-mod": mod, "error": err})
		return err
	}
	logger.Debugw(ctx, "flow-add", log.Fields{"flow": flow})

	if (mod.Flags & uint32(ofp.OfpFlowModFlags_OFPFF_CHECK_OVERLAP)) != 0 {
		// Overlap detection requires a match-intersection test which is not
		// implemented; FindOverlappingFlows never reports a hit.
		existing := make([]*ofp.OfpFlowStats, 0)
		for _, f := range agent.listLogicalDeviceFlows() {
			existing = append(existing, f)
		}
		if overlapped := fu.FindOverlappingFlows(existing, mod); len(overlapped) != 0 {
			return status.Errorf(codes.AlreadyExists, "overlapped-flows:%d", len(overlapped))
		}
	}

	flowHandle, created, err := agent.flowCache.LockOrCreate(ctx, flow)
	if err != nil {
		return err
	}
	defer flowHandle.Unlock()

	changed := false
	updated := false
	var flowToReplace *ofp.OfpFlowStats
	if created {
		changed = true
	} else {
		flowToReplace = flowHandle.GetReadOnly()
		if (mod.Flags & uint32(ofp.OfpFlowModFlags_OFPFF_RESET_COUNTS)) == 0 {
			flow.ByteCount = flowToReplace.ByteCount
			flow.PacketCount = flowToReplace.PacketCount
		}
		if !proto.Equal(flowToReplace, flow) {
			changed = true
			updated = true
		}
	}
	logger.Debugw(ctx, "flow-add-changed", log.Fields{"changed": changed, "updated": updated})
	if !changed {
		// a pure stats refresh, nothing to decompose or push
		return nil
	}

	groups := agent.listLogicalDeviceGroups()
	updatedFlows := map[uint64]*ofp.OfpFlowStats{flow.Id: flow}
	deviceRules, err := agent.flowDecomposer.DecomposeRules(ctx, agent, updatedFlows, groups)
	if err != nil {
		if created {
			if dErr := flowHandle.Delete(ctx); dErr != nil {
				logger.Errorw(ctx, "flow-revert-failed", log.Fields{"flow-id": flow.Id, "error": dErr})
			}
		}
		return err
	}
	logger.Debugw(ctx, "rules", log.Fields{"rules": deviceRules.String()})

	if updated {
		if err := flowHandle.Update(ctx, flow); err != nil {
			return err
		}
	}
	metrics.LogicalFlows.WithLabelValues(agent.logicalDeviceID).Set(float64(len(agent.flowCache.ListIDs())))

	respChnls := agent.addFlowsAndGroupsToDevices(ctx, deviceRules)
	go func() {
		if res := coreutils.WaitForNilOrErrorResponses(agent.internalTimeout, respChnls...); res != nil {
			logger.Infow(ctx, "failed-to-add-flows-will-attempt-deletion", log.Fields{"errors": res, "logical-device-id": agent.logicalDeviceID})
			if err := agent.revertAddedFlow(context.Background(), mod, flow, flowToReplace, deviceRules); err != nil {
				logger.Errorw(ctx, "failure-to-delete-flow-after-failed-addition", log.Fields{"logical-device-id": agent.logicalDeviceID, "error": err})
			}
		}
	}()
	return nil
}

// revertAddedFlow reverts a flow after the flowAdd request has failed, both
// from the logical table and from the devices.
func (agent *LogicalAgent) revertAddedFlow(ctx context.Context, mod *ofp.OfpFlowMod, addedFlow *ofp.OfpFlowStats, replacedFlow *ofp.OfpFlowStats, deviceRules *fu.DeviceRules) error {
	logger.Debugw(ctx, "revert-flow-add", log.Fields{"added-flow": addedFlow, "replaced-flow": replacedFlow})

	flowHandle, have := agent.flowCache.Lock(addedFlow.Id)
	if !have {
		// Not found - do nothing
		logger.Debugw(ctx, "flow-not-found", log.Fields{"added-flow": addedFlow})
		return nil
	}
	defer flowHandle.Unlock()

	if replacedFlow != nil {
		if err := flowHandle.Update(ctx, replacedFlow); err != nil {
			return err
		}
	} else {
		if err := flowHandle.Delete(ctx); err != nil {
			return err
		}
	}
	metrics.LogicalFlows.WithLabelValues(agent.logicalDeviceID).Set(float64(len(agent.flowCache.ListIDs())))

	respChnls := agent.deleteFlowsAndGroupsFromDevices(ctx, deviceRules, mod)
	go func() {
		// Since this action is taken following an add failure, we may also receive a failure for the revert
		if res := coreutils.WaitForNilOrErrorResponses(agent.internalTimeout, respChnls...); res != nil {
			logger.Warnw(ctx, "failure-reverting-added-flow", log.Fields{"logical-device-id": agent.logicalDeviceID, "errors": res})
		}
	}()
	return nil
}

// flowDelete deletes all flows covered by the wildcard flow mod
func (agent *LogicalAgent) flowDelete(ctx context.Context, mod *ofp.OfpFlowMod) error {
	logger.Debugw(ctx, "flow-delete", log.Fields{"flow-mod": mod})
	if mod == nil {
		return nil
	}

	fs, err := fu.FlowStatsEntryFromFlowModMessage(mod)
	if err != nil {
		return err
	}

	// build a list of what to delete
	toDelete := make(map[uint64]*ofp.OfpFlowStats)
	for flowID := range agent.flowCache.ListIDs() {
		if flowHandle, have := agent.flowCache.Lock(flowID); have {
			if f := flowHandle.GetReadOnly(); fu.FlowMatch(f, fs) || flowCoveredByMod(f, mod) {
				toDelete[f.Id] = f
				if err := flowHandle.Delete(ctx); err != nil {
					flowHandle.Unlock()
					return err
				}
			} else {
				flowHandle.Unlock()
			}
		}
	}
	if len(toDelete) == 0 {
		return nil
	}
	logger.Debugw(ctx, "flow-delete-matched", log.Fields{"logical-device-id": agent.logicalDeviceID, "to-delete": len(toDelete)})
	metrics.LogicalFlows.WithLabelValues(agent.logicalDeviceID).Set(float64(len(agent.flowCache.ListIDs())))

	groups := agent.listLogicalDeviceGroups()
	var respChnls []coreutils.Response
	var partialRoute bool
	deviceRules, err := agent.flowDecomposer.DecomposeRules(ctx, agent, toDelete, groups)
	if err != nil {
		// A no route error means no route exists between the ports specified in the flow. This can happen when the
		// child device is deleted and a request to delete flows from the parent device is received
		if !errors.Is(err, route.ErrNoRoute) {
			logger.Errorw(ctx, "unexpected-error-received", log.Fields{"flows-to-delete": toDelete, "error": err})
			return err
		}
		partialRoute = true
	}

	// Update the devices
	if partialRoute {
		respChnls = agent.deleteFlowsFromParentDevice(ctx, toDelete, mod)
	} else {
		respChnls = agent.deleteFlowsAndGroupsFromDevices(ctx, deviceRules, mod)
	}
	agent.sendFlowsRemoved(ctx, toDelete)

	go func() {
		if res := coreutils.WaitForNilOrErrorResponses(agent.internalTimeout, respChnls...); res != nil {
			logger.Errorw(ctx, "failure-updating-device-flows", log.Fields{"logical-device-id": agent.logicalDeviceID, "errors": res})
		}
	}()
	return nil
}

// flowDeleteStrict deletes the single flow matching the mod's identity
func (agent *LogicalAgent) flowDeleteStrict(ctx context.Context, mod *ofp.OfpFlowMod) error {
	logger.Debugw(ctx, "flow-delete-strict", log.Fields{"mod": mod})
	if mod == nil {
		return nil
	}

	flow, err := fu.FlowStatsEntryFromFlowModMessage(mod)
	if err != nil {
		return err
	}
	logger.Debugw(ctx, "flow-id-in-flow-delete-strict", log.Fields{"flow-id": flow.Id})

	flowHandle, have := agent.flowCache.Lock(flow.Id)
	if !have {
		logger.Debugw(ctx, "skipping-flow-delete-strict-request-no-flow-found", log.Fields{"flow-mod": mod})
		return nil
	}
	defer flowHandle.Unlock()

	groups := agent.listLogicalDeviceGroups()
	flowsToDelete := map[uint64]*ofp.OfpFlowStats{flow.Id: flowHandle.GetReadOnly()}

	var respChnls []coreutils.Response
	var partialRoute bool
	deviceRules, err := agent.flowDecomposer.DecomposeRules(ctx, agent, flowsToDelete, groups)
	if err != nil {
		// A no route error means no route exists between the ports specified in the flow. This can happen when the
		// child device is deleted and a request to delete flows from the parent device is received
		if !errors.Is(err, route.ErrNoRoute) {
			logger.Errorw(ctx, "unexpected-error-received", log.Fields{"flows-to-delete": flowsToDelete, "error": err})
			return err
		}
		partialRoute = true
	}

	// Update the model
	if err := flowHandle.Delete(ctx); err != nil {
		return err
	}
	metrics.LogicalFlows.WithLabelValues(agent.logicalDeviceID).Set(float64(len(agent.flowCache.ListIDs())))

	// Update the devices
	if partialRoute {
		respChnls = agent.deleteFlowsFromParentDevice(ctx, flowsToDelete, mod)
	} else {
		respChnls = agent.deleteFlowsAndGroupsFromDevices(ctx, deviceRules, mod)
	}
	agent.sendFlowsRemoved(ctx, flowsToDelete)

	go func() {
		if res := coreutils.WaitForNilOrErrorResponses(agent.internalTimeout, respChnls...); res != nil {
			logger.Warnw(ctx, "failure-deleting-device-flows", log.Fields{"logical-device-id": agent.logicalDeviceID, "errors": res})
		}
	}()
	return nil
}

// flowModify modifies a flow in the flow table of the logical device
func (agent *LogicalAgent) flowModify(mod *ofp.OfpFlowMod) error {
	return status.Errorf(codes.Unimplemented, "flow-modify")
}

// flowModifyStrict modifies a flow in the flow table of the logical device
func (agent *LogicalAgent) flowModifyStrict(mod *ofp.OfpFlowMod) error {
	return status.Errorf(codes.Unimplemented, "flow-modify-strict")
}

// flowCoveredByMod reports whether the flow is covered by the wildcard flow
// mod.  FlowMatchesMod handles the empty-match wildcard; a non-empty match
// list requires exact match-field equivalence, masked field comparison is not
// implemented.
func flowCoveredByMod(flow *ofp.OfpFlowStats, mod *ofp.OfpFlowMod) bool {
	if fu.FlowMatchesMod(flow, mod) {
		return true
	}
	if mod.Match == nil || len(mod.Match.OxmFields) == 0 {
		return false
	}
	if (flow.Cookie & mod.CookieMask) != (mod.Cookie & mod.CookieMask) {
		return false
	}
	if mod.TableId != uint32(ofp.OfpTable_OFPTT_ALL) && flow.TableId != mod.TableId {
		return false
	}
	if (mod.OutPort&0x7fffffff) != uint32(ofp.OfpPortNo_OFPP_ANY) && !fu.FlowHasOutPort(flow, mod.OutPort) {
		return false
	}
	if (mod.OutGroup&0x7fffffff) != uint32(ofp.OfpGroup_OFPG_ANY) && !fu.FlowHasOutGroup(flow, mod.OutGroup) {
		return false
	}
	return proto.Equal(flow.Match, mod.Match)
}

// deleteFlowsHavingGroup removes and returns all logical flows that output to the given group
func (agent *LogicalAgent) deleteFlowsHavingGroup(ctx context.Context, groupID uint32) (map[uint64]*ofp.OfpFlowStats, error) {
	logger.Debugw(ctx, "delete-flows-matching-group", log.Fields{"group-id": groupID})
	flowsRemoved := make(map[uint64]*ofp.OfpFlowStats)
	for flowID := range agent.flowCache.ListIDs() {
		if flowHandle, have := agent.flowCache.Lock(flowID); have {
			if flow := flowHandle.GetReadOnly(); fu.FlowHasOutGroup(flow, groupID) {
				if err := flowHandle.Delete(ctx); err != nil {
					flowHandle.Unlock()
					return nil, err
				}
				flowsRemoved[flowID] = flow
			} else {
				flowHandle.Unlock()
			}
		}
	}
	metrics.LogicalFlows.WithLabelValues(agent.logicalDeviceID).Set(float64(len(agent.flowCache.ListIDs())))
	return flowsRemoved, nil
}
