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

package api

import (
	"context"
	"errors"

	"github.com/golang/protobuf/ptypes/empty"
	"github.com/opencord/pon-core/core/device"
	"github.com/opencord/pon-core/omci/mibdb"
	"github.com/opencord/voltha-lib-go/v7/pkg/log"
	"github.com/opencord/voltha-lib-go/v7/pkg/version"
	"github.com/opencord/voltha-protos/v5/go/common"
	"github.com/opencord/voltha-protos/v5/go/omci"
	ofp "github.com/opencord/voltha-protos/v5/go/openflow_13"
	"github.com/opencord/voltha-protos/v5/go/voltha"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// APIHandler serves the subset of the voltha service the core implements.
// Everything else falls through to the embedded unimplemented server.
type APIHandler struct {
	voltha.UnimplementedVolthaServiceServer
	ldMgr *device.LogicalManager
	mibDB *mibdb.Database
}

// NewAPIHandler creates API handler instance
func NewAPIHandler(ldMgr *device.LogicalManager, mibDB *mibdb.Database) *APIHandler {
	return &APIHandler{
		ldMgr: ldMgr,
		mibDB: mibDB,
	}
}

// GetVoltha currently just returns version information
func (handler *APIHandler) GetVoltha(ctx context.Context, _ *empty.Empty) (*voltha.Voltha, error) {
	logger.Debug(ctx, "GetVoltha")
	return &voltha.Voltha{Version: version.VersionInfo.Version}, nil
}

// GetLogicalDevice returns a logical device
func (handler *APIHandler) GetLogicalDevice(ctx context.Context, id *voltha.ID) (*voltha.LogicalDevice, error) {
	return handler.ldMgr.GetLogicalDevice(ctx, id)
}

// ListLogicalDevices returns all logical devices known to this core
func (handler *APIHandler) ListLogicalDevices(ctx context.Context, e *empty.Empty) (*voltha.LogicalDevices, error) {
	return handler.ldMgr.ListLogicalDevices(ctx, e)
}

// ListLogicalDevicePorts returns the ports of a logical device
func (handler *APIHandler) ListLogicalDevicePorts(ctx context.Context, id *voltha.ID) (*voltha.LogicalPorts, error) {
	return handler.ldMgr.ListLogicalDevicePorts(ctx, id)
}

// ListLogicalDeviceFlows returns the flow table of a logical device
func (handler *APIHandler) ListLogicalDeviceFlows(ctx context.Context, id *voltha.ID) (*ofp.Flows, error) {
	return handler.ldMgr.ListLogicalDeviceFlows(ctx, id)
}

// ListLogicalDeviceFlowGroups returns the group table of a logical device
func (handler *APIHandler) ListLogicalDeviceFlowGroups(ctx context.Context, id *voltha.ID) (*ofp.FlowGroups, error) {
	return handler.ldMgr.ListLogicalDeviceFlowGroups(ctx, id)
}

// UpdateLogicalDeviceFlowTable applies a flow mod to a logical device
func (handler *APIHandler) UpdateLogicalDeviceFlowTable(ctx context.Context, flow *ofp.FlowTableUpdate) (*empty.Empty, error) {
	return handler.ldMgr.UpdateLogicalDeviceFlowTable(ctx, flow)
}

// UpdateLogicalDeviceFlowGroupTable applies a group mod to a logical device
func (handler *APIHandler) UpdateLogicalDeviceFlowGroupTable(ctx context.Context, flow *ofp.FlowGroupTableUpdate) (*empty.Empty, error) {
	return handler.ldMgr.UpdateLogicalDeviceFlowGroupTable(ctx, flow)
}

// GetMibDeviceData returns the MIB database content of one ONU
func (handler *APIHandler) GetMibDeviceData(ctx context.Context, id *common.ID) (*omci.MibDeviceData, error) {
	logger.Debugw(ctx, "GetMibDeviceData", log.Fields{"device-id": id.Id})
	data, err := handler.mibDB.GetMibDeviceData(ctx, id.Id)
	if err != nil {
		if errors.Is(err, mibdb.ErrDeviceNotFound) {
			return nil, status.Errorf(codes.NotFound, "%s", id.Id)
		}
		return nil, err
	}
	return data, nil
}
