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

package mibsync

// State is a stage of the MIB synchronization cycle.
type State int

const (
	// Disabled - synchronizer is not running
	Disabled State = iota
	// Starting - seeding the local database and deciding the first step
	Starting
	// Uploading - full MIB upload from the device is in progress
	Uploading
	// ExaminingMds - comparing the stored MIB data sync counter with the device's
	ExaminingMds
	// InSync - local database matches the device
	InSync
	// OutOfSync - a divergence was detected and is being reconciled
	OutOfSync
	// Auditing - periodic MIB data sync counter check is in progress
	Auditing
	// Resynchronizing - row-by-row comparison against the device is in progress
	Resynchronizing
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Starting:
		return "starting"
	case Uploading:
		return "uploading"
	case ExaminingMds:
		return "examining-mds"
	case InSync:
		return "in-sync"
	case OutOfSync:
		return "out-of-sync"
	case Auditing:
		return "auditing"
	case Resynchronizing:
		return "resynchronizing"
	default:
		return "unknown"
	}
}

// Trigger causes a state transition when fired in a state that allows it.
type Trigger int

const (
	// TriggerStart begins the synchronization cycle
	TriggerStart Trigger = iota
	// TriggerUploadMib requests a full MIB upload
	TriggerUploadMib
	// TriggerExamineMds requests a MIB data sync counter comparison
	TriggerExamineMds
	// TriggerSuccess reports that the current stage completed cleanly
	TriggerSuccess
	// TriggerTimeout reports that the current stage failed or timed out
	TriggerTimeout
	// TriggerMismatch reports a MIB data sync counter mismatch
	TriggerMismatch
	// TriggerAuditMib requests a periodic audit
	TriggerAuditMib
	// TriggerForceResync requests a full row-by-row resynchronization
	TriggerForceResync
	// TriggerDiffsFound reports that resynchronization found differences
	TriggerDiffsFound
	// TriggerStop shuts the synchronizer down, valid in every state
	TriggerStop
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerUploadMib:
		return "upload-mib"
	case TriggerExamineMds:
		return "examine-mds"
	case TriggerSuccess:
		return "success"
	case TriggerTimeout:
		return "timeout"
	case TriggerMismatch:
		return "mismatch"
	case TriggerAuditMib:
		return "audit-mib"
	case TriggerForceResync:
		return "force-resync"
	case TriggerDiffsFound:
		return "diffs-found"
	case TriggerStop:
		return "stop"
	default:
		return "unknown"
	}
}

type transition struct {
	trigger Trigger
	from    State
	to      State
}

var transitions = []transition{
	{trigger: TriggerStart, from: Disabled, to: Starting},
	{trigger: TriggerUploadMib, from: Starting, to: Uploading},
	{trigger: TriggerExamineMds, from: Starting, to: ExaminingMds},
	{trigger: TriggerSuccess, from: Uploading, to: InSync},
	{trigger: TriggerTimeout, from: Uploading, to: Starting},
	{trigger: TriggerSuccess, from: ExaminingMds, to: InSync},
	{trigger: TriggerTimeout, from: ExaminingMds, to: Starting},
	{trigger: TriggerMismatch, from: ExaminingMds, to: Uploading},
	{trigger: TriggerAuditMib, from: InSync, to: Auditing},
	{trigger: TriggerAuditMib, from: OutOfSync, to: Auditing},
	{trigger: TriggerSuccess, from: Auditing, to: InSync},
	{trigger: TriggerTimeout, from: Auditing, to: Starting},
	{trigger: TriggerMismatch, from: Auditing, to: Resynchronizing},
	{trigger: TriggerForceResync, from: Auditing, to: Resynchronizing},
	{trigger: TriggerSuccess, from: Resynchronizing, to: InSync},
	{trigger: TriggerDiffsFound, from: Resynchronizing, to: OutOfSync},
	{trigger: TriggerTimeout, from: Resynchronizing, to: OutOfSync},
}

// nextState returns the destination for firing trigger in from.  TriggerStop
// is accepted from every state and always leads to Disabled.
func nextState(from State, trigger Trigger) (State, bool) {
	if trigger == TriggerStop {
		return Disabled, true
	}
	for _, t := range transitions {
		if t.from == from && t.trigger == trigger {
			return t.to, true
		}
	}
	return from, false
}
