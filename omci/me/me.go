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

// Package me holds the managed-entity vocabulary shared by the OMCI
// database, synchronizer and transport collaborators.
package me

// ClassID identifies a managed entity class
type ClassID uint16

// EntityID identifies a managed entity instance within a class
type EntityID uint16

// OntDataClassID is the class whose mib-data-sync attribute is tracked separately
// from the generic instance database.  Upload rows for it are skipped.
const OntDataClassID ClassID = 2

// AttributeMap maps attribute names to their encoded values
type AttributeMap map[string]string

// Copy returns a shallow copy of the attribute map
func (am AttributeMap) Copy() AttributeMap {
	cp := make(AttributeMap, len(am))
	for k, v := range am {
		cp[k] = v
	}
	return cp
}

// Merge applies the attributes of "other" on top of am and reports whether anything changed
func (am AttributeMap) Merge(other AttributeMap) bool {
	changed := false
	for k, v := range other {
		if cur, ok := am[k]; !ok || cur != v {
			am[k] = v
			changed = true
		}
	}
	return changed
}

// ResponseStatus is the result code carried in an OMCI response
type ResponseStatus uint8

const (
	Success          ResponseStatus = 0
	ProcessingError  ResponseStatus = 1
	NotSupported     ResponseStatus = 2
	ParameterError   ResponseStatus = 3
	UnknownEntity    ResponseStatus = 4
	UnknownInstance  ResponseStatus = 5
	DeviceBusy       ResponseStatus = 6
	InstanceExists   ResponseStatus = 7
	AttributeFailure ResponseStatus = 9
)

func (rs ResponseStatus) String() string {
	switch rs {
	case Success:
		return "success"
	case ProcessingError:
		return "processing-error"
	case NotSupported:
		return "not-supported"
	case ParameterError:
		return "parameter-error"
	case UnknownEntity:
		return "unknown-entity"
	case UnknownInstance:
		return "unknown-instance"
	case DeviceBusy:
		return "device-busy"
	case InstanceExists:
		return "instance-exists"
	case AttributeFailure:
		return "attribute-failure"
	}
	return "undefined"
}
