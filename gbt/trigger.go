// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gbt

import "fmt"

// Trigger is a trigger category, as flagged in the RDH trigger type.
type Trigger uint8

const (
	TrgOrbit Trigger = iota
	TrgHB
	TrgHBr
	TrgHC
	TrgPhysics
	TrgPP
	TrgCal
	TrgSOT
	TrgEOT
	TrgSOC
	TrgEOC
	TrgTF
	TrgInt

	NTriggers = int(TrgInt) + 1
)

// DetField is a link health flag, as flagged in the RDH detector field.
type DetField uint8

const (
	DetMissingData DetField = iota
	DetWarning
	DetError
	DetFault
	DetTriggerRamp
	DetRecovery
	DetTimebaseUnsyncEvt
	DetTimebaseEvt
	DetClockEvt

	NDetFields = int(DetClockEvt) + 1
)

type bitName struct {
	bit  uint
	name string
}

var triggers = [NTriggers]bitName{
	TrgOrbit:   {0, "ORBIT"},
	TrgHB:      {1, "HB"},
	TrgHBr:     {2, "HBr"},
	TrgHC:      {3, "HC"},
	TrgPhysics: {4, "PHYSICS"},
	TrgPP:      {5, "PP"},
	TrgCal:     {6, "CAL"},
	TrgSOT:     {7, "SOT"},
	TrgEOT:     {8, "EOT"},
	TrgSOC:     {9, "SOC"},
	TrgEOC:     {10, "EOC"},
	TrgTF:      {11, "TF"},
	TrgInt:     {12, "INT"},
}

var detFields = [NDetFields]bitName{
	DetMissingData:       {0, "MissingData"},
	DetWarning:           {1, "Warning"},
	DetError:             {2, "Error"},
	DetFault:             {3, "Fault"},
	DetTriggerRamp:       {4, "TriggerRamp"},
	DetRecovery:          {5, "Recovery"},
	DetTimebaseUnsyncEvt: {24, "TimebaseUnsyncEvt"},
	DetTimebaseEvt:       {25, "TimebaseEvt"},
	DetClockEvt:          {26, "ClockEvt"},
}

// Bit returns the bit position of the trigger in the RDH trigger type.
func (trg Trigger) Bit() uint { return triggers[trg].bit }

func (trg Trigger) String() string {
	if int(trg) >= NTriggers {
		return fmt.Sprintf("Trigger(%d)", uint8(trg))
	}
	return triggers[trg].name
}

// Bit returns the bit position of the flag in the RDH detector field.
func (df DetField) Bit() uint { return detFields[df].bit }

func (df DetField) String() string {
	if int(df) >= NDetFields {
		return fmt.Sprintf("DetField(%d)", uint8(df))
	}
	return detFields[df].name
}

// Classify returns the trigger categories and detector flags set in the
// readout header, in table order. Unknown bits are ignored.
func Classify(rdh RDH) ([]Trigger, []DetField) {
	var (
		trgs []Trigger
		dets []DetField
	)
	for i, v := range triggers {
		if rdh.TriggerType&(1<<v.bit) != 0 {
			trgs = append(trgs, Trigger(i))
		}
	}
	for i, v := range detFields {
		if rdh.DetField&(1<<v.bit) != 0 {
			dets = append(dets, DetField(i))
		}
	}
	return trgs, dets
}

// HasTrigger reports whether the readout header carries the trigger.
func (rdh RDH) HasTrigger(trg Trigger) bool {
	return rdh.TriggerType&(1<<trg.Bit()) != 0
}
