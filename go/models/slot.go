package models

import "fmt"

// CapSlot indexes a capability table.
type CapSlot uint64

// Well-known slots in every realm's capability table.
const (
	SlotNull        CapSlot = 0
	SlotCSpace      CapSlot = 1
	SlotVSpace      CapSlot = 2
	SlotTCBSelf     CapSlot = 3
	SlotLMMEndpoint CapSlot = 4
	SlotIPCBuffer   CapSlot = 5
	SlotIOPortUART  CapSlot = 6
	SlotFirstFree   CapSlot = 16
)

func (s CapSlot) IsNull() bool   { return s == SlotNull }
func (s CapSlot) String() string { return fmt.Sprintf("slot(%d)", uint64(s)) }

type RealmID uint64

const (
	RealmNull RealmID = 0
	RealmInit RealmID = 1
)

type WorkerID uint16

const MaxWorkers = 256
