package model

// Unit code statuses. Forward path:
// created → printed → packed → ready_to_ship → received_warehouse → warehouse_packed → shipped_distributor.
// spoiled is terminal; buffer codes move buffer_available → buffer_used.
const (
	UnitCreated            = "created"
	UnitPrinted            = "printed"
	UnitPacked             = "packed"
	UnitReadyToShip        = "ready_to_ship"
	UnitReceivedWarehouse  = "received_warehouse"
	UnitWarehousePacked    = "warehouse_packed"
	UnitShippedDistributor = "shipped_distributor"
	UnitSpoiled            = "spoiled"
	UnitBufferAvailable    = "buffer_available"
	UnitBufferUsed         = "buffer_used"
)

// Master code statuses mirror the dominant status of the linked units.
const (
	MasterGenerated          = "generated"
	MasterPrinted            = "printed"
	MasterPacked             = "packed"
	MasterReadyToShip        = "ready_to_ship"
	MasterReceivedWarehouse  = "received_warehouse"
	MasterWarehousePacked    = "warehouse_packed"
	MasterShippedDistributor = "shipped_distributor"
	MasterCompleted          = "completed"
)

// PreShipmentUnitStatuses are the manufacturer-side statuses a unit may be spoiled from.
var PreShipmentUnitStatuses = []string{UnitCreated, UnitPrinted, UnitPacked, UnitReadyToShip}

// IsPreShipment reports whether a unit in status s can still be spoiled.
func IsPreShipment(s string) bool {
	for _, p := range PreShipmentUnitStatuses {
		if p == s {
			return true
		}
	}
	return false
}

// unitTransitions is the closed transition table for unit codes. Compensation
// edges (saga and shipment unlink) are listed alongside the forward path.
var unitTransitions = map[string][]string{
	UnitCreated:            {UnitPrinted, UnitPacked, UnitSpoiled},
	UnitPrinted:            {UnitPacked, UnitSpoiled},
	UnitPacked:             {UnitReadyToShip, UnitPrinted, UnitSpoiled},
	UnitReadyToShip:        {UnitReceivedWarehouse, UnitSpoiled},
	UnitReceivedWarehouse:  {UnitWarehousePacked},
	UnitWarehousePacked:    {UnitShippedDistributor, UnitReceivedWarehouse},
	UnitShippedDistributor: {UnitReceivedWarehouse},
	UnitSpoiled:            {UnitCreated, UnitPrinted, UnitPacked, UnitReadyToShip},
	UnitBufferAvailable:    {UnitBufferUsed, UnitReceivedWarehouse},
	UnitBufferUsed:         {UnitBufferAvailable},
}

var masterTransitions = map[string][]string{
	MasterGenerated:          {MasterPrinted, MasterPacked},
	MasterPrinted:            {MasterPacked},
	MasterPacked:             {MasterReadyToShip, MasterPrinted, MasterGenerated},
	MasterReadyToShip:        {MasterReceivedWarehouse},
	MasterReceivedWarehouse:  {MasterWarehousePacked},
	MasterWarehousePacked:    {MasterShippedDistributor, MasterReceivedWarehouse},
	MasterShippedDistributor: {MasterCompleted, MasterReceivedWarehouse},
	MasterCompleted:          {},
}

// CanTransitionUnit reports whether a unit code may move from → to.
// A same-status write is always allowed so that bulk updates stay idempotent.
func CanTransitionUnit(from, to string) bool {
	return canTransition(unitTransitions, from, to)
}

// CanTransitionMaster reports whether a master code may move from → to.
func CanTransitionMaster(from, to string) bool {
	return canTransition(masterTransitions, from, to)
}

func canTransition(table map[string][]string, from, to string) bool {
	if from == to {
		_, ok := table[from]
		return ok
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CaseRange returns the inclusive sequence window [(c-1)*e+1, c*e] owned by a case.
func CaseRange(caseNumber, expected int) (from, to int) {
	if caseNumber < 1 || expected < 1 {
		return 0, -1
	}
	return (caseNumber-1)*expected + 1, caseNumber * expected
}

// InCaseRange reports whether seq falls inside the case window.
func InCaseRange(seq, caseNumber, expected int) bool {
	from, to := CaseRange(caseNumber, expected)
	return seq >= from && seq <= to
}
