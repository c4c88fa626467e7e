package dto

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CaseResponse struct {
	MasterCodeID      string           `json:"master_code_id"`
	Code              string           `json:"code"`
	BatchID           string           `json:"batch_id"`
	CaseNumber        int              `json:"case_number"`
	Status            string           `json:"status"`
	ExpectedUnitCount int              `json:"expected_unit_count"`
	ActualUnitCount   int              `json:"actual_unit_count"`
	SequenceFrom      int              `json:"sequence_from"`
	SequenceTo        int              `json:"sequence_to"`
	UnitsFound        int              `json:"units_found"`
	UnitsByStatus     map[string]int64 `json:"units_by_status"`
}

type MarkPerfectResponse struct {
	MasterCodeID    string `json:"master_code_id"`
	Linked          int64  `json:"linked"`
	AlreadyLinked   int    `json:"already_linked"`
	ActualUnitCount int    `json:"actual_unit_count"`
	Status          string `json:"status"`
}
