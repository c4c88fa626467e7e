package dto

// PostingResult is the outcome of one ledger posting attempt within an intake.
type PostingResult struct {
	VariantID    string `json:"variant_id"`
	MovementType string `json:"movement_type"`
	Quantity     int    `json:"quantity"`
	MovementID   string `json:"movement_id,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Error        string `json:"error,omitempty"`
}

type IntakeResult struct {
	Idle             bool            `json:"idle"`
	BatchID          string          `json:"batch_id,omitempty"`
	WarehouseOrgID   string          `json:"warehouse_org_id,omitempty"`
	MastersReceived  int             `json:"masters_received"`
	UnitsReceived    int64           `json:"units_received"`
	BuffersPromoted  int             `json:"buffers_promoted"`
	Postings         []PostingResult `json:"postings,omitempty"`
	ReceivingStatus  string          `json:"receiving_status,omitempty"`
	NonFatalFailures int             `json:"non_fatal_failures"`
}

type IntakeAuditResponse struct {
	BatchID          string            `json:"batch_id"`
	ReceivingStatus  string            `json:"receiving_status"`
	ReceivingError   *string           `json:"receiving_error"`
	MastersByStatus  map[string]int64  `json:"masters_by_status"`
	UnitsByStatus    map[string]int64  `json:"units_by_status"`
	BuffersByStatus  map[string]int64  `json:"buffers_by_status"`
	ExpectedPostings []PostingResult   `json:"expected_postings"`
	RecordedPostings []PostingResult   `json:"recorded_postings"`
	MissingPostings  []PostingResult   `json:"missing_postings"`
	DeadLetters      []DeadLetterEntry `json:"dead_letters"`
}

type DeadLetterEntry struct {
	Key      string `json:"key"`
	BatchID  string `json:"batch_id"`
	Reason   string `json:"reason"`
	FailedAt string `json:"failed_at"`
	Attempts int    `json:"attempts"`
}

type ReplayResult struct {
	Attempted int `json:"attempted"`
	Posted    int `json:"posted"`
	Requeued  int `json:"requeued"`
}
