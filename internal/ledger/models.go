package ledger

// Entry is a persisted ledger row: one accepted transaction fingerprint
// with its verification status at acceptance.
type Entry struct {
	Fingerprint string
	Issuer      string
	IssuerName  *string
	Insider     string
	Role        *string
	TxType      string
	TxDate      string
	FilingDate  *string
	FilingRef   *string
	Price       string // decimal string, exact as accepted
	Shares      int64
	TotalValue  string
	Sources     []string
	Score       float64
	Status      string
	FirstSeen   *string
}

// Dispatch is one alert delivery record. The UNIQUE(fingerprint,
// alert_type, upgrade) constraint caps alerts at two per fingerprint
// per rule: the original and at most one confidence upgrade.
type Dispatch struct {
	ID          string
	Fingerprint string
	AlertType   string
	Severity    string
	Upgrade     bool
	Status      string // PENDING, SENT, FAILED
	Attempts    int
	LastAttempt *string
	Title       *string
	Body        *string
	CreatedAt   *string
}

// AuditRecord preserves rejected groups and internally inconsistent
// records for later inspection. Never read by the alert path.
type AuditRecord struct {
	ID         int64
	Kind       string // inconsistent_record, rejected_group
	Payload    string // JSON
	RecordedAt *string
}

// CycleReport holds the per-stage counters of one polling cycle.
type CycleReport struct {
	ID               int64
	StartedAt        string
	FinishedAt       *string
	SourcesAvailable int
	Fetched          int
	Malformed        int
	Inconsistent     int
	Groups           int
	Verified         int
	Limited          int
	Rejected         int
	NewTransactions  int
	Upgrades         int
	Alerts           int
	Sent             int
	Failed           int
	Degraded         bool
}

// Stats contains aggregate ledger statistics.
type Stats struct {
	TotalTransactions int
	Verified          int
	Limited           int
	DispatchesSent    int
	DispatchesFailed  int
	DispatchesPending int
	AuditRecords      int
	Cycles            int
	DegradedCycles    int
}
