// Package domain holds the plain data types shared across detection, scoring,
// notification and storage. Types mirror the signal tables one to one so the
// read API collaborator sees exactly what the detectors wrote.
package domain

import "time"

// Transaction codes as reported on Form 4.
const (
	CodePurchase = "P" // open-market purchase
	CodeSale     = "S" // open-market sale
	CodeAward    = "A" // grant/award
)

// Acquired/disposed codes.
const (
	Acquired = "A"
	Disposed = "D"
)

// Signal kinds used for notification typing and fingerprints.
const (
	SignalClusterBuy     = "cluster_buy"
	SignalImportantTrade = "important_trade"
	SignalFirstBuy       = "first_buy"
)

// Notification queue entry statuses.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Trade is one qualifying insider transaction joined with its filer's role and
// issuer context. It is the unit the scorers operate on; grouping and
// role/issuer joins happen in storage, scoring happens on this struct.
type Trade struct {
	TransactionID        int64
	FilingID             int64
	IssuerID             int64
	IssuerCIK            string
	IssuerName           string
	IssuerTicker         string
	IssuerSector         string
	PersonID             int64
	PersonCIK            string
	PersonName           string
	Date                 time.Time
	Code                 string
	AcquiredDisposed     string
	Shares               float64
	Price                float64
	Value                float64
	SharesOwnedFollowing float64
	Indirect             bool
	Is10b51Plan          bool
	IsOfficer            bool
	IsDirector           bool
	IsTenPercentOwner    bool
	OfficerTitle         string
	// ClusterSize is the number of distinct insiders trading the same issuer
	// within the cluster window around Date, this trade's person included.
	ClusterSize int
}

// IsPurchase reports whether the trade is an open-market purchase.
func (t Trade) IsPurchase() bool {
	return t.Code == CodePurchase && t.AcquiredDisposed == Acquired
}

// IsSale reports whether the trade is an open-market sale.
func (t Trade) IsSale() bool {
	return t.Code == CodeSale
}

// ClusterGroup is one (issuer, date) group of qualifying purchases before
// scoring.
type ClusterGroup struct {
	IssuerID   int64
	IssuerCIK  string
	IssuerName string
	Ticker     string
	Sector     string
	Date       time.Time
	Trades     []Trade
}

// DistinctInsiders counts distinct persons in the group.
func (g ClusterGroup) DistinctInsiders() int {
	seen := make(map[int64]struct{}, len(g.Trades))
	for _, t := range g.Trades {
		seen[t.PersonID] = struct{}{}
	}

	return len(seen)
}

// TotalShares sums shares across the group.
func (g ClusterGroup) TotalShares() float64 {
	var total float64
	for _, t := range g.Trades {
		total += t.Shares
	}

	return total
}

// TotalValue sums transaction value across the group.
func (g ClusterGroup) TotalValue() float64 {
	var total float64
	for _, t := range g.Trades {
		total += t.Value
	}

	return total
}

// ClusterBuySignal is one issuer+date cluster row.
type ClusterBuySignal struct {
	ID                 int64
	IssuerID           int64
	IssuerCIK          string
	IssuerName         string
	Ticker             string
	Sector             string
	Date               time.Time
	TotalInsiders      int
	TotalShares        float64
	TotalValue         float64
	SignalStrength     int
	HasCEOBuy          bool
	HasCFOBuy          bool
	HasTenPercentOwner bool
	BuyWindowStart     time.Time
	BuyWindowEnd       time.Time
	IsActive           bool
	CreatedAt          time.Time
	LastUpdated        time.Time
}

// ClusterBuyTrade is one denormalized line item belonging to a cluster.
type ClusterBuyTrade struct {
	ID            int64
	ClusterID     int64
	TransactionID int64
	PersonName    string
	Date          time.Time
	Shares        float64
	Price         float64
	Value         float64
	IsOfficer     bool
	IsDirector    bool
	IsTenPercent  bool
	OfficerTitle  string
}

// ImportantTradeSignal is one transaction's importance score with its
// component sub-scores kept for explainability.
type ImportantTradeSignal struct {
	ID              int64
	TransactionID   int64
	IssuerID        int64
	PersonID        int64
	Date            time.Time
	ImportanceScore int
	ValueScore      int
	DirectionScore  int
	RoleScore       int
	OwnershipScore  int
	ClusterScore    int
	TimingScore     int
	IsPurchase      bool
	IsSale          bool
	IsFirstBuy      bool
	Is10b51Plan     bool
	ClusterSize     int
	IsActive        bool
}

// FirstBuySignal marks a person's first qualifying purchase of an issuer
// within the lookback horizon.
type FirstBuySignal struct {
	ID              int64
	TransactionID   int64
	IssuerID        int64
	PersonID        int64
	Date            time.Time
	LookbackDays    int
	ImportanceScore int
	IsPartOfCluster bool
	ClusterSize     int
	IsActive        bool
}

// DailyMetrics is one daily rollup row, either global (IssuerID zero) or per
// issuer.
type DailyMetrics struct {
	IssuerID      int64
	Day           time.Time
	BuyCount      int
	SellCount     int
	BuyValue      float64
	SellValue     float64
	ClusterCount  int
	FirstBuyCount int
	BuySellRatio  float64
	AvgImportance float64
}

// TradeSignalContext is an important-trade or first-buy signal joined with
// the person, issuer and transaction facts needed for rendering and per-user
// evaluation.
type TradeSignalContext struct {
	SignalID        int64
	TransactionID   int64
	IssuerCIK       string
	IssuerName      string
	Ticker          string
	Sector          string
	PersonName      string
	OfficerTitle    string
	Date            time.Time
	Shares          float64
	Price           float64
	Value           float64
	ImportanceScore int
	IsPurchase      bool
	IsFirstBuy      bool
	ClusterSize     int
}

// Preference is one user's notification settings, owned by the external
// account system and read-only here.
type Preference struct {
	UserID                 string
	Email                  string
	NotificationsEnabled   bool
	ClusterBuyAlerts       bool
	ImportantTradeAlerts   bool
	FirstBuyAlerts         bool
	ClusterMinInsiders     int
	ClusterMinValue        float64
	ClusterMinStrength     int
	ImportantTradeMinScore int
	DigestMode             bool
	DigestTime             string // HH:MM
	MaxAlertsPerDay        int
	WatchedCompanies       string // comma-separated CIK/ticker tokens
	WatchedSectors         string
	ExcludedCompanies      string
}

// QueueEntry is one pending/sent/failed/cancelled notification.
type QueueEntry struct {
	ID          string
	UserID      string
	Type        string
	Priority    int
	SignalID    int64
	Fingerprint string
	Subject     string
	BodyText    string
	BodyHTML    string
	Status      string
	Attempts    int
	Error       string
	CreatedAt   time.Time
	SentAt      *time.Time
}
