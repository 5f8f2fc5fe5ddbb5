// Package verify clusters candidate records that describe the same
// real-world transaction and scores cross-source agreement.
package verify

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/source"
)

// Status is the confidence tier derived from cross-source agreement.
type Status string

const (
	// StatusVerified: at least two independent sources agree within
	// tolerance and the consistency score clears the threshold.
	StatusVerified Status = "VERIFIED"
	// StatusLimitedData: exactly one source reported; no contradiction
	// is possible.
	StatusLimitedData Status = "LIMITED_DATA"
	// StatusRejected: multiple sources reported materially different
	// values with no majority above threshold. Never alerted.
	StatusRejected Status = "REJECTED"
)

// Transaction is the canonical, reconciled view of one insider
// transaction. Field values come from the highest-priority agreeing
// source, never averaged.
type Transaction struct {
	Fingerprint string
	Issuer      string
	IssuerName  string
	Insider     string
	Role        string
	Type        source.TxType
	TxDate      string
	FilingDate  string
	Ref         string // filing reference of the canonical record
	Price       decimal.Decimal
	Shares      int64
	Value       decimal.Decimal
	Sources     []string // distinct agreeing sources, sorted
	Score       float64  // agreeing sources / reporting sources
	Status      Status
}

// Group is one clustered transaction event: the reconciled Transaction
// plus every record that reported it (agreeing or not), kept for audit
// and late-corroboration carryover.
type Group struct {
	Transaction Transaction
	Records     []source.RawRecord
}

// Result holds the counters of a verification run.
type Result struct {
	Candidates int
	Groups     int
	Verified   int
	Limited    int
	Rejected   int
}

// Verifier clusters and scores candidate records.
type Verifier struct {
	priceTol  decimal.Decimal
	sharesTol decimal.Decimal
	dateDays  int
	threshold float64
	priority  map[string]int
}

// New creates a Verifier. priority orders provider names from most to
// least authoritative; unknown providers sort last.
func New(cfg config.Verification, priority []string) *Verifier {
	prio := make(map[string]int, len(priority))
	for i, name := range priority {
		prio[name] = i
	}
	return &Verifier{
		priceTol:  decimal.NewFromFloat(cfg.PriceTolerancePct / 100),
		sharesTol: decimal.NewFromFloat(cfg.SharesTolerancePct / 100),
		dateDays:  cfg.DateToleranceDays,
		threshold: cfg.ScoreThreshold,
		priority:  prio,
	}
}

// Verify clusters records into transaction groups and scores each one.
// Clustering is transitive-closure based and insensitive to record
// order: the same inputs always produce the same groups.
func (v *Verifier) Verify(records []source.RawRecord) ([]Group, *Result) {
	res := &Result{Candidates: len(records)}

	// Bucket by identity fields first; only dates can differ inside a
	// bucket, so the union-find pair scan stays small.
	buckets := make(map[string][]int)
	for i, rec := range records {
		key := fmt.Sprintf("%s|%s|%s", rec.Issuer, InsiderKey(rec.Insider), rec.Type)
		buckets[key] = append(buckets[key], i)
	}

	bucketKeys := make([]string, 0, len(buckets))
	for k := range buckets {
		bucketKeys = append(bucketKeys, k)
	}
	sort.Strings(bucketKeys)

	var groups []Group
	for _, key := range bucketKeys {
		idx := buckets[key]

		// Transitive closure over the same-event relation (dates within
		// tolerance) puts all reports of one approximate event, agreeing
		// or not, into one event group.
		uf := newUnionFind(len(idx))
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				if v.sameEvent(records[idx[i]], records[idx[j]]) {
					uf.union(i, j)
				}
			}
		}

		for _, member := range uf.groups() {
			event := make([]source.RawRecord, len(member))
			for i, m := range member {
				event[i] = records[idx[m]]
			}
			groups = append(groups, v.scoreEvent(event))
		}
	}

	res.Groups = len(groups)
	for _, g := range groups {
		switch g.Transaction.Status {
		case StatusVerified:
			res.Verified++
		case StatusLimitedData:
			res.Limited++
		case StatusRejected:
			res.Rejected++
		}
	}

	return groups, res
}

// scoreEvent forms agreement clusters inside one event group, picks the
// majority cluster, and derives the consistency score and status.
func (v *Verifier) scoreEvent(event []source.RawRecord) Group {
	// Deterministic ordering regardless of arrival order.
	sort.Slice(event, func(i, j int) bool {
		if event[i].Source != event[j].Source {
			return event[i].Source < event[j].Source
		}
		return event[i].Ref < event[j].Ref
	})

	uf := newUnionFind(len(event))
	for i := 0; i < len(event); i++ {
		for j := i + 1; j < len(event); j++ {
			if v.agree(event[i], event[j]) {
				uf.union(i, j)
			}
		}
	}

	clusters := uf.groups()

	// Majority cluster: most distinct sources, ties broken by the
	// highest-priority source present, then deterministically by the
	// first member's identity.
	best := 0
	for c := 1; c < len(clusters); c++ {
		if v.betterCluster(event, clusters[c], clusters[best]) {
			best = c
		}
	}
	majority := clusters[best]

	reporting := distinctSources(event, nil)
	agreeing := distinctSources(event, majority)
	score := float64(len(agreeing)) / float64(len(reporting))

	var status Status
	switch {
	case len(reporting) == 1:
		status = StatusLimitedData
	case len(agreeing) >= 2 && score >= v.threshold:
		status = StatusVerified
	default:
		status = StatusRejected
	}

	canonical := event[v.canonicalIndex(event, majority)]

	tx := Transaction{
		Issuer:     canonical.Issuer,
		IssuerName: canonical.IssuerName,
		Insider:    canonical.Insider,
		Role:       canonical.Role,
		Type:       canonical.Type,
		TxDate:     canonical.TxDate,
		FilingDate: canonical.FilingDate,
		Ref:        canonical.Ref,
		Price:      canonical.Price,
		Shares:     canonical.Shares,
		Value:      canonical.Value,
		Sources:    agreeing,
		Score:      score,
		Status:     status,
	}
	tx.Fingerprint = Fingerprint(tx.Issuer, tx.Insider, tx.TxDate, tx.Type, tx.Price, tx.Shares)

	return Group{Transaction: tx, Records: event}
}

// sameEvent is the approximate-identity relation: identical identity
// fields (already bucketed) with transaction dates within tolerance.
func (v *Verifier) sameEvent(a, b source.RawRecord) bool {
	return dateWithin(a.TxDate, b.TxDate, v.dateDays)
}

// agree extends sameEvent with price and share-count tolerance. A
// record missing a price cannot contradict one that has it.
func (v *Verifier) agree(a, b source.RawRecord) bool {
	if !v.sameEvent(a, b) {
		return false
	}
	if a.Price.IsPositive() && b.Price.IsPositive() && !withinRelative(a.Price, b.Price, v.priceTol) {
		return false
	}
	sa := decimal.NewFromInt(a.Shares)
	sb := decimal.NewFromInt(b.Shares)
	return withinRelative(sa, sb, v.sharesTol)
}

func (v *Verifier) betterCluster(event []source.RawRecord, a, b []int) bool {
	na := len(distinctSources(event, a))
	nb := len(distinctSources(event, b))
	if na != nb {
		return na > nb
	}
	pa := v.clusterPriority(event, a)
	pb := v.clusterPriority(event, b)
	if pa != pb {
		return pa < pb
	}
	return a[0] < b[0]
}

func (v *Verifier) clusterPriority(event []source.RawRecord, members []int) int {
	best := int(^uint(0) >> 1)
	for _, m := range members {
		if p := v.sourcePriority(event[m].Source); p < best {
			best = p
		}
	}
	return best
}

func (v *Verifier) canonicalIndex(event []source.RawRecord, majority []int) int {
	best := majority[0]
	for _, m := range majority[1:] {
		pm, pb := v.sourcePriority(event[m].Source), v.sourcePriority(event[best].Source)
		if pm < pb || (pm == pb && event[m].Ref < event[best].Ref) {
			best = m
		}
	}
	return best
}

func (v *Verifier) sourcePriority(name string) int {
	if p, ok := v.priority[name]; ok {
		return p
	}
	return len(v.priority)
}

// distinctSources returns the sorted distinct source names among the
// given members (or all records when members is nil).
func distinctSources(event []source.RawRecord, members []int) []string {
	seen := make(map[string]struct{})
	if members == nil {
		for _, rec := range event {
			seen[rec.Source] = struct{}{}
		}
	} else {
		for _, m := range members {
			seen[event[m].Source] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dateWithin(a, b string, days int) bool {
	ta, err := time.Parse("2006-01-02", a)
	if err != nil {
		return false
	}
	tb, err := time.Parse("2006-01-02", b)
	if err != nil {
		return false
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(days)*24*time.Hour
}

// withinRelative reports whether a and b differ by at most tol relative
// to the larger of the two.
func withinRelative(a, b, tol decimal.Decimal) bool {
	if a.Equal(b) {
		return true
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	if larger.IsZero() {
		return true
	}
	return a.Sub(b).Abs().LessThanOrEqual(larger.Mul(tol))
}

// unionFind is a disjoint-set over indices 0..n-1.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		if ra > rb {
			ra, rb = rb, ra
		}
		uf.parent[rb] = ra
	}
}

// groups returns the members of each disjoint set, ordered by smallest
// member for determinism.
func (uf *unionFind) groups() [][]int {
	byRoot := make(map[int][]int)
	for i := range uf.parent {
		root := uf.find(i)
		byRoot[root] = append(byRoot[root], i)
	}
	roots := make([]int, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Ints(roots)
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}
