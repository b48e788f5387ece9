package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fenilmodi00/ipo-aggregator/models"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
	"github.com/sirupsen/logrus"
)

// numericTolerance is the relative difference under which two numeric
// values from different sources count as agreeing
const numericTolerance = 0.02

// member is one raw record placed in the grouping stage
type member struct {
	source  models.SourceID
	symbol  string
	nameKey string
	ipo     *models.IpoData
	sub     *models.SubscriptionData
	gmp     *models.GmpData
}

// group is the set of raw records believed to describe one IPO
type group struct {
	key        string
	bySymbol   bool
	members    []member
	collisions []string
}

func newMember(source models.SourceID, record models.RawRecord) member {
	symbol, name := record.Identity()
	return member{
		source:  source,
		symbol:  normalize.Symbol(symbol),
		nameKey: normalize.Key(name),
	}
}

// collectMembers flattens the successful results in call order
func collectMembers(results []callResult) []member {
	var members []member
	for _, r := range results {
		if !r.status.Success {
			continue
		}
		for i := range r.ipos {
			m := newMember(r.status.Source, r.ipos[i])
			m.ipo = &r.ipos[i]
			members = append(members, m)
		}
		for i := range r.subs {
			m := newMember(r.status.Source, r.subs[i])
			m.sub = &r.subs[i]
			members = append(members, m)
		}
		for i := range r.gmps {
			m := newMember(r.status.Source, r.gmps[i])
			m.gmp = &r.gmps[i]
			members = append(members, m)
		}
	}
	return members
}

// groupMembers keys members by symbol, else by name key. A name-only group
// folds into the one symbol group whose symbol or member name key equals
// its key. When several symbol groups qualify the name group is kept apart
// and flagged as a key collision.
func groupMembers(members []member) []*group {
	var (
		groups       []*group
		symbolGroups = make(map[string]*group)
		nameGroups   = make(map[string]*group)
		nameOrder    []*group
	)

	for _, m := range members {
		switch {
		case m.symbol != "":
			g, ok := symbolGroups[m.symbol]
			if !ok {
				g = &group{key: m.symbol, bySymbol: true}
				symbolGroups[m.symbol] = g
				groups = append(groups, g)
			}
			g.members = append(g.members, m)
		case m.nameKey != "":
			g, ok := nameGroups[m.nameKey]
			if !ok {
				g = &group{key: m.nameKey}
				nameGroups[m.nameKey] = g
				nameOrder = append(nameOrder, g)
			}
			g.members = append(g.members, m)
		}
	}

	candidates := make(map[string][]*group)
	for _, g := range groups {
		keys := []string{g.key}
		for _, m := range g.members {
			keys = append(keys, m.nameKey)
		}
		seen := make(map[string]bool, len(keys))
		for _, k := range keys {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			candidates[k] = append(candidates[k], g)
		}
	}

	for _, ng := range nameOrder {
		matches := candidates[ng.key]
		switch len(matches) {
		case 0:
			groups = append(groups, ng)
		case 1:
			matches[0].members = append(matches[0].members, ng.members...)
		default:
			for _, g := range matches {
				ng.collisions = append(ng.collisions, g.key)
			}
			groups = append(groups, ng)
		}
	}
	return groups
}

// Reducer is the merge policy of a field
type Reducer int

const (
	// ReduceIdentity fields take the first value by priority and are never blended
	ReduceIdentity Reducer = iota
	// ReducePriority numeric fields take the first value by priority
	ReducePriority
	// ReduceAverage numeric fields take the mean of every reported value
	ReduceAverage
)

func (r Reducer) String() string {
	switch r {
	case ReducePriority:
		return "priority"
	case ReduceAverage:
		return "average"
	default:
		return "identity"
	}
}

var textFields = []models.Field{
	models.FieldSymbol, models.FieldCompanyName, models.FieldExchange,
	models.FieldStatus, models.FieldSector,
}

var dateFields = []models.Field{
	models.FieldOpenDate, models.FieldCloseDate, models.FieldListingDate,
}

var priorityFields = []models.Field{
	models.FieldPriceBandLow, models.FieldPriceBandHigh, models.FieldLotSize, models.FieldIssueSize,
	models.FieldRevenueGrowth, models.FieldROE, models.FieldROCE, models.FieldDebtToEquity,
	models.FieldPATMargin, models.FieldPromoterHolding, models.FieldPERatio, models.FieldPBRatio,
	models.FieldSectorPE, models.FieldSectorPB, models.FieldOFSRatio,
	models.FieldGMP, models.FieldGMPPercent, models.FieldIPOPrice, models.FieldEstListing,
}

var averagedFields = []models.Field{
	models.FieldSubQIB, models.FieldSubNII, models.FieldSubRetail,
	models.FieldSubEmployee, models.FieldSubTotal,
}

// FieldReducer returns the merge policy of field
func FieldReducer(field models.Field) Reducer {
	for _, f := range averagedFields {
		if f == field {
			return ReduceAverage
		}
	}
	for _, f := range priorityFields {
		if f == field {
			return ReducePriority
		}
	}
	return ReduceIdentity
}

// agreementFields are the data fields whose overlap decides confidence.
// Names, symbols and free-text labels differ in formatting too often to
// signal disagreement.
var agreementFields = func() map[models.Field]bool {
	fields := make(map[models.Field]bool)
	for _, f := range dateFields {
		fields[f] = true
	}
	for _, f := range priorityFields {
		fields[f] = true
	}
	return fields
}()

// contribution is everything one source reported for one group
type contribution struct {
	text    map[models.Field]string
	numbers map[models.Field]float64
	dates   map[models.Field]time.Time
}

func newContribution() *contribution {
	return &contribution{
		text:    make(map[models.Field]string),
		numbers: make(map[models.Field]float64),
		dates:   make(map[models.Field]time.Time),
	}
}

// the first record of a source wins within that source
func (c *contribution) setText(f models.Field, v string) {
	if _, ok := c.text[f]; !ok && strings.TrimSpace(v) != "" {
		c.text[f] = strings.TrimSpace(v)
	}
}

func (c *contribution) setNumber(f models.Field, v *float64) {
	if _, ok := c.numbers[f]; !ok && v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) {
		c.numbers[f] = *v
	}
}

func (c *contribution) setInt(f models.Field, v *int) {
	if v != nil {
		n := float64(*v)
		c.setNumber(f, &n)
	}
}

func (c *contribution) setDate(f models.Field, v *time.Time) {
	if _, ok := c.dates[f]; !ok && v != nil {
		c.dates[f] = *v
	}
}

func (c *contribution) absorb(m member, name string) {
	c.setText(models.FieldSymbol, m.symbol)
	c.setText(models.FieldCompanyName, name)

	switch {
	case m.ipo != nil:
		d := m.ipo
		c.setDate(models.FieldOpenDate, d.OpenDate)
		c.setDate(models.FieldCloseDate, d.CloseDate)
		c.setDate(models.FieldListingDate, d.ListingDate)
		c.setText(models.FieldExchange, d.Exchange)
		c.setText(models.FieldStatus, d.Status)
		c.setText(models.FieldSector, d.Sector)
		c.setNumber(models.FieldPriceBandLow, d.PriceBandLow)
		c.setNumber(models.FieldPriceBandHigh, d.PriceBandHigh)
		c.setInt(models.FieldLotSize, d.LotSize)
		c.setNumber(models.FieldIssueSize, d.IssueSize)
		f := d.Financials
		c.setNumber(models.FieldRevenueGrowth, f.RevenueGrowth)
		c.setNumber(models.FieldROE, f.ROE)
		c.setNumber(models.FieldROCE, f.ROCE)
		c.setNumber(models.FieldDebtToEquity, f.DebtToEquity)
		c.setNumber(models.FieldPATMargin, f.PATMargin)
		c.setNumber(models.FieldPromoterHolding, f.PromoterHolding)
		c.setNumber(models.FieldPERatio, f.PERatio)
		c.setNumber(models.FieldPBRatio, f.PBRatio)
		c.setNumber(models.FieldSectorPE, f.SectorPE)
		c.setNumber(models.FieldSectorPB, f.SectorPB)
		c.setNumber(models.FieldOFSRatio, f.OFSRatio)
	case m.sub != nil:
		s := m.sub.Multiples
		c.setNumber(models.FieldSubQIB, s.QIB)
		c.setNumber(models.FieldSubNII, s.NII)
		c.setNumber(models.FieldSubRetail, s.Retail)
		c.setNumber(models.FieldSubEmployee, s.Employee)
		c.setNumber(models.FieldSubTotal, s.Total)
	case m.gmp != nil:
		g := m.gmp
		c.setNumber(models.FieldGMP, g.GMP)
		c.setNumber(models.FieldGMPPercent, g.GMPPercent)
		c.setNumber(models.FieldIPOPrice, g.IPOPrice)
		c.setNumber(models.FieldEstListing, g.EstimatedListingPrice)
	}
}

func memberName(m member) string {
	switch {
	case m.ipo != nil:
		return m.ipo.CompanyName
	case m.sub != nil:
		return m.sub.CompanyName
	case m.gmp != nil:
		return m.gmp.CompanyName
	}
	return ""
}

// pickFirst returns the value of the first source in order that reported
// field. Values that disagree with the winner under same are recorded as a
// conflict; the winner stands regardless.
func pickFirst[T any](field models.Field, order []models.SourceID, values map[models.SourceID]T,
	same func(a, b T) bool, format func(T) string) (T, models.SourceID, *models.FieldConflict, bool) {

	var (
		winner   T
		winnerID models.SourceID
		found    bool
		conflict *models.FieldConflict
	)
	for _, id := range order {
		v, ok := values[id]
		if !ok {
			continue
		}
		if !found {
			winner, winnerID, found = v, id, true
			continue
		}
		if !same(winner, v) {
			if conflict == nil {
				conflict = &models.FieldConflict{
					Field:  field,
					Kind:   models.ConflictValueMismatch,
					Winner: winnerID,
					Values: map[models.SourceID]string{winnerID: format(winner)},
				}
			}
			conflict.Values[id] = format(v)
		}
	}
	return winner, winnerID, conflict, found
}

// average returns the mean of all reported values
func average(values map[models.SourceID]float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	ids := make([]string, 0, len(values))
	for id := range values {
		ids = append(ids, string(id))
	}
	// fixed summation order keeps the mean bit-identical between runs
	sort.Strings(ids)
	sum := 0.0
	for _, id := range ids {
		sum += values[models.SourceID(id)]
	}
	return sum / float64(len(values)), true
}

func sameText(field models.Field) func(a, b string) bool {
	if field == models.FieldCompanyName {
		return func(a, b string) bool { return normalize.Key(a) == normalize.Key(b) }
	}
	return func(a, b string) bool {
		return strings.EqualFold(normalize.CleanText(a), normalize.CleanText(b))
	}
}

func sameDate(a, b time.Time) bool { return normalize.SameDay(&a, &b) }

// sameNumber compares within numericTolerance of the larger magnitude
func sameNumber(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff < 1e-9 {
		return true
	}
	return diff <= numericTolerance*math.Max(math.Abs(a), math.Abs(b))
}

func formatText(v string) string { return v }

func formatDate(v time.Time) string { return v.Format("2006-01-02") }

func formatNumber(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func textSlot(r *models.MergedIpoRecord, f models.Field) *string {
	switch f {
	case models.FieldSymbol:
		return &r.Symbol
	case models.FieldCompanyName:
		return &r.CompanyName
	case models.FieldExchange:
		return &r.Exchange
	case models.FieldStatus:
		return &r.Status
	case models.FieldSector:
		return &r.Sector
	}
	return nil
}

func dateSlot(r *models.MergedIpoRecord, f models.Field) **time.Time {
	switch f {
	case models.FieldOpenDate:
		return &r.OpenDate
	case models.FieldCloseDate:
		return &r.CloseDate
	case models.FieldListingDate:
		return &r.ListingDate
	}
	return nil
}

func numberSlot(r *models.MergedIpoRecord, f models.Field) **float64 {
	switch f {
	case models.FieldPriceBandLow:
		return &r.PriceBandLow
	case models.FieldPriceBandHigh:
		return &r.PriceBandHigh
	case models.FieldIssueSize:
		return &r.IssueSize
	case models.FieldRevenueGrowth:
		return &r.Financials.RevenueGrowth
	case models.FieldROE:
		return &r.Financials.ROE
	case models.FieldROCE:
		return &r.Financials.ROCE
	case models.FieldDebtToEquity:
		return &r.Financials.DebtToEquity
	case models.FieldPATMargin:
		return &r.Financials.PATMargin
	case models.FieldPromoterHolding:
		return &r.Financials.PromoterHolding
	case models.FieldPERatio:
		return &r.Financials.PERatio
	case models.FieldPBRatio:
		return &r.Financials.PBRatio
	case models.FieldSectorPE:
		return &r.Financials.SectorPE
	case models.FieldSectorPB:
		return &r.Financials.SectorPB
	case models.FieldOFSRatio:
		return &r.Financials.OFSRatio
	case models.FieldGMP:
		return &r.GMP
	case models.FieldGMPPercent:
		return &r.GMPPercent
	case models.FieldIPOPrice:
		return &r.IPOPrice
	case models.FieldEstListing:
		return &r.EstimatedListingPrice
	case models.FieldSubQIB:
		return &r.Subscription.QIB
	case models.FieldSubNII:
		return &r.Subscription.NII
	case models.FieldSubRetail:
		return &r.Subscription.Retail
	case models.FieldSubEmployee:
		return &r.Subscription.Employee
	case models.FieldSubTotal:
		return &r.Subscription.Total
	}
	return nil
}

// mergeGroup builds the merged record of one group. Scores are filled in
// by the caller.
func (a *Aggregator) mergeGroup(g *group, now time.Time) models.MergedIpoRecord {
	contributions := make(map[models.SourceID]*contribution)
	for _, m := range g.members {
		c, ok := contributions[m.source]
		if !ok {
			c = newContribution()
			contributions[m.source] = c
		}
		c.absorb(m, normalize.CleanCompanyName(memberName(m)))
	}

	record := models.MergedIpoRecord{
		FieldSources: make(map[models.Field]models.SourceID),
		AggregatedAt: now,
	}
	overlap := false
	disagreement := false
	logger := a.logger.WithField("key", g.key)

	note := func(field models.Field, winner models.SourceID, conflict *models.FieldConflict, reporters int) {
		record.FieldSources[field] = winner
		if agreementFields[field] && reporters > 1 {
			overlap = true
		}
		if conflict == nil {
			return
		}
		record.Conflicts = append(record.Conflicts, *conflict)
		if agreementFields[field] {
			disagreement = true
		}
		logger.WithFields(logrus.Fields{
			"field":  field,
			"winner": winner,
			"values": conflict.Values,
		}).Warn("Sources disagree, keeping highest priority value")
	}

	for _, f := range textFields {
		values := make(map[models.SourceID]string)
		for id, c := range contributions {
			if v, ok := c.text[f]; ok {
				values[id] = v
			}
		}
		if v, winner, conflict, ok := pickFirst(f, a.registry.Order(f), values, sameText(f), formatText); ok {
			*textSlot(&record, f) = v
			note(f, winner, conflict, len(values))
		}
	}

	for _, f := range dateFields {
		values := make(map[models.SourceID]time.Time)
		for id, c := range contributions {
			if v, ok := c.dates[f]; ok {
				values[id] = v
			}
		}
		if v, winner, conflict, ok := pickFirst(f, a.registry.Order(f), values, sameDate, formatDate); ok {
			day := v
			*dateSlot(&record, f) = &day
			note(f, winner, conflict, len(values))
		}
	}

	for _, f := range priorityFields {
		values := make(map[models.SourceID]float64)
		for id, c := range contributions {
			if v, ok := c.numbers[f]; ok {
				values[id] = v
			}
		}
		v, winner, conflict, ok := pickFirst(f, a.registry.Order(f), values, sameNumber, formatNumber)
		if !ok {
			continue
		}
		if f == models.FieldLotSize {
			lot := int(math.Round(v))
			record.LotSize = &lot
		} else {
			value := v
			*numberSlot(&record, f) = &value
		}
		note(f, winner, conflict, len(values))
	}

	for _, f := range averagedFields {
		values := make(map[models.SourceID]float64)
		for id, c := range contributions {
			if v, ok := c.numbers[f]; ok {
				values[id] = v
			}
		}
		if mean, ok := average(values); ok {
			*numberSlot(&record, f) = &mean
		}
	}

	// the group key is canonical, whatever the sources spelled
	record.Symbol = g.key
	if record.CompanyName == "" {
		record.CompanyName = record.Symbol
	} else {
		record.NameKey = normalize.Key(record.CompanyName)
	}
	if s := normalize.Status(record.Status); s != "" {
		record.Status = s
	} else {
		record.Status = normalize.StatusFromDates(record.OpenDate, record.CloseDate, record.ListingDate, now)
	}
	deriveSentiment(&record)

	if len(g.collisions) > 0 {
		record.Conflicts = append(record.Conflicts, models.FieldConflict{
			Field: models.FieldSymbol,
			Kind:  models.ConflictKeyCollision,
			Note:  fmt.Sprintf("name key %s matches symbols %s", g.key, strings.Join(g.collisions, ", ")),
		})
		logger.WithField("symbols", g.collisions).Warn("Company name key matches several symbols, keeping record separate")
	}

	for id := range contributions {
		record.Sources = append(record.Sources, id)
	}
	sort.Slice(record.Sources, func(i, j int) bool {
		return a.registry.Position(record.Sources[i]) < a.registry.Position(record.Sources[j])
	})
	sort.SliceStable(record.Conflicts, func(i, j int) bool {
		return record.Conflicts[i].Field < record.Conflicts[j].Field
	})

	record.Confidence = Confidence(len(record.Sources), overlap, disagreement)
	return record
}

// deriveSentiment fills the listing estimate and premium percentage when a
// GMP source reported the premium alone
func deriveSentiment(r *models.MergedIpoRecord) {
	price := r.IPOPrice
	if price == nil {
		price = r.PriceBandHigh
	}
	if r.GMP == nil || price == nil || *price <= 0 {
		return
	}
	if r.EstimatedListingPrice == nil {
		listing := *price + *r.GMP
		r.EstimatedListingPrice = &listing
	}
	if r.GMPPercent == nil {
		pct := *r.GMP / *price * 100
		r.GMPPercent = &pct
	}
}

// Confidence grades corroboration. One source is low. Two sources are high
// when they overlap on data fields and agree, low when they disagree and
// medium when they do not overlap. Three or more are high, or medium when
// any field disagrees.
func Confidence(sources int, overlap, disagreement bool) models.Confidence {
	switch {
	case sources <= 1:
		return models.ConfidenceLow
	case sources == 2 && disagreement:
		return models.ConfidenceLow
	case sources == 2 && overlap:
		return models.ConfidenceHigh
	case sources == 2:
		return models.ConfidenceMedium
	case disagreement:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceHigh
	}
}
