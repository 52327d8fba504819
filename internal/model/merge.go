package model

// Merge applies u on top of prev using field-level semantics.
//
// Price is always replaced. Every other field is replaced only when u carries
// it; absent fields keep prev's value (or stay absent when exists is false).
func Merge(prev PriceRecord, exists bool, u RecordUpdate) PriceRecord {
	if !exists {
		prev = PriceRecord{}
	}

	prev.Symbol = u.Symbol
	prev.Price = u.Price

	if u.Name != "" {
		prev.Name = u.Name
	}
	if u.Currency != "" {
		prev.Currency = u.Currency
	}
	if u.MarketCap.Valid {
		prev.MarketCap = u.MarketCap
	}
	if u.Volume24h.Valid {
		prev.Volume24h = u.Volume24h
	}
	if u.Change24h.Valid {
		prev.Change24h = u.Change24h
	}

	return prev
}

// ToUpdate converts a full record back into an update carrying every known field.
func (r PriceRecord) ToUpdate() RecordUpdate {
	return RecordUpdate{
		Symbol:    r.Symbol,
		Name:      r.Name,
		Currency:  r.Currency,
		Price:     r.Price,
		MarketCap: r.MarketCap,
		Volume24h: r.Volume24h,
		Change24h: r.Change24h,
	}
}
