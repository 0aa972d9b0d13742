package reconcile

// Summary is the best-effort result of reconciling one user.
type Summary struct {
	UserID                  int64    `json:"userId"`
	Passes                  int      `json:"passes"`
	TransactionsRead        int      `json:"transactionsRead"`
	SymbolsProcessed        int      `json:"symbolsProcessed"`
	TradesCreated           int      `json:"tradesCreated"`
	OpenPositionsCreated    int      `json:"openPositionsCreated"`
	PositionsReduced        int      `json:"positionsReduced"`
	PositionsClosed         int      `json:"positionsClosed"`
	DuplicatesSkipped       int      `json:"duplicatesSkipped"`
	ReplaysSkipped          int      `json:"replaysSkipped"`
	UnmatchedCreated        int      `json:"unmatchedCreated"`
	TransactionsTransformed int      `json:"transactionsTransformed"`
	FailedSymbols           int      `json:"failedSymbols"`
	Coalesced               bool     `json:"coalesced"`
	Errors                  []string `json:"errors"`
}

func (s *Summary) add(o *Summary) {
	s.Passes += o.Passes
	s.TransactionsRead += o.TransactionsRead
	s.SymbolsProcessed += o.SymbolsProcessed
	s.TradesCreated += o.TradesCreated
	s.OpenPositionsCreated += o.OpenPositionsCreated
	s.PositionsReduced += o.PositionsReduced
	s.PositionsClosed += o.PositionsClosed
	s.DuplicatesSkipped += o.DuplicatesSkipped
	s.ReplaysSkipped += o.ReplaysSkipped
	s.UnmatchedCreated += o.UnmatchedCreated
	s.TransactionsTransformed += o.TransactionsTransformed
	s.FailedSymbols += o.FailedSymbols
	s.Coalesced = s.Coalesced || o.Coalesced
	s.Errors = append(s.Errors, o.Errors...)
}
