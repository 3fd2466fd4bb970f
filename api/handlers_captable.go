package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/BiscuitNick/chainequity-sub000/analytics"
	"github.com/BiscuitNick/chainequity-sub000/captable"
)

const holdersMaxLimit = 1000

// snapshotFor resolves the snapshot a request asks for: the current table,
// or a historical one when ?block=H is present.
func (s *Server) snapshotFor(r *http.Request) (*captable.Snapshot, error) {
	raw := r.URL.Query().Get("block")
	if raw == "" {
		return s.engine.Current(r.Context())
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid block number %q", raw)
	}
	return s.engine.At(r.Context(), height)
}

func (s *Server) handleCapTable(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshotFor(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	// Truncate the listing without mutating the (possibly cached) snapshot.
	if limit := limitParam(r, "limit", 0, 0); limit > 0 && limit < len(snap.Holders) {
		truncated := *snap
		truncated.Holders = snap.Holders[:limit]
		snap = &truncated
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCapTableAt(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["height"]
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid block number %q", raw))
		return
	}
	snap, err := s.engine.At(r.Context(), height)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// holderEntry is the compact holder-list shape.
type holderEntry struct {
	Address    string  `json:"address"`
	Balance    string  `json:"balance"`
	Percentage float64 `json:"percentage"`
}

func topHolders(snap *captable.Snapshot, n int) []holderEntry {
	if n > len(snap.Holders) {
		n = len(snap.Holders)
	}
	out := make([]holderEntry, n)
	for i := 0; i < n; i++ {
		h := snap.Holders[i]
		out[i] = holderEntry{Address: h.Address, Balance: h.Balance, Percentage: h.OwnershipPercentage}
	}
	return out
}

func (s *Server) handleHolders(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", 100, holdersMaxLimit)
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topHolders(snap, limit))
}

func (s *Server) handleTopHolders(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["n"]
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid holder count %q, must be a positive integer", raw))
		return
	}
	if n > holdersMaxLimit {
		n = holdersMaxLimit
	}
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topHolders(snap, n))
}

// holderDetail is a cap-table entry with the holder's full balance history.
type holderDetail struct {
	captable.Holder
	BalanceHistory []captable.HistoryEntry `json:"balanceHistory"`
}

func (s *Server) handleHolder(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", raw))
		return
	}
	addr := strings.ToLower(common.HexToAddress(raw).Hex())

	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	var entry *captable.Holder
	for i := range snap.Holders {
		if snap.Holders[i].Address == addr {
			entry = &snap.Holders[i]
			break
		}
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("holder not found: %s", addr))
		return
	}

	history, err := s.engine.History(r.Context(), addr)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holderDetail{Holder: *entry, BalanceHistory: emptyIfNil(history)})
}

// summaryResponse reports supply and balance stats in display units; the
// raw canonical supply rides along for callers that need exact math.
type summaryResponse struct {
	HolderCount        int     `json:"holderCount"`
	TotalSupply        string  `json:"totalSupply"`
	TotalSupplyRaw     string  `json:"totalSupplyRaw"`
	MedianBalance      string  `json:"medianBalance"`
	AverageBalance     string  `json:"averageBalance"`
	Top10Concentration float64 `json:"top10Concentration"`
	HHI                float64 `json:"hhi"`
	SplitMultiplier    float64 `json:"splitMultiplier"`
	GeneratedAt        string  `json:"generatedAt"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	decimals := s.status.Decimals()
	writeJSON(w, http.StatusOK, summaryResponse{
		HolderCount:        snap.HolderCount,
		TotalSupply:        snap.TotalSupplyFormatted,
		TotalSupplyRaw:     snap.TotalSupply,
		MedianBalance:      captable.FormatUnits(analytics.MedianBalance(snap), decimals),
		AverageBalance:     captable.FormatUnits(analytics.MeanBalance(snap), decimals),
		Top10Concentration: analytics.Top10Concentration(snap),
		HHI:                analytics.HHI(snap),
		SplitMultiplier:    snap.SplitMultiplier,
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid export format %q, expected csv or json", format))
		return
	}

	snap, err := s.snapshotFor(r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	if format == "json" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=captable-%d.json", snap.BlockNumber))
		writeJSON(w, http.StatusOK, snap)
		return
	}
	s.exportCSV(w, snap)
}

func (s *Server) exportCSV(w http.ResponseWriter, snap *captable.Snapshot) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=captable-%d.csv", snap.BlockNumber))

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Address", "Balance", "Ownership %", "Last Updated"})
	for _, h := range snap.Holders {
		updated := ""
		if h.LastUpdatedAt > 0 {
			updated = time.Unix(int64(h.LastUpdatedAt), 0).UTC().Format(time.RFC3339)
		}
		_ = cw.Write([]string{
			h.Address,
			h.Balance,
			strconv.FormatFloat(h.OwnershipPercentage, 'f', 4, 64),
			updated,
		})
	}
	_ = cw.Write([]string{})
	_ = cw.Write([]string{"Total Supply", "Total Holders", "Split Multiplier", "Generated At"})
	_ = cw.Write([]string{
		snap.TotalSupply,
		strconv.Itoa(snap.HolderCount),
		strconv.FormatFloat(snap.SplitMultiplier, 'f', -1, 64),
		time.Now().UTC().Format(time.RFC3339),
	})
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("csv export failed", "error", err)
	}
}
