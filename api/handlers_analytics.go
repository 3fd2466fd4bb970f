package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/BiscuitNick/chainequity-sub000/analytics"
	"github.com/BiscuitNick/chainequity-sub000/captable"
	"github.com/BiscuitNick/chainequity-sub000/indexer"
	"github.com/BiscuitNick/chainequity-sub000/store"
)

type healthResponse struct {
	Status          string `json:"status"`
	Timestamp       string `json:"timestamp"`
	Uptime          int64  `json:"uptime"`
	IndexerState    string `json:"indexerState"`
	LastSyncedBlock uint64 `json:"lastSyncedBlock"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	state := s.status.State()
	if state == indexer.StateReconnecting || state == indexer.StateStopped {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          status,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		Uptime:          int64(time.Since(s.started).Seconds()),
		IndexerState:    state.String(),
		LastSyncedBlock: s.status.LastProcessedBlock(),
	})
}

// concentration bundles the metrics every analytics endpoint reports.
type concentration struct {
	HHI                   float64 `json:"hhi"`
	Gini                  float64 `json:"gini"`
	Top10Concentration    float64 `json:"top10Concentration"`
	DecentralizationScore float64 `json:"decentralizationScore"`
	ConcentrationCategory string  `json:"concentrationCategory"`
}

func concentrationOf(snap *captable.Snapshot) concentration {
	hhi := analytics.HHI(snap)
	gini := analytics.Gini(snap)
	return concentration{
		HHI:                   hhi,
		Gini:                  gini,
		Top10Concentration:    analytics.Top10Concentration(snap),
		DecentralizationScore: analytics.DecentralizationScore(hhi, gini, snap.HolderCount),
		ConcentrationCategory: analytics.ConcentrationCategory(hhi),
	}
}

type tokenInfo struct {
	Name                 string  `json:"name"`
	Symbol               string  `json:"symbol"`
	Decimals             uint8   `json:"decimals"`
	TotalSupply          string  `json:"totalSupply"`
	TotalSupplyFormatted string  `json:"totalSupplyFormatted"`
	SplitMultiplier      float64 `json:"splitMultiplier"`
	HolderCount          int     `json:"holderCount"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	name, err := s.metadataOr(r.Context(), store.MetaTokenName, "")
	if err != nil {
		s.respondError(w, err)
		return
	}
	symbol, err := s.metadataOr(r.Context(), store.MetaTokenSymbol, "")
	if err != nil {
		s.respondError(w, err)
		return
	}
	actions, err := s.store.GetCorporateActions(r.Context(), "", 5)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Token         tokenInfo               `json:"token"`
		Summary       concentration           `json:"summary"`
		RecentActions []store.CorporateAction `json:"recentActions"`
	}{
		Token: tokenInfo{
			Name:                 name,
			Symbol:               symbol,
			Decimals:             s.status.Decimals(),
			TotalSupply:          snap.TotalSupply,
			TotalSupplyFormatted: snap.TotalSupplyFormatted,
			SplitMultiplier:      snap.SplitMultiplier,
			HolderCount:          snap.HolderCount,
		},
		Summary:       concentrationOf(snap),
		RecentActions: emptyIfNil(actions),
	})
}

func (s *Server) metadataOr(ctx context.Context, key, fallback string) (string, error) {
	value, err := s.store.GetMetadata(ctx, key)
	if errors.Is(err, store.ErrMetadataNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Server) handleAnalyticsHolders(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	decimals := s.status.Decimals()
	writeJSON(w, http.StatusOK, struct {
		HolderCount int `json:"holderCount"`
		concentration
		MedianBalance  string `json:"medianBalance"`
		AverageBalance string `json:"averageBalance"`
	}{
		HolderCount:    snap.HolderCount,
		concentration:  concentrationOf(snap),
		MedianBalance:  captable.FormatUnits(analytics.MedianBalance(snap), decimals),
		AverageBalance: captable.FormatUnits(analytics.MeanBalance(snap), decimals),
	})
}

type supplyResponse struct {
	TotalMinted          string `json:"totalMinted"`
	TotalMintedFormatted string `json:"totalMintedFormatted"`
	TotalBurned          string `json:"totalBurned"`
	TotalBurnedFormatted string `json:"totalBurnedFormatted"`
	NetSupply            string `json:"netSupply"`
	NetSupplyFormatted   string `json:"netSupplyFormatted"`
	MintCount            int    `json:"mintCount"`
	BurnCount            int    `json:"burnCount"`
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.GetMintBurnTransfers(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	minted, burned := new(big.Int), new(big.Int)
	var mintCount, burnCount int
	for _, ev := range events {
		amount, ok := new(big.Int).SetString(ev.Amount, 10)
		if !ok {
			continue
		}
		switch {
		case ev.To == "" || ev.To == captable.ZeroAddress:
			burned.Add(burned, amount)
			burnCount++
		case ev.From == "" || ev.From == captable.ZeroAddress:
			minted.Add(minted, amount)
			mintCount++
		}
	}
	net := new(big.Int).Sub(minted, burned)
	decimals := s.status.Decimals()
	writeJSON(w, http.StatusOK, supplyResponse{
		TotalMinted:          minted.String(),
		TotalMintedFormatted: captable.FormatUnits(minted, decimals),
		TotalBurned:          burned.String(),
		TotalBurnedFormatted: captable.FormatUnits(burned, decimals),
		NetSupply:            net.String(),
		NetSupplyFormatted:   captable.FormatUnits(net, decimals),
		MintCount:            mintCount,
		BurnCount:            burnCount,
	})
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Buckets []analytics.Bucket `json:"buckets"`
		concentration
	}{
		Buckets:       analytics.Buckets(snap),
		concentration: concentrationOf(snap),
	})
}
