package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/BiscuitNick/chainequity-sub000/store"
	"github.com/BiscuitNick/chainequity-sub000/token"
)

const (
	eventsDefaultLimit = 10
	eventsMaxLimit     = 500
	feedDefaultLimit   = 100
	feedMaxLimit       = 1000
	actionsDefault     = 50
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", eventsDefaultLimit, eventsMaxLimit)
	events, err := s.store.GetEventsPaged(r.Context(), limit, 0)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", eventsDefaultLimit, eventsMaxLimit)
	events, err := s.store.GetEventsByType(r.Context(), token.TypeTransfer, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

func (s *Server) handleWalletApprovals(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", eventsDefaultLimit, eventsMaxLimit)
	events, err := s.store.GetEventsByTypes(r.Context(),
		[]string{token.TypeWalletApproved, token.TypeWalletRevoked}, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

func (s *Server) handleCorporateEvents(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", eventsDefaultLimit, eventsMaxLimit)
	events, err := s.store.GetEventsByTypes(r.Context(),
		[]string{token.TypeStockSplit, token.TypeSymbolChanged, token.TypeNameChanged}, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

func (s *Server) handleEventsByAddress(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address %q", raw))
		return
	}
	addr := strings.ToLower(common.HexToAddress(raw).Hex())
	limit := limitParam(r, "limit", eventsDefaultLimit, eventsMaxLimit)
	events, err := s.store.GetEventsByAddress(r.Context(), addr, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(events))
}

// handleEventFeed is the paginated firehose used by dashboards.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", feedDefaultLimit, feedMaxLimit)
	offset := offsetParam(r, "offset")
	events, err := s.store.GetEventsPaged(r.Context(), limit, offset)
	if err != nil {
		s.respondError(w, err)
		return
	}
	total, err := s.store.CountEvents(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Events []store.Event `json:"events"`
		Total  int64         `json:"total"`
		Limit  int           `json:"limit"`
		Offset int           `json:"offset"`
	}{emptyIfNil(events), total, limit, offset})
}

func (s *Server) handleCorporateHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, "limit", actionsDefault, eventsMaxLimit)
	actions, err := s.store.GetCorporateActions(r.Context(), r.URL.Query().Get("actionType"), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(actions))
}

func (s *Server) handleSplits(w http.ResponseWriter, r *http.Request) {
	s.serveActions(w, r, store.ActionStockSplit)
}

func (s *Server) handleSymbolChanges(w http.ResponseWriter, r *http.Request) {
	s.serveActions(w, r, store.ActionSymbolChange)
}

func (s *Server) handleNameChanges(w http.ResponseWriter, r *http.Request) {
	s.serveActions(w, r, store.ActionNameChange)
}

func (s *Server) serveActions(w http.ResponseWriter, r *http.Request, actionType string) {
	limit := limitParam(r, "limit", actionsDefault, eventsMaxLimit)
	actions, err := s.store.GetCorporateActions(r.Context(), actionType, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, emptyIfNil(actions))
}
