package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"tribeone/config"
	"tribeone/core/types"
	"tribeone/native/exchange"
	"tribeone/native/issuer"
)

type accountAmountRequest struct {
	Account  string `json:"account"`
	Amount   string `json:"amount"`
	Delegate string `json:"delegate,omitempty"`
}

type exchangeRequest struct {
	Account  string `json:"account"`
	Src      string `json:"src"`
	Amount   string `json:"amount"`
	Dest     string `json:"dest"`
	Delegate string `json:"delegate,omitempty"`
	Atomic   bool   `json:"atomic,omitempty"`
}

type accountKeyRequest struct {
	Account string `json:"account"`
	Key     string `json:"key"`
}

type rateRequest struct {
	Key  string `json:"key"`
	Rate string `json:"rate"`
}

type sectionRequest struct {
	Section string `json:"section,omitempty"`
	Tribe   string `json:"tribe,omitempty"`
}

type breakerRequest struct {
	Key  string `json:"key,omitempty"`
	Debt bool   `json:"debt,omitempty"`
}

func decode(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func parseAccount(value string) (types.Address, error) {
	addr, err := types.ParseAddress(value)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid account: %w", err)
	}
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, err := config.ParseDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	return amount, nil
}

func (s *Server) issuerActor(req accountAmountRequest) (issuer.Actor, error) {
	account, err := parseAccount(req.Account)
	if err != nil {
		return issuer.Actor{}, err
	}
	if req.Delegate == "" {
		return issuer.Direct(account), nil
	}
	delegate, err := parseAccount(req.Delegate)
	if err != nil {
		return issuer.Actor{}, err
	}
	return issuer.OnBehalf(account, delegate), nil
}

// ---- mutating handlers ----

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.system.DepositCollateral(account, amount); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.system.WithdrawCollateral(account, amount); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) issuerResult(w http.ResponseWriter, result *issuer.Result) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"amount": result.Amount.String(),
		"shares": result.Shares.String(),
		"noop":   result.NoOp,
	})
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.issuerActor(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.system.IssueTribes(actor, amount)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.issuerResult(w, result)
}

func (s *Server) handleIssueMax(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.issuerActor(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.system.IssueMaxTribes(actor)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.issuerResult(w, result)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.issuerActor(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.system.BurnTribes(actor, amount)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.issuerResult(w, result)
}

func (s *Server) handleBurnToTarget(w http.ResponseWriter, r *http.Request) {
	var req accountAmountRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.issuerActor(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.system.BurnTribesToTarget(actor)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.issuerResult(w, result)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	actor := exchange.Direct(account)
	if req.Delegate != "" {
		delegate, err := parseAccount(req.Delegate)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		actor = exchange.OnBehalf(account, delegate)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var result *exchange.Result
	if req.Atomic {
		result, err = s.system.ExchangeAtomically(actor, req.Src, amount, req.Dest)
	} else {
		result, err = s.system.Exchange(actor, req.Src, amount, req.Dest)
	}
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": result.Received.String(),
		"fee":      result.Fee.String(),
		"entryId":  result.EntryID,
		"noop":     result.NoOp,
	})
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req accountKeyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	settlement, err := s.system.Settle(account, req.Key)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reclaimed": settlement.Reclaimed.String(),
		"rebated":   settlement.Rebated.String(),
		"settled":   settlement.Settled,
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req accountKeyRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	redeemed, err := s.system.Redeem(req.Key, account)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"redeemed": redeemed.String()})
}

type approvalRequest struct {
	Account  string `json:"account"`
	Delegate string `json:"delegate"`
	Op       string `json:"op"`
	Revoke   bool   `json:"revoke,omitempty"`
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	delegate, err := parseAccount(req.Delegate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	switch req.Op {
	case "issue":
		if req.Revoke {
			s.system.RemoveIssueOnBehalf(account, delegate)
		} else {
			s.system.ApproveIssueOnBehalf(account, delegate)
		}
	case "burn":
		if req.Revoke {
			s.system.RemoveBurnOnBehalf(account, delegate)
		} else {
			s.system.ApproveBurnOnBehalf(account, delegate)
		}
	case "exchange":
		if req.Revoke {
			s.system.RemoveExchangeOnBehalf(account, delegate)
		} else {
			s.system.ApproveExchangeOnBehalf(account, delegate)
		}
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown approval op %q", req.Op))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- operator handlers ----

func (s *Server) handleUpdateRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := config.ParseDecimal(req.Rate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rate: %w", err))
		return
	}
	roundID, err := s.system.UpdateRate(req.Key, rate)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"roundId": roundID})
}

func (s *Server) handleUpdateSpotRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := config.ParseDecimal(req.Rate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid rate: %w", err))
		return
	}
	roundID, err := s.system.UpdateSpotRate(req.Key, rate)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"roundId": roundID})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case req.Tribe != "":
		s.system.SuspendTribe(req.Tribe)
	case req.Section != "":
		s.system.SuspendSection(req.Section)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("section or tribe required"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	switch {
	case req.Tribe != "":
		s.system.ResumeTribe(req.Tribe)
	case req.Section != "":
		s.system.ResumeSection(req.Section)
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("section or tribe required"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	var req breakerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Debt {
		s.system.ResetDebtBreaker()
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if req.Key == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("key or debt required"))
		return
	}
	if err := s.system.ResetBreaker(req.Key); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.system.TakeSnapshots(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---- query handlers ----

func (s *Server) handleDebtBalance(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"debt": s.system.DebtBalanceOf(account).String()})
}

func (s *Server) handleCollateralisation(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	ratio, err := s.system.CollateralisationRatio(account)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"ratio": ratio.String()})
}

func (s *Server) handleIssuable(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	max, err := s.system.MaxIssuableTribes(account)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	remaining, err := s.system.RemainingIssuableTribes(account)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"max":       max.String(),
		"remaining": remaining.String(),
	})
}

func (s *Server) handleTotalIssued(w http.ResponseWriter, r *http.Request) {
	exclude, _ := strconv.ParseBool(r.URL.Query().Get("excludeOtherCollateral"))
	total, err := s.system.TotalIssuedTribes(chi.URLParam(r, "key"), exclude)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"total": total.String()})
}

func (s *Server) handleSettlementOwing(w http.ResponseWriter, r *http.Request) {
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	reclaim, rebate, entries, err := s.system.SettlementOwing(account, chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reclaim": reclaim.String(),
		"rebate":  rebate.String(),
		"entries": entries,
	})
}

func (s *Server) handleDebtCache(w http.ResponseWriter, r *http.Request) {
	info := s.system.DebtCacheInfo()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"cachedDebt": info.CachedDebt.String(),
		"timestamp":  info.Timestamp,
		"invalid":    info.IsInvalid,
		"stale":      info.IsStale,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.writeJSON(w, http.StatusOK, s.system.RecentEvents(limit))
}
