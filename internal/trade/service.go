// Package trade provides the HTTP handlers for registering assets, creating
// and deleting offers, executing closed trades, and the store owner's
// maintenance operations.
//
// Callers identify themselves in the request body; authentication is out of
// scope and belongs in front of this service.
package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/barter-engine/internal/asset"
	"github.com/atmx/barter-engine/internal/exchange"
	"github.com/atmx/barter-engine/internal/model"
	"github.com/atmx/barter-engine/internal/store"
)

// Service exposes the exchange engine over HTTP. Writes go through the
// engine; reads are served from the store, which the engine commits to
// before applying any change.
type Service struct {
	engine *exchange.Engine
	store  store.Store
	clock  func() time.Time
}

// NewService creates a new trade service. st must be the store the engine
// commits to.
func NewService(engine *exchange.Engine, st store.Store) *Service {
	return &Service{
		engine: engine,
		store:  st,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used to stamp offers and trades.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Routes mounts every handler on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/assets", s.RegisterAsset)
	r.Get("/assets/{assetID}", s.GetAsset)
	r.Delete("/assets/{assetID}", s.RevokeAsset)

	r.Post("/offers", s.CreateOffer)
	r.Get("/offers", s.ListOffers)
	r.Get("/offers/{offerID}", s.GetOffer)
	r.Post("/offers/delete", s.DeleteOffers)

	r.Post("/trades", s.ExecuteTrade)

	r.Post("/admin/sweep", s.SweepExpired)
	r.Post("/admin/reset", s.ResetAll)
}

// maxExpiresInSeconds is the longest offset that fits a time.Duration.
const maxExpiresInSeconds = math.MaxInt64 / int64(time.Second)

// --- Request/Response types ---

// RegisterAssetRequest is the JSON body for POST /assets.
type RegisterAssetRequest struct {
	AssetID string `json:"asset_id"`
	Owner   string `json:"owner"`
}

// RevokeAssetRequest is the JSON body for DELETE /assets/{assetID}.
type RevokeAssetRequest struct {
	Owner string `json:"owner"`
}

// RevokeAssetResponse lists the offers removed along with the asset.
type RevokeAssetResponse struct {
	AssetID       model.AssetID   `json:"asset_id"`
	RemovedOffers []model.OfferID `json:"removed_offers"`
}

// CreateOfferRequest is the JSON body for POST /offers.
type CreateOfferRequest struct {
	Creator          string   `json:"creator"`
	Supply           []string `json:"supply"`
	Demand           []string `json:"demand"`
	ExpiresInSeconds int64    `json:"expires_in_seconds"`
}

// DeleteOffersRequest is the JSON body for POST /offers/delete.
type DeleteOffersRequest struct {
	Caller   string          `json:"caller"`
	OfferIDs []model.OfferID `json:"offer_ids"`
}

// ExecuteTradeRequest is the JSON body for POST /trades.
type ExecuteTradeRequest struct {
	OfferIDs []model.OfferID `json:"offer_ids"`
}

// AdminRequest is the JSON body for the store owner's operations.
type AdminRequest struct {
	Caller string `json:"caller"`
}

// RemovedResponse lists removed offer ids.
type RemovedResponse struct {
	Removed []model.OfferID `json:"removed"`
}

// --- Asset handlers ---

// RegisterAsset handles POST /api/v1/assets
func (s *Service) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := asset.ParseID(req.AssetID)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := s.engine.Register(ctx, id, model.Account(req.Owner)); err != nil {
		writeEngineError(w, err)
		return
	}

	entry, err := s.store.GetRegistryEntry(ctx, id)
	if err != nil {
		writeError(w, "failed to read registry entry", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := asset.ParseID(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := s.store.GetRegistryEntry(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to read registry entry", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// RevokeAsset handles DELETE /api/v1/assets/{assetID}
func (s *Service) RevokeAsset(w http.ResponseWriter, r *http.Request) {
	id, err := asset.ParseID(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req RevokeAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	removed, err := s.engine.Revoke(r.Context(), id, model.Account(req.Owner))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RevokeAssetResponse{AssetID: id, RemovedOffers: nonNil(removed)})
}

// --- Offer handlers ---

// CreateOffer handles POST /api/v1/offers
func (s *Service) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}
	if req.ExpiresInSeconds < 0 || req.ExpiresInSeconds > maxExpiresInSeconds {
		writeError(w, fmt.Sprintf("expires_in_seconds must be between 0 and %d", maxExpiresInSeconds), http.StatusBadRequest)
		return
	}
	supply, err := parseAssetSet(req.Supply)
	if err != nil {
		writeError(w, "supply: "+err.Error(), http.StatusBadRequest)
		return
	}
	demand, err := parseAssetSet(req.Demand)
	if err != nil {
		writeError(w, "demand: "+err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	id, err := s.engine.CreateOffer(ctx,
		model.Account(req.Creator),
		supply, demand,
		time.Duration(req.ExpiresInSeconds)*time.Second,
		s.clock(),
	)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	rec, err := s.store.GetOffer(ctx, id)
	if err != nil {
		writeError(w, "failed to read offer", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// GetOffer handles GET /api/v1/offers/{offerID}
func (s *Service) GetOffer(w http.ResponseWriter, r *http.Request) {
	raw, err := strconv.ParseUint(chi.URLParam(r, "offerID"), 10, 32)
	if err != nil {
		writeError(w, "invalid offer id", http.StatusBadRequest)
		return
	}

	rec, err := s.store.GetOffer(r.Context(), model.OfferID(raw))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, "offer not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "failed to read offer", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListOffers handles GET /api/v1/offers. Optional query parameters narrow
// the list: creator=<account>, asset=<asset id>.
func (s *Service) ListOffers(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListOffers(r.Context())
	if err != nil {
		writeError(w, "failed to list offers", http.StatusInternalServerError)
		return
	}

	creator := model.Account(r.URL.Query().Get("creator"))
	assetID := model.AssetID(r.URL.Query().Get("asset"))
	out := make([]model.OfferRecord, 0, len(recs))
	for _, rec := range recs {
		if creator != "" && rec.Offer.Creator != creator {
			continue
		}
		if assetID != "" && !references(rec, assetID) {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteOffers handles POST /api/v1/offers/delete
func (s *Service) DeleteOffers(w http.ResponseWriter, r *http.Request) {
	var req DeleteOffersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	removed, err := s.engine.DeleteOffers(r.Context(), model.Account(req.Caller), req.OfferIDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: nonNil(removed)})
}

// --- Trade handler ---

// ExecuteTrade handles POST /api/v1/trades
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req ExecuteTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.OfferIDs) == 0 {
		writeError(w, "offer_ids is required", http.StatusBadRequest)
		return
	}

	result, err := s.engine.ExecuteTrade(r.Context(), req.OfferIDs, s.clock())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Store owner handlers ---

// SweepExpired handles POST /api/v1/admin/sweep
func (s *Service) SweepExpired(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	removed, err := s.engine.SweepExpired(r.Context(), model.Account(req.Caller), s.clock())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RemovedResponse{Removed: nonNil(removed)})
}

// ResetAll handles POST /api/v1/admin/reset
func (s *Service) ResetAll(w http.ResponseWriter, r *http.Request) {
	var req AdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.engine.ResetAll(r.Context(), model.Account(req.Caller)); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func parseAssetSet(raw []string) ([]model.AssetID, error) {
	ids, err := asset.ParseIDs(raw)
	if errors.Is(err, asset.ErrEmptyList) {
		// An empty set is the engine's call to reject.
		return nil, nil
	}
	return ids, err
}

func references(rec model.OfferRecord, id model.AssetID) bool {
	return slices.ContainsFunc(rec.Supply, func(s model.SupplyItem) bool { return s.AssetID == id }) ||
		slices.ContainsFunc(rec.Demand, func(d model.DemandItem) bool { return d.AssetID == id })
}

func nonNil(ids []model.OfferID) []model.OfferID {
	if ids == nil {
		return []model.OfferID{}
	}
	return ids
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, exchange.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrAssetNotFound),
		errors.Is(err, exchange.ErrAssetNotActive),
		errors.Is(err, exchange.ErrOfferExpiredOrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrAssetAlreadyActive),
		errors.Is(err, exchange.ErrCapacityExceeded),
		errors.Is(err, exchange.ErrCounterOverflow):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrEmptySet):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrTradeNotValid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrCustody):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error("engine operation failed", "status", status, "err", err)
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
