package api

import (
	"net/http"

	"github.com/oversight-labs/auditpipe/internal/chain"
	"github.com/oversight-labs/auditpipe/internal/middleware"
	"github.com/oversight-labs/auditpipe/internal/validate"
)

// ChainHandlers holds dependencies for hash chain HTTP handlers.
type ChainHandlers struct {
	ledger *chain.Ledger
}

// NewChainHandlers creates a new ChainHandlers instance.
func NewChainHandlers(ledger *chain.Ledger) *ChainHandlers {
	return &ChainHandlers{ledger: ledger}
}

// ChainVerifyResponse reports the integrity of a tenant's hash chain.
// BrokenIndex is the sequence index of the first entry whose hash does
// not verify; it is -1 when the chain is intact.
type ChainVerifyResponse struct {
	TenantID    string `json:"tenant_id"`
	Valid       bool   `json:"valid"`
	Length      int    `json:"length"`
	BrokenIndex int    `json:"broken_index"`
}

// VerifyChain handles GET /chain/verify. Walks the tenant's full chain
// recomputing every hash.
func (h *ChainHandlers) VerifyChain(w http.ResponseWriter, r *http.Request) {
	tenantID, err := validate.Identifier(r.URL.Query().Get("tenant_id"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeValidation, "tenant_id is required and must be a valid identifier")
		return
	}
	*r = *r.WithContext(middleware.SetTenantID(r.Context(), tenantID))

	valid, brokenIndex := h.ledger.VerifyTenant(tenantID)

	WriteJSON(w, r, http.StatusOK, ChainVerifyResponse{
		TenantID:    tenantID,
		Valid:       valid,
		Length:      len(h.ledger.Entries(tenantID)),
		BrokenIndex: brokenIndex,
	})
}
