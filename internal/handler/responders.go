package handlers

import (
	"github.com/gin-gonic/gin"

	"safechain/pkg/response"
)

type verifyResponderRequest struct {
	Proof string `json:"proof" binding:"required"`
}

// VerifyResponder records a responder's credential proof on the ledger.
func (h *Handlers) VerifyResponder(c *gin.Context) {
	var req verifyResponderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "credential proof is required", nil)
		return
	}
	txRef, err := h.issuer.VerifyResponder(c.Request.Context(), c.Param("responderID"), req.Proof)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "responder verification submitted", gin.H{"tx_ref": txRef})
}

type issueRewardRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// IssueReward pays a responder for a confirmed response.
func (h *Handlers) IssueReward(c *gin.Context) {
	var req issueRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "reward amount is required", nil)
		return
	}
	rec, err := h.issuer.Issue(c.Request.Context(), c.Param("id"), c.Param("responderID"), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "reward issued", rec)
}
