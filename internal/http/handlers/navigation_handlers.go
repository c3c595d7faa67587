package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
)

type NavigationHandlers struct{ Policy domain.NavigationPolicy }

type ruleReq struct {
	State  domain.SessionState `json:"state" binding:"required"`
	Route  string              `json:"route" binding:"required"`
	Method string              `json:"method" binding:"required"`
}

func knownState(s domain.SessionState) bool {
	switch s {
	case domain.StateAnonymous, domain.StatePendingCredential, domain.StateAuthenticated, domain.StateProfileSelected:
		return true
	}
	return false
}

func (h *NavigationHandlers) List(c *gin.Context) {
	rules, err := h.Policy.Rules()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rules})
}

func (h *NavigationHandlers) Add(c *gin.Context) {
	var r ruleReq
	if err := c.ShouldBindJSON(&r); err != nil || !knownState(r.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}
	if err := h.Policy.AddRule(r.State, r.Route, r.Method); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not added"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NavigationHandlers) Remove(c *gin.Context) {
	var r ruleReq
	if err := c.ShouldBindJSON(&r); err != nil || !knownState(r.State) {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}
	if err := h.Policy.RemoveRule(r.State, r.Route, r.Method); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not removed"})
		return
	}
	c.Status(http.StatusNoContent)
}
