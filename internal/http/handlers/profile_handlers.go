package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/you/accountportal/domain"
	"github.com/you/accountportal/internal/http/middleware"
)

// ProfileHandlers serves the profile management screen
type ProfileHandlers struct{}

// NewProfileHandlers creates new profile handlers
func NewProfileHandlers() *ProfileHandlers {
	return &ProfileHandlers{}
}

// ProfileRequest represents both add and edit submissions
type ProfileRequest struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// ProfileResponse is a profile with its avatar resolved against the catalog
type ProfileResponse struct {
	ID          string               `json:"id"`
	DisplayName string               `json:"display_name"`
	Avatar      *domain.AvatarOption `json:"avatar,omitempty"`
	Protected   bool                 `json:"protected"`
}

func toProfileResponses(profiles []domain.Profile) []ProfileResponse {
	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp := ProfileResponse{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Protected:   p.ID == domain.RestrictedProfileID,
		}
		if avatar, err := domain.ResolveAvatar(p.AvatarRef); err == nil {
			resp.Avatar = &avatar
		}
		out = append(out, resp)
	}
	return out
}

func profilesPayload(profiles []domain.Profile, selected string) gin.H {
	return gin.H{
		"profiles":            toProfileResponses(profiles),
		"selected_profile_id": selected,
		"can_add_profile":     len(profiles) < domain.MaxProfiles,
		"max_profiles":        domain.MaxProfiles,
	}
}

// List returns the cached profiles of the signed-in account
func (h *ProfileHandlers) List(c *gin.Context) {
	view := middleware.View(c)
	if view == nil || view.Snapshot == nil {
		respondError(c, domain.ErrNotAuthenticated)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profilesPayload(view.Snapshot.Profiles, selectedID(view))})
}

// Add creates a profile
func (h *ProfileHandlers) Add(c *gin.Context) {
	view := middleware.View(c)
	if view == nil || view.Snapshot == nil {
		respondError(c, domain.ErrNotAuthenticated)
		return
	}

	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	profiles, err := middleware.Profiles(c).AddProfile(c.Request.Context(), view.Snapshot.Identifier, req.Name, req.Avatar)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": profilesPayload(profiles, selectedID(view))})
}

// Edit renames a profile or changes its avatar
func (h *ProfileHandlers) Edit(c *gin.Context) {
	view := middleware.View(c)
	if view == nil || view.Snapshot == nil {
		respondError(c, domain.ErrNotAuthenticated)
		return
	}

	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	profiles, err := middleware.Profiles(c).EditProfile(c.Request.Context(), view.Snapshot.Identifier, c.Param("id"), req.Name, req.Avatar)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profilesPayload(profiles, selectedID(view))})
}

// Avatars returns the avatar catalog
func (h *ProfileHandlers) Avatars(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": domain.Avatars()})
}

func selectedID(view *domain.SessionView) string {
	if view.SelectedProfile == nil {
		return ""
	}
	return view.SelectedProfile.ID
}
