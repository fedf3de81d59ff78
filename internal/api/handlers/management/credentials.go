package management

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodeBuddyAPI/internal/credential"
	"github.com/router-for-me/CodeBuddyAPI/internal/util"
	log "github.com/sirupsen/logrus"
)

// credentialInfo is the masked view of a credential returned by the API.
type credentialInfo struct {
	Index            int    `json:"index"`
	ID               string `json:"id"`
	UserID           string `json:"user_id,omitempty"`
	CreatedAt        *int64 `json:"created_at"`
	ExpiresAt        *int64 `json:"expires_at"`
	TimeRemaining    *int64 `json:"time_remaining"`
	TimeRemainingStr string `json:"time_remaining_str"`
	HasToken         bool   `json:"has_token"`
	TokenPreview     string `json:"token_preview"`
	IsValid          bool   `json:"is_valid"`
	IsCurrent        bool   `json:"is_current"`
	IsPinned         bool   `json:"is_pinned"`
}

func (h *Handler) describe(e credential.Entry) credentialInfo {
	c := e.Credential
	info := credentialInfo{
		Index:        e.Index,
		ID:           c.ID,
		UserID:       c.UserID,
		HasToken:     strings.TrimSpace(c.Bearer) != "",
		TokenPreview: util.MaskToken(c.Bearer),
		IsValid:      e.Valid,
		IsCurrent:    e.Current,
		IsPinned:     e.Pinned,
	}
	if !c.CreatedAt.IsZero() {
		created := c.CreatedAt.Unix()
		info.CreatedAt = &created
	}
	remaining, known := c.TimeRemaining(h.now())
	if known {
		expires := c.ExpiresAt.Unix()
		info.ExpiresAt = &expires
		secs := int64(remaining / time.Second)
		if secs < 0 {
			secs = 0
		}
		info.TimeRemaining = &secs
	}
	info.TimeRemainingStr = credential.FormatRemaining(remaining, known)
	return info
}

// ListCredentials handles GET /v1/credentials.
func (h *Handler) ListCredentials(c *gin.Context) {
	snap := h.creds.Pool().Snapshot()
	out := make([]credentialInfo, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		out = append(out, h.describe(e))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

type addCredentialRequest struct {
	BearerToken string `json:"bearer_token"`
	UserID      string `json:"user_id"`
	FileName    string `json:"filename"`
}

// AddCredential handles POST /v1/credentials.
func (h *Handler) AddCredential(c *gin.Context) {
	var req addCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.BearerToken) == "" {
		writeError(c, http.StatusUnprocessableEntity, "bearer_token is required")
		return
	}
	if req.FileName != "" {
		if _, err := credential.SanitizeFileName(req.FileName); err != nil {
			writeError(c, http.StatusBadRequest, "Invalid filename")
			return
		}
	}

	saved, err := h.creds.Add(c.Request.Context(), credential.AddRequest{
		BearerToken: req.BearerToken,
		UserID:      req.UserID,
		FileName:    req.FileName,
	})
	if err != nil {
		log.WithError(err).Error("failed to save credential")
		writeError(c, http.StatusInternalServerError, "Failed to save credential file")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Credential added successfully", "id": saved.ID})
}

type indexRequest struct {
	Index json.RawMessage `json:"index"`
}

// parseIndex reads {"index": n}. ok is false when index is absent or not an integer.
func parseIndex(c *gin.Context) (index int, present bool, ok bool) {
	var req indexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return 0, false, false
	}
	raw := strings.TrimSpace(string(req.Index))
	if raw == "" || raw == "null" {
		return 0, false, false
	}
	if err := json.Unmarshal(req.Index, &index); err != nil {
		return 0, true, false
	}
	return index, true, true
}

// SelectCredential handles POST /v1/credentials/select.
func (h *Handler) SelectCredential(c *gin.Context) {
	index, present, ok := parseIndex(c)
	if !present {
		writeError(c, http.StatusUnprocessableEntity, "index is required")
		return
	}
	if !ok {
		writeError(c, http.StatusBadRequest, "Invalid credential index")
		return
	}
	if err := h.creds.Pool().Select(index); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid credential index")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Credential #%d selected successfully", index+1)})
}

// ResumeAutoRotation handles POST /v1/credentials/auto.
func (h *Handler) ResumeAutoRotation(c *gin.Context) {
	h.creds.Pool().ClearPin()
	c.JSON(http.StatusOK, gin.H{"message": "Resumed automatic credential rotation"})
}

// ToggleAutoRotation handles POST /v1/credentials/toggle-rotation.
func (h *Handler) ToggleAutoRotation(c *gin.Context) {
	enabled := h.creds.Pool().ToggleAutoRotation()
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{
		"message":               "Auto rotation " + status,
		"auto_rotation_enabled": enabled,
	})
}

// CurrentCredential handles GET /v1/credentials/current.
func (h *Handler) CurrentCredential(c *gin.Context) {
	pool := h.creds.Pool()
	snap := pool.Snapshot()
	body := gin.H{
		"credential":            nil,
		"total":                 len(snap.Entries),
		"auto_rotation_enabled": snap.AutoRotation,
		"rotation_count":        snap.RotationCount,
		"manual_selection":      snap.PinnedIndex >= 0,
	}
	if entry, ok := pool.Current(); ok {
		body["credential"] = h.describe(entry)
	}
	c.JSON(http.StatusOK, body)
}

// DeleteCredential handles POST /v1/credentials/delete.
func (h *Handler) DeleteCredential(c *gin.Context) {
	index, _, ok := parseIndex(c)
	if !ok {
		writeError(c, http.StatusUnprocessableEntity, "Valid integer index is required")
		return
	}
	if _, err := h.creds.Delete(c.Request.Context(), index); err != nil {
		var idxErr *credential.IndexError
		if !errors.As(err, &idxErr) {
			log.WithError(err).Warn("failed to delete credential file")
		}
		writeError(c, http.StatusBadRequest, "Invalid index or failed to delete credential")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Credential #%d deleted successfully", index+1)})
}
