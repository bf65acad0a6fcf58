package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/middleware"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/signing"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// TrustController handles trust anchor and revocation endpoints
type TrustController struct {
	anchors  *signing.AnchorStore
	crl      *signing.CRLCache
	verifier *signing.Verifier
	logger   *logrus.Logger
}

// NewTrustController creates a new trust controller
func NewTrustController(anchors *signing.AnchorStore, crl *signing.CRLCache, verifier *signing.Verifier, logger *logrus.Logger) *TrustController {
	return &TrustController{
		anchors:  anchors,
		crl:      crl,
		verifier: verifier,
		logger:   logger,
	}
}

// ListAnchors returns all registered trust anchors
func (ctrl *TrustController) ListAnchors(c *gin.Context) {
	utils.SuccessResponse(c, ctrl.anchors.List())
}

// AnchorRequest is the payload for registering a trust anchor
type AnchorRequest struct {
	Certificate models.PluginCertificate `json:"certificate" binding:"required"`
	TrustLevel  models.TrustLevel        `json:"trust_level" binding:"required"`
}

// AddAnchor registers a self-signed certificate as a root of trust.
// Cached verification results are invalidated so the new anchor takes
// effect immediately.
func (ctrl *TrustController) AddAnchor(c *gin.Context) {
	var req AnchorRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	addedBy, _ := middleware.GetSubject(c)

	if err := ctrl.anchors.Add(req.Certificate, req.TrustLevel, addedBy); err != nil {
		switch {
		case errors.Is(err, signing.ErrAnchorExists):
			utils.Conflict(c, "Trust anchor already registered")
		case errors.Is(err, signing.ErrAnchorNotSelfSigned):
			utils.BadRequest(c, "Trust anchor must be self-signed")
		default:
			utils.InternalServerError(c, "Failed to register trust anchor")
		}
		return
	}

	ctrl.verifier.InvalidateCache()

	utils.CreatedResponse(c, gin.H{
		"fingerprint": req.Certificate.Fingerprint,
		"subject":     req.Certificate.Subject,
		"trust_level": req.TrustLevel,
	})
}

// RemoveAnchor deregisters a trust anchor by fingerprint
func (ctrl *TrustController) RemoveAnchor(c *gin.Context) {
	fingerprint := c.Param("fingerprint")

	if err := ctrl.anchors.Remove(fingerprint); err != nil {
		if errors.Is(err, signing.ErrAnchorNotFound) {
			utils.NotFound(c, "Trust anchor not found")
			return
		}
		utils.InternalServerError(c, "Failed to remove trust anchor")
		return
	}

	ctrl.verifier.InvalidateCache()
	utils.NoContentResponse(c)
}

// ListRevocations returns all revoked certificate serials
func (ctrl *TrustController) ListRevocations(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"serials": ctrl.crl.Serials(),
	})
}

// RevokeRequest is the payload for a certificate revocation
type RevokeRequest struct {
	Serial string `json:"serial" binding:"required"`
	Reason string `json:"reason"`
}

// Revoke records a certificate serial as revoked. Plugins signed with
// the revoked certificate fail verification on their next evaluation.
func (ctrl *TrustController) Revoke(c *gin.Context) {
	var req RevokeRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	ctrl.crl.Revoke(req.Serial, req.Reason)
	ctrl.verifier.InvalidateCache()

	ctrl.logger.WithFields(logrus.Fields{
		"serial": req.Serial,
		"reason": req.Reason,
	}).Warn("Certificate revoked via API")

	utils.SuccessResponse(c, gin.H{
		"serial":  req.Serial,
		"revoked": true,
	})
}

// VerifyRequest is the payload for an on-demand signature verification
type VerifyRequest struct {
	Path         string `json:"path" binding:"required"`
	ManifestPath string `json:"manifest_path" binding:"required"`
}

// Verify runs signature verification for a plugin on disk and returns
// the full result including trust level and error details
func (ctrl *TrustController) Verify(c *gin.Context) {
	var req VerifyRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	if err := utils.ValidatePath(req.Path, utils.ValidationOptions{Required: true, MaxLength: 1024}); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if err := utils.ValidatePath(req.ManifestPath, utils.ValidationOptions{Required: true, MaxLength: 1024}); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	result := ctrl.verifier.Verify(req.Path, req.ManifestPath)
	utils.SuccessResponse(c, result)
}
