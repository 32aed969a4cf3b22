package user

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/controller"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/middleware"
	"github.com/lshigami/safetycert/internal/repository"
	"github.com/lshigami/safetycert/internal/service"
)

// UserDocumentController serves protocols and certificates to the people they concern.
type UserDocumentController struct {
	protocolService    service.ProtocolService
	certificateService service.CertificateService
}

func NewUserDocumentController(ps service.ProtocolService, cs service.CertificateService) *UserDocumentController {
	return &UserDocumentController{protocolService: ps, certificateService: cs}
}

// canSeeProtocol: students see their own, commission members the ones they sign, admins all.
func canSeeProtocol(user middleware.CurrentUser, p *dto.ProtocolDTO) bool {
	switch user.Role {
	case middleware.RoleAdmin:
		return true
	case middleware.RoleCommission:
		for _, s := range p.Signatures {
			if s.SignerID == user.ID {
				return true
			}
		}
		return false
	default:
		return p.UserID == user.ID
	}
}

// ListProtocols godoc
// @Summary List protocols visible to the caller
// @Tags Protocols
// @Produce json
// @Security BearerAuth
// @Param status query string false "Protocol status"
// @Success 200 {array} dto.ProtocolDTO
// @Router /protocols [get]
func (c *UserDocumentController) ListProtocols(ctx *gin.Context) {
	user := controller.Caller(ctx)
	filter := repository.ProtocolFilter{Status: ctx.Query("status")}
	switch user.Role {
	case middleware.RoleCommission:
		filter.SignerID = user.ID
	case middleware.RoleStudent:
		filter.UserID = user.ID
	}
	protocols, err := c.protocolService.List(ctx.Request.Context(), filter)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, protocols)
}

// GetProtocol godoc
// @Summary Get a protocol
// @Tags Protocols
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Success 200 {object} dto.ProtocolDTO
// @Failure 403 {object} dto.ErrorResponse "Not visible to the caller"
// @Failure 404 {object} dto.ErrorResponse "Protocol not found"
// @Router /protocols/{protocol_id} [get]
func (c *UserDocumentController) GetProtocol(ctx *gin.Context) {
	p, err := c.protocolService.Get(ctx.Request.Context(), ctx.Param("protocol_id"))
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	if !canSeeProtocol(controller.Caller(ctx), p) {
		controller.RespondError(ctx, fmt.Errorf("protocol %s: %w", p.ID, apperr.ErrForbidden))
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// ListCertificates godoc
// @Summary List certificates
// @Description Students see their own certificates, administrators all of them.
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.CertificateDTO
// @Router /certificates [get]
func (c *UserDocumentController) ListCertificates(ctx *gin.Context) {
	user := controller.Caller(ctx)
	certs, err := c.certificateService.List(ctx.Request.Context(), repository.CertificateFilter{UserID: controller.OwnerScope(user)})
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, certs)
}

func (c *UserDocumentController) ownCertificate(ctx *gin.Context) (*dto.CertificateDTO, bool) {
	cert, err := c.certificateService.Get(ctx.Request.Context(), ctx.Param("certificate_id"))
	if err != nil {
		controller.RespondError(ctx, err)
		return nil, false
	}
	if owner := controller.OwnerScope(controller.Caller(ctx)); owner != "" && cert.UserID != owner {
		controller.RespondError(ctx, fmt.Errorf("certificate %s: %w", cert.ID, apperr.ErrForbidden))
		return nil, false
	}
	return cert, true
}

// GetCertificate godoc
// @Summary Get a certificate
// @Tags Certificates
// @Produce json
// @Security BearerAuth
// @Param certificate_id path string true "Certificate ID"
// @Success 200 {object} dto.CertificateDTO
// @Failure 404 {object} dto.ErrorResponse "Certificate not found"
// @Router /certificates/{certificate_id} [get]
func (c *UserDocumentController) GetCertificate(ctx *gin.Context) {
	cert, ok := c.ownCertificate(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, cert)
}

// DownloadCertificate godoc
// @Summary Download a certificate
// @Description Returns the uploaded certificate file, or an HTML rendering when none was uploaded.
// @Tags Certificates
// @Produce octet-stream
// @Security BearerAuth
// @Param certificate_id path string true "Certificate ID"
// @Success 200 {file} file
// @Router /certificates/{certificate_id}/download [get]
func (c *UserDocumentController) DownloadCertificate(ctx *gin.Context) {
	cert, ok := c.ownCertificate(ctx)
	if !ok {
		return
	}
	file, err := c.certificateService.Download(ctx.Request.Context(), cert.ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	ctx.Data(http.StatusOK, file.ContentType, file.Data)
}
