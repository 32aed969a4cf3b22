package admin

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/controller"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/service"
)

const maxCertificateUpload = 10 << 20

// AdminWorkflowController covers extra attempt decisions, protocol annulment and certificate upkeep.
type AdminWorkflowController struct {
	extraAttemptService service.ExtraAttemptService
	protocolService     service.ProtocolService
	certificateService  service.CertificateService
}

func NewAdminWorkflowController(
	eas service.ExtraAttemptService,
	ps service.ProtocolService,
	cs service.CertificateService,
) *AdminWorkflowController {
	return &AdminWorkflowController{extraAttemptService: eas, protocolService: ps, certificateService: cs}
}

func bindDecision(ctx *gin.Context) (dto.ExtraAttemptDecisionRequest, bool) {
	var req dto.ExtraAttemptDecisionRequest
	if ctx.Request.ContentLength == 0 {
		return req, true
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return req, false
	}
	return req, true
}

// ApproveExtraAttempt godoc
// @Summary (Admin) Approve an extra attempt request
// @Description Approval raises the student's attempt cap for the test by one.
// @Tags Admin - Extra Attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request_id path string true "Request ID"
// @Param decision body dto.ExtraAttemptDecisionRequest false "Optional response to the student"
// @Success 200 {object} dto.ExtraAttemptRequestDTO
// @Failure 404 {object} dto.ErrorResponse "Request not found"
// @Failure 409 {object} dto.ErrorResponse "Request already processed"
// @Router /admin/extra-attempt-requests/{request_id}/approve [post]
func (c *AdminWorkflowController) ApproveExtraAttempt(ctx *gin.Context) {
	req, ok := bindDecision(ctx)
	if !ok {
		return
	}
	resp, err := c.extraAttemptService.Approve(ctx.Request.Context(), ctx.Param("request_id"), controller.Caller(ctx).ID, req)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// RejectExtraAttempt godoc
// @Summary (Admin) Reject an extra attempt request
// @Tags Admin - Extra Attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request_id path string true "Request ID"
// @Param decision body dto.ExtraAttemptDecisionRequest false "Optional response to the student"
// @Success 200 {object} dto.ExtraAttemptRequestDTO
// @Failure 404 {object} dto.ErrorResponse "Request not found"
// @Failure 409 {object} dto.ErrorResponse "Request already processed"
// @Router /admin/extra-attempt-requests/{request_id}/reject [post]
func (c *AdminWorkflowController) RejectExtraAttempt(ctx *gin.Context) {
	req, ok := bindDecision(ctx)
	if !ok {
		return
	}
	resp, err := c.extraAttemptService.Reject(ctx.Request.Context(), ctx.Param("request_id"), controller.Caller(ctx).ID, req)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, resp)
}

// AnnulProtocol godoc
// @Summary (Admin) Annul a protocol
// @Tags Admin - Protocols
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Param reason body dto.ReasonRequest true "Annulment reason"
// @Success 200 {object} dto.ProtocolDTO
// @Failure 409 {object} dto.ErrorResponse "Protocol already annulled"
// @Router /admin/protocols/{protocol_id}/annul [post]
func (c *AdminWorkflowController) AnnulProtocol(ctx *gin.Context) {
	var req dto.ReasonRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	p, err := c.protocolService.Annul(ctx.Request.Context(), ctx.Param("protocol_id"), controller.Caller(ctx).ID, req.Reason)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// ReopenProtocol godoc
// @Summary (Admin) Reopen a protocol for signing
// @Description Takes a fresh roster snapshot and returns a rejected or generated protocol to pending_pdek.
// @Tags Admin - Protocols
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Success 200 {object} dto.ProtocolDTO
// @Failure 409 {object} dto.ErrorResponse "Protocol cannot be reopened"
// @Router /admin/protocols/{protocol_id}/reopen [post]
func (c *AdminWorkflowController) ReopenProtocol(ctx *gin.Context) {
	p, err := c.protocolService.Reopen(ctx.Request.Context(), ctx.Param("protocol_id"), controller.Caller(ctx).ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// UploadCertificateFile godoc
// @Summary (Admin) Attach a certificate document
// @Tags Admin - Certificates
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param certificate_id path string true "Certificate ID"
// @Param file formData file true "Certificate document (PDF or image, up to 10MB)"
// @Success 200 {object} dto.CertificateDTO
// @Failure 400 {object} dto.ErrorResponse "Missing or oversized file"
// @Router /admin/certificates/{certificate_id}/file [post]
func (c *AdminWorkflowController) UploadCertificateFile(ctx *gin.Context) {
	header, err := ctx.FormFile("file")
	if err != nil {
		controller.RespondError(ctx, apperr.Validation("file", "a certificate file is required"))
		return
	}
	if header.Size > maxCertificateUpload {
		controller.RespondError(ctx, apperr.Validation("file", "the file exceeds 10MB"))
		return
	}
	f, err := header.Open()
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxCertificateUpload+1))
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	cert, err := c.certificateService.UploadFile(ctx.Request.Context(), ctx.Param("certificate_id"), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cert)
}

// ReissueCertificate godoc
// @Summary (Admin) Reissue a certificate
// @Description Assigns a new number and keeps the previous one for reference.
// @Tags Admin - Certificates
// @Produce json
// @Security BearerAuth
// @Param certificate_id path string true "Certificate ID"
// @Success 200 {object} dto.CertificateDTO
// @Failure 409 {object} dto.ErrorResponse "Protocol annulled"
// @Router /admin/certificates/{certificate_id}/reissue [post]
func (c *AdminWorkflowController) ReissueCertificate(ctx *gin.Context) {
	cert, err := c.certificateService.Reissue(ctx.Request.Context(), ctx.Param("certificate_id"), controller.Caller(ctx).ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cert)
}
