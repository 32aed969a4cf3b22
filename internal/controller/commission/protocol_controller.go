package commission

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lshigami/safetycert/internal/controller"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/service"
)

// ProtocolController handles the signer side of the PDEK workflow.
type ProtocolController struct {
	protocolService service.ProtocolService
}

func NewProtocolController(ps service.ProtocolService) *ProtocolController {
	return &ProtocolController{protocolService: ps}
}

// RequestSignature godoc
// @Summary (Commission) Send a signature code
// @Description Sends an SMS code to the phone registered for the caller's signature slot.
// @Tags Commission - Protocols
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Success 200 {object} dto.OTPIssuedResponse
// @Failure 403 {object} dto.ErrorResponse "Caller is not a signer"
// @Failure 409 {object} dto.ErrorResponse "Protocol not open for this signer"
// @Failure 429 {object} dto.ErrorResponse "Resend too soon"
// @Router /protocols/{protocol_id}/signature-request [post]
func (c *ProtocolController) RequestSignature(ctx *gin.Context) {
	issued, err := c.protocolService.RequestSignature(ctx.Request.Context(), ctx.Param("protocol_id"), controller.Caller(ctx).ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issued)
}

// Sign godoc
// @Summary (Commission) Sign a protocol
// @Description Verifies the SMS code and records the caller's signature. Members sign before the chairman.
// @Tags Commission - Protocols
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Param code body dto.OTPCodeRequest true "One-time code"
// @Success 200 {object} dto.ProtocolDTO
// @Failure 409 {object} dto.ErrorResponse "Already signed or out of order"
// @Failure 422 {object} dto.ErrorResponse "Code expired or invalid"
// @Router /protocols/{protocol_id}/sign [post]
func (c *ProtocolController) Sign(ctx *gin.Context) {
	var req dto.OTPCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	p, err := c.protocolService.Sign(ctx.Request.Context(), ctx.Param("protocol_id"), controller.Caller(ctx).ID, req.Value())
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}

// Reject godoc
// @Summary (Commission) Reject a protocol
// @Tags Commission - Protocols
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param protocol_id path string true "Protocol ID"
// @Param reason body dto.ReasonRequest true "Rejection reason"
// @Success 200 {object} dto.ProtocolDTO
// @Failure 409 {object} dto.ErrorResponse "Protocol not open for signing"
// @Router /protocols/{protocol_id}/reject [post]
func (c *ProtocolController) Reject(ctx *gin.Context) {
	var req dto.ReasonRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	p, err := c.protocolService.Reject(ctx.Request.Context(), ctx.Param("protocol_id"), controller.Caller(ctx).ID, req.Reason)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, p)
}
