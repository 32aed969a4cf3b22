package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/controller"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/service"
)

type AdminTestController struct {
	adminTestService service.AdminTestService
}

func NewAdminTestController(adminTestService service.AdminTestService) *AdminTestController {
	return &AdminTestController{adminTestService: adminTestService}
}

// CreateTest godoc
// @Summary (Admin) Create a new test
// @Description Creates a quiz or final exam together with its questions. Choice questions need options with the correct ones marked.
// @Tags Admin - Tests
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param test_data body dto.TestCreateDTO true "Test creation data including all questions"
// @Success 201 {object} dto.TestResponseDTO "Test created successfully"
// @Failure 400 {object} dto.ErrorResponse "Invalid input data"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /admin/tests [post]
func (c *AdminTestController) CreateTest(ctx *gin.Context) {
	var req dto.TestCreateDTO
	if err := ctx.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("Admin CreateTest: Failed to bind JSON")
		controller.RespondBindError(ctx, err)
		return
	}

	testResp, err := c.adminTestService.CreateTest(ctx.Request.Context(), req)
	if err != nil {
		log.Error().Err(err).Str("title", req.Title).Msg("Admin CreateTest: Service error")
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, testResp)
}

// UpsertCommissionMember godoc
// @Summary (Admin) Add or update a PDEK commission member
// @Description Exactly one active chairman and at least one active member are needed before protocols can be signed.
// @Tags Admin - Commission
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param member body dto.CommissionMemberDTO true "Commission member"
// @Success 200 {object} dto.CommissionMemberResponseDTO
// @Failure 400 {object} dto.ErrorResponse "Invalid input data"
// @Router /admin/commission [put]
func (c *AdminTestController) UpsertCommissionMember(ctx *gin.Context) {
	var req dto.CommissionMemberDTO
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	member, err := c.adminTestService.UpsertCommissionMember(ctx.Request.Context(), req)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, member)
}

// ListCommission godoc
// @Summary (Admin) List the active PDEK commission
// @Tags Admin - Commission
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.CommissionMemberResponseDTO
// @Router /admin/commission [get]
func (c *AdminTestController) ListCommission(ctx *gin.Context) {
	members, err := c.adminTestService.ListCommission(ctx.Request.Context())
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, members)
}

// UpsertUserProfile godoc
// @Summary (Admin) Sync a user profile
// @Description Stores the name, IIN, phone and email snapshotted into protocols and certificates.
// @Tags Admin - Users
// @Accept json
// @Security BearerAuth
// @Param profile body dto.UserProfileDTO true "User profile"
// @Success 204
// @Failure 400 {object} dto.ErrorResponse "Invalid input data"
// @Router /admin/users [put]
func (c *AdminTestController) UpsertUserProfile(ctx *gin.Context) {
	var req dto.UserProfileDTO
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	if err := c.adminTestService.UpsertUserProfile(ctx.Request.Context(), req); err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
