package user

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/internal/controller"
	"github.com/lshigami/safetycert/internal/dto"
	"github.com/lshigami/safetycert/internal/middleware"
	"github.com/lshigami/safetycert/internal/repository"
	"github.com/lshigami/safetycert/internal/service"
)

const maxVideoSize = 200 << 20

type UserTestController struct {
	userTestService       service.UserTestService
	attemptService        service.AttemptService
	testSubmissionService service.TestSubmissionService
	extraAttemptService   service.ExtraAttemptService
}

func NewUserTestController(
	uts service.UserTestService,
	as service.AttemptService,
	tss service.TestSubmissionService,
	eas service.ExtraAttemptService,
) *UserTestController {
	return &UserTestController{
		userTestService:       uts,
		attemptService:        as,
		testSubmissionService: tss,
		extraAttemptService:   eas,
	}
}

// GetAllTests godoc
// @Summary (User) List all available tests
// @Description Lists tests with the caller's used attempts and effective attempt cap.
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Success 200 {array} dto.TestSummaryDTO
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /tests [get]
func (c *UserTestController) GetAllTests(ctx *gin.Context) {
	user := controller.Caller(ctx)
	tests, err := c.userTestService.GetAllTests(ctx.Request.Context(), user.ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, tests)
}

// GetTestDetails godoc
// @Summary (User) Get details of a specific test
// @Description Full test with questions and options. Correct answers are not included.
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Param test_id path string true "Test ID"
// @Success 200 {object} dto.TestResponseDTO
// @Failure 404 {object} dto.ErrorResponse "Test not found"
// @Router /tests/{test_id} [get]
func (c *UserTestController) GetTestDetails(ctx *gin.Context) {
	testDetails, err := c.userTestService.GetTestDetails(ctx.Request.Context(), ctx.Param("test_id"))
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, testDetails)
}

// StartAttempt godoc
// @Summary (User) Start or resume an attempt
// @Description Returns the caller's incomplete attempt if one exists, otherwise starts a new one within the effective attempt cap.
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Param test_id path string true "Test ID"
// @Success 200 {object} dto.TestAttemptDTO
// @Failure 404 {object} dto.ErrorResponse "Test not found"
// @Failure 422 {object} dto.ErrorResponse "Attempt limit exceeded"
// @Router /tests/{test_id}/attempts [post]
func (c *UserTestController) StartAttempt(ctx *gin.Context) {
	user := controller.Caller(ctx)
	attempt, err := c.attemptService.Start(ctx.Request.Context(), ctx.Param("test_id"), user.ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempt)
}

// ListAttempts godoc
// @Summary (User) List the caller's attempts for a test
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Param test_id path string true "Test ID"
// @Success 200 {array} dto.TestAttemptDTO
// @Router /tests/{test_id}/attempts [get]
func (c *UserTestController) ListAttempts(ctx *gin.Context) {
	user := controller.Caller(ctx)
	userID := user.ID
	if user.IsAdmin() && ctx.Query("user_id") != "" {
		userID = ctx.Query("user_id")
	}
	attempts, err := c.attemptService.ListAttempts(ctx.Request.Context(), ctx.Param("test_id"), userID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempts)
}

// GetAttempt godoc
// @Summary (User) Get an attempt
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Param attempt_id path string true "Attempt ID"
// @Success 200 {object} dto.TestAttemptDTO
// @Failure 403 {object} dto.ErrorResponse "Not the caller's attempt"
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Router /attempts/{attempt_id} [get]
func (c *UserTestController) GetAttempt(ctx *gin.Context) {
	attempt, err := c.attemptService.GetAttempt(ctx.Request.Context(), ctx.Param("attempt_id"), controller.OwnerScope(controller.Caller(ctx)))
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempt)
}

// SaveAnswers godoc
// @Summary (User) Autosave answers
// @Description Merges the given answers into the in-progress attempt. Values may be a string or a list of option ids.
// @Tags User - Tests & Attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param attempt_id path string true "Attempt ID"
// @Param answers body dto.SaveAnswersRequest true "Answers keyed by question id"
// @Success 200 {object} dto.TestAttemptDTO
// @Failure 409 {object} dto.ErrorResponse "Attempt completed or out of time"
// @Router /attempts/{attempt_id}/answers [put]
func (c *UserTestController) SaveAnswers(ctx *gin.Context) {
	var req dto.SaveAnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	user := controller.Caller(ctx)
	attempt, err := c.attemptService.SaveAnswers(ctx.Request.Context(), ctx.Param("attempt_id"), user.ID, req.Answers)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempt)
}

// SubmitAttempt godoc
// @Summary (User) Submit an attempt
// @Description Completes and scores the attempt. Accepts JSON with optional final answers, or multipart with an "answers" JSON field and a "video" file. Submitting a completed attempt returns the stored result.
// @Tags User - Tests & Attempts
// @Accept json,mpfd
// @Produce json
// @Security BearerAuth
// @Param attempt_id path string true "Attempt ID"
// @Param video formData file false "Recorded video"
// @Success 200 {object} dto.TestAttemptDTO
// @Failure 404 {object} dto.ErrorResponse "Attempt not found"
// @Router /attempts/{attempt_id}/submit [post]
func (c *UserTestController) SubmitAttempt(ctx *gin.Context) {
	in := service.SubmitInput{AttemptID: ctx.Param("attempt_id"), UserID: controller.Caller(ctx).ID}

	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		if raw := ctx.PostForm("answers"); raw != "" {
			var req dto.SubmitAttemptRequest
			if err := json.Unmarshal([]byte(raw), &req.Answers); err != nil {
				controller.RespondBindError(ctx, err)
				return
			}
			in.Answers = req.Answers
		}
		if fh, err := ctx.FormFile("video"); err == nil {
			if fh.Size > maxVideoSize {
				ctx.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Message: "Video exceeds 200 MB", Code: "validation_error"})
				return
			}
			f, err := fh.Open()
			if err != nil {
				controller.RespondBindError(ctx, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				controller.RespondBindError(ctx, err)
				return
			}
			in.Video = &service.VideoUpload{ContentType: fh.Header.Get("Content-Type"), Data: data}
		}
	} else if ctx.Request.ContentLength > 0 {
		var req dto.SubmitAttemptRequest
		if err := ctx.ShouldBindJSON(&req); err != nil {
			controller.RespondBindError(ctx, err)
			return
		}
		in.Answers = req.Answers
	}

	log.Info().Str("attemptID", in.AttemptID).Bool("video", in.Video != nil).Msg("Received attempt submission")
	attempt, err := c.testSubmissionService.Submit(ctx.Request.Context(), in)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempt)
}

// RequestCompletionCode godoc
// @Summary (User) Send the completion confirmation code
// @Tags User - Tests & Attempts
// @Produce json
// @Security BearerAuth
// @Param attempt_id path string true "Attempt ID"
// @Success 200 {object} dto.OTPIssuedResponse
// @Failure 429 {object} dto.ErrorResponse "Resend too soon"
// @Router /attempts/{attempt_id}/completion/otp [post]
func (c *UserTestController) RequestCompletionCode(ctx *gin.Context) {
	issued, err := c.attemptService.RequestCompletionCode(ctx.Request.Context(), ctx.Param("attempt_id"), controller.Caller(ctx).ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, issued)
}

// ConfirmCompletion godoc
// @Summary (User) Confirm completion with the SMS code
// @Tags User - Tests & Attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param attempt_id path string true "Attempt ID"
// @Param code body dto.OTPCodeRequest true "One-time code"
// @Success 200 {object} dto.TestAttemptDTO
// @Failure 422 {object} dto.ErrorResponse "Code expired or invalid"
// @Router /attempts/{attempt_id}/completion/confirm [post]
func (c *UserTestController) ConfirmCompletion(ctx *gin.Context) {
	var req dto.OTPCodeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	attempt, err := c.attemptService.ConfirmCompletion(ctx.Request.Context(), ctx.Param("attempt_id"), controller.Caller(ctx).ID, req.Value())
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, attempt)
}

// CreateExtraAttemptRequest godoc
// @Summary (User) Request an extra attempt
// @Tags User - Extra attempts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param test_id path string true "Test ID"
// @Param request body dto.ExtraAttemptCreateRequest true "Reason"
// @Success 201 {object} dto.ExtraAttemptRequestDTO
// @Failure 400 {object} dto.ErrorResponse "Empty reason"
// @Failure 409 {object} dto.ErrorResponse "A request is already pending"
// @Router /tests/{test_id}/extra-attempt-requests [post]
func (c *UserTestController) CreateExtraAttemptRequest(ctx *gin.Context) {
	var req dto.ExtraAttemptCreateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		controller.RespondBindError(ctx, err)
		return
	}
	created, err := c.extraAttemptService.Create(ctx.Request.Context(), ctx.Param("test_id"), controller.Caller(ctx).ID, req)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, created)
}

// CurrentExtraAttemptRequest godoc
// @Summary (User) Current extra attempt request for a test
// @Description The latest pending request, else the latest rejected one.
// @Tags User - Extra attempts
// @Produce json
// @Security BearerAuth
// @Param test_id path string true "Test ID"
// @Success 200 {object} dto.ExtraAttemptRequestDTO
// @Failure 404 {object} dto.ErrorResponse "No request"
// @Router /tests/{test_id}/extra-attempt-requests/current [get]
func (c *UserTestController) CurrentExtraAttemptRequest(ctx *gin.Context) {
	current, err := c.extraAttemptService.Current(ctx.Request.Context(), ctx.Param("test_id"), controller.Caller(ctx).ID)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, current)
}

// ListExtraAttemptRequests godoc
// @Summary List extra attempt requests
// @Description Students see their own requests. Administrators see all and may filter by test.
// @Tags User - Extra attempts
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, approved or rejected"
// @Param test_id query string false "Test ID"
// @Success 200 {array} dto.ExtraAttemptRequestDTO
// @Router /extra-attempt-requests [get]
func (c *UserTestController) ListExtraAttemptRequests(ctx *gin.Context) {
	user := controller.Caller(ctx)
	filter := repository.ExtraAttemptFilter{Status: ctx.Query("status"), TestID: ctx.Query("test_id")}
	if user.Role != middleware.RoleAdmin {
		filter.UserID = user.ID
	}
	requests, err := c.extraAttemptService.List(ctx.Request.Context(), filter)
	if err != nil {
		controller.RespondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, requests)
}
