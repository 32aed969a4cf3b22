package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/internal/mail"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/otp"
	"github.com/lshigami/safetycert/internal/repository/inmem"
)

const (
	studentID  = "student-1"
	adminID    = "admin-1"
	member1ID  = "member-1"
	member2ID  = "member-2"
	chairmanID = "chairman-1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	repos  *inmem.Repositories
	clock  *testClock
	sms    *otp.RecordingSender
	mailer *mail.LogSender

	gateway    otp.Gateway
	protocols  ProtocolService
	certs      CertificateService
	submission TestSubmissionService
	attempts   AttemptService
	extras     ExtraAttemptService
	admin      AdminTestService
	userTests  UserTestService
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithGrader(t, nil)
}

func newHarnessWithGrader(t *testing.T, grader OpenAnswerGrader) *harness {
	t.Helper()
	h := &harness{
		repos:  inmem.NewRepositories(),
		clock:  &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		sms:    &otp.RecordingSender{},
		mailer: &mail.LogSender{},
	}
	r := h.repos
	h.gateway = otp.NewGateway(config.OTP{ExposeCode: true}, r.OTP, r.Store, h.sms,
		otp.WithClock(h.clock.Now), otp.WithHashCost(bcrypt.MinCost))

	cfg := &config.Config{Certificate: config.Certificate{NumberPrefix: "PDEK"}}
	certs := NewCertificateService(cfg, r.Store, r.Certificates, r.Protocols, r.Tests, r.Profiles, h.mailer).(*certificateService)
	certs.now = h.clock.Now
	h.certs = certs

	protocols := NewProtocolService(r.Store, r.Protocols, r.Commission, r.Profiles, h.gateway, certs).(*protocolService)
	protocols.now = h.clock.Now
	h.protocols = protocols

	submission := NewTestSubmissionService(r.Store, r.Tests, r.Questions, r.Attempts, r.Answers, r.Videos, NewGradingService(grader), protocols).(*testSubmissionService)
	submission.now = h.clock.Now
	h.submission = submission

	attempts := NewAttemptService(r.Store, r.Tests, r.Attempts, r.ExtraAttempts, r.Profiles, submission, h.gateway).(*attemptService)
	attempts.now = h.clock.Now
	h.attempts = attempts

	extras := NewExtraAttemptService(r.Store, r.Tests, r.ExtraAttempts).(*extraAttemptService)
	extras.now = h.clock.Now
	h.extras = extras

	h.admin = NewAdminTestService(r.Tests, r.Commission, r.Profiles)
	h.userTests = NewUserTestService(r.Tests, r.Attempts, r.ExtraAttempts)
	return h
}

type testSpec struct {
	kind          string
	maxAttempts   int
	passingScore  float64
	minutes       int
	validityMonth int
	// weights of single-choice questions, each with a "right" and a "wrong" option
	weights []float64
}

func (h *harness) seedTest(t *testing.T, spec testSpec) *model.Test {
	t.Helper()
	if spec.kind == "" {
		spec.kind = model.TestKindQuiz
	}
	if spec.maxAttempts == 0 {
		spec.maxAttempts = 3
	}
	test := &model.Test{
		CourseID:                  "course-1",
		CourseTitle:               "Electrical safety, group III",
		Title:                     "Electrical safety exam",
		Kind:                      spec.kind,
		MaxAttempts:               spec.maxAttempts,
		PassingScore:              decimal.NewFromFloat(spec.passingScore),
		TimeLimitMinutes:          spec.minutes,
		CertificateValidityMonths: spec.validityMonth,
	}
	for i, w := range spec.weights {
		test.Questions = append(test.Questions, model.Question{
			Prompt:      fmt.Sprintf("Question %d", i+1),
			Type:        model.QuestionTypeSingleChoice,
			Weight:      w,
			OrderInTest: i + 1,
			Options: []model.Option{
				{Text: "right", IsCorrect: true, Order: 1},
				{Text: "wrong", Order: 2},
			},
		})
	}
	require.NoError(t, h.repos.Tests.Create(context.Background(), test))
	return test
}

// answersFor picks the right option for the listed question indexes and the wrong one elsewhere.
func answersFor(test *model.Test, correct ...int) model.AnswerSet {
	right := make(map[int]bool, len(correct))
	for _, i := range correct {
		right[i] = true
	}
	out := model.AnswerSet{}
	for i, q := range test.Questions {
		pick := q.Options[1].ID
		if right[i] {
			pick = q.Options[0].ID
		}
		out[q.ID] = model.AnswerValue{pick}
	}
	return out
}

func (h *harness) seedCommission(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, m := range []model.CommissionMember{
		{UserID: member1ID, FullName: "Member One", Phone: "+77010000001", Role: model.SignerRoleMember, Active: true},
		{UserID: member2ID, FullName: "Member Two", Phone: "+77010000002", Role: model.SignerRoleMember, Active: true},
		{UserID: chairmanID, FullName: "Chair Person", Phone: "+77010000009", Role: model.SignerRoleChairman, Active: true},
	} {
		require.NoError(t, h.repos.Commission.Upsert(ctx, &m))
	}
}

func (h *harness) seedStudent(t *testing.T) {
	t.Helper()
	require.NoError(t, h.repos.Profiles.Upsert(context.Background(), &model.UserProfile{
		UserID:   studentID,
		FullName: "Student Name",
		IIN:      "900101300123",
		Phone:    "+77020000000",
		Email:    "student@example.com",
	}))
}

// takeAttempt starts an attempt and submits the given answers.
func (h *harness) takeAttempt(t *testing.T, test *model.Test, answers model.AnswerSet) string {
	t.Helper()
	ctx := context.Background()
	a, err := h.attempts.Start(ctx, test.ID, studentID)
	require.NoError(t, err)
	done, err := h.submission.Submit(ctx, SubmitInput{AttemptID: a.ID, UserID: studentID, Answers: answers})
	require.NoError(t, err)
	return done.ID
}

func (h *harness) sign(t *testing.T, protocolID, signerID string) error {
	t.Helper()
	ctx := context.Background()
	issued, err := h.protocols.RequestSignature(ctx, protocolID, signerID)
	if err != nil {
		return err
	}
	_, err = h.protocols.Sign(ctx, protocolID, signerID, issued.Code)
	return err
}
