package inmem

import (
	"context"
	"sort"
	"time"

	"github.com/lshigami/safetycert/internal/apperr"
	"github.com/lshigami/safetycert/internal/model"
	"github.com/lshigami/safetycert/internal/repository"
)

type testRepository struct{ s *Store }

func NewTestRepository(s *Store) repository.TestRepository { return &testRepository{s} }

func (r *testRepository) Create(ctx context.Context, test *model.Test) error {
	return r.s.write(ctx, func() error {
		if test.ID == "" {
			test.ID = model.NewID()
		}
		now := r.s.tick()
		test.CreatedAt, test.UpdatedAt = now, now
		for i := range test.Questions {
			q := &test.Questions[i]
			if q.ID == "" {
				q.ID = model.NewID()
			}
			q.TestID = test.ID
			q.CreatedAt, q.UpdatedAt = now, now
			for j := range q.Options {
				o := &q.Options[j]
				if o.ID == "" {
					o.ID = model.NewID()
				}
				o.QuestionID = q.ID
				r.s.options[o.ID] = *o
			}
			row := *q
			row.Options = nil
			r.s.questions[q.ID] = row
		}
		row := *test
		row.Questions = nil
		r.s.tests[test.ID] = row
		return nil
	})
}

func (r *testRepository) FindByID(_ context.Context, id string) (*model.Test, error) {
	var (
		test model.Test
		ok   bool
	)
	r.s.read(func() { test, ok = r.s.tests[id] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &test, nil
}

func (r *testRepository) FindByIDWithQuestions(ctx context.Context, id string) (*model.Test, error) {
	test, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.s.read(func() { test.Questions = r.s.questionsOf(id) })
	return test, nil
}

func (r *testRepository) FindAllWithQuestionCount(_ context.Context) ([]repository.TestWithQuestionCount, error) {
	var out []repository.TestWithQuestionCount
	r.s.read(func() {
		for _, t := range r.s.tests {
			out = append(out, repository.TestWithQuestionCount{Test: t, QuestionCount: len(r.s.questionsOf(t.ID))})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// questionsOf returns the questions of a test with options, ordered. Callers hold s.mu.
func (s *Store) questionsOf(testID string) []model.Question {
	var qs []model.Question
	for _, q := range s.questions {
		if q.TestID != testID {
			continue
		}
		for _, o := range s.options {
			if o.QuestionID == q.ID {
				q.Options = append(q.Options, o)
			}
		}
		sort.Slice(q.Options, func(i, j int) bool { return q.Options[i].Order < q.Options[j].Order })
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i].OrderInTest < qs[j].OrderInTest })
	return qs
}

type questionRepository struct{ s *Store }

func NewQuestionRepository(s *Store) repository.QuestionRepository { return &questionRepository{s} }

func (r *questionRepository) FindByTestID(_ context.Context, testID string) ([]model.Question, error) {
	var qs []model.Question
	r.s.read(func() { qs = r.s.questionsOf(testID) })
	return qs, nil
}

type testAttemptRepository struct{ s *Store }

func NewTestAttemptRepository(s *Store) repository.TestAttemptRepository {
	return &testAttemptRepository{s}
}

func storedAttempt(a *model.TestAttempt) model.TestAttempt {
	row := *a
	row.Test = nil
	row.GradedAnswers = nil
	row.SetAnswers(a.AnswerSet().Clone())
	return row
}

func (r *testAttemptRepository) Create(ctx context.Context, attempt *model.TestAttempt) error {
	return r.s.write(ctx, func() error {
		if attempt.ID == "" {
			attempt.ID = model.NewID()
		}
		if _, exists := r.s.attempts[attempt.ID]; exists {
			return ErrDuplicate
		}
		if attempt.CompletedAt == nil {
			for _, a := range r.s.attempts {
				if a.TestID == attempt.TestID && a.UserID == attempt.UserID && a.CompletedAt == nil {
					return ErrDuplicate
				}
			}
		}
		now := r.s.tick()
		attempt.CreatedAt, attempt.UpdatedAt = now, now
		r.s.attempts[attempt.ID] = storedAttempt(attempt)
		return nil
	})
}

func (r *testAttemptRepository) Update(ctx context.Context, attempt *model.TestAttempt) error {
	return r.s.write(ctx, func() error {
		if _, ok := r.s.attempts[attempt.ID]; !ok {
			return apperr.ErrNotFound
		}
		attempt.UpdatedAt = r.s.tick()
		r.s.attempts[attempt.ID] = storedAttempt(attempt)
		return nil
	})
}

func (r *testAttemptRepository) get(id string) (*model.TestAttempt, error) {
	var (
		a  model.TestAttempt
		ok bool
	)
	r.s.read(func() { a, ok = r.s.attempts[id] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	a.SetAnswers(a.AnswerSet().Clone())
	return &a, nil
}

func (r *testAttemptRepository) FindByID(_ context.Context, id string) (*model.TestAttempt, error) {
	return r.get(id)
}

func (r *testAttemptRepository) FindByIDForUpdate(_ context.Context, id string) (*model.TestAttempt, error) {
	return r.get(id)
}

func (r *testAttemptRepository) FindByIDWithDetails(_ context.Context, id string) (*model.TestAttempt, error) {
	a, err := r.get(id)
	if err != nil {
		return nil, err
	}
	r.s.read(func() {
		if t, ok := r.s.tests[a.TestID]; ok {
			a.Test = &t
		}
		a.GradedAnswers = r.s.answersOf(a.ID)
	})
	return a, nil
}

func (r *testAttemptRepository) FindAllByTestAndUser(_ context.Context, testID, userID string) ([]model.TestAttempt, error) {
	var out []model.TestAttempt
	r.s.read(func() {
		for _, a := range r.s.attempts {
			if a.TestID == testID && a.UserID == userID {
				a.SetAnswers(a.AnswerSet().Clone())
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *testAttemptRepository) FindIncomplete(ctx context.Context, testID, userID string) (*model.TestAttempt, error) {
	all, _ := r.FindAllByTestAndUser(ctx, testID, userID)
	for i := range all {
		if all[i].CompletedAt == nil {
			return &all[i], nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (r *testAttemptRepository) CountByTestAndUser(ctx context.Context, testID, userID string) (int64, error) {
	all, _ := r.FindAllByTestAndUser(ctx, testID, userID)
	return int64(len(all)), nil
}

func (r *testAttemptRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]model.TestAttempt, error) {
	var out []model.TestAttempt
	r.s.read(func() {
		for _, a := range r.s.attempts {
			if a.IsOverdue(now) {
				out = append(out, a)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// answersOf returns graded answers of an attempt. Callers hold s.mu.
func (s *Store) answersOf(attemptID string) []model.Answer {
	var out []model.Answer
	for _, a := range s.answers {
		if a.TestAttemptID == attemptID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type answerRepository struct{ s *Store }

func NewAnswerRepository(s *Store) repository.AnswerRepository { return &answerRepository{s} }

func (r *answerRepository) CreateBatch(ctx context.Context, answers []model.Answer) error {
	return r.s.write(ctx, func() error {
		for i := range answers {
			a := &answers[i]
			if a.ID == "" {
				a.ID = model.NewID()
			}
			a.CreatedAt = r.s.tick()
			r.s.answers[a.ID] = *a
		}
		return nil
	})
}

func (r *answerRepository) FindByAttemptID(_ context.Context, attemptID string) ([]model.Answer, error) {
	var out []model.Answer
	r.s.read(func() { out = r.s.answersOf(attemptID) })
	return out, nil
}

type attemptVideoRepository struct{ s *Store }

func NewAttemptVideoRepository(s *Store) repository.AttemptVideoRepository {
	return &attemptVideoRepository{s}
}

func (r *attemptVideoRepository) Create(ctx context.Context, video *model.AttemptVideo) error {
	return r.s.write(ctx, func() error {
		if _, exists := r.s.videos[video.TestAttemptID]; exists {
			return ErrDuplicate
		}
		if video.ID == "" {
			video.ID = model.NewID()
		}
		video.CreatedAt = r.s.tick()
		r.s.videos[video.TestAttemptID] = *video
		return nil
	})
}

func (r *attemptVideoRepository) FindByAttemptID(_ context.Context, attemptID string) (*model.AttemptVideo, error) {
	var (
		v  model.AttemptVideo
		ok bool
	)
	r.s.read(func() { v, ok = r.s.videos[attemptID] })
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &v, nil
}
