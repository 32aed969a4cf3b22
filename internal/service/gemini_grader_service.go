package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/lshigami/safetycert/config"
	"github.com/lshigami/safetycert/internal/model"
)

type geminiGrader struct {
	client *genai.GenerativeModel
}

// NewGeminiGrader returns an OpenAnswerGrader backed by Gemini, or nil when no API key
// is configured (open questions then score zero).
func NewGeminiGrader(cfg *config.Config) (OpenAnswerGrader, error) {
	if cfg.GeminiApiKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set. Open questions will be scored as zero.")
		return nil, nil
	}
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiApiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	gm := client.GenerativeModel("gemini-1.5-flash")
	gm.SetTemperature(0)
	return &geminiGrader{client: gm}, nil
}

func (g *geminiGrader) GradeOpenAnswer(ctx context.Context, question *model.Question, answer string) (float64, string, error) {
	var prompt strings.Builder
	prompt.WriteString("You are an examiner for a mandatory occupational safety certification exam.\n")
	prompt.WriteString("Evaluate the candidate's written answer to the question below for factual correctness ")
	prompt.WriteString("and completeness with respect to workplace safety rules.\n\n")
	prompt.WriteString("Question:\n---\n")
	prompt.WriteString(question.Prompt)
	prompt.WriteString("\n---\n\nCandidate's Answer:\n---\n")
	prompt.WriteString(answer)
	prompt.WriteString("\n---\n\n")
	prompt.WriteString("Format your response strictly as:\nScore: [0-100]\nFeedback:\n[one short paragraph]\n")

	resp, err := g.client.GenerateContent(ctx, genai.Text(prompt.String()))
	if err != nil {
		log.Error().Err(err).Str("questionID", question.ID).Msg("Gemini API error during grading")
		return 0, "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return 0, "", fmt.Errorf("gemini returned no content")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	scoreStr, feedback, err := parseScoreAndFeedback(text.String())
	if err != nil {
		log.Warn().Err(err).Str("rawResponse", text.String()).Msg("Failed to parse score and feedback from Gemini response")
		return 0, "", err
	}
	score, err := strconv.ParseFloat(scoreStr, 64)
	if err != nil {
		return 0, feedback, fmt.Errorf("could not parse score value (%q): %w", scoreStr, err)
	}
	return clamp01(score / 100), feedback, nil
}

// parseScoreAndFeedback splits a "Score: N\nFeedback: ..." reply.
func parseScoreAndFeedback(raw string) (scoreStr string, feedback string, err error) {
	const scorePrefix, feedbackPrefix = "Score:", "Feedback:"

	scoreIndex := strings.Index(raw, scorePrefix)
	if scoreIndex == -1 {
		return "", raw, fmt.Errorf("response does not contain %q prefix", scorePrefix)
	}
	rest := raw[scoreIndex+len(scorePrefix):]
	line := rest
	if nl := strings.Index(rest, "\n"); nl != -1 {
		line = rest[:nl]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", raw, fmt.Errorf("empty score")
	}
	scoreStr = strings.TrimSuffix(fields[0], "%")

	if fi := strings.Index(raw, feedbackPrefix); fi != -1 && fi > scoreIndex {
		feedback = strings.TrimSpace(raw[fi+len(feedbackPrefix):])
	}
	return scoreStr, feedback, nil
}
