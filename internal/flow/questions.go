package flow

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/calma-app/calma/internal/models"
)

//go:embed questionnaire.yaml
var defaultQuestionnaireYAML []byte

// Questionnaire is the ordered set of onboarding questions. Question order
// defines the sequencer's step order between consent and email capture.
type Questionnaire struct {
	Questions []models.QuizQuestion `yaml:"questions"`
}

// LoadQuestionnaire reads a questionnaire from the given YAML file, or the
// embedded default when path is empty.
func LoadQuestionnaire(path string) (*Questionnaire, error) {
	data := defaultQuestionnaireYAML
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read questionnaire file %s: %w", path, err)
		}
		data = fileData
	}

	var q Questionnaire
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to parse questionnaire: %w", err)
	}
	if len(q.Questions) == 0 {
		return nil, fmt.Errorf("questionnaire has no questions")
	}
	seen := make(map[string]bool, len(q.Questions))
	for _, question := range q.Questions {
		if question.ID == "" {
			return nil, fmt.Errorf("questionnaire has a question without an id")
		}
		if seen[question.ID] {
			return nil, fmt.Errorf("questionnaire has duplicate question id %s", question.ID)
		}
		seen[question.ID] = true
	}
	return &q, nil
}

// Len returns the number of questions.
func (q *Questionnaire) Len() int {
	return len(q.Questions)
}

// At returns the question at index i.
func (q *Questionnaire) At(i int) models.QuizQuestion {
	return q.Questions[i]
}

// IndexOf returns the position of the question with the given id, or -1.
func (q *Questionnaire) IndexOf(id string) int {
	for i, question := range q.Questions {
		if question.ID == id {
			return i
		}
	}
	return -1
}

// ByID returns the question with the given id.
func (q *Questionnaire) ByID(id string) (models.QuizQuestion, bool) {
	i := q.IndexOf(id)
	if i < 0 {
		return models.QuizQuestion{}, false
	}
	return q.Questions[i], true
}

// StepFor returns the sequencer step for the question at index i.
func (q *Questionnaire) StepFor(i int) models.StateType {
	return models.StateType(q.Questions[i].ID)
}

// IsQuestionStep reports whether the step is one of the question steps.
func (q *Questionnaire) IsQuestionStep(step models.StateType) bool {
	return q.IndexOf(string(step)) >= 0
}

// ValidateAnswer checks an answer against the question's kind. Empty answers
// (including an empty multi-select set) are rejected.
func (q *Questionnaire) ValidateAnswer(question models.QuizQuestion, value models.AnswerValue) error {
	if value.IsEmpty() {
		return models.ErrAnswerRequired
	}
	if question.Kind == models.QuestionKindMulti && !value.Multi {
		return fmt.Errorf("%w: question %s expects a multi-select answer", models.ErrValidation, question.ID)
	}
	if question.Kind != models.QuestionKindMulti && value.Multi {
		return fmt.Errorf("%w: question %s expects a single answer", models.ErrValidation, question.ID)
	}
	return nil
}
