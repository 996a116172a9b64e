package quiz

import (
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

func TestNewQuizValidation(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	opts := func(correct ...bool) []NewOption {
		o := make([]NewOption, 0, len(correct))
		for _, c := range correct {
			o = append(o, NewOption{Text: "option", IsCorrect: c})
		}
		return o
	}
	tests := []struct {
		name    string
		nq      NewQuiz
		wantTag string
	}{
		{
			name:    "no questions",
			nq:      NewQuiz{Subject: "Maths", Title: "Algebra"},
			wantTag: "required",
		},
		{
			name:    "single option",
			nq:      NewQuiz{Subject: "Maths", Title: "Algebra", Questions: []NewQuestion{{Text: "1+1?", Options: opts(true)}}},
			wantTag: "min",
		},
		{
			name:    "no correct option",
			nq:      NewQuiz{Subject: "Maths", Title: "Algebra", Questions: []NewQuestion{{Text: "1+1?", Options: opts(false, false)}}},
			wantTag: oneCorrectTag,
		},
		{
			name:    "two correct options",
			nq:      NewQuiz{Subject: "Maths", Title: "Algebra", Questions: []NewQuestion{{Text: "1+1?", Options: opts(true, true, false)}}},
			wantTag: oneCorrectTag,
		},
		{
			name: "valid",
			nq:   NewQuiz{Subject: "Maths", Title: "Algebra", Questions: []NewQuestion{{Text: "1+1?", Options: opts(false, true)}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.nq)
			if tt.wantTag == "" {
				if err != nil {
					t.Fatalf("validate.Struct() unexpected error = %v", err)
				}
				return
			}
			vErrs, ok := err.(validator.ValidationErrors)
			if !ok {
				t.Fatalf("validate.Struct() error = %v, want validator.ValidationErrors", err)
			}
			var found bool
			for _, fe := range vErrs {
				if fe.Tag() == tt.wantTag {
					found = true
				}
			}
			if !found {
				t.Errorf("validate.Struct() error = %v, want tag %q", err, tt.wantTag)
			}
		})
	}
}
