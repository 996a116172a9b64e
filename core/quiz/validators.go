package quiz

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/shule/core"
)

var (
	minOptionsTag  = "minoptions"
	minOptionsText = "a question must have at least 2 options"

	oneCorrectTag  = "onecorrect"
	oneCorrectText = "a question must have exactly one correct option"
)

// InitValidators registers the quiz validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(newQuestionStructValidation, NewQuestion{})
	core.RegisterCustomTranslation(validate, translator, minOptionsTag, minOptionsText)
	core.RegisterCustomTranslation(validate, translator, oneCorrectTag, oneCorrectText)
}

func newQuestionStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(NewQuestion)
	if !ok {
		return
	}
	switch checkOptions(q.Options) {
	case minOptionsText:
		sl.ReportError(q.Options, "options", "Options", minOptionsTag, "")
	case oneCorrectText:
		sl.ReportError(q.Options, "options", "Options", oneCorrectTag, "")
	}
}
