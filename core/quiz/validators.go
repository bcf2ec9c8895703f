package quiz

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/fads122/kodigrow-remake/core"
)

var (
	quizCodeTag   = "quizcode"
	quizCodeText  = "quiz code must be 6 letters or digits"
	quizCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)
)

// InitValidators registers this package's custom validators. Must be called once at startup.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(quizCodeTag, quizCodeValidation)
	core.RegisterCustomTranslation(validate, translator, quizCodeTag, quizCodeText)
}

// quizCodeValidation expects codes to be normalized with CleanCode beforehand.
func quizCodeValidation(fl validator.FieldLevel) bool {
	return quizCodeRegex.MatchString(fl.Field().String())
}
