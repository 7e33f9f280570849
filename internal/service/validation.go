// validation.go — валидация входных данных через go-playground/validator.
// Сообщения об ошибках возвращаются пользователю на португальском.
package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Имена полей в ошибках — как в JSON
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationMessages — сообщения по ключу "поле.тег".
var validationMessages = map[string]string{
	"coordinatorName.required":  "O nome do coordenador é obrigatório.",
	"coordinatorName.min":       "O nome do coordenador deve ter pelo menos 3 caracteres.",
	"coordinatorName.max":       "O nome do coordenador deve ter no máximo 200 caracteres.",
	"coordinatorEmail.required": "O e-mail do coordenador é obrigatório.",
	"coordinatorEmail.email":    "E-mail do coordenador inválido.",
	"observation.max":           "A observação deve ter no máximo 1000 caracteres.",
	"reason.required":           "O motivo da rejeição é obrigatório.",
	"reason.min":                "O motivo da rejeição deve ter pelo menos 10 caracteres.",
	"reason.max":                "O motivo da rejeição deve ter no máximo 1000 caracteres.",

	"numeroNota.required":           "O número da nota é obrigatório.",
	"projectAccountNumber.required": "A conta do projeto é obrigatória.",
	"projectTitle.required":         "O título do projeto é obrigatório.",
	"requester.required":            "O solicitante é obrigatório.",
	"requesterEmail.required":       "O e-mail do solicitante é obrigatório.",
	"requesterEmail.email":          "E-mail do solicitante inválido.",
	"issueDate.required":            "A data de emissão é obrigatória.",
	"description.max":               "A descrição deve ter no máximo 2000 caracteres.",
}

// validationMessage возвращает сообщение для первой ошибки валидации.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Dados inválidos."
	}
	fe := verrs[0]
	if msg, ok := validationMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	return fmt.Sprintf("Campo %s inválido.", fe.Field())
}

// validateStruct проверяет структуру и возвращает ErrValidation
// с сообщением первой ошибки.
func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return &ValidationError{Message: validationMessage(err)}
	}
	return nil
}

// ValidationError — ошибка валидации с сообщением для пользователя.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "ошибка валидации: " + e.Message
}

// Unwrap позволяет errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// UserMessage извлекает сообщение для пользователя из ошибки валидации.
func UserMessage(err error) (string, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message, true
	}
	return "", false
}
