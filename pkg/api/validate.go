package api

import (
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/berthcare/berthcare/pkg/errs"
)

// validateStruct runs the request struct through the validator and folds
// field failures into a VALIDATION_ERROR with per-field details.
func (s *Server) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errs.Wrap(errs.CodeValidation, "request is not valid", err)
	}

	details := make([]map[string]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, map[string]string{
			"field":      fe.Field(),
			"constraint": fe.Tag(),
		})
	}
	return errs.New(errs.CodeValidation, "request failed validation").
		WithDetails(map[string]any{"fields": details})
}
