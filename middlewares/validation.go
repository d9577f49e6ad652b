package middlewares

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/yeremiapane/restaurant-floor/models"
)

// RegisterValidators adds the floor binding tags to gin's validator:
// table_status and cleaning_priority.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("table_status", func(fl validator.FieldLevel) bool {
		return models.IsTableStatus(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("cleaning_priority", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		return p == "" || models.IsCleaningPriority(p)
	})
}
